package ldapsync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(context.Context, TaskInfo) error {
	p.calls++
	return errors.New("redis unavailable")
}

func TestReporter_PercentNeverGoesBack(t *testing.T) {
	pub := &recordingPublisher{}
	r := newReporter(TaskInfo{TenantID: 7}, pub, english, zaptest.NewLogger(t))
	ctx := context.Background()

	r.Report(ctx, 30, StatusSavingUsers)
	r.Report(ctx, 20, StatusRemovingOldUsers)
	r.Finish(ctx, 140, "done")

	snaps := pub.Snapshots()
	assert.Equal(t, []int{30, 30, 100}, []int{snaps[0].Progress, snaps[1].Progress, snaps[2].Progress})
	assert.Equal(t, "Removing outdated users", snaps[1].Result)
	assert.Equal(t, "done", snaps[2].Result)
}

func TestReporter_PhaseSpreadsBudget(t *testing.T) {
	pub := &recordingPublisher{}
	r := newReporter(TaskInfo{}, pub, english, zaptest.NewLogger(t))
	ctx := context.Background()

	r.Report(ctx, 20, StatusSavingUsers)
	step := r.phase(40, 4)
	for _, name := range []string{"a", "b", "c", "d"} {
		step.Next(ctx, name)
	}

	snaps := pub.Snapshots()[1:]
	var progress []int
	var sources []string
	for _, s := range snaps {
		progress = append(progress, s.Progress)
		sources = append(sources, s.Source)
	}
	assert.Equal(t, []int{20, 30, 40, 50}, progress)
	assert.Equal(t, []string{"(1/4): a", "(2/4): b", "(3/4): c", "(4/4): d"}, sources)
	assert.Equal(t, "(4/4): x", step.Current("x"))
}

func TestReporter_ReportClearsSource(t *testing.T) {
	pub := &recordingPublisher{}
	r := newReporter(TaskInfo{}, pub, english, zaptest.NewLogger(t))
	ctx := context.Background()

	r.Source(ctx, "(1/1): a")
	r.Report(ctx, 50, StatusSavingGroups)

	assert.Empty(t, pub.Snapshots()[1].Source)
}

func TestReporter_PublishFailureIsNotFatal(t *testing.T) {
	pub := &failingPublisher{}
	r := newReporter(TaskInfo{}, pub, english, zaptest.NewLogger(t))

	r.SetError(ErrorInternalServer)
	r.MarkFinished(context.Background())

	assert.Equal(t, 1, pub.calls)
	assert.True(t, r.Failed())
	assert.True(t, r.snapshot().Finished)
	assert.Equal(t, "Internal server error", r.snapshot().Error)
}

func TestReporter_SnapshotCopiesCertificate(t *testing.T) {
	r := newReporter(TaskInfo{}, nil, english, zaptest.NewLogger(t))
	r.SetCertificateRequest(&CertificateRequest{Hash: "aa"})

	snap := r.snapshot()
	snap.CertificateRequest.Hash = "bb"

	assert.Equal(t, "aa", r.snapshot().CertificateRequest.Hash)
}
