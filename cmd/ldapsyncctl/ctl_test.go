package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/app"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/config"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/directory"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/ldapsync"
)

const testSecret = "ctl-test-secret"

var errNoInfra = errors.New("no infrastructure in unit tests")

type testEnv struct {
	*env
	out      *bytes.Buffer
	connects int
}

func newTestEnv(stdin string) *testEnv {
	te := &testEnv{out: &bytes.Buffer{}}
	te.env = &env{
		stdin:  strings.NewReader(stdin),
		stdout: te.out,
		config: func() (*config.Config, error) {
			return &config.Config{SettingsSecret: testSecret, DefaultLanguage: "en"}, nil
		},
		connect: func(context.Context, *config.Config, *zap.Logger, bool) (*app.App, error) {
			te.connects++
			return nil, errNoInfra
		},
		logger: zap.NewNop(),
	}
	return te
}

func (te *testEnv) run(args ...string) error {
	root := newRootCmd(te.env)
	root.SetArgs(args)
	root.SetErr(&bytes.Buffer{})
	return root.Execute()
}

func TestEncryptPassword(t *testing.T) {
	te := newTestEnv("s3cret pass\n")
	require.NoError(t, te.run("encrypt-password"))

	sealed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(te.out.String()))
	require.NoError(t, err)

	factory, err := directory.NewFactory(testSecret, zap.NewNop())
	require.NoError(t, err)
	plain, err := factory.DecodePassword(sealed)
	require.NoError(t, err)
	assert.Equal(t, "s3cret pass", plain)
	assert.Zero(t, te.connects)
}

func TestEncryptPasswordJSON(t *testing.T) {
	te := newTestEnv("pw")
	require.NoError(t, te.run("encrypt-password", "-o", "json"))

	var out map[string]string
	require.NoError(t, json.Unmarshal(te.out.Bytes(), &out))
	assert.NotEmpty(t, out["password_bytes"])
}

func TestEncryptPasswordEmpty(t *testing.T) {
	te := newTestEnv("\n")
	assert.Error(t, te.run("encrypt-password"))
}

func TestRunFlagValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing tenant", []string{"run"}, "tenant"},
		{"unknown kind", []string{"run", "--tenant", "1", "--kind", "purge"}, "unknown operation kind"},
		{"save without settings", []string{"run", "--tenant", "1", "--kind", "save"}, "--settings is required"},
		{"bad output", []string{"run", "--tenant", "1", "-o", "yaml"}, "unsupported output format"},
		{"positional args", []string{"run", "extra", "--tenant", "1"}, "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := newTestEnv("")
			err := te.run(tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Zero(t, te.connects, "validation happens before connecting")
		})
	}
}

func TestRunConnectFailure(t *testing.T) {
	te := newTestEnv(`{"server": "ldap.example.com"}`)
	err := te.run("run", "--tenant", "1", "--kind", "SaveTest", "--settings", "-")
	assert.ErrorIs(t, err, errNoInfra)
	assert.Equal(t, 1, te.connects)
}

func TestScheduleRejectsBadCron(t *testing.T) {
	te := newTestEnv("")
	err := te.run("schedule", "--tenant", "1", "--cron", "whenever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")

	err = te.run("schedule", "--tenant", "1", "--cron", "@daily", "--disable")
	require.Error(t, err)
	assert.Zero(t, te.connects)
}

func TestReadSettingsKeepsDefaults(t *testing.T) {
	settings, err := readSettings(strings.NewReader(`{"server":"ldap.example.com","group_membership":true}`), "-")
	require.NoError(t, err)
	assert.Equal(t, "ldap.example.com", settings.Server)
	assert.True(t, settings.GroupMembership)
	assert.Equal(t, "uid", settings.LoginAttribute)
	assert.Equal(t, 389, settings.PortNumber)

	_, err = readSettings(strings.NewReader(`{`), "-")
	assert.Error(t, err)
	_, err = readSettings(nil, "/does/not/exist.json")
	assert.Error(t, err)
}

func textCmd() *cobra.Command {
	root := &cobra.Command{Use: "test"}
	root.PersistentFlags().String("output", "text", "")
	return root
}

func TestPrintTaskChangeLog(t *testing.T) {
	changes, err := json.Marshal([]ldapsync.Change{
		{Type: ldapsync.ChangeAddUser, Name: "Ada Lovelace", Email: "ada@example.com"},
		{Type: ldapsync.ChangeAddGroupMembers, Name: "admins", Members: []ldapsync.Member{{}, {}}},
	})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, printTask(textCmd(), &out, ldapsync.TaskInfo{
		ID:            "t-1",
		TenantID:      3,
		OperationType: ldapsync.SyncTest,
		Finished:      true,
		Progress:      100,
		Result:        string(changes),
	}))

	text := out.String()
	assert.Contains(t, text, "Operation: SyncTest")
	assert.Contains(t, text, "Changes:   2")
	assert.Contains(t, text, "Ada Lovelace <ada@example.com>")
	assert.Contains(t, text, "admins (2 members)")
}

func TestPrintTaskStatus(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printTask(textCmd(), &out, ldapsync.TaskInfo{
		ID:            "t-2",
		OperationType: ldapsync.Sync,
		Progress:      45,
		Result:        "Synchronizing groups",
		Warning:       "2 users skipped",
		CertificateRequest: &ldapsync.CertificateRequest{
			SubjectName: "CN=ldap.example.com",
			Hash:        "AB12",
		},
	}))

	text := out.String()
	assert.Contains(t, text, "Progress:  45%")
	assert.Contains(t, text, "Status:    Synchronizing groups")
	assert.Contains(t, text, "Warning:   2 users skipped")
	assert.Contains(t, text, "CN=ldap.example.com (hash AB12)")
}

func TestVersion(t *testing.T) {
	te := newTestEnv("")
	require.NoError(t, te.run("version", "-o", "json"))
	assert.Contains(t, te.out.String(), `"version": "dev"`)
}
