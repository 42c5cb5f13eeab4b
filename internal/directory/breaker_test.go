package directory

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/resilience"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/ldapsync"
)

func newBreakerHarness(t *testing.T, d *fakeDialer) (*clientHarness, *resilience.Registry) {
	t.Helper()
	registry := resilience.NewRegistry(resilience.Config{Threshold: 2, ResetTimeout: time.Hour}, zaptest.NewLogger(t))
	f, err := NewFactory("test-secret", zaptest.NewLogger(t), withDialer(d), WithBreakers(registry))
	require.NoError(t, err)
	return &clientHarness{factory: f, dialer: d, conn: d.conn}, registry
}

func TestBreaker_OpensOnUnreachableServer(t *testing.T) {
	d := &fakeDialer{err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}}
	h, registry := newBreakerHarness(t, d)

	for i := 0; i < 2; i++ {
		result, err := h.open(t, posixSettings()).Probe(context.Background())
		require.NoError(t, err)
		assert.Equal(t, ldapsync.ProbeWrongServerOrPort, result.Status)
	}
	assert.Equal(t, []string{"ldap://ldap.example.com:389"}, registry.Open())

	result, err := h.open(t, posixSettings()).Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ldapsync.ProbeConnectError, result.Status)
	assert.Equal(t, 2, d.dials, "an open circuit does not dial")

	_, err = h.open(t, posixSettings()).DiscoverUsers(context.Background())
	assert.ErrorIs(t, err, resilience.ErrOpen)
}

func TestBreaker_IgnoresConfigurationErrors(t *testing.T) {
	c := newFakeConn()
	c.bindErr = ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
	d := &fakeDialer{conn: c}
	h, registry := newBreakerHarness(t, d)

	for i := 0; i < 3; i++ {
		result, err := h.open(t, posixSettings()).Probe(context.Background())
		require.NoError(t, err)
		assert.Equal(t, ldapsync.ProbeCredentialsNotValid, result.Status)
	}
	assert.Empty(t, registry.Open())
	assert.Equal(t, 3, d.dials)

	d.conn, d.err = nil, errStartTLS
	result, err := h.open(t, posixSettings()).Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ldapsync.ProbeTLSNotSupported, result.Status)
	assert.Empty(t, registry.Open())
}
