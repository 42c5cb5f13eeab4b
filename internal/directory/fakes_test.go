package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/ldapsync"
)

// fakeConn serves subtree searches from entries keyed by base DN. Filters
// are compiled but not evaluated.
type fakeConn struct {
	bindErr  error
	subtrees map[string][]*ldap.Entry
	missing  map[string]bool

	binds    []string
	searches []*ldap.SearchRequest
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{subtrees: make(map[string][]*ldap.Entry), missing: make(map[string]bool)}
}

func (c *fakeConn) Bind(username, _ string) error {
	c.binds = append(c.binds, username)
	return c.bindErr
}

func (c *fakeConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	c.searches = append(c.searches, req)
	base := strings.ToLower(req.BaseDN)
	if c.missing[base] {
		return nil, ldap.NewError(ldap.LDAPResultNoSuchObject, errors.New("no such object"))
	}
	if _, err := ldap.CompileFilter(req.Filter); err != nil {
		return nil, err
	}

	if req.Scope == ldap.ScopeBaseObject {
		for _, entries := range c.subtrees {
			for _, e := range entries {
				if strings.EqualFold(e.DN, req.BaseDN) {
					return &ldap.SearchResult{Entries: []*ldap.Entry{e}}, nil
				}
			}
		}
		return &ldap.SearchResult{Entries: []*ldap.Entry{{DN: req.BaseDN}}}, nil
	}
	return &ldap.SearchResult{Entries: c.subtrees[base]}, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeDialer struct {
	conn  *fakeConn
	err   error
	dials int
	// onDial runs against the TLS config before the result is returned
	onDial func(*tls.Config) error
}

func (d *fakeDialer) Dial(_ context.Context, _ endpoint, cfg *tls.Config) (conn, error) {
	d.dials++
	if d.onDial != nil {
		if err := d.onDial(cfg); err != nil {
			return nil, err
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

const (
	peopleDN = "ou=people,dc=example,dc=com"
	groupsDN = "ou=groups,dc=example,dc=com"
)

func posixUser(login string) *ldap.Entry {
	return ldap.NewEntry("uid="+login+","+peopleDN, map[string][]string{
		"uid":       {login},
		"entryUUID": {"uuid-" + login},
		"givenName": {strings.ToUpper(login[:1]) + login[1:]},
		"sn":        {"Doe"},
		"mail":      {login + "@example.com"},
	})
}

func posixGroup(name string, members ...string) *ldap.Entry {
	return ldap.NewEntry("cn="+name+","+groupsDN, map[string][]string{
		"cn":        {name},
		"entryUUID": {"uuid-group-" + name},
		"memberUid": members,
	})
}

func posixSettings() ldapsync.DirectorySettings {
	s := ldapsync.DefaultSettings()
	s.EnableLdapAuthentication = true
	s.Server = "LDAP://ldap.example.com"
	s.UserDN = peopleDN
	s.Login = "cn=admin,dc=example,dc=com"
	s.GroupMembership = true
	s.GroupDN = groupsDN
	return s
}

type clientHarness struct {
	factory *Factory
	dialer  *fakeDialer
	conn    *fakeConn
}

func newClientHarness(t *testing.T) *clientHarness {
	t.Helper()
	c := newFakeConn()
	d := &fakeDialer{conn: c}
	f, err := NewFactory("test-secret", zaptest.NewLogger(t), withDialer(d), WithPageSize(10))
	require.NoError(t, err)
	return &clientHarness{factory: f, dialer: d, conn: c}
}

func (h *clientHarness) open(t *testing.T, s ldapsync.DirectorySettings) *Client {
	t.Helper()
	sealed, err := h.factory.EncodePassword("bind-secret")
	require.NoError(t, err)
	s.PasswordBytes = sealed
	client, err := h.factory.Open(s)
	require.NoError(t, err)
	return client.(*Client)
}
