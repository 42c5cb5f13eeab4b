package directory

import (
	"context"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		server   string
		port     int
		ssl      bool
		startTLS bool
		want     endpoint
	}{
		{"prefixed", "LDAP://ldap.example.com", 389, false, false, endpoint{host: "ldap.example.com", port: 389}},
		{"bare host", "ldap.example.com", 10389, false, true, endpoint{host: "ldap.example.com", port: 10389, startTLS: true}},
		{"ldaps scheme", "ldaps://dc1.corp", 0, false, true, endpoint{host: "dc1.corp", port: 636, ssl: true}},
		{"explicit port wins", "ldap://dc1.corp:3268", 389, false, false, endpoint{host: "dc1.corp", port: 3268}},
		{"ssl flag", "LDAP://dc1.corp", 0, true, false, endpoint{host: "dc1.corp", port: 636, ssl: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseEndpoint(tt.server, tt.port, tt.ssl, tt.startTLS)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEndpoint_Invalid(t *testing.T) {
	for _, server := range []string{"", "   ", "ldap://", "ldap://host:port"} {
		_, err := parseEndpoint(server, 389, false, false)
		assert.Error(t, err, server)
	}
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "ldaps://dc1.corp:636", endpoint{host: "dc1.corp", port: 636, ssl: true}.url())
	assert.Equal(t, "ldap://[::1]:389", endpoint{host: "::1", port: 389}.url())
}

// pagingConn returns one page per call and hands out cookies until the last
type pagingConn struct {
	pages   [][]*ldap.Entry
	cookies [][]byte
}

func (c *pagingConn) Bind(string, string) error { return nil }
func (c *pagingConn) Close() error              { return nil }

func (c *pagingConn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	paging := ldap.FindControl(req.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
	c.cookies = append(c.cookies, paging.Cookie)

	page := len(c.cookies) - 1
	result := &ldap.SearchResult{Entries: c.pages[page]}
	next := ldap.NewControlPaging(paging.PagingSize)
	if page < len(c.pages)-1 {
		next.SetCookie([]byte{byte(page + 1)})
	}
	result.Controls = []ldap.Control{next}
	return result, nil
}

func TestPagedSearch_FollowsCookies(t *testing.T) {
	c := &pagingConn{pages: [][]*ldap.Entry{
		{posixUser("alice"), posixUser("bob")},
		{posixUser("carol")},
		{posixUser("dave")},
	}}

	entries, err := pagedSearch(context.Background(), c, peopleDN, "(uid=*)", []string{"uid"}, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 4)
	assert.Equal(t, [][]byte{nil, {1}, {2}}, c.cookies)
}

func TestPagedSearch_StopsOnCancel(t *testing.T) {
	c := &pagingConn{pages: [][]*ldap.Entry{{posixUser("alice")}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := pagedSearch(ctx, c, peopleDN, "(uid=*)", nil, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, c.cookies)
}
