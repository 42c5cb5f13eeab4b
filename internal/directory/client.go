package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/ldapsync"
)

// Client reads one directory. It connects on first use and caches the user
// and group entries for the lifetime of a run.
type Client struct {
	settings ldapsync.DirectorySettings
	target   endpoint
	password string
	trust    *certificateTrust
	dialer   dialer
	pageSize int
	logger   *zap.Logger

	mu     sync.Mutex
	conn   conn
	users  []*ldap.Entry
	groups []*ldap.Entry
	byDN   map[string]*ldap.Entry
	index  map[string]ldapsync.DirectoryUser
}

// Domain derives the domain from the dc components of the user DN
func (c *Client) Domain() string {
	return domainFromDN(c.settings.UserDN)
}

func (c *Client) connect(ctx context.Context) (conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	cn, err := c.dialer.Dial(ctx, c.target, c.trust.tlsConfig())
	if err != nil {
		if req := c.trust.pending(); req != nil {
			return nil, &ldapsync.CertificateRequestError{Request: req}
		}
		return nil, err
	}

	if c.settings.Authentication {
		err = cn.Bind(c.settings.Login, c.password)
	} else {
		err = cn.Bind("", "")
	}
	if err != nil {
		cn.Close()
		return nil, fmt.Errorf("bind as %q: %w", c.settings.Login, err)
	}

	c.conn = cn
	return cn, nil
}

// Close releases the connection, if any
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) loadUsers(ctx context.Context) ([]*ldap.Entry, error) {
	if c.users != nil {
		return c.users, nil
	}
	cn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := pagedSearch(ctx, cn, c.settings.UserDN, c.userFilter(), userAttributes(c.settings), c.pageSize)
	if err != nil {
		return nil, fmt.Errorf("search users in %s: %w", c.settings.UserDN, err)
	}
	c.logger.Debug("Loaded directory users", zap.Int("count", len(entries)))
	c.users = entries
	return entries, nil
}

func (c *Client) loadGroups(ctx context.Context) ([]*ldap.Entry, error) {
	if c.groups != nil {
		return c.groups, nil
	}
	cn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := pagedSearch(ctx, cn, c.settings.GroupDN, c.groupFilter(), groupAttributes(c.settings), c.pageSize)
	if err != nil {
		return nil, fmt.Errorf("search groups in %s: %w", c.settings.GroupDN, err)
	}
	c.logger.Debug("Loaded directory groups", zap.Int("count", len(entries)))
	c.groups = entries
	c.byDN = make(map[string]*ldap.Entry, len(entries))
	for _, e := range entries {
		c.byDN[strings.ToLower(e.DN)] = e
	}
	return entries, nil
}

// DiscoverUsers returns every entry matched by the user filter that has
// a login
func (c *Client) DiscoverUsers(ctx context.Context) ([]ldapsync.DirectoryUser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, err := c.loadUsers(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]ldapsync.DirectoryUser, 0, len(entries))
	for _, e := range entries {
		u := mapUser(e, c.settings)
		if u.Login == "" {
			continue
		}
		users = append(users, u)
	}
	return users, nil
}

// DiscoverGroups returns every entry matched by the group filter
func (c *Client) DiscoverGroups(ctx context.Context) ([]ldapsync.DirectoryGroup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.settings.GroupMembership {
		return nil, nil
	}
	entries, err := c.loadGroups(ctx)
	if err != nil {
		return nil, err
	}
	groups := make([]ldapsync.DirectoryGroup, 0, len(entries))
	for _, e := range entries {
		g := mapGroup(e, c.settings)
		if g.Name == "" {
			continue
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// GroupMembers resolves the group's member attribute values against the
// user attribute of the discovered users. Values that match no user, such
// as nested groups, are skipped.
func (c *Client) GroupMembers(ctx context.Context, group ldapsync.DirectoryGroup) ([]ldapsync.DirectoryUser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, err := c.groupEntry(ctx, group.DN)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}
	index, err := c.memberIndex(ctx)
	if err != nil {
		return nil, err
	}

	var members []ldapsync.DirectoryUser
	seen := make(map[string]struct{})
	for _, raw := range attributeValues(entry, c.settings.GroupAttribute) {
		u, ok := index[strings.ToLower(strings.TrimSpace(string(raw)))]
		if !ok {
			continue
		}
		if _, dup := seen[u.DN]; dup {
			continue
		}
		seen[u.DN] = struct{}{}
		members = append(members, u)
	}
	return members, nil
}

func (c *Client) groupEntry(ctx context.Context, dn string) (*ldap.Entry, error) {
	if _, err := c.loadGroups(ctx); err != nil {
		return nil, err
	}
	if e, ok := c.byDN[strings.ToLower(dn)]; ok {
		return e, nil
	}

	req := ldap.NewSearchRequest(
		dn,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, 0, false,
		"(objectClass=*)",
		groupAttributes(c.settings),
		nil,
	)
	result, err := c.conn.Search(req)
	if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read group %s: %w", dn, err)
	}
	if len(result.Entries) == 0 {
		return nil, nil
	}
	c.byDN[strings.ToLower(dn)] = result.Entries[0]
	return result.Entries[0], nil
}

// memberIndex maps lower-cased user attribute values to users. The
// pseudo-attributes "dn" and "distinguishedName" index users by DN.
func (c *Client) memberIndex(ctx context.Context) (map[string]ldapsync.DirectoryUser, error) {
	if c.index != nil {
		return c.index, nil
	}
	entries, err := c.loadUsers(ctx)
	if err != nil {
		return nil, err
	}

	byDN := strings.EqualFold(c.settings.UserAttribute, "dn") ||
		strings.EqualFold(c.settings.UserAttribute, "distinguishedName")
	index := make(map[string]ldapsync.DirectoryUser, len(entries))
	for _, e := range entries {
		u := mapUser(e, c.settings)
		if u.Login == "" {
			continue
		}
		if byDN {
			index[strings.ToLower(e.DN)] = u
			continue
		}
		for _, raw := range attributeValues(e, c.settings.UserAttribute) {
			index[strings.ToLower(strings.TrimSpace(string(raw)))] = u
		}
	}
	c.index = index
	return index, nil
}

// FindGroupsByName searches the group subtree for groups named in names
func (c *Client) FindGroupsByName(ctx context.Context, names []string) ([]ldapsync.DirectoryGroup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wanted := make(map[string]struct{}, len(names))
	var terms strings.Builder
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		key := strings.ToLower(n)
		if _, ok := wanted[key]; ok {
			continue
		}
		wanted[key] = struct{}{}
		fmt.Fprintf(&terms, "(%s=%s)", c.settings.GroupNameAttribute, ldap.EscapeFilter(n))
	}
	if len(wanted) == 0 {
		return nil, nil
	}

	cn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	filter := fmt.Sprintf("(&%s(|%s))", c.groupFilter(), terms.String())
	entries, err := pagedSearch(ctx, cn, c.settings.GroupDN, filter, groupAttributes(c.settings), c.pageSize)
	if err != nil {
		return nil, fmt.Errorf("search groups by name: %w", err)
	}

	var groups []ldapsync.DirectoryGroup
	for _, e := range entries {
		g := mapGroup(e, c.settings)
		if _, ok := wanted[strings.ToLower(g.Name)]; ok {
			groups = append(groups, g)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

func (c *Client) userFilter() string {
	return normalizeFilter(c.settings.UserFilter)
}

func (c *Client) groupFilter() string {
	return normalizeFilter(c.settings.GroupFilter)
}

// normalizeFilter wraps a bare filter in parentheses and defaults to
// matching everything
func normalizeFilter(f string) string {
	f = strings.TrimSpace(f)
	if f == "" {
		return "(objectClass=*)"
	}
	if !strings.HasPrefix(f, "(") {
		return "(" + f + ")"
	}
	return f
}

func isNetworkError(err error) bool {
	var le *ldap.Error
	if errors.As(err, &le) {
		return le.ResultCode == ldap.ErrorNetwork
	}
	return false
}
