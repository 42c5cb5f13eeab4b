package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 500
	dialTimeout     = 15 * time.Second
)

// errStartTLS marks a failed StartTLS upgrade on a plain connection
var errStartTLS = errors.New("starttls failed")

// conn is the subset of *ldap.Conn the client needs
type conn interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

type ldapConn struct {
	*ldap.Conn
}

func (c ldapConn) Close() error {
	c.Conn.Close()
	return nil
}

// dialer opens unbound connections to a directory server
type dialer interface {
	Dial(ctx context.Context, target endpoint, tlsConfig *tls.Config) (conn, error)
}

// endpoint is a parsed server address
type endpoint struct {
	host     string
	port     int
	ssl      bool
	startTLS bool
}

func (e endpoint) url() string {
	scheme := "ldap"
	if e.ssl {
		scheme = "ldaps"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(e.host, strconv.Itoa(e.port)))
}

// parseEndpoint turns "LDAP://host", "ldaps://host:636" or a bare host into
// an endpoint. An explicit port in the server string wins over port.
func parseEndpoint(server string, port int, ssl, startTLS bool) (endpoint, error) {
	server = strings.TrimSpace(server)
	if server == "" {
		return endpoint{}, fmt.Errorf("server is empty")
	}
	if !strings.Contains(server, "://") {
		server = "ldap://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return endpoint{}, fmt.Errorf("parse server %q: %w", server, err)
	}
	if u.Hostname() == "" {
		return endpoint{}, fmt.Errorf("server %q has no host", server)
	}

	ep := endpoint{host: u.Hostname(), port: port, ssl: ssl || u.Scheme == "ldaps", startTLS: startTLS}
	if p := u.Port(); p != "" {
		if ep.port, err = strconv.Atoi(p); err != nil {
			return endpoint{}, fmt.Errorf("server %q has invalid port: %w", server, err)
		}
	}
	if ep.port <= 0 {
		ep.port = 389
		if ep.ssl {
			ep.port = 636
		}
	}
	if ep.ssl {
		ep.startTLS = false
	}
	return ep, nil
}

// netDialer dials real servers with go-ldap
type netDialer struct {
	logger *zap.Logger
}

func (d netDialer) Dial(ctx context.Context, target endpoint, tlsConfig *tls.Config) (conn, error) {
	opts := []ldap.DialOpt{ldap.DialWithDialer(&net.Dialer{Timeout: dialTimeout})}
	if target.ssl {
		opts = append(opts, ldap.DialWithTLSConfig(tlsConfig))
	}

	c, err := ldap.DialURL(target.url(), opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", target.url(), err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.SetTimeout(time.Until(deadline))
	}

	if target.startTLS {
		if err := c.StartTLS(tlsConfig); err != nil {
			c.Close()
			return nil, fmt.Errorf("%w: %w", errStartTLS, err)
		}
	}

	d.logger.Debug("Connected to directory server",
		zap.String("url", target.url()),
		zap.Bool("start_tls", target.startTLS))
	return ldapConn{c}, nil
}

// pagedSearch runs a subtree search and follows the paging cookie until the
// server reports the last page
func pagedSearch(ctx context.Context, c conn, baseDN, filter string, attrs []string, pageSize int) ([]*ldap.Entry, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	req := ldap.NewSearchRequest(
		baseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0, 0, false,
		filter,
		attrs,
		[]ldap.Control{ldap.NewControlPaging(uint32(pageSize))},
	)

	var entries []*ldap.Entry
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := c.Search(req)
		if err != nil {
			return nil, err
		}
		entries = append(entries, result.Entries...)

		control := ldap.FindControl(result.Controls, ldap.ControlTypePaging)
		paging, ok := control.(*ldap.ControlPaging)
		if !ok || len(paging.Cookie) == 0 {
			break
		}
		next := ldap.NewControlPaging(uint32(pageSize))
		next.SetCookie(paging.Cookie)
		req.Controls = []ldap.Control{next}
	}
	return entries, nil
}

// baseExists checks that dn names an existing entry
func baseExists(c conn, dn string) error {
	req := ldap.NewSearchRequest(
		dn,
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, 0, false,
		"(objectClass=*)",
		[]string{"dn"},
		nil,
	)
	_, err := c.Search(req)
	return err
}
