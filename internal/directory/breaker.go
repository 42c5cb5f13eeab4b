package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"net"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/resilience"
)

// breakerDialer fails fast on endpoints that keep being unreachable. Only
// network failures count; TLS and bind problems are configuration errors
// and pass through untouched.
type breakerDialer struct {
	next     dialer
	breakers *resilience.Registry
}

func (d breakerDialer) Dial(ctx context.Context, target endpoint, cfg *tls.Config) (conn, error) {
	var (
		c       conn
		dialErr error
	)
	err := d.breakers.Breaker(target.url()).Execute(func() error {
		c, dialErr = d.next.Dial(ctx, target, cfg)
		if dialErr != nil && unreachable(dialErr) {
			return dialErr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, dialErr
}

func unreachable(err error) bool {
	var opErr *net.OpError
	return isNetworkError(err) || errors.As(err, &opErr)
}
