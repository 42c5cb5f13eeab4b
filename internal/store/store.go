// Package store persists tenants, users, groups, rights, settings and photos
// in PostgreSQL
package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/database"
	apperrors "github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/errors"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/ldapsync"
)

const pgUniqueViolation = "23505"

// Store implements the identity, settings and photo stores of the sync
// engine plus its system principal. All tenant-scoped calls require a
// context returned by AuthenticateSystem.
type Store struct {
	db     *database.PostgresDB
	logger *zap.Logger
}

// New creates a store over an open pool
func New(db *database.PostgresDB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "identity-store")),
	}
}

var (
	_ ldapsync.IdentityStore  = (*Store)(nil)
	_ ldapsync.SettingsStore  = (*Store)(nil)
	_ ldapsync.PhotoStore     = (*Store)(nil)
	_ ldapsync.Principal      = (*Store)(nil)
	_ ldapsync.ScheduleSource = (*Store)(nil)
)

type sessionKey struct{}

type session struct {
	tenantID int
	closed   atomic.Bool
}

// AuthenticateSystem opens a system session for the tenant
func (s *Store) AuthenticateSystem(ctx context.Context, tenantID int) (context.Context, error) {
	var exists bool
	err := s.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)`, tenantID).Scan(&exists)
	if err != nil {
		return ctx, apperrors.DatabaseError("authenticate system", err)
	}
	if !exists {
		return ctx, apperrors.Forbidden(fmt.Sprintf("tenant %d does not exist", tenantID))
	}
	s.logger.Debug("System session opened", zap.Int("tenant_id", tenantID))
	return context.WithValue(ctx, sessionKey{}, &session{tenantID: tenantID}), nil
}

// Logout closes the session carried by ctx
func (s *Store) Logout(ctx context.Context) error {
	sess, ok := ctx.Value(sessionKey{}).(*session)
	if !ok {
		return apperrors.Forbidden("no system session")
	}
	if !sess.closed.CompareAndSwap(false, true) {
		return apperrors.Forbidden("system session already closed")
	}
	s.logger.Debug("System session closed", zap.Int("tenant_id", sess.tenantID))
	return nil
}

// tenant returns the tenant of the open session in ctx
func tenant(ctx context.Context) (int, error) {
	sess, ok := ctx.Value(sessionKey{}).(*session)
	if !ok || sess.closed.Load() {
		return 0, apperrors.Forbidden("no system session")
	}
	return sess.tenantID, nil
}

// GetTenant loads the tenant of the session
func (s *Store) GetTenant(ctx context.Context) (ldapsync.Tenant, error) {
	tenantID, err := tenant(ctx)
	if err != nil {
		return ldapsync.Tenant{}, err
	}

	var (
		t     = ldapsync.Tenant{ID: tenantID}
		owner *string
	)
	err = s.db.Pool.QueryRow(ctx,
		`SELECT name, owner_id::text FROM tenants WHERE id = $1`, tenantID).Scan(&t.Name, &owner)
	if err != nil {
		return ldapsync.Tenant{}, dbError("get tenant", err)
	}
	if owner != nil {
		t.OwnerID = *owner
	}
	return t, nil
}

// TenantLanguage returns the tenant's language, or "" when unknown
func (s *Store) TenantLanguage(ctx context.Context, tenantID int) (string, error) {
	var lang string
	err := s.db.Pool.QueryRow(ctx, `SELECT language FROM tenants WHERE id = $1`, tenantID).Scan(&lang)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", dbError("get tenant language", err)
	}
	return lang, nil
}

// CreateTenant registers a tenant; used by provisioning and tests
func (s *Store) CreateTenant(ctx context.Context, id int, name string, userQuota int) error {
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO tenants (id, name, user_quota) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, user_quota = EXCLUDED.user_quota`,
		id, name, userQuota)
	return dbError("create tenant", err)
}

// SetTenantOwner marks userID as the tenant owner
func (s *Store) SetTenantOwner(ctx context.Context, userID string) error {
	tenantID, err := tenant(ctx)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx, `UPDATE tenants SET owner_id = $2 WHERE id = $1`, tenantID, userID)
	return dbError("set tenant owner", err)
}

// dbError wraps a database failure; nil stays nil
func dbError(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return apperrors.Conflict(fmt.Sprintf("%s: %s", op, pgErr.ConstraintName))
	}
	return apperrors.DatabaseError(op, err)
}

// nullable maps "" to SQL NULL
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
