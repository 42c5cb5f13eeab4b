package store

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/errors"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/ldapsync"
)

const userColumns = `id::text, sid, user_name, first_name, last_name, email, title, mobile_phone, status, is_guest, directory_contacts`

// prefixed qualifies every column of a list with a table alias
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i := range parts {
		parts[i] = alias + "." + parts[i]
	}
	return strings.Join(parts, ", ")
}

func scanUser(row pgx.Row) (ldapsync.LocalUser, error) {
	var (
		u      ldapsync.LocalUser
		sid    *string
		status string
	)
	err := row.Scan(&u.ID, &sid, &u.UserName, &u.FirstName, &u.LastName, &u.Email,
		&u.Title, &u.MobilePhone, &status, &u.IsGuest, &u.DirectoryContacts)
	if err != nil {
		return ldapsync.LocalUser{}, err
	}
	u.SID = deref(sid)
	u.Status = ldapsync.UserStatus(status)
	return u, nil
}

func (s *Store) queryUsers(ctx context.Context, op, query string, args ...any) ([]ldapsync.LocalUser, error) {
	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, dbError(op, err)
	}
	defer rows.Close()

	var users []ldapsync.LocalUser
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, dbError(op, err)
		}
		users = append(users, u)
	}
	return users, dbError(op, rows.Err())
}

func (s *Store) queryUser(ctx context.Context, op, query string, args ...any) (ldapsync.LocalUser, bool, error) {
	u, err := scanUser(s.db.Pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return ldapsync.LocalUser{}, false, nil
	}
	if err != nil {
		return ldapsync.LocalUser{}, false, dbError(op, err)
	}
	return u, true, nil
}

// ListLinkedUsers returns users bound to a directory entry
func (s *Store) ListLinkedUsers(ctx context.Context) ([]ldapsync.LocalUser, error) {
	tenantID, err := tenant(ctx)
	if err != nil {
		return nil, err
	}
	return s.queryUsers(ctx, "list linked users",
		`SELECT `+userColumns+` FROM users WHERE tenant_id = $1 AND sid IS NOT NULL ORDER BY user_name`, tenantID)
}

// GetUserBySID finds the user linked to sid
func (s *Store) GetUserBySID(ctx context.Context, sid string) (ldapsync.LocalUser, bool, error) {
	tenantID, err := tenant(ctx)
	if err != nil {
		return ldapsync.LocalUser{}, false, err
	}
	return s.queryUser(ctx, "get user by sid",
		`SELECT `+userColumns+` FROM users WHERE tenant_id = $1 AND sid = $2`, tenantID, sid)
}

// FindUnlinkedUser finds a user without SID by user name, then by e-mail
func (s *Store) FindUnlinkedUser(ctx context.Context, userName, email string) (ldapsync.LocalUser, bool, error) {
	tenantID, err := tenant(ctx)
	if err != nil {
		return ldapsync.LocalUser{}, false, err
	}
	return s.queryUser(ctx, "find unlinked user",
		`SELECT `+userColumns+` FROM users
		 WHERE tenant_id = $1 AND sid IS NULL
		   AND (lower(user_name) = lower($2) OR ($3 <> '' AND lower(email) = lower($3)))
		 ORDER BY (lower(user_name) = lower($2)) DESC
		 LIMIT 1`,
		tenantID, userName, email)
}

// CreateUser inserts a user with an unusable password. Active non-guest
// users count against the tenant quota.
func (s *Store) CreateUser(ctx context.Context, user ldapsync.LocalUser) (ldapsync.LocalUser, error) {
	tenantID, err := tenant(ctx)
	if err != nil {
		return ldapsync.LocalUser{}, err
	}

	if user.Status != ldapsync.UserTerminated && !user.IsGuest {
		var quota, active int
		err := s.db.Pool.QueryRow(ctx,
			`SELECT t.user_quota,
			        (SELECT COUNT(*) FROM users u WHERE u.tenant_id = t.id AND u.status = 'active' AND NOT u.is_guest)
			 FROM tenants t WHERE t.id = $1`, tenantID).Scan(&quota, &active)
		if err != nil {
			return ldapsync.LocalUser{}, dbError("check user quota", err)
		}
		if quota > 0 && active >= quota {
			return ldapsync.LocalUser{}, apperrors.QuotaExceeded("users", quota)
		}
	}

	hash, err := unusablePasswordHash()
	if err != nil {
		return ldapsync.LocalUser{}, apperrors.Internal("generate password hash", err)
	}
	if user.Status == "" {
		user.Status = ldapsync.UserActive
	}
	user.ID = uuid.New().String()

	_, err = s.db.Pool.Exec(ctx,
		`INSERT INTO users (id, tenant_id, sid, user_name, first_name, last_name, email, title, mobile_phone,
		                    status, is_guest, directory_contacts, password_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		user.ID, tenantID, nullable(user.SID), user.UserName, user.FirstName, user.LastName, user.Email,
		user.Title, user.MobilePhone, string(user.Status), user.IsGuest, user.DirectoryContacts, string(hash))
	if err != nil {
		return ldapsync.LocalUser{}, dbError("create user", err)
	}

	s.logger.Debug("User created", zap.Int("tenant_id", tenantID), zap.String("user_id", user.ID))
	return user, nil
}

// UpdateUser overwrites the stored fields of user
func (s *Store) UpdateUser(ctx context.Context, user ldapsync.LocalUser) error {
	tenantID, err := tenant(ctx)
	if err != nil {
		return err
	}
	tag, err := s.db.Pool.Exec(ctx,
		`UPDATE users SET sid = $3, user_name = $4, first_name = $5, last_name = $6, email = $7, title = $8,
		                  mobile_phone = $9, status = $10, is_guest = $11, directory_contacts = $12, updated_at = NOW()
		 WHERE tenant_id = $1 AND id::text = $2`,
		tenantID, user.ID, nullable(user.SID), user.UserName, user.FirstName, user.LastName, user.Email,
		user.Title, user.MobilePhone, string(user.Status), user.IsGuest, user.DirectoryContacts)
	if err != nil {
		return dbError("update user", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.UserNotFound(user.ID)
	}
	return nil
}

// IsAdministrator reports whether userID is flagged admin or owns the tenant
func (s *Store) IsAdministrator(ctx context.Context, userID string) (bool, error) {
	tenantID, err := tenant(ctx)
	if err != nil {
		return false, err
	}
	var admin bool
	err = s.db.Pool.QueryRow(ctx,
		`SELECT u.is_admin OR COALESCE(t.owner_id = u.id, false)
		 FROM users u JOIN tenants t ON t.id = u.tenant_id
		 WHERE u.tenant_id = $1 AND u.id::text = $2`, tenantID, userID).Scan(&admin)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, dbError("check administrator", err)
	}
	return admin, nil
}

// SetAdministrator flags or unflags userID as a portal administrator
func (s *Store) SetAdministrator(ctx context.Context, userID string, admin bool) error {
	tenantID, err := tenant(ctx)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx,
		`UPDATE users SET is_admin = $3, updated_at = NOW() WHERE tenant_id = $1 AND id::text = $2`,
		tenantID, userID, admin)
	return dbError("set administrator", err)
}

// unusablePasswordHash hashes random bytes nobody knows, so directory users
// cannot log in with a local password
func unusablePasswordHash() ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return bcrypt.GenerateFromPassword([]byte(base64.RawStdEncoding.EncodeToString(buf)), bcrypt.DefaultCost)
}
