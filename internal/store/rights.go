package store

import (
	"context"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/ldapsync"
)

// UserRights lists the rights held by userID
func (s *Store) UserRights(ctx context.Context, userID string) ([]ldapsync.AccessRight, error) {
	tenantID, err := tenant(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Pool.Query(ctx,
		`SELECT r.access_right FROM user_rights r JOIN users u ON u.id = r.user_id
		 WHERE u.tenant_id = $1 AND r.user_id::text = $2
		 ORDER BY r.access_right`, tenantID, userID)
	if err != nil {
		return nil, dbError("list user rights", err)
	}
	defer rows.Close()

	var rights []ldapsync.AccessRight
	for rows.Next() {
		var right string
		if err := rows.Scan(&right); err != nil {
			return nil, dbError("list user rights", err)
		}
		rights = append(rights, ldapsync.AccessRight(right))
	}
	return rights, dbError("list user rights", rows.Err())
}

// GrantRight gives userID a right; granting a held right is a no-op
func (s *Store) GrantRight(ctx context.Context, userID string, right ldapsync.AccessRight) error {
	tenantID, err := tenant(ctx)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx,
		`INSERT INTO user_rights (user_id, access_right)
		 SELECT id, $3 FROM users WHERE tenant_id = $1 AND id::text = $2
		 ON CONFLICT DO NOTHING`, tenantID, userID, string(right))
	return dbError("grant right", err)
}

// RevokeRight takes a right away from userID
func (s *Store) RevokeRight(ctx context.Context, userID string, right ldapsync.AccessRight) error {
	tenantID, err := tenant(ctx)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx,
		`DELETE FROM user_rights r USING users u
		 WHERE u.id = r.user_id AND u.tenant_id = $1 AND r.user_id::text = $2 AND r.access_right = $3`,
		tenantID, userID, string(right))
	return dbError("revoke right", err)
}
