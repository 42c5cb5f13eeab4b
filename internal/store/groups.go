package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/errors"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/ldapsync"
)

func scanGroup(row pgx.Row) (ldapsync.LocalGroup, error) {
	var (
		g   ldapsync.LocalGroup
		sid *string
	)
	if err := row.Scan(&g.ID, &sid, &g.Name); err != nil {
		return ldapsync.LocalGroup{}, err
	}
	g.SID = deref(sid)
	return g, nil
}

// ListLinkedGroups returns groups bound to a directory group
func (s *Store) ListLinkedGroups(ctx context.Context) ([]ldapsync.LocalGroup, error) {
	tenantID, err := tenant(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Pool.Query(ctx,
		`SELECT id::text, sid, name FROM groups WHERE tenant_id = $1 AND sid IS NOT NULL ORDER BY name`, tenantID)
	if err != nil {
		return nil, dbError("list linked groups", err)
	}
	defer rows.Close()

	var groups []ldapsync.LocalGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, dbError("list linked groups", err)
		}
		groups = append(groups, g)
	}
	return groups, dbError("list linked groups", rows.Err())
}

// GetGroupBySID finds the group linked to sid
func (s *Store) GetGroupBySID(ctx context.Context, sid string) (ldapsync.LocalGroup, bool, error) {
	tenantID, err := tenant(ctx)
	if err != nil {
		return ldapsync.LocalGroup{}, false, err
	}
	g, err := scanGroup(s.db.Pool.QueryRow(ctx,
		`SELECT id::text, sid, name FROM groups WHERE tenant_id = $1 AND sid = $2`, tenantID, sid))
	if errors.Is(err, pgx.ErrNoRows) {
		return ldapsync.LocalGroup{}, false, nil
	}
	if err != nil {
		return ldapsync.LocalGroup{}, false, dbError("get group by sid", err)
	}
	return g, true, nil
}

// CreateGroup inserts a group
func (s *Store) CreateGroup(ctx context.Context, group ldapsync.LocalGroup) (ldapsync.LocalGroup, error) {
	tenantID, err := tenant(ctx)
	if err != nil {
		return ldapsync.LocalGroup{}, err
	}
	group.ID = uuid.New().String()
	_, err = s.db.Pool.Exec(ctx,
		`INSERT INTO groups (id, tenant_id, sid, name) VALUES ($1, $2, $3, $4)`,
		group.ID, tenantID, nullable(group.SID), group.Name)
	if err != nil {
		return ldapsync.LocalGroup{}, dbError("create group", err)
	}
	return group, nil
}

// UpdateGroup renames or relinks a group
func (s *Store) UpdateGroup(ctx context.Context, group ldapsync.LocalGroup) error {
	tenantID, err := tenant(ctx)
	if err != nil {
		return err
	}
	tag, err := s.db.Pool.Exec(ctx,
		`UPDATE groups SET sid = $3, name = $4, updated_at = NOW() WHERE tenant_id = $1 AND id::text = $2`,
		tenantID, group.ID, nullable(group.SID), group.Name)
	if err != nil {
		return dbError("update group", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.GroupNotFound(group.ID)
	}
	return nil
}

// DeleteGroup removes a group and its memberships
func (s *Store) DeleteGroup(ctx context.Context, groupID string) error {
	tenantID, err := tenant(ctx)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx, `DELETE FROM groups WHERE tenant_id = $1 AND id::text = $2`, tenantID, groupID)
	return dbError("delete group", err)
}

// GroupMembers lists the members of a group
func (s *Store) GroupMembers(ctx context.Context, groupID string) ([]ldapsync.LocalUser, error) {
	tenantID, err := tenant(ctx)
	if err != nil {
		return nil, err
	}
	return s.queryUsers(ctx, "list group members",
		`SELECT `+prefixed("u", userColumns)+`
		 FROM group_members m JOIN users u ON u.id = m.user_id
		 WHERE u.tenant_id = $1 AND m.group_id::text = $2
		 ORDER BY u.user_name`, tenantID, groupID)
}

// AddGroupMember adds userID to groupID; adding an existing member is a no-op
func (s *Store) AddGroupMember(ctx context.Context, groupID, userID string) error {
	if _, err := tenant(ctx); err != nil {
		return err
	}
	_, err := s.db.Pool.Exec(ctx,
		`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, groupID, userID)
	return dbError("add group member", err)
}

// RemoveGroupMember removes userID from groupID
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	if _, err := tenant(ctx); err != nil {
		return err
	}
	_, err := s.db.Pool.Exec(ctx,
		`DELETE FROM group_members WHERE group_id::text = $1 AND user_id::text = $2`, groupID, userID)
	return dbError("remove group member", err)
}
