package ldapsync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/events"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/metrics"
)

// memberFunc is called before each member is added or removed
type memberFunc func(index, count int, user LocalUser)

// strategy is how a run acts on the diff it computes: the applier writes to
// the stores, the planner only records into the change log.
type strategy interface {
	// userBySID resolves a directory SID to a local user, including users
	// this run has already created or linked
	userBySID(ctx context.Context, sid string) (LocalUser, bool, error)

	unlinkUser(ctx context.Context, user LocalUser, terminate bool) error
	createUser(ctx context.Context, user LocalUser) (LocalUser, error)
	updateUser(ctx context.Context, user LocalUser, fields []FieldChange) error

	createGroup(ctx context.Context, group LocalGroup, members []LocalUser, each memberFunc) error
	updateGroup(ctx context.Context, group LocalGroup) error
	removeMembers(ctx context.Context, group LocalGroup, users []LocalUser, each memberFunc) error
	addMembers(ctx context.Context, group LocalGroup, users []LocalUser, each memberFunc) error
	skipGroup(group LocalGroup)
	deleteGroup(ctx context.Context, group LocalGroup) error

	revokeRight(ctx context.Context, userID string, right AccessRight) error
	clearRights(ctx context.Context, userID string) error
	grantRight(ctx context.Context, userID string, right AccessRight) error

	syncPhoto(ctx context.Context, userID string, data []byte) error
	removePhoto(ctx context.Context, userID string) error

	saveSettings(ctx context.Context, key string, v interface{}) error
	// resetSnapshot replaces a stored snapshot with its empty value
	resetSnapshot(ctx context.Context, key string, empty interface{}) error
}

// applier writes every change to the stores and announces it on the event bus
type applier struct {
	tenantID int
	store    IdentityStore
	settings SettingsStore
	photos   PhotoStore
	bus      events.Bus
	logger   *zap.Logger
}

func (a *applier) emit(ctx context.Context, eventType string, payload map[string]interface{}) {
	if a.bus == nil {
		return
	}
	a.bus.PublishAsync(ctx, events.NewEvent(eventType, "ldapsync", a.tenantID, payload))
}

func (a *applier) userBySID(ctx context.Context, sid string) (LocalUser, bool, error) {
	if sid == "" {
		return LocalUser{}, false, nil
	}
	return a.store.GetUserBySID(ctx, sid)
}

func (a *applier) unlinkUser(ctx context.Context, user LocalUser, terminate bool) error {
	sid := user.SID
	user = user.detach()
	if terminate {
		user.Status = UserTerminated
	}
	a.logger.Debug("Saving user", zap.String("user_id", user.ID), zap.String("status", string(user.Status)))
	if err := a.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("unlink user %s: %w", user.ID, err)
	}
	metrics.RecordChange(string(ChangeSaveAsPortalUser))
	eventType := events.EventUserUpdated
	if terminate {
		eventType = events.EventUserTerminated
	}
	a.emit(ctx, eventType, map[string]interface{}{"user_id": user.ID, "sid": sid, "unlinked": true})
	return nil
}

func (a *applier) createUser(ctx context.Context, user LocalUser) (LocalUser, error) {
	created, err := a.store.CreateUser(ctx, user)
	if err != nil {
		return LocalUser{}, fmt.Errorf("create user %s: %w", user.UserName, err)
	}
	metrics.RecordChange(string(ChangeAddUser))
	a.emit(ctx, events.EventUserCreated, map[string]interface{}{"user_id": created.ID, "sid": created.SID, "user_name": created.UserName})
	return created, nil
}

func (a *applier) updateUser(ctx context.Context, user LocalUser, fields []FieldChange) error {
	if err := a.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("update user %s: %w", user.ID, err)
	}
	metrics.RecordChange(string(ChangeUpdateUser))
	changed := make([]string, 0, len(fields))
	for _, f := range fields {
		changed = append(changed, f.Field)
	}
	eventType := events.EventUserUpdated
	if user.Status == UserTerminated {
		eventType = events.EventUserTerminated
	}
	a.emit(ctx, eventType, map[string]interface{}{"user_id": user.ID, "sid": user.SID, "fields": changed})
	return nil
}

func (a *applier) createGroup(ctx context.Context, group LocalGroup, members []LocalUser, each memberFunc) error {
	created, err := a.store.CreateGroup(ctx, group)
	if err != nil {
		return fmt.Errorf("create group %s: %w", group.Name, err)
	}
	metrics.RecordChange(string(ChangeAddGroup))
	a.emit(ctx, events.EventGroupCreated, map[string]interface{}{"group_id": created.ID, "sid": created.SID, "name": created.Name})
	return a.addMembers(ctx, created, members, each)
}

func (a *applier) updateGroup(ctx context.Context, group LocalGroup) error {
	if err := a.store.UpdateGroup(ctx, group); err != nil {
		return fmt.Errorf("update group %s: %w", group.ID, err)
	}
	metrics.RecordChange(string(ChangeUpdateGroup))
	a.emit(ctx, events.EventGroupUpdated, map[string]interface{}{"group_id": group.ID, "sid": group.SID, "name": group.Name})
	return nil
}

func (a *applier) removeMembers(ctx context.Context, group LocalGroup, users []LocalUser, each memberFunc) error {
	for i, u := range users {
		each(i+1, len(users), u)
		if err := a.store.RemoveGroupMember(ctx, group.ID, u.ID); err != nil {
			return fmt.Errorf("remove user %s from group %s: %w", u.ID, group.ID, err)
		}
		a.emit(ctx, events.EventGroupMemberRemoved, map[string]interface{}{"group_id": group.ID, "user_id": u.ID})
	}
	if len(users) > 0 {
		metrics.RecordChange(string(ChangeRemoveGroupMembers))
	}
	return nil
}

func (a *applier) addMembers(ctx context.Context, group LocalGroup, users []LocalUser, each memberFunc) error {
	for i, u := range users {
		each(i+1, len(users), u)
		if err := a.store.AddGroupMember(ctx, group.ID, u.ID); err != nil {
			return fmt.Errorf("add user %s to group %s: %w", u.ID, group.ID, err)
		}
		a.emit(ctx, events.EventGroupMemberAdded, map[string]interface{}{"group_id": group.ID, "user_id": u.ID})
	}
	if len(users) > 0 {
		metrics.RecordChange(string(ChangeAddGroupMembers))
	}
	return nil
}

func (a *applier) skipGroup(LocalGroup) {}

func (a *applier) deleteGroup(ctx context.Context, group LocalGroup) error {
	if err := a.store.DeleteGroup(ctx, group.ID); err != nil {
		return fmt.Errorf("delete group %s: %w", group.ID, err)
	}
	metrics.RecordChange(string(ChangeRemoveGroup))
	a.emit(ctx, events.EventGroupDeleted, map[string]interface{}{"group_id": group.ID, "sid": group.SID, "name": group.Name})
	return nil
}

func (a *applier) revokeRight(ctx context.Context, userID string, right AccessRight) error {
	if err := a.store.RevokeRight(ctx, userID, right); err != nil {
		return fmt.Errorf("revoke %s from %s: %w", right, userID, err)
	}
	a.emit(ctx, events.EventRoleRevoked, map[string]interface{}{"user_id": userID, "right": string(right)})
	return nil
}

func (a *applier) clearRights(ctx context.Context, userID string) error {
	rights, err := a.store.UserRights(ctx, userID)
	if err != nil {
		return fmt.Errorf("load rights of %s: %w", userID, err)
	}
	for _, r := range rights {
		if err := a.revokeRight(ctx, userID, r); err != nil {
			return err
		}
	}
	if len(rights) > 0 {
		a.logger.Debug("Cleared rights before granting", zap.String("user_id", userID), zap.Int("count", len(rights)))
	}
	return nil
}

func (a *applier) grantRight(ctx context.Context, userID string, right AccessRight) error {
	if err := a.store.GrantRight(ctx, userID, right); err != nil {
		return fmt.Errorf("grant %s to %s: %w", right, userID, err)
	}
	a.emit(ctx, events.EventRoleAssigned, map[string]interface{}{"user_id": userID, "right": string(right)})
	return nil
}

func (a *applier) syncPhoto(ctx context.Context, userID string, data []byte) error {
	return a.photos.SyncPhoto(ctx, userID, data)
}

func (a *applier) removePhoto(ctx context.Context, userID string) error {
	if err := a.photos.RemovePhoto(ctx, userID); err != nil {
		return fmt.Errorf("remove photo of %s: %w", userID, err)
	}
	if err := a.photos.ResetThumbnails(ctx, userID); err != nil {
		return fmt.Errorf("reset thumbnails of %s: %w", userID, err)
	}
	return nil
}

func (a *applier) saveSettings(ctx context.Context, key string, v interface{}) error {
	if err := a.settings.SaveSettings(ctx, key, v); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (a *applier) resetSnapshot(ctx context.Context, key string, empty interface{}) error {
	return a.saveSettings(ctx, key, empty)
}

// planner records what the applier would do. It only reads from the stores.
type planner struct {
	store   IdentityStore
	changes *ChangeLog
	// users created or relinked by this plan, by SID
	planned map[string]LocalUser
}

func newPlanner(store IdentityStore, changes *ChangeLog) *planner {
	return &planner{store: store, changes: changes, planned: make(map[string]LocalUser)}
}

func (p *planner) record(t ChangeType) {
	metrics.RecordChange("planned_" + string(t))
}

func (p *planner) userBySID(ctx context.Context, sid string) (LocalUser, bool, error) {
	if sid == "" {
		return LocalUser{}, false, nil
	}
	if u, ok := p.planned[sid]; ok {
		return u, true, nil
	}
	return p.store.GetUserBySID(ctx, sid)
}

func (p *planner) unlinkUser(_ context.Context, user LocalUser, _ bool) error {
	p.changes.SaveAsPortalUser(user)
	p.record(ChangeSaveAsPortalUser)
	return nil
}

func (p *planner) createUser(_ context.Context, user LocalUser) (LocalUser, error) {
	p.changes.AddUser(user)
	p.record(ChangeAddUser)
	p.planned[user.SID] = user
	return user, nil
}

func (p *planner) updateUser(_ context.Context, user LocalUser, fields []FieldChange) error {
	p.changes.UpdateUser(user, fields)
	p.record(ChangeUpdateUser)
	p.planned[user.SID] = user
	return nil
}

func (p *planner) createGroup(_ context.Context, group LocalGroup, members []LocalUser, _ memberFunc) error {
	p.changes.AddGroup(group)
	p.changes.AddGroupMembers(group, members)
	p.record(ChangeAddGroup)
	return nil
}

func (p *planner) updateGroup(_ context.Context, group LocalGroup) error {
	p.changes.UpdateGroup(group)
	p.record(ChangeUpdateGroup)
	return nil
}

func (p *planner) removeMembers(_ context.Context, group LocalGroup, users []LocalUser, _ memberFunc) error {
	if len(users) > 0 {
		p.changes.RemoveGroupMembers(group, users)
		p.record(ChangeRemoveGroupMembers)
	}
	return nil
}

func (p *planner) addMembers(_ context.Context, group LocalGroup, users []LocalUser, _ memberFunc) error {
	if len(users) > 0 {
		p.changes.AddGroupMembers(group, users)
		p.record(ChangeAddGroupMembers)
	}
	return nil
}

func (p *planner) skipGroup(group LocalGroup) {
	p.changes.SkipGroup(group)
	p.record(ChangeSkipGroup)
}

func (p *planner) deleteGroup(_ context.Context, group LocalGroup) error {
	p.changes.RemoveGroup(group)
	p.record(ChangeRemoveGroup)
	return nil
}

func (p *planner) revokeRight(context.Context, string, AccessRight) error { return nil }

func (p *planner) clearRights(context.Context, string) error { return nil }

func (p *planner) grantRight(context.Context, string, AccessRight) error { return nil }

func (p *planner) syncPhoto(context.Context, string, []byte) error { return nil }

func (p *planner) removePhoto(context.Context, string) error { return nil }

func (p *planner) saveSettings(context.Context, string, interface{}) error { return nil }

func (p *planner) resetSnapshot(_ context.Context, key string, _ interface{}) error {
	p.changes.ResetSnapshot(key)
	p.record(ChangeResetSnapshot)
	return nil
}
