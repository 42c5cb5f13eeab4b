package ldapsync

import (
	"context"
	stderrors "errors"
	"fmt"

	"go.uber.org/zap"

	apperrors "github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/errors"
	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/validation"
)

// syncFlat mirrors the user list only; every directory-linked group is removed
func (e *Engine) syncFlat(ctx context.Context, rc *runContext) ([]DirectoryUser, error) {
	rc.progress.Report(ctx, 15, StatusGettingUsers)
	users, err := rc.dir.DiscoverUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover users: %w", err)
	}
	if len(users) == 0 {
		rc.logger.Warn("No users found in directory")
		rc.progress.SetError(ErrorUsersNotFound)
		return nil, nil
	}

	rc.progress.Report(ctx, 20, StatusRemovingOldUsers)
	users, err = e.removeOldUsers(ctx, rc, users, 8)
	if err != nil {
		return nil, err
	}

	rc.progress.Report(ctx, 30, syncUsersStatus(rc.req.Kind))
	resolved, err := e.syncUsers(ctx, rc, users, 35)
	if err != nil {
		return nil, err
	}

	rc.progress.Report(ctx, 70, StatusRemovingOldGroups)
	if err := e.removeOldGroups(ctx, rc, nil, 10); err != nil {
		return nil, err
	}
	return resolved, nil
}

func syncUsersStatus(kind OperationKind) MessageKey {
	if kind.IsSave() {
		return StatusSavingUsers
	}
	return StatusSyncingUsers
}

// syncUsers upserts every directory user and returns the ones that resolved
// to a local user
func (e *Engine) syncUsers(ctx context.Context, rc *runContext, users []DirectoryUser, budget float64) ([]DirectoryUser, error) {
	step := rc.progress.phase(budget, len(users))
	resolved := make([]DirectoryUser, 0, len(users))

	for _, du := range users {
		step.Next(ctx, du.DisplayName())

		_, ok, err := e.upsertUser(ctx, rc, du)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		resolved = append(resolved, du)
	}
	return resolved, nil
}

// upsertUser creates or updates the local user of a directory entry. It
// reports false for entries that cannot be mapped.
func (e *Engine) upsertUser(ctx context.Context, rc *runContext, du DirectoryUser) (LocalUser, bool, error) {
	if du.SID == "" || du.Login == "" {
		rc.logger.Debug("Skipping directory entry without SID or login", zap.String("dn", du.DN))
		return LocalUser{}, false, nil
	}

	desired := localUserFrom(du)
	if err := validation.Struct(desired); err != nil {
		var verrs *validation.ValidationErrors
		if stderrors.As(err, &verrs) && verrs.First() != nil {
			f := verrs.First()
			return LocalUser{}, false, apperrors.MalformedData(f.Field, f.Value).WithMetadata("dn", du.DN)
		}
		return LocalUser{}, false, err
	}

	existing, found, err := rc.mut.userBySID(ctx, du.SID)
	if err != nil {
		return LocalUser{}, false, fmt.Errorf("find user %s: %w", du.SID, err)
	}
	if !found {
		existing, found, err = e.deps.Store.FindUnlinkedUser(ctx, desired.UserName, desired.Email)
		if err != nil {
			return LocalUser{}, false, fmt.Errorf("find unlinked user %s: %w", desired.UserName, err)
		}
	}

	if !found {
		if du.Disabled {
			rc.logger.Debug("Skipping disabled directory user", zap.String("sid", du.SID))
			return LocalUser{}, false, nil
		}
		created, err := rc.mut.createUser(ctx, desired)
		if err != nil {
			return LocalUser{}, false, err
		}
		return created, true, nil
	}

	merged := mergeUser(existing, desired)
	if du.Disabled && existing.Status != UserTerminated {
		protected, err := e.isProtected(ctx, rc, existing)
		if err != nil {
			return LocalUser{}, false, err
		}
		if protected {
			rc.logger.Warn("Keeping protected user active after directory disable",
				zap.String("user_id", existing.ID))
			rc.progress.SetWarning(WarningRemovedYourself)
			merged.Status = existing.Status
		}
	}
	fields := diffUser(existing, merged)
	if len(fields) == 0 {
		return existing, true, nil
	}
	if err := rc.mut.updateUser(ctx, merged, fields); err != nil {
		return LocalUser{}, false, err
	}
	return merged, true, nil
}

func localUserFrom(du DirectoryUser) LocalUser {
	status := UserActive
	if du.Disabled {
		status = UserTerminated
	}
	return LocalUser{
		SID:               du.SID,
		UserName:          validation.SanitizeString(du.Login),
		FirstName:         validation.SanitizeString(du.FirstName),
		LastName:          validation.SanitizeString(du.LastName),
		Email:             validation.SanitizeEmail(du.Email),
		Title:             validation.SanitizeString(du.Title),
		MobilePhone:       validation.SanitizeString(du.MobilePhone),
		Status:            status,
		DirectoryContacts: true,
	}
}

// mergeUser copies the directory owned attributes onto an existing user
func mergeUser(existing, desired LocalUser) LocalUser {
	merged := existing
	merged.SID = desired.SID
	merged.UserName = desired.UserName
	merged.FirstName = desired.FirstName
	merged.LastName = desired.LastName
	merged.Email = desired.Email
	merged.Title = desired.Title
	merged.MobilePhone = desired.MobilePhone
	merged.Status = desired.Status
	merged.DirectoryContacts = true
	return merged
}

func diffUser(before, after LocalUser) []FieldChange {
	var out []FieldChange
	add := func(field, b, a string) {
		if b != a {
			out = append(out, FieldChange{Field: field, Before: b, After: a})
		}
	}
	add("sid", before.SID, after.SID)
	add("user_name", before.UserName, after.UserName)
	add("first_name", before.FirstName, after.FirstName)
	add("last_name", before.LastName, after.LastName)
	add("email", before.Email, after.Email)
	add("title", before.Title, after.Title)
	add("mobile_phone", before.MobilePhone, after.MobilePhone)
	add("status", string(before.Status), string(after.Status))
	return out
}

// removeOldUsers unlinks every linked local user whose SID is gone from the
// directory and returns users without the removed ones
func (e *Engine) removeOldUsers(ctx context.Context, rc *runContext, users []DirectoryUser, budget float64) ([]DirectoryUser, error) {
	linked, err := e.deps.Store.ListLinkedUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list linked users: %w", err)
	}

	present := make(map[string]struct{}, len(users))
	for _, u := range users {
		present[u.SID] = struct{}{}
	}

	var removed []LocalUser
	for _, u := range linked {
		if _, ok := present[u.SID]; !ok {
			removed = append(removed, u)
		}
	}
	if len(removed) == 0 {
		return users, nil
	}

	step := rc.progress.phase(budget, len(removed))
	removedSIDs := make(map[string]struct{}, len(removed))
	for _, u := range removed {
		step.Next(ctx, u.DisplayName())
		removedSIDs[u.SID] = struct{}{}

		protected, err := e.isProtected(ctx, rc, u)
		if err != nil {
			return nil, err
		}
		if protected {
			rc.logger.Warn("Keeping protected user active after directory removal", zap.String("user_id", u.ID))
			rc.progress.SetWarning(WarningRemovedYourself)
		}
		if err := rc.mut.unlinkUser(ctx, u, !protected); err != nil {
			return nil, err
		}
	}

	kept := make([]DirectoryUser, 0, len(users))
	for _, u := range users {
		if _, ok := removedSIDs[u.SID]; !ok {
			kept = append(kept, u)
		}
	}
	return kept, nil
}

// isProtected reports whether removal must not terminate the user: the
// tenant owner and the administrator running the operation keep their status
func (e *Engine) isProtected(ctx context.Context, rc *runContext, u LocalUser) (bool, error) {
	if rc.tenant.IsOwner(u.ID) {
		return true, nil
	}
	if rc.req.InvokingUserID == "" || u.ID != rc.req.InvokingUserID {
		return false, nil
	}
	if rc.invokerIsAdmin == nil {
		admin, err := e.deps.Store.IsAdministrator(ctx, rc.req.InvokingUserID)
		if err != nil {
			return false, fmt.Errorf("check administrator %s: %w", rc.req.InvokingUserID, err)
		}
		rc.invokerIsAdmin = &admin
	}
	return *rc.invokerIsAdmin, nil
}

// turnOff unlinks every directory user after the directory was disabled and
// resets the photo and access rights bookkeeping
func (e *Engine) turnOff(ctx context.Context, rc *runContext) error {
	rc.progress.Report(ctx, 48, StatusModifyingUsers)

	linked, err := e.deps.Store.ListLinkedUsers(ctx)
	if err != nil {
		return fmt.Errorf("list linked users: %w", err)
	}

	step := rc.progress.phase(48, len(linked))
	for _, u := range linked {
		step.Next(ctx, u.DisplayName())
		if err := rc.mut.unlinkUser(ctx, u, false); err != nil {
			return err
		}
	}

	if err := rc.mut.resetSnapshot(ctx, CurrentPhotosKey, CurrentPhotos{}); err != nil {
		return err
	}
	return rc.mut.resetSnapshot(ctx, CurrentRightsKey, AccessRightsSnapshot{})
}
