package ldapsync

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// groupWithMembers is a directory group and its members as fetched in this run
type groupWithMembers struct {
	group   DirectoryGroup
	members []DirectoryUser
}

// syncGrouped mirrors the directory groups and the union of their members
func (e *Engine) syncGrouped(ctx context.Context, rc *runContext) ([]DirectoryUser, error) {
	rc.progress.Report(ctx, 15, StatusGettingGroups)
	groups, err := rc.dir.DiscoverGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover groups: %w", err)
	}
	if len(groups) == 0 {
		rc.logger.Warn("No groups found in directory")
		rc.progress.SetError(ErrorGroupsNotFound)
		return nil, nil
	}

	rc.progress.Report(ctx, 20, StatusGettingUsers)
	withMembers := make([]groupWithMembers, 0, len(groups))
	var users []DirectoryUser
	seen := make(map[string]struct{})
	for _, g := range groups {
		members, err := rc.dir.GroupMembers(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("members of group %s: %w", g.Name, err)
		}
		withMembers = append(withMembers, groupWithMembers{group: g, members: members})
		for _, m := range members {
			if _, dup := seen[m.SID]; dup {
				continue
			}
			seen[m.SID] = struct{}{}
			users = append(users, m)
		}
	}
	if len(users) == 0 {
		rc.logger.Warn("Directory groups have no members")
		rc.progress.SetError(ErrorUsersNotFound)
		return nil, nil
	}

	rc.progress.Report(ctx, 30, syncUsersStatus(rc.req.Kind))
	resolved, err := e.syncUsers(ctx, rc, users, 30)
	if err != nil {
		return nil, err
	}

	rc.progress.Report(ctx, 60, StatusSavingGroups)
	if err := e.syncGroups(ctx, rc, withMembers, 20); err != nil {
		return nil, err
	}

	rc.progress.Report(ctx, 80, StatusRemovingOldGroups)
	if err := e.removeOldGroups(ctx, rc, groups, 10); err != nil {
		return nil, err
	}

	rc.progress.Report(ctx, 90, StatusRemovingOldUsers)
	return e.removeOldUsers(ctx, rc, resolved, 0)
}

func (e *Engine) syncGroups(ctx context.Context, rc *runContext, groups []groupWithMembers, budget float64) error {
	step := rc.progress.phase(budget, len(groups))
	for _, g := range groups {
		step.Next(ctx, g.group.Name)
		if err := e.syncGroup(ctx, rc, step, g); err != nil {
			return err
		}
	}
	return nil
}

// syncGroup creates or reconciles one local group. Removals are applied
// before additions.
func (e *Engine) syncGroup(ctx context.Context, rc *runContext, step *phaseProgress, g groupWithMembers) error {
	want := LocalGroup{SID: g.group.SID, Name: g.group.Name}

	memberSource := func(key MessageKey) memberFunc {
		prefix := step.Current(g.group.Name) + ", " + rc.text.Text(key) + " "
		return func(i, n int, u LocalUser) {
			step.Detail(ctx, prefix+itemSource(i, n, u.DisplayName()))
		}
	}

	local, found, err := e.deps.Store.GetGroupBySID(ctx, g.group.SID)
	if err != nil {
		return fmt.Errorf("find group %s: %w", g.group.SID, err)
	}

	if !found {
		members, err := e.resolveMembers(ctx, rc, g.members, nil)
		if err != nil {
			return err
		}
		if len(members) == 0 {
			rc.logger.Debug("Skipping directory group without local members", zap.String("group", g.group.Name))
			rc.mut.skipGroup(want)
			return nil
		}
		return rc.mut.createGroup(ctx, want, members, memberSource(StatusAddingGroupUser))
	}

	current, err := e.deps.Store.GroupMembers(ctx, local.ID)
	if err != nil {
		return fmt.Errorf("members of local group %s: %w", local.ID, err)
	}
	var dbMembers []LocalUser
	dbSIDs := make(map[string]struct{}, len(current))
	for _, u := range current {
		if u.Linked() {
			dbMembers = append(dbMembers, u)
			dbSIDs[u.SID] = struct{}{}
		}
	}

	dirSIDs := make(map[string]struct{}, len(g.members))
	for _, m := range g.members {
		dirSIDs[m.SID] = struct{}{}
	}

	var toRemove []LocalUser
	for _, u := range dbMembers {
		if _, ok := dirSIDs[u.SID]; !ok {
			toRemove = append(toRemove, u)
		}
	}
	toAdd, err := e.resolveMembers(ctx, rc, g.members, dbSIDs)
	if err != nil {
		return err
	}

	if groupNeedsUpdate(local, want) {
		updated := local
		updated.Name = want.Name
		updated.SID = want.SID
		if err := rc.mut.updateGroup(ctx, updated); err != nil {
			return err
		}
		local = updated
	}

	if err := rc.mut.removeMembers(ctx, local, toRemove, memberSource(StatusRemovingGroupUser)); err != nil {
		return err
	}
	if err := rc.mut.addMembers(ctx, local, toAdd, memberSource(StatusAddingGroupUser)); err != nil {
		return err
	}

	if len(toRemove) == len(dbMembers) && len(toAdd) == 0 {
		rc.logger.Info("Removing group left without members", zap.String("group", local.Name))
		return rc.mut.deleteGroup(ctx, local)
	}
	return nil
}

// resolveMembers maps directory members to local users by SID, skipping SIDs
// in exclude and members without a local user
func (e *Engine) resolveMembers(ctx context.Context, rc *runContext, members []DirectoryUser, exclude map[string]struct{}) ([]LocalUser, error) {
	var out []LocalUser
	for _, m := range members {
		if m.SID == "" {
			continue
		}
		if _, skip := exclude[m.SID]; skip {
			continue
		}
		u, ok, err := rc.mut.userBySID(ctx, m.SID)
		if err != nil {
			return nil, fmt.Errorf("find user %s: %w", m.SID, err)
		}
		if !ok {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func groupNeedsUpdate(local, want LocalGroup) bool {
	return !strings.EqualFold(local.Name, want.Name) || !strings.EqualFold(local.SID, want.SID)
}

// removeOldGroups deletes every linked local group whose SID is not in keep
func (e *Engine) removeOldGroups(ctx context.Context, rc *runContext, keep []DirectoryGroup, budget float64) error {
	linked, err := e.deps.Store.ListLinkedGroups(ctx)
	if err != nil {
		return fmt.Errorf("list linked groups: %w", err)
	}

	keepSIDs := make(map[string]struct{}, len(keep))
	for _, g := range keep {
		keepSIDs[g.SID] = struct{}{}
	}

	var stale []LocalGroup
	for _, g := range linked {
		if _, ok := keepSIDs[g.SID]; !ok {
			stale = append(stale, g)
		}
	}

	step := rc.progress.phase(budget, len(stale))
	for _, g := range stale {
		step.Next(ctx, g.Name)
		if err := rc.mut.deleteGroup(ctx, g); err != nil {
			return err
		}
	}
	return nil
}
