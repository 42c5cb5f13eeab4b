package ldapsync

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// syncAccessRights revokes every right granted by the previous run, then
// grants the rights of the configured groups again. The administrator running
// the operation never loses a right in the revoke pass.
func (e *Engine) syncAccessRights(ctx context.Context, rc *runContext) error {
	rc.progress.Report(ctx, 95, StatusUpdatingAccessRights)

	lost, err := e.takeRights(ctx, rc)
	if err != nil {
		return err
	}

	if rc.settings.GroupMembership && len(rc.settings.AccessRights) > 0 {
		if lost, err = e.giveRights(ctx, rc, lost); err != nil {
			return err
		}
	}

	if len(lost) > 0 {
		rc.logger.Warn("Administrator rights were not renewed by any directory group",
			zap.String("user_id", rc.req.InvokingUserID),
			zap.Int("rights", len(lost)))
		rc.progress.SetWarning(WarningLostRights)
	}

	return rc.mut.saveSettings(ctx, SettingsKey, rc.settings)
}

// takeRights revokes the previous snapshot and returns the rights the
// invoking user kept only because they run the operation
func (e *Engine) takeRights(ctx context.Context, rc *runContext) (map[AccessRight]struct{}, error) {
	var snapshot AccessRightsSnapshot
	if _, err := e.deps.Settings.LoadSettings(ctx, CurrentRightsKey, &snapshot); err != nil {
		return nil, fmt.Errorf("load access rights snapshot: %w", err)
	}

	lost := make(map[AccessRight]struct{})
	if len(snapshot.Rights) == 0 {
		return lost, nil
	}

	rc.progress.Report(ctx, 95, StatusRemovingOldRights)
	held := make([]AccessRight, 0, len(snapshot.Rights))
	for right := range snapshot.Rights {
		held = append(held, right)
	}
	sortRights(held)
	for _, right := range held {
		for _, userID := range snapshot.Rights[right] {
			if rc.req.InvokingUserID != "" && userID == rc.req.InvokingUserID {
				lost[right] = struct{}{}
				continue
			}
			if err := rc.mut.revokeRight(ctx, userID, right); err != nil {
				return nil, err
			}
		}
	}

	if err := rc.mut.saveSettings(ctx, CurrentRightsKey, AccessRightsSnapshot{}); err != nil {
		return nil, err
	}
	return lost, nil
}

// giveRights grants each configured right to the members of its groups and
// persists the new snapshot
func (e *Engine) giveRights(ctx context.Context, rc *runContext, lost map[AccessRight]struct{}) (map[AccessRight]struct{}, error) {
	next := AccessRightsSnapshot{Rights: make(map[AccessRight][]string)}
	withRights := make(map[string]struct{})

	order := make([]AccessRight, 0, len(rc.settings.AccessRights))
	for right := range rc.settings.AccessRights {
		order = append(order, right)
	}
	sortRights(order)

	step := rc.progress.phase(3, len(order))
	for _, right := range order {
		step.Step(ctx, string(right))

		names := splitGroupNames(rc.settings.AccessRights[right])
		if len(names) == 0 {
			continue
		}
		groups, err := rc.dir.FindGroupsByName(ctx, names)
		if err != nil {
			return nil, fmt.Errorf("find groups for %s: %w", right, err)
		}
		if len(groups) == 0 {
			rc.logger.Info("No directory groups match access right", zap.String("right", string(right)), zap.Strings("groups", names))
			continue
		}

		for _, g := range groups {
			local, found, err := e.deps.Store.GetGroupBySID(ctx, g.SID)
			if err != nil {
				return nil, fmt.Errorf("find group %s: %w", g.SID, err)
			}
			if !found {
				rc.logger.Debug("Directory group has no local group", zap.String("group", g.Name))
				continue
			}
			members, err := e.deps.Store.GroupMembers(ctx, local.ID)
			if err != nil {
				return nil, fmt.Errorf("members of local group %s: %w", local.ID, err)
			}

			for _, u := range members {
				if u.ID == "" || u.IsGuest {
					continue
				}
				if _, ok := withRights[u.ID]; !ok {
					withRights[u.ID] = struct{}{}
					if err := rc.mut.clearRights(ctx, u.ID); err != nil {
						return nil, err
					}
				}
				if !containsString(next.Rights[right], u.ID) {
					next.Rights[right] = append(next.Rights[right], u.ID)
				}

				step.Detail(ctx, rc.text.Text(StatusGivingRights, u.DisplayName(), string(right)))
				if err := rc.mut.grantRight(ctx, u.ID, right); err != nil {
					return nil, err
				}
				if u.ID == rc.req.InvokingUserID {
					delete(lost, right)
				}
			}
		}
	}

	if err := rc.mut.saveSettings(ctx, CurrentRightsKey, next); err != nil {
		return nil, err
	}
	return lost, nil
}

// splitGroupNames splits a comma separated group list, dropping blanks
func splitGroupNames(pattern string) []string {
	var names []string
	for _, part := range strings.Split(pattern, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// sortRights orders rights as in AllRights, unknown ones last by name
func sortRights(out []AccessRight) {
	rank := make(map[AccessRight]int, len(AllRights))
	for i, r := range AllRights {
		rank[r] = i
	}
	sort.Slice(out, func(i, j int) bool {
		ri, iok := rank[out[i]]
		rj, jok := rank[out[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return out[i] < out[j]
		}
	})
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
