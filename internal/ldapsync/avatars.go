package ldapsync

import (
	"context"
	"crypto/md5" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/base64"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

type photoUpdate struct {
	user LocalUser
	data []byte
	hash string
}

// syncAvatars pushes changed directory photos to the photo store. Failures
// of single photos are logged and retried on the next run.
func (e *Engine) syncAvatars(ctx context.Context, rc *runContext, users []DirectoryUser) error {
	rc.progress.Report(ctx, 90, StatusUpdatingUserPhotos)

	var current CurrentPhotos
	if _, err := e.deps.Settings.LoadSettings(ctx, CurrentPhotosKey, &current); err != nil {
		return fmt.Errorf("load current photos: %w", err)
	}

	attr := rc.settings.AvatarAttribute
	if attr == "" {
		return e.removeImportedPhotos(ctx, rc, current)
	}
	if current.Photos == nil {
		current.Photos = make(map[string]string)
	}

	var updates []photoUpdate
	for _, du := range users {
		if du.Disabled {
			continue
		}
		data, ok := du.Attribute(attr)
		if !ok || len(data) == 0 {
			continue
		}
		local, found, err := rc.mut.userBySID(ctx, du.SID)
		if err != nil {
			return fmt.Errorf("find user %s: %w", du.SID, err)
		}
		if !found || local.ID == "" {
			continue
		}
		hash := photoHash(data)
		if current.Photos[local.ID] == hash {
			continue
		}
		updates = append(updates, photoUpdate{user: local, data: data, hash: hash})
	}

	step := rc.progress.phase(5, len(updates))
	label := rc.text.Text(StatusSavingUserPhoto)
	for _, u := range updates {
		step.Step(ctx, label+": "+u.user.DisplayName())
		if err := rc.mut.syncPhoto(ctx, u.user.ID, u.data); err != nil {
			rc.logger.Warn("Failed to save user photo", zap.String("user_id", u.user.ID), zap.Error(err))
			delete(current.Photos, u.user.ID)
			continue
		}
		current.Photos[u.user.ID] = u.hash
	}

	return rc.mut.saveSettings(ctx, CurrentPhotosKey, current)
}

// removeImportedPhotos undoes earlier imports once avatar sync is turned off
func (e *Engine) removeImportedPhotos(ctx context.Context, rc *runContext, current CurrentPhotos) error {
	if len(current.Photos) == 0 {
		return nil
	}

	ids := make([]string, 0, len(current.Photos))
	for id := range current.Photos {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if err := rc.mut.removePhoto(ctx, id); err != nil {
			return err
		}
	}
	rc.logger.Info("Removed imported photos", zap.Int("count", len(ids)))
	return rc.mut.saveSettings(ctx, CurrentPhotosKey, CurrentPhotos{})
}

func photoHash(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec
	return base64.StdEncoding.EncodeToString(sum[:])
}
