package store

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/common/errors"
)

// SyncPhoto stores data as the avatar of userID and drops stale thumbnails
func (s *Store) SyncPhoto(ctx context.Context, userID string, data []byte) error {
	tenantID, err := tenant(ctx)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return apperrors.ValidationError("photo is empty")
	}
	contentType := http.DetectContentType(data)

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return dbError("begin photo update", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO user_photos (user_id, content, content_type)
		 SELECT id, $3, $4 FROM users WHERE tenant_id = $1 AND id::text = $2
		 ON CONFLICT (user_id) DO UPDATE SET content = EXCLUDED.content,
		     content_type = EXCLUDED.content_type, updated_at = NOW()`,
		tenantID, userID, data, contentType)
	if err != nil {
		return dbError("save photo", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.UserNotFound(userID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM user_photo_thumbnails WHERE user_id::text = $1`, userID); err != nil {
		return dbError("drop thumbnails", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return dbError("commit photo update", err)
	}

	s.logger.Debug("Photo saved",
		zap.Int("tenant_id", tenantID),
		zap.String("user_id", userID),
		zap.String("content_type", contentType))
	return nil
}

// RemovePhoto deletes the avatar of userID
func (s *Store) RemovePhoto(ctx context.Context, userID string) error {
	tenantID, err := tenant(ctx)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx,
		`DELETE FROM user_photos p USING users u
		 WHERE u.id = p.user_id AND u.tenant_id = $1 AND p.user_id::text = $2`, tenantID, userID)
	return dbError("remove photo", err)
}

// ResetThumbnails deletes generated thumbnails of userID
func (s *Store) ResetThumbnails(ctx context.Context, userID string) error {
	tenantID, err := tenant(ctx)
	if err != nil {
		return err
	}
	_, err = s.db.Pool.Exec(ctx,
		`DELETE FROM user_photo_thumbnails t USING users u
		 WHERE u.id = t.user_id AND u.tenant_id = $1 AND t.user_id::text = $2`, tenantID, userID)
	return dbError("reset thumbnails", err)
}

// Photo returns the stored avatar of userID, or nil
func (s *Store) Photo(ctx context.Context, userID string) ([]byte, error) {
	tenantID, err := tenant(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Pool.Query(ctx,
		`SELECT p.content FROM user_photos p JOIN users u ON u.id = p.user_id
		 WHERE u.tenant_id = $1 AND p.user_id::text = $2`, tenantID, userID)
	if err != nil {
		return nil, dbError("load photo", err)
	}
	defer rows.Close()

	var data []byte
	if rows.Next() {
		if err := rows.Scan(&data); err != nil {
			return nil, dbError("load photo", err)
		}
	}
	return data, dbError("load photo", rows.Err())
}
