package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/evgeniy-antonyuk/DocSpace-server-sub000/internal/ldapsync"
)

// LoadSettings decodes the JSON stored under key into v
func (s *Store) LoadSettings(ctx context.Context, key string, v interface{}) (bool, error) {
	tenantID, err := tenant(ctx)
	if err != nil {
		return false, err
	}
	var raw []byte
	err = s.db.Pool.QueryRow(ctx,
		`SELECT value FROM tenant_settings WHERE tenant_id = $1 AND key = $2`, tenantID, key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, dbError("load settings", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode settings %s: %w", key, err)
	}
	return true, nil
}

// SaveSettings stores v as JSON under key
func (s *Store) SaveSettings(ctx context.Context, key string, v interface{}) error {
	tenantID, err := tenant(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode settings %s: %w", key, err)
	}
	_, err = s.db.Pool.Exec(ctx,
		`INSERT INTO tenant_settings (tenant_id, key, value) VALUES ($1, $2, $3)
		 ON CONFLICT (tenant_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		tenantID, key, raw)
	return dbError("save settings", err)
}

// CronSchedules returns the auto-sync schedule of every tenant that has one
func (s *Store) CronSchedules(ctx context.Context) (map[int]ldapsync.CronSettings, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT tenant_id, value FROM tenant_settings WHERE key = $1`, ldapsync.CronSettingsKey)
	if err != nil {
		return nil, dbError("list cron schedules", err)
	}
	defer rows.Close()

	schedules := make(map[int]ldapsync.CronSettings)
	for rows.Next() {
		var (
			tenantID int
			raw      []byte
			cs       ldapsync.CronSettings
		)
		if err := rows.Scan(&tenantID, &raw); err != nil {
			return nil, dbError("list cron schedules", err)
		}
		if err := json.Unmarshal(raw, &cs); err != nil {
			s.logger.Warn("Skipping malformed cron settings", zap.Int("tenant_id", tenantID), zap.Error(err))
			continue
		}
		if cs.Cron != "" {
			schedules[tenantID] = cs
		}
	}
	return schedules, dbError("list cron schedules", rows.Err())
}
