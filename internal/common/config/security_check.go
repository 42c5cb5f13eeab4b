package config

import (
	"strings"

	"go.uber.org/zap"
)

// ProductionWarnings lists insecure settings that should not reach production
func (c *Config) ProductionWarnings() []string {
	var warnings []string
	if strings.Contains(c.DatabaseURL, "sslmode=disable") {
		warnings = append(warnings, "database_url disables TLS (sslmode=disable)")
	}
	if strings.HasPrefix(c.RedisURL, "redis://") {
		warnings = append(warnings, "redis_url is not using TLS (rediss://)")
	}
	if c.SettingsSecret == defaultSettingsSecret {
		warnings = append(warnings, "settings_secret uses the built-in default")
	}
	if !c.TLS.Enabled {
		warnings = append(warnings, "control API is served without TLS")
	}
	if c.LogLevel == "debug" {
		warnings = append(warnings, "log_level is debug")
	}
	return warnings
}

// LogSecurityWarnings logs actionable security warnings when running in
// production with insecure defaults. Call this at service startup after
// configuration is loaded.
func (c *Config) LogSecurityWarnings(log *zap.Logger) {
	if !c.IsProduction() {
		return
	}

	warnings := c.ProductionWarnings()

	for _, w := range warnings {
		log.Warn("SECURITY", zap.String("warning", w))
	}

	if len(warnings) > 0 {
		log.Warn("SECURITY: production deployment has insecure configuration",
			zap.Int("warning_count", len(warnings)))
	}
}
