// Package config loads relay server settings.
//
// Settings are read from RELAYCHAT_* environment variables with
// caarlos0/env; the server command then overrides individual fields from its
// flags before calling Validate.
//
// Usage:
//
//	settings, err := config.Load()
//	if err != nil {
//		return err
//	}
//	settings.Port = 9090
//	if err := settings.Validate(); err != nil {
//		return err
//	}
package config
