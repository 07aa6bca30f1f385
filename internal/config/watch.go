package config

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// WatchPolicy loads the scheduling policy from path, hands it to onUpdate
// and then polls the file's mtime, calling onUpdate again whenever an edit
// changes the policy. An edit that fails to parse or validate is logged and
// the previous policy stays in force until the file is fixed.
func WatchPolicy(ctx context.Context, path string, interval time.Duration, logger *zerolog.Logger, onUpdate func(Policy)) error {
	if path == "" {
		path = DefaultPath
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	cfg, err := parse(path)
	if err != nil {
		return err
	}
	current := cfg.Policy()
	onUpdate(current)

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			info, err := os.Stat(path)
			if err != nil {
				logger.Warn().Err(err).Str("path", path).Msg("config stat failed")
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			// One log line per bad edit, not one per tick.
			lastMod = info.ModTime()

			cfg, err := parse(path)
			if err != nil {
				logger.Error().Err(err).Str("path", path).
					Int("tolerance_minutes", current.ToleranceMinutes).
					Msg("config reload rejected, keeping current scheduling policy")
				continue
			}
			next := cfg.Policy()
			if next == current {
				logger.Debug().Str("path", path).Msg("config reloaded, scheduling policy unchanged")
				continue
			}
			current = next
			onUpdate(current)
		}
	}()

	return nil
}
