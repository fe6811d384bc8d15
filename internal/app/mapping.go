package app

import (
	"strings"
	"time"

	"pepperbot/internal/broadcast"
	"pepperbot/internal/config"
	"pepperbot/internal/ops"
	"pepperbot/internal/storage"
	logx "pepperbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	level := cfg.Logging.Level
	if strings.TrimSpace(level) == "" {
		level = config.DefaultLogLevel
	}
	return logx.Config{
		Level:   level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	sc := storage.Config{Driver: cfg.Storage.Driver, Path: cfg.Storage.Path, BusyTimeout: busy}
	if strings.EqualFold(strings.TrimSpace(sc.Driver), "file") && strings.TrimSpace(sc.Path) == "" {
		sc.Path = config.DefaultAuditFilePath
	}
	return sc, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	rt, err := config.ParseDurationOrDefault("ops.read_timeout", cfg.Ops.ReadTimeout, 10*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	// pprof profiles take 30s by default; keep the write timeout above that
	wt, err := config.ParseDurationOrDefault("ops.write_timeout", cfg.Ops.WriteTimeout, 60*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	addr := strings.TrimSpace(cfg.Ops.Addr)
	if addr == "" {
		addr = config.DefaultOpsAddr
	}
	return ops.Config{
		Addr:         addr,
		Token:        cfg.Ops.Token,
		Pprof:        cfg.Ops.Pprof,
		ReadTimeout:  rt,
		WriteTimeout: wt,
	}, nil
}

func dispatchRate(cfg *config.Config) int {
	if cfg.Dispatcher.RatePerSec > 0 {
		return cfg.Dispatcher.RatePerSec
	}
	return config.DefaultDispatchRate
}

// Broadcasts share the Telegram budget with deal fanout, so they run on a
// single worker at the dispatcher rate.
func mapBroadcastConfig(cfg *config.Config) broadcast.Config {
	return broadcast.Config{Workers: 1, RatePerSec: dispatchRate(cfg), RetryMax: 2}
}
