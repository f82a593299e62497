package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/viper"

	"github.com/Veraticus/receipt-sentinel/internal/bank"
	"github.com/Veraticus/receipt-sentinel/internal/common"
	"github.com/Veraticus/receipt-sentinel/internal/config"
	"github.com/Veraticus/receipt-sentinel/internal/llm"
	"github.com/Veraticus/receipt-sentinel/internal/pipeline"
	"github.com/Veraticus/receipt-sentinel/internal/service"
	"github.com/Veraticus/receipt-sentinel/internal/storage"
	"github.com/Veraticus/receipt-sentinel/internal/storage/postgres"
)

// openStorage opens the configured backend and brings its schema up to date.
func openStorage(ctx context.Context) (service.Storage, error) {
	var store service.Storage
	switch backend := strings.ToLower(viper.GetString("database.backend")); backend {
	case "sqlite", "":
		dbPath := config.ExpandPath(viper.GetString("database.path"))
		s, err := storage.NewSQLiteStorage(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		store = s
	case "postgres":
		base := config.PostgresConfig{
			Host:     viper.GetString("database.postgres.host"),
			Port:     viper.GetInt("database.postgres.port"),
			Database: viper.GetString("database.postgres.database"),
			User:     viper.GetString("database.postgres.user"),
			Password: viper.GetString("database.postgres.password"),
			SSLMode:  viper.GetString("database.postgres.sslmode"),
			MaxConns: viper.GetInt("database.postgres.max_conns"),
		}
		pg, err := config.PostgresFromEnv(config.EnvPrefix, base)
		if err != nil {
			return nil, err
		}
		s, err := postgres.New(ctx, pg.DSN(), pg.MaxConns, slog.Default())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		store = s
	default:
		return nil, fmt.Errorf("%w: unknown database backend %q", common.ErrInvalidConfig, backend)
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// loadSettings reads verification and batch settings into a fresh holder.
func loadSettings() (*config.Holder, error) {
	s, err := config.FromViper(viper.GetViper())
	if err != nil {
		return nil, common.NewUserError("Configuration is invalid", err)
	}
	return config.NewHolder(s)
}

// verifier bundles the pipeline with the resources that must be released after use.
type verifier struct {
	*pipeline.Pipeline
	rotating *llm.RotatingExtractor
	queue    *llm.CallQueue
}

func (v *verifier) Close() {
	v.rotating.Close()
	v.queue.Close()
}

// credentialSet builds the rotation set, restoring the persisted active index.
func credentialSet(vc config.VisionConfig) (*llm.CredentialSet, error) {
	active := vc.ActiveIndex
	if vc.StatePath != "" {
		saved, err := llm.LoadActiveIndex(vc.StatePath)
		if err != nil {
			slog.Warn("Ignoring unreadable rotation state", "path", vc.StatePath, "error", err)
		} else if saved > 0 {
			active = saved
		}
	}

	creds, err := llm.NewCredentialSet(vc.Keys, active, func(i int) {
		if vc.StatePath == "" {
			return
		}
		if err := llm.SaveActiveIndex(vc.StatePath, i); err != nil {
			slog.Warn("Failed to persist rotation state", "error", err)
		}
	})
	if err != nil {
		return nil, common.NewUserError("No vision API keys configured (vision.keys or SENTINEL_VISION_KEY_1..N)", err)
	}
	return creds, nil
}

// newVerifier wires extraction, bank lookup and store into a pipeline.
func newVerifier(store service.TransactionStore) (*verifier, error) {
	vc, err := config.VisionFromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}
	creds, err := credentialSet(vc)
	if err != nil {
		return nil, err
	}

	client, err := llm.NewVisionClient(llm.Config{
		Provider: vc.Provider,
		Model:    vc.Model,
		BaseURL:  vc.BaseURL,
	})
	if err != nil {
		return nil, common.NewUserError("Unsupported vision provider", err)
	}

	bc := config.BankFromViper(viper.GetViper())
	fetcher, err := bank.NewClient(bank.ClientConfig{
		Timezone: bc.Timezone,
		Timeout:  bc.Timeout,
		Attempts: bc.Attempts,
	})
	if err != nil {
		return nil, err
	}

	clock := clockwork.NewRealClock()
	queue := llm.NewCallQueue(clock, vc.MinInterval, slog.Default())
	rotating := llm.NewRotatingExtractor(llm.NewExtractor(client), creds, queue, llm.RotatingConfig{
		Clock:    clock,
		CacheTTL: vc.CacheTTL,
	})

	p, err := pipeline.New(pipeline.Config{
		Extractor: rotating,
		Fetcher:   fetcher,
		Store:     store,
		Renderer:  pipeline.GrayscaleRenderer{},
		Clock:     clock,
	})
	if err != nil {
		rotating.Close()
		queue.Close()
		return nil, err
	}

	slog.Debug("Vision extraction ready",
		"provider", vc.Provider,
		"keys", creds.Len(),
		"active_key", creds.Active(),
		"min_interval", vc.MinInterval)

	return &verifier{Pipeline: p, rotating: rotating, queue: queue}, nil
}

// watchSettings reloads verification settings into holder whenever the config
// file changes. An edit that fails validation keeps the previous snapshot.
func watchSettings(holder *config.Holder) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	holder.Subscribe(func(s config.Settings) {
		slog.Info("Settings reloaded", "version", s.Version, "banks", len(s.Banks))
	})
	viper.OnConfigChange(func(e fsnotify.Event) {
		next, err := config.FromViper(viper.GetViper())
		if err != nil {
			slog.Warn("Ignoring invalid config change", "path", e.Name, "error", err)
			return
		}
		if _, err := holder.Update(func(s *config.Settings) { *s = next }); err != nil {
			slog.Warn("Ignoring invalid config change", "path", e.Name, "error", err)
		}
	})
	viper.WatchConfig()
}
