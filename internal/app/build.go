// Package app wires the configured components into a runnable service.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ent0n29/taleweaver/internal/campaign"
	"github.com/ent0n29/taleweaver/internal/completion"
	"github.com/ent0n29/taleweaver/internal/config"
	"github.com/ent0n29/taleweaver/internal/entity"
	"github.com/ent0n29/taleweaver/internal/httpapi"
	"github.com/ent0n29/taleweaver/internal/logging"
	"github.com/ent0n29/taleweaver/internal/memory"
	"github.com/ent0n29/taleweaver/internal/observability"
	"github.com/ent0n29/taleweaver/internal/recall"
	"github.com/ent0n29/taleweaver/internal/roleplay"
	"github.com/ent0n29/taleweaver/internal/session"
	"github.com/ent0n29/taleweaver/internal/turn"
)

type BuildResult struct {
	Config    config.Config
	Logger    *slog.Logger
	API       *httpapi.Server
	Sessions  *session.Manager
	Store     memory.Store
	Directory entity.Directory
	Retriever *recall.Retriever
	Roleplay  *roleplay.Service
	Turns     *turn.Runner
	Metrics   *observability.Metrics
	Backends  []string

	// Cleanup should be called on shutdown to release the memory store and cache.
	Cleanup func() error
}

// NewLogger maps LOG_LEVEL and LOG_FORMAT onto a logger.
func NewLogger(cfg config.Config) *slog.Logger {
	return logging.New(
		logging.WithLevel(cfg.LogLevel),
		logging.WithJSON(cfg.LogFormat == "json"),
		logging.WithPretty(cfg.LogFormat == "pretty"),
	)
}

// OpenDirectory loads the entity seed (empty when unset) behind a read-through cache.
func OpenDirectory(cfg config.Config) (*entity.CachedDirectory, error) {
	base := entity.NewStaticDirectory(entity.Seed{})
	if cfg.EntitySeedPath != "" {
		var err error
		base, err = entity.LoadSeedFile(cfg.EntitySeedPath)
		if err != nil {
			return nil, fmt.Errorf("entity seed load failed: %w", err)
		}
	}
	return entity.NewCachedDirectory(base, cfg.EntityCacheTTL)
}

// OpenStore opens the memory store selected by MEMORY_STORE_DRIVER.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (memory.Store, error) {
	store, err := memory.NewStore(ctx, memory.Options{
		Driver:      cfg.MemoryStoreDriver,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.MemorySQLitePath,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("memory store init failed: %w", err)
	}
	return store, nil
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	logger = logging.OrDiscard(logger)
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	memoryStore, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	directory, err := OpenDirectory(cfg)
	if err != nil {
		_ = memoryStore.Close()
		return nil, err
	}

	backends, err := completion.NewBackends(completion.Config{
		Order:           cfg.CompletionBackends,
		LocalURL:        cfg.CompletionLocalURL,
		LocalModel:      cfg.CompletionLocalModel,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		AnthropicModel:  cfg.AnthropicModel,
		AnthropicURL:    cfg.AnthropicBaseURL,
		Timeout:         cfg.CompletionTimeout,
		MaxRetries:      cfg.CompletionMaxRetries,
	})
	if err != nil {
		directory.Close()
		_ = memoryStore.Close()
		return nil, fmt.Errorf("completion backends init failed: %w", err)
	}
	dispatcher := completion.NewDispatcher(backends, logger.With("component", "completion"), metrics)

	retriever := campaign.NewRetriever(memoryStore,
		recall.WithLogger(logger.With("component", "recall")),
		recall.WithObserver(metrics),
	)
	rp, err := roleplay.New(roleplay.Deps{
		Directory:        directory,
		Store:            memoryStore,
		Retriever:        retriever,
		Completer:        dispatcher,
		Logger:           logger.With("component", "roleplay"),
		Observer:         metrics,
		DefaultMaxTokens: cfg.CompletionDefaultMaxTokens,
	})
	if err != nil {
		directory.Close()
		_ = memoryStore.Close()
		return nil, err
	}
	runner := turn.NewRunner(directory, rp, nil, logger.With("component", "turn"), metrics)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.SessionClosed("expired")
		logger.Info("session expired", "session_id", s.ID, "mode", s.Mode)
	})

	api := httpapi.New(httpapi.Deps{
		Config:    cfg,
		Sessions:  sessions,
		Directory: directory,
		Store:     memoryStore,
		Retriever: retriever,
		Roleplay:  rp,
		Turns:     runner,
		Metrics:   metrics,
		Logger:    logger.With("component", "httpapi"),
		Backends:  dispatcher.Backends(),
	})

	cleanup := func() error {
		directory.Close()
		return memoryStore.Close()
	}

	return &BuildResult{
		Config:    cfg,
		Logger:    logger,
		API:       api,
		Sessions:  sessions,
		Store:     memoryStore,
		Directory: directory,
		Retriever: retriever,
		Roleplay:  rp,
		Turns:     runner,
		Metrics:   metrics,
		Backends:  dispatcher.Backends(),
		Cleanup:   cleanup,
	}, nil
}
