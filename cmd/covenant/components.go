package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"mercator-hq/covenant/pkg/cli"
	"mercator-hq/covenant/pkg/config"
	"mercator-hq/covenant/pkg/conflict"
	"mercator-hq/covenant/pkg/conflict/audit"
	"mercator-hq/covenant/pkg/guardrail"
	"mercator-hq/covenant/pkg/policy"
	"mercator-hq/covenant/pkg/policy/source"
	"mercator-hq/covenant/pkg/repository"
)

// policyStore is a repository the health check can ping.
type policyStore interface {
	policy.Repository
	Ping(ctx context.Context) error
}

// openRepository opens the configured policy repository backend.
func openRepository(cfg config.RepositoryConfig) (policyStore, error) {
	switch cfg.Backend {
	case "memory":
		return repository.NewMemory(), nil
	case "sqlite", "":
		repo, err := repository.NewSQLite(repository.SQLiteConfig{
			Path:        cfg.SQLite.Path,
			BusyTimeout: cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open policy repository: %w", err)
		}
		return repo, nil
	}
	return nil, cli.NewConfigError("repository.backend", fmt.Sprintf("unsupported backend %q", cfg.Backend))
}

// closers releases resources in reverse order of acquisition.
type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildSources creates the enabled change sources. The file source starts
// watching immediately; everything returned in the closers must be closed
// after the live engine stops.
func buildSources(ctx context.Context, cfg config.SourcesConfig, logger *slog.Logger) ([]policy.ChangeSource, closers, error) {
	var (
		sources []policy.ChangeSource
		cleanup closers
	)
	fail := func(err error) ([]policy.ChangeSource, closers, error) {
		_ = cleanup.Close()
		return nil, nil, err
	}

	if cfg.File.Enabled {
		fs, err := source.NewFileSource(source.FileConfig{
			Dir:        cfg.File.Dir,
			Extensions: cfg.File.Extensions,
			Debounce:   cfg.File.Debounce,
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("failed to create file source: %w", err))
		}
		if err := fs.Start(ctx); err != nil {
			return fail(fmt.Errorf("failed to watch %s: %w", cfg.File.Dir, err))
		}
		cleanup = append(cleanup, fs)
		sources = append(sources, fs)
	}

	if cfg.Git.Enabled {
		gs, err := source.NewGitSource(source.GitConfig{
			URL:       cfg.Git.URL,
			Branch:    cfg.Git.Branch,
			Path:      cfg.Git.Path,
			LocalPath: cfg.Git.LocalPath,
			Depth:     cfg.Git.Depth,
			Timeout:   cfg.Git.Timeout,
			Auth: source.GitAuth{
				Type:             cfg.Git.Auth.Type,
				Token:            cfg.Git.Auth.Token,
				SSHKeyPath:       cfg.Git.Auth.SSHKeyPath,
				SSHKeyPassphrase: cfg.Git.Auth.SSHKeyPassphrase,
			},
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("failed to create git source: %w", err))
		}
		sources = append(sources, gs)
	}

	if cfg.Redis.Enabled {
		client := newRedisClient(cfg.Redis)
		cleanup = append(cleanup, client)
		rs, err := source.NewRedisSource(client, cfg.Redis.Key, cfg.Redis.BatchSize, logger)
		if err != nil {
			return fail(fmt.Errorf("failed to create redis source: %w", err))
		}
		sources = append(sources, rs)
	}

	return sources, cleanup, nil
}

func newRedisClient(cfg config.RedisSourceConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// openAuditSinks opens the enabled conflict audit sinks.
func openAuditSinks(cfg config.AuditConfig) ([]conflict.Sink, closers, error) {
	var (
		sinks   []conflict.Sink
		cleanup closers
	)

	if cfg.File.IsEnabled() {
		fs, err := audit.NewFileSink(cfg.File.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		cleanup = append(cleanup, fs)
		sinks = append(sinks, fs)
	}

	if cfg.SQLite.Enabled {
		ss, err := openAuditDB(cfg.SQLite)
		if err != nil {
			_ = cleanup.Close()
			return nil, nil, err
		}
		cleanup = append(cleanup, ss)
		sinks = append(sinks, ss)
	}

	return sinks, cleanup, nil
}

func openAuditDB(cfg config.AuditSQLiteConfig) (*audit.SQLiteSink, error) {
	wal := cfg.WALMode == nil || *cfg.WALMode
	sink, err := audit.NewSQLiteSink(&audit.SQLiteConfig{
		Path:         cfg.Path,
		MaxOpenConns: cfg.MaxOpenConns,
		WALMode:      wal,
		BusyTimeout:  cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	return sink, nil
}

// workflowSet owns one guardrail engine per configured workflow.
type workflowSet struct {
	guardrails map[string]*guardrail.Engine
	recorder   guardrail.DecisionRecorder
	logger     *slog.Logger
}

func newWorkflowSet(recorder guardrail.DecisionRecorder, logger *slog.Logger) *workflowSet {
	return &workflowSet{
		guardrails: make(map[string]*guardrail.Engine),
		recorder:   recorder,
		logger:     logger,
	}
}

// registrar is the part of the live engine workflow wiring needs.
type registrar interface {
	RegisterWorkflow(workflowID string, consumer policy.Consumer, policyIDs ...string) error
	UnregisterWorkflow(workflowID string) bool
}

// apply registers a guardrail for every configured workflow, retunes the
// ones that already exist and unregisters workflows no longer configured.
func (w *workflowSet) apply(reg registrar, workflows []config.WorkflowConfig, gcfg config.GuardrailConfig) error {
	wanted := make(map[string]bool, len(workflows))
	for _, wf := range workflows {
		wanted[wf.ID] = true
		if g, ok := w.guardrails[wf.ID]; ok {
			g.SetTuningContext(gcfg.TuningContext)
			// Re-registering updates the subscription and pushes anything newly subscribed.
			if err := reg.RegisterWorkflow(wf.ID, g, wf.Policies...); err != nil {
				return err
			}
			continue
		}

		g, err := guardrail.New(&guardrail.Config{
			NearMissThreshold: gcfg.NearMissThreshold,
			TuningContext:     gcfg.TuningContext,
		}, w.logger.With("workflow_id", wf.ID))
		if err != nil {
			return err
		}
		if w.recorder != nil {
			g.SetRecorder(w.recorder)
		}
		if err := reg.RegisterWorkflow(wf.ID, g, wf.Policies...); err != nil {
			return err
		}
		w.guardrails[wf.ID] = g
	}

	for id := range w.guardrails {
		if !wanted[id] {
			reg.UnregisterWorkflow(id)
			delete(w.guardrails, id)
		}
	}
	return nil
}
