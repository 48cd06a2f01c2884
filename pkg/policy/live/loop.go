package live

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"mercator-hq/covenant/pkg/policy"
	"mercator-hq/covenant/pkg/telemetry/logging"
)

// AddSource registers a change source drained by SyncOnce.
func (e *Engine) AddSource(src policy.ChangeSource) {
	if src == nil {
		return
	}
	e.sourcesMu.Lock()
	e.sources = append(e.sources, src)
	e.sourcesMu.Unlock()
}

// SyncOnce drains every source in registration order and applies each
// change. A failing source or change is logged and skipped; changes a
// failing source still returned are applied. The returned
// error joins every failure. Cancellation is checked before each source is
// drained, never between the changes of one batch: a drained change is
// always applied.
func (e *Engine) SyncOnce(ctx context.Context) ([]*policy.UpdateResult, error) {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "live.sync_once")
	defer span.End()

	e.sourcesMu.Lock()
	sources := make([]policy.ChangeSource, len(e.sources))
	copy(sources, e.sources)
	e.sourcesMu.Unlock()

	var results []*policy.UpdateResult
	var errs []error
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		name := sourceName(src)
		// Changes returned alongside an error were already drained from
		// the source and are applied like any other batch.
		changes, err := src.FetchChanges(ctx)
		if err != nil {
			e.logger.Error("change source failed", "source", name, "error", err, "changes", len(changes))
			errs = append(errs, &policy.SourceError{Source: name, Cause: err})
		}

		for _, change := range changes {
			result, err := e.ApplyChange(ctx, change)
			if err != nil {
				e.logger.ErrorContext(logging.WithPolicyID(ctx, change.PolicyID), "policy change rejected",
					"source", name,
					"error", err,
				)
				errs = append(errs, err)
				continue
			}
			results = append(results, result)
		}
	}

	span.SetAttributes(
		attribute.Int("sources", len(sources)),
		attribute.Int("changes.applied", len(results)),
	)
	if e.recorder != nil {
		e.recorder.RecordSync(e.now().Sub(start))
	}
	return results, errors.Join(errs...)
}

func sourceName(src policy.ChangeSource) string {
	if s, ok := src.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", src)
}

// Start runs SyncOnce immediately and then every poll interval until Stop
// is called or ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.running {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running = true

	e.logger.Info("sync loop started", "poll_interval", e.pollInterval)
	go e.pollLoop(loopCtx, e.done)
	return nil
}

// Stop signals the sync loop and waits up to the stop timeout for the
// current iteration to finish.
func (e *Engine) Stop() error {
	e.runMu.Lock()
	if !e.running {
		e.runMu.Unlock()
		return ErrNotRunning
	}
	cancel, done := e.cancel, e.done
	e.running = false
	e.cancel = nil
	e.runMu.Unlock()

	cancel()

	select {
	case <-done:
		e.logger.Info("sync loop stopped")
		return nil
	case <-time.After(e.stopTimeout):
		e.logger.Warn("sync loop did not stop in time", "timeout", e.stopTimeout)
		return ErrStopTimeout
	}
}

// IsRunning returns true if the sync loop is running.
func (e *Engine) IsRunning() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.running
}

// pollLoop runs SyncOnce on a ticker. The first iteration runs immediately.
// Iterations run detached from ctx so Stop lets the current one finish;
// ctx is only consulted between iterations.
func (e *Engine) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		e.runIteration(context.WithoutCancel(ctx))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runIteration never lets a failure or panic escape into the loop.
func (e *Engine) runIteration(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("sync iteration panicked", "panic", r)
		}
	}()

	results, err := e.SyncOnce(ctx)
	if err != nil {
		e.logger.Error("sync iteration finished with errors", "error", err)
	}

	changed := 0
	for _, r := range results {
		if r.Changed {
			changed++
		}
	}
	if changed > 0 {
		e.logger.Info("sync iteration applied changes", "changed", changed, "total", len(results))
	}
}
