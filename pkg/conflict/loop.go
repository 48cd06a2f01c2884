package conflict

import (
	"context"
	"time"
)

// Start runs ScanOnce immediately and then every scan interval until Stop
// is called or ctx is cancelled. The loop shares no locks with the live
// update engine.
func (d *Detector) Start(ctx context.Context) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if d.running {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.running = true

	d.logger.Info("scan loop started", "scan_interval", d.scanInterval)
	go d.scanLoop(loopCtx, d.done)
	return nil
}

// Stop signals the scan loop and waits up to the stop timeout for the
// current scan to finish. A running scan is never interrupted.
func (d *Detector) Stop() error {
	d.runMu.Lock()
	if !d.running {
		d.runMu.Unlock()
		return ErrNotRunning
	}
	cancel, done := d.cancel, d.done
	d.running = false
	d.cancel = nil
	d.runMu.Unlock()

	cancel()

	select {
	case <-done:
		d.logger.Info("scan loop stopped")
		return nil
	case <-time.After(d.stopTimeout):
		d.logger.Warn("scan loop did not stop in time", "timeout", d.stopTimeout)
		return ErrStopTimeout
	}
}

// IsRunning returns true if the scan loop is running.
func (d *Detector) IsRunning() bool {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	return d.running
}

func (d *Detector) scanLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.scanInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		d.RunScan(context.WithoutCancel(ctx))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunScan runs one scan and logs instead of returning failures. A panic in
// the scan is recovered. Both the loop and the Scheduler use it.
func (d *Detector) RunScan(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("conflict scan panicked", "panic", r)
		}
	}()

	found, err := d.ScanOnce(ctx)
	if err != nil && ctx.Err() == nil {
		d.logger.Error("conflict scan failed", "error", err)
	}
	if len(found) > 0 {
		d.logger.Info("conflict scan completed", "conflicts", len(found))
	} else {
		d.logger.Debug("conflict scan completed, no conflicts")
	}
}
