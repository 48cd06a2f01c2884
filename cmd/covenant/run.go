package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mercator-hq/covenant/pkg/cli"
	"mercator-hq/covenant/pkg/config"
	"mercator-hq/covenant/pkg/conflict"
	"mercator-hq/covenant/pkg/policy"
	"mercator-hq/covenant/pkg/policy/live"
	"mercator-hq/covenant/pkg/policy/translate"
	"mercator-hq/covenant/pkg/telemetry/health"
	"mercator-hq/covenant/pkg/telemetry/metrics"
	"mercator-hq/covenant/pkg/telemetry/tracing"
)

// shutdownTimeout bounds the HTTP server and tracer shutdown.
const shutdownTimeout = 5 * time.Second

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the live update engine and conflict detector",
	Long: `Run Covenant as a long-lived process.

The live update engine drains the configured change sources (file, git,
redis), translates each changed policy, archives the new version in the
policy repository and pushes it to every subscribed workflow's guardrail.
The conflict detector scans the repository and the workflows on an interval
or cron schedule and appends what it finds to the audit sinks.

Metrics, liveness and readiness are served on the metrics listen address.
SIGHUP reloads the configuration and re-applies workflows and guardrail
tuning without dropping policies.

Examples:
  # Start with a config file
  covenant run --config /etc/covenant/config.yaml

  # Validate config without starting
  covenant run --config covenant.yaml --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override metrics and health listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runFlags.listenAddress != "" {
		cfg.Telemetry.Metrics.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}

	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if runFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "Configuration valid")
		return nil
	}

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()
	reload, stopReload := cli.ReloadSignals()
	defer stopReload()

	if err := runDaemon(ctx, cfg, logger, reload, cmd.OutOrStdout()); err != nil {
		return cli.NewCommandError("run", err)
	}
	return nil
}

// daemon holds the wired components of a running process.
type daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	live      *live.Engine
	detector  *conflict.Detector
	scheduler *conflict.Scheduler
	workflows *workflowSet
}

// runDaemon wires every component from cfg and blocks until ctx is done or
// a component fails. Each receive on reload re-reads the config file.
func runDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger, reload <-chan os.Signal, out io.Writer) error {
	collector := metrics.NewCollector(cfg.Telemetry.Metrics, nil)

	tp, err := tracing.New(ctx, cfg.Telemetry.Tracing, Version)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	repo, err := openRepository(cfg.Repository)
	if err != nil {
		return err
	}
	defer repo.Close()

	d := &daemon{cfg: cfg, logger: logger}

	d.live, err = live.New(&live.Config{
		PollInterval: cfg.Live.PollInterval,
		StopTimeout:  cfg.Live.StopTimeout,
	}, translate.New(), logger)
	if err != nil {
		return err
	}
	d.live.SetRecorder(collector)
	d.live.SetTracer(tp.Tracer())
	var lister policy.Lister = d.live.Current()
	if cfg.Live.ArchiveEnabled() {
		d.live.SetArchiver(repo)
		lister = repo
	}

	d.workflows = newWorkflowSet(collector, logger)
	if err := d.workflows.apply(d.live, cfg.Live.Workflows, cfg.Guardrail); err != nil {
		return fmt.Errorf("failed to register workflows: %w", err)
	}

	sources, sourceClosers, err := buildSources(ctx, cfg.Live.Sources, logger)
	if err != nil {
		return err
	}
	defer sourceClosers.Close()
	for _, src := range sources {
		d.live.AddSource(src)
	}
	if len(sources) == 0 {
		logger.Warn("no change sources enabled, policies will not update")
	}

	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
	checker.Register("live", health.RunningCheck("live update engine", d.live))
	checker.Register("repository", health.PingCheck(repo))
	for _, src := range sources {
		if p, ok := src.(health.Pinger); ok {
			checker.Register(fmt.Sprint(src), health.PingCheck(p))
		}
	}

	if cfg.Conflict.DetectorEnabled() {
		sinks, sinkClosers, err := openAuditSinks(cfg.Conflict.Audit)
		if err != nil {
			return err
		}
		defer sinkClosers.Close()

		d.detector, err = conflict.New(&conflict.Config{
			ScanInterval: cfg.Conflict.ScanInterval,
			StopTimeout:  cfg.Conflict.StopTimeout,
		}, lister, logger)
		if err != nil {
			return err
		}
		d.detector.SetWorkflowProvider(d.live)
		d.detector.SetRecorder(collector)
		d.detector.SetTracer(tp.Tracer())
		for _, s := range sinks {
			d.detector.AddSink(s)
		}
	}

	ln, err := net.Listen("tcp", cfg.Telemetry.Metrics.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Telemetry.Metrics.ListenAddress, err)
	}
	mux := http.NewServeMux()
	if collector.Enabled() {
		mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
	}
	health.Mount(mux, checker, cfg.Telemetry.Health, Version)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	if err := d.live.Start(ctx); err != nil {
		ln.Close()
		return err
	}
	defer func() {
		if err := d.live.Stop(); err != nil {
			logger.Warn("live update engine stop failed", "error", err)
		}
	}()

	if err := d.startDetector(ctx, checker); err != nil {
		ln.Close()
		return err
	}
	defer d.stopDetector()

	fmt.Fprintf(out, "Covenant %s listening on %s\n", Version, ln.Addr())
	logger.Info("covenant started",
		"address", ln.Addr().String(),
		"sources", len(sources),
		"workflows", len(cfg.Live.Workflows),
		"archive", cfg.Live.ArchiveEnabled(),
		"conflict_detector", cfg.Conflict.DetectorEnabled(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-reload:
				d.reload()
			}
		}
	})

	err = g.Wait()
	logger.Info("covenant stopping")
	return err
}

func (d *daemon) startDetector(ctx context.Context, checker *health.Checker) error {
	if d.detector == nil {
		return nil
	}
	if schedule := d.cfg.Conflict.Schedule; schedule != "" {
		sched, err := conflict.NewScheduler(d.detector, schedule)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		d.scheduler = sched
		checker.Register("conflict", health.RunningCheck("conflict scheduler", sched))
		return nil
	}
	if err := d.detector.Start(ctx); err != nil {
		return err
	}
	checker.Register("conflict", health.RunningCheck("conflict detector", d.detector))
	return nil
}

func (d *daemon) stopDetector() {
	if d.scheduler != nil {
		d.scheduler.Stop()
		return
	}
	if d.detector != nil {
		if err := d.detector.Stop(); err != nil {
			d.logger.Warn("conflict detector stop failed", "error", err)
		}
	}
}

// reload re-reads the configuration and re-applies workflows and guardrail
// tuning. Sources, storage and listeners keep their startup settings.
func (d *daemon) reload() {
	if err := config.ReloadConfig(cfgFile); err != nil {
		d.logger.Error("configuration reload failed", "error", err)
		return
	}
	next := config.GetConfig()
	if err := d.workflows.apply(d.live, next.Live.Workflows, next.Guardrail); err != nil {
		d.logger.Error("workflow reload failed", "error", err)
		return
	}
	d.logger.Info("configuration reloaded", "workflows", len(next.Live.Workflows))
}
