package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zjrosen/pvdd/internal/api"
	"github.com/zjrosen/pvdd/internal/config"
	"github.com/zjrosen/pvdd/internal/infrastructure/sqlite"
	"github.com/zjrosen/pvdd/internal/log"
	"github.com/zjrosen/pvdd/internal/metrics"
	"github.com/zjrosen/pvdd/internal/monitor"
	"github.com/zjrosen/pvdd/internal/provisioning"
	"github.com/zjrosen/pvdd/internal/pvd"
	"github.com/zjrosen/pvdd/internal/tracing"
	"github.com/zjrosen/pvdd/internal/watcher"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the PvD registry daemon",
	Long: `Run the PvD registry as a daemon.

The daemon restores the last persisted snapshot, applies the declarations in
the provisioning directory (and reloads them when they change), polls the
host's interface addresses, and serves the HTTP API.

Example:
  pvdd daemon                        # Use config defaults
  pvdd daemon --addr 0.0.0.0:8533    # Override the API listen address`,
	RunE: runDaemon,
}

var daemonAddr string

const defaultShutdownTimeout = 5 * time.Second

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().StringVar(&daemonAddr, "addr", "", "Address to listen on (overrides config)")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cleanup, err := initLogging("daemon")
	if err != nil {
		return err
	}
	defer cleanup()

	if daemonAddr != "" {
		cfg.API.Listen = daemonAddr
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	d, err := newDaemon(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if d.server != nil {
		fmt.Printf("pvdd daemon started on port %d\n", d.server.Port())
	} else {
		fmt.Println("pvdd daemon started (API disabled)")
	}
	fmt.Println("Press Ctrl+C to stop")

	if err := d.run(ctx); err != nil {
		return err
	}
	fmt.Println("Daemon stopped")
	return nil
}

// daemon owns every long-running component.
type daemon struct {
	cfg      config.Config
	tracing  *tracing.Provider
	db       *sqlite.DB
	registry *pvd.Registry
	svc      *provisioning.Service
	tracker  *monitor.LifetimeTracker
	poller   *monitor.Poller
	server   *api.Server
	gatherer prometheus.Gatherer
}

func newDaemon(cfg config.Config) (*daemon, error) {
	d := &daemon{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			d.close(context.Background())
		}
	}()

	var err error
	d.tracing, err = tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("creating tracing provider: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.gatherer = promReg

	m := metrics.New(promReg)
	opts := []provisioning.Option{
		provisioning.WithMetrics(m),
		provisioning.WithTracer(d.tracing.Tracer()),
	}
	if cfg.Storage.Enabled {
		d.db, err = sqlite.NewDB(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("opening snapshot database: %w", err)
		}
		opts = append(opts, provisioning.WithStore(d.db.PvDRepository()))
	}

	d.registry = pvd.NewRegistry(pvd.WithEvictOnAddressRemoval(cfg.Registry.EvictOnAddressRemoval))
	d.svc = provisioning.NewService(d.registry, opts...)
	m.WatchEventStream(d.svc.Subscribers, d.svc.Dropped)

	var addresses pvd.AddressChangeHandler
	if cfg.Monitor.Enabled {
		d.tracker = monitor.NewLifetimeTracker(d.svc)
		d.poller = monitor.NewPoller(monitor.Config{
			Interval:        cfg.Monitor.PollInterval,
			IncludeLoopback: cfg.Monitor.IncludeLoopback,
		}, d.tracker)
		addresses = d.tracker
		m.WatchLifetimes(d.tracker.Tracked, d.tracker.Expired)
	}

	if cfg.API.Enabled {
		d.server, err = api.NewServer(api.ServerConfig{
			Addr: cfg.API.Listen,
			Handler: api.HandlerConfig{
				Service:   d.svc,
				Addresses: addresses,
				Gatherer:  d.gatherer,
				Tracer:    d.tracing.Tracer(),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("creating API server: %w", err)
		}
	}
	ok = true
	return d, nil
}

// run restores state and serves until ctx is cancelled or a component fails.
func (d *daemon) run(ctx context.Context) error {
	defer d.close(context.Background())

	restored, err := d.svc.Restore(ctx)
	if err != nil {
		return err
	}
	log.Info(log.CatConfig, "Daemon initialised", "restored", restored)

	dir := d.cfg.Provisioning.Dir
	if dir != "" {
		d.reload(ctx)
	}

	var w *watcher.Watcher
	if dir != "" && d.cfg.Provisioning.Watch {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating provisioning directory: %w", err)
		}
		wcfg := watcher.DefaultConfig(dir)
		if d.cfg.Provisioning.Debounce > 0 {
			wcfg.DebounceDur = d.cfg.Provisioning.Debounce
		}
		wcfg.Match = provisioning.IsDeclarationFile
		w, err = watcher.New(wcfg)
		if err != nil {
			return fmt.Errorf("creating provisioning watcher: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if d.poller != nil {
		g.Go(func() error { return d.poller.Run(gctx) })
		g.Go(func() error { return d.tracker.Run(gctx, d.cfg.Monitor.SweepInterval) })
	}

	if w != nil {
		g.Go(func() error {
			return w.Run(gctx, func() { d.reload(gctx) })
		})
	}

	if d.server != nil {
		g.Go(d.server.Start)
		g.Go(func() error {
			<-gctx.Done()
			// Ends open event streams so Shutdown does not wait on them.
			d.svc.Close()
			timeout := d.cfg.API.ShutdownTimeout
			if timeout <= 0 {
				timeout = defaultShutdownTimeout
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			return d.server.Stop(shutdownCtx)
		})
	}

	return g.Wait()
}

// reload applies the provisioning directory. When some files fail to load,
// the valid ones are applied but nothing is removed, so a file being edited
// does not withdraw its PvD.
func (d *daemon) reload(ctx context.Context) {
	decls, err := provisioning.LoadDir(d.cfg.Provisioning.Dir)
	if err != nil {
		log.Warn(log.CatWatcher, "Some declarations failed to load", "error", err)
		for _, decl := range decls {
			if _, _, err := d.svc.Apply(ctx, decl); err != nil {
				log.ErrorErr(log.CatWatcher, "Applying declaration failed", err, "source", decl.Source)
			}
		}
		return
	}
	if err := d.svc.Reconcile(ctx, decls); err != nil {
		log.ErrorErr(log.CatWatcher, "Reconciling declarations failed", err)
		return
	}
	log.Debug(log.CatWatcher, "Declarations reconciled", "count", len(decls))
}

// close releases every component and tears down the registry.
func (d *daemon) close(ctx context.Context) {
	if d.svc != nil {
		d.svc.Close()
	}
	if d.registry != nil {
		d.registry.Reset()
	}
	if d.tracing != nil {
		if err := d.tracing.Shutdown(ctx); err != nil {
			log.ErrorErr(log.CatTrace, "Error shutting down tracing", err)
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			log.ErrorErr(log.CatDB, "Error closing database", err)
		}
		d.db = nil
	}
}
