package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/zjrosen/textflow/internal/config"
	"github.com/zjrosen/textflow/internal/instances/domain"
	"github.com/zjrosen/textflow/internal/log"
	"github.com/zjrosen/textflow/internal/orchestration/controlplane"
	"github.com/zjrosen/textflow/internal/orchestration/controlplane/api"
	"github.com/zjrosen/textflow/internal/orchestration/tracing"
)

var (
	daemonAddr    string
	daemonStorage string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the textflow engine and HTTP API",
	Long: `Start a long-running daemon that executes text analysis instances.

The daemon resumes unfinished instances from storage, then serves the HTTP
API used by the analyze, start, status and cancel commands.`,
	PersistentPreRunE: requireConfig,
	RunE:              runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().StringVar(&daemonAddr, "addr", "", "Address to listen on (overrides config)")
	daemonCmd.Flags().StringVar(&daemonStorage, "storage", "", "Storage backend: sqlite, badger or memory (overrides config)")
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	c := cfg
	if daemonAddr != "" {
		c.Server.Addr = daemonAddr
	}
	if daemonStorage != "" {
		c.Storage.Backend = daemonStorage
		if err := config.ValidateStorage(c.Storage); err != nil {
			return err
		}
	}

	cleanup, err := initLogging(c.Log)
	if err != nil {
		return err
	}
	defer cleanup()
	config.Watch(v, config.ApplyLogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := startDaemon(ctx, c, clockwork.NewRealClock())
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.server.Start()
	}()

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "textflow daemon listening on %s\n", d.server.URL())
	_, _ = fmt.Fprintln(out, "Press Ctrl+C to stop")

	var serveErr error
	select {
	case <-ctx.Done():
		_, _ = fmt.Fprintln(out, "\nShutting down...")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.Server.ShutdownTimeout)
	defer cancel()
	d.stop(shutdownCtx)

	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	_, _ = fmt.Fprintln(out, "Daemon stopped")
	return nil
}

// daemon bundles the components runDaemon starts so they stop in reverse order.
type daemon struct {
	server   *api.Server
	engine   controlplane.Engine
	repo     domain.InstanceRepository
	provider *tracing.Provider
}

// startDaemon opens storage, builds the engine and binds the API server.
// Instances left unfinished by a previous run are resumed first.
func startDaemon(ctx context.Context, c config.Config, clock clockwork.Clock) (*daemon, error) {
	provider, err := tracing.NewProvider(c.Tracing)
	if err != nil {
		return nil, fmt.Errorf("creating tracing provider: %w", err)
	}

	repo, err := openRepository(c.Storage)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}

	engine, err := controlplane.New(engineConfig(c, repo, clock, provider.Tracer()))
	if err != nil {
		_ = repo.Close()
		_ = provider.Shutdown(ctx)
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	d := &daemon{engine: engine, repo: repo, provider: provider}

	if c.Engine.RecoverOnStart {
		n, err := engine.Recover(ctx)
		if err != nil {
			log.ErrorErr(log.CatEngine, "Recovery incomplete", err, "resumed", n)
		} else if n > 0 {
			log.Info(log.CatEngine, "Resumed unfinished instances", "count", n)
		}
	}

	d.server, err = api.NewServer(api.ServerConfig{
		Addr:         c.Server.Addr,
		Engine:       engine,
		AuthToken:    c.Server.AuthToken,
		Tracer:       provider.Tracer(),
		ReadTimeout:  c.Server.ReadTimeout,
		WriteTimeout: c.Server.WriteTimeout,
		Heartbeat:    c.Server.Heartbeat,
	})
	if err != nil {
		d.stop(ctx)
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	return d, nil
}

// stop shuts the server down, then the engine, storage and tracing.
func (d *daemon) stop(ctx context.Context) {
	if d.server != nil {
		if err := d.server.Stop(ctx); err != nil {
			log.ErrorErr(log.CatAPI, "Error stopping API server", err)
		}
	}
	if err := d.engine.Shutdown(ctx); err != nil {
		log.ErrorErr(log.CatEngine, "Error shutting down engine", err)
	}
	if err := d.repo.Close(); err != nil {
		log.ErrorErr(log.CatStore, "Error closing storage", err)
	}
	if err := d.provider.Shutdown(ctx); err != nil {
		log.ErrorErr(log.CatTrace, "Error flushing traces", err)
	}
}

// initLogging installs the configured log sink and level.
func initLogging(lc config.LogConfig) (func(), error) {
	level, err := log.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	if lc.File == "" {
		log.InitWriter(os.Stderr, level)
		return func() {}, nil
	}
	cleanup, err := log.Init(lc.File)
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}
	log.SetMinLevel(level)
	return cleanup, nil
}
