// Command court-etl loads tennis court and court availability snapshots into the
// warehouse and runs retention. It is meant to be started by cron or a scheduler.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"court-availability-etl/etl"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type app struct {
	configPath string
	dbDriver   string
	dsn        string
	debug      bool
	timeout    time.Duration
	noLock     bool

	cfg    *etl.Config
	logger *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	root := newRootCmd(a)
	err := root.ExecuteContext(ctx)
	stop()
	if err != nil {
		logger := a.logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("court-etl failed", "error", err)
		if errors.Is(err, etl.ErrValidation) || errors.Is(err, etl.ErrInvalidSelector) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "court-etl",
		Short: "Load tennis court availability snapshots into the warehouse",
		Long: `court-etl validates court and availability CSV snapshots, replaces the
staging tables, and merges them into the warehouse. Every input file is recorded
in the file registry with its content hash and outcome.

Configuration is read from --config (YAML), then .env and COURT_ETL_* environment
variables, then flags.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML config file path")
	root.PersistentFlags().StringVar(&a.dbDriver, "db-driver", etl.DriverSQLite, "Database driver: sqlite, postgres (overrides database.driver)")
	root.PersistentFlags().StringVar(&a.dsn, "dsn", "", "Database DSN or SQLite path (overrides database.dsn)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logs and SQL logging")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 0, "Overall timeout for one invocation (e.g. 30s, 5m); 0 disables")
	root.PersistentFlags().BoolVar(&a.noLock, "no-lock", false, "Skip the run lock (only when nothing else can run concurrently)")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newCleanupCmd(a))
	return root
}

// loadConfig layers YAML, .env, environment, and explicitly set flags, in that order.
func (a *app) loadConfig(cmd *cobra.Command) error {
	_ = godotenv.Load()

	cfg, err := etl.LoadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return fmt.Errorf("load environment: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("db-driver") {
		cfg.Database.Driver = a.dbDriver
	}
	if flags.Changed("dsn") {
		cfg.Database.DSN = a.dsn
	}
	if flags.Changed("debug") {
		cfg.Debug = a.debug
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(a.logger)
	a.cfg = cfg
	return nil
}

// withPipeline opens the store, takes the run lock, and hands fn a pipeline bound to
// the invocation's context. The store is closed on every path.
func (a *app) withPipeline(ctx context.Context, fn func(ctx context.Context, p *etl.Pipeline) error) error {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	db, err := etl.OpenStore(a.cfg.Database, a.cfg.Debug)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := etl.CloseStore(db); err != nil {
			a.logger.Warn("close store", "error", err)
		}
	}()

	pcfg := a.cfg.PipelineConfig()
	pcfg.Logger = a.logger
	p, err := etl.NewPipeline(db, pcfg)
	if err != nil {
		return err
	}

	if a.noLock {
		return fn(ctx, p)
	}
	locker, err := etl.NewRunLocker(db, a.logger)
	if err != nil {
		return err
	}
	return locker.WithLock(ctx, func() error {
		return fn(ctx, p)
	})
}
