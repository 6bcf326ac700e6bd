package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	core "github.com/tanjeetsarkar/workflowengine/engine/core"
	"github.com/tanjeetsarkar/workflowengine/engine"
	"github.com/tanjeetsarkar/workflowengine/engine/metrics"
	"github.com/tanjeetsarkar/workflowengine/internal/config"
	"github.com/tanjeetsarkar/workflowengine/internal/version"
	"github.com/tanjeetsarkar/workflowengine/server"
	"github.com/tanjeetsarkar/workflowengine/store"
	"github.com/tanjeetsarkar/workflowengine/store/db/postgres"
	"github.com/tanjeetsarkar/workflowengine/store/db/sqlite"
)

var rootCmd = &cobra.Command{
	Use:   "workflowengine",
	Short: "A DAG workflow execution engine: static analysis, level-barrier scheduling, durable execution state.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg := &config.Config{}
		// FromEnv seeds engine-tuning knobs (not exposed as flags) and
		// the defaults for everything else; cobra/viper-bound flags take
		// precedence for the fields the CLI exposes.
		cfg.FromEnv()
		cfg.Mode = viper.GetString("mode")
		cfg.Addr = viper.GetString("addr")
		cfg.Port = viper.GetInt("port")
		cfg.UNIXSock = viper.GetString("unix-sock")
		cfg.Data = viper.GetString("data")
		cfg.Driver = viper.GetString("driver")
		if v := viper.GetString("dsn"); v != "" {
			cfg.DSN = v
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		driver, err := openDriver(ctx, cfg)
		if err != nil {
			printDatabaseError(err, cfg)
			return err
		}

		repo := store.New(driver)
		exporter := metrics.New(metrics.DefaultConfig())
		eng := engine.New(repo, passthroughRunner{}, cfg.EngineConfig(), exporter)

		observer := server.New(cfg, eng, exporter)

		c := make(chan os.Signal, 1)
		signal.Notify(c, terminationSignals...)

		go func() {
			<-c
			observer.Shutdown(ctx)
			cancel()
		}()

		printGreetings(cfg)
		if err := observer.Start(ctx); err != nil && !isServerClosed(err) {
			slog.Error("observer stopped", "error", err)
			return err
		}
		return nil
	},
}

// passthroughRunner is the demo/local NodeRunner wired by this binary:
// it echoes the aggregated input bundle back as the node's output and
// never fails. Real deployments supply their own core.NodeRunner (spec:
// "any real sandbox is out of scope") — this binary has no plugin
// loader, so it ships the simplest runner that lets a graph actually
// execute end to end for local trials.
type passthroughRunner struct{}

func (passthroughRunner) Run(_ context.Context, _, _, inputs, _ core.Value, _ time.Time) (bool, core.Value, string) {
	return true, inputs, ""
}

func openDriver(ctx context.Context, cfg *config.Config) (store.Driver, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.NewDB(ctx, cfg.DSN)
	default:
		return sqlite.NewDB(ctx, cfg.DSN)
	}
}

func isServerClosed(err error) bool {
	return strings.Contains(err.Error(), "Server closed")
}

func init() {
	viper.SetDefault("mode", "demo")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8090)

	rootCmd.PersistentFlags().String("mode", "demo", `mode of server, can be "prod", "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8090, "port of server")
	rootCmd.PersistentFlags().String("unix-sock", "", "path to the unix socket, overrides --addr and --port")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (postgres, sqlite)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka DSN)")

	for _, name := range []string{"mode", "addr", "port", "unix-sock", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("workflowengine")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(cfg *config.Config) {
	fmt.Printf("workflowengine %s started successfully!\n", version.GetCurrentVersion(cfg.Mode))
	fmt.Printf("Data directory: %s\n", cfg.Data)
	fmt.Printf("Database driver: %s\n", cfg.Driver)
	fmt.Printf("Mode: %s\n", cfg.Mode)

	if cfg.UNIXSock != "" {
		fmt.Printf("Observer listening on unix socket: %s\n", cfg.UNIXSock)
		return
	}
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost"
	}
	fmt.Printf("Observer listening on http://%s:%d (/healthz, /metrics)\n", addr, cfg.Port)
}

func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func printDatabaseError(err error, cfg *config.Config) {
	fmt.Fprintln(os.Stderr, "\nDatabase connection failed:", err)
	if cfg.Driver == "postgres" {
		fmt.Fprintln(os.Stderr, "Check WORKFLOWENGINE_DSN, or switch to --driver=sqlite for local trials.")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
