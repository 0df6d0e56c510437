// Command activityrelay runs the ActivityPub federation relay.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/activityrelay/activityrelay/internal/config"
	"github.com/activityrelay/activityrelay/internal/relayerr"
	"github.com/activityrelay/activityrelay/internal/store"
	"github.com/activityrelay/activityrelay/internal/supervisor"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string

	root := &cobra.Command{
		Use:   "activityrelay",
		Short: "ActivityPub federation relay",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "relay.yaml", "path to the relay's YAML config file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(configPath)
		},
	}

	root.AddCommand(runCmd, migrateCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCodeFor(err)
	}
	return 0
}

func runServer(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return relayerr.Wrap(relayerr.KindFatal, "load config", err)
	}

	sup, err := supervisor.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return sup.Run(ctx)
}

// runMigrate opens the store (which runs migrations as a side effect
// of NewSqlite/NewPostgres) and closes it immediately, for operators
// who want schema changes applied without starting the server.
func runMigrate(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return relayerr.Wrap(relayerr.KindFatal, "load config", err)
	}

	var st store.Store
	switch cfg.DatabaseType {
	case config.DatabasePostgres:
		st, err = store.NewPostgres(cfg.PostgresDSN(), cfg.WorkerCount(runtime.NumCPU()))
	default:
		st, err = store.NewSqlite(cfg.SqliteAbsPath())
	}
	if err != nil {
		return relayerr.Wrap(relayerr.KindTransient, "open store", err)
	}
	return st.Close()
}

// exitCodeFor maps a relayerr.Kind to the exit codes named in §6: 0
// normal, 1 config/setup error, 2 DB connection failure.
func exitCodeFor(err error) int {
	kind, ok := relayerr.As(err)
	if !ok {
		return 1
	}
	switch kind {
	case relayerr.KindFatal:
		return 1
	case relayerr.KindTransient:
		return 2
	default:
		return 1
	}
}
