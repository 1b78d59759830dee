package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/feedmeta/harvester/internal/db"
	"github.com/feedmeta/harvester/internal/transfer"
	"github.com/feedmeta/harvester/pkg/config"
	"github.com/feedmeta/harvester/pkg/logging"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		source    string
		target    string
		tables    []string
		chunkSize int
		logLevel  string
	)

	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Copy a harvester sqlite database into postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransfer(source, target, tables, chunkSize, logLevel)
		},
	}

	cmd.Flags().StringVar(&source, "source", "harvester.sqlite3", "sqlite database to read")
	cmd.Flags().StringVar(&target, "target", os.Getenv("HARVEST_DATABASE_URL"), "postgres connection string")
	cmd.Flags().StringSliceVar(&tables, "table", nil, "tables to copy (default: all)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", transfer.DefaultChunkSize, "rows per COPY")
	cmd.Flags().StringVar(&logLevel, "log-level", "INFO", "log level")
	return cmd
}

func runTransfer(source, target string, names []string, chunkSize int, logLevel string) error {
	if err := logging.InitLogger(&config.LoggingConfig{Level: logLevel, Format: "text"}); err != nil {
		return err
	}
	defer logging.GetLogger().Sync()
	logger := logging.WithComponent("transfer")

	if !db.IsPostgres(target) {
		return fmt.Errorf("target %q is not a postgres connection string", target)
	}
	if db.IsPostgres(source) {
		return fmt.Errorf("source %q must be a sqlite file", source)
	}

	tables, err := selectTables(names)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sourceDB, err := db.New(&config.DatabaseConfig{URL: source}, logLevel)
	if err != nil {
		return err
	}
	defer sourceDB.Close()

	// create the schema through the same models the ingester uses
	targetDB, err := db.New(&config.DatabaseConfig{URL: target}, logLevel)
	if err != nil {
		return err
	}
	defer targetDB.Close()
	if err := targetDB.Migrate(ctx); err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, target)
	if err != nil {
		return fmt.Errorf("connect to target: %w", err)
	}
	defer pool.Close()

	logger.Info("Starting transfer",
		zap.String("source", source),
		zap.Int("tables", len(tables)),
		zap.Int("chunk_size", chunkSize))

	return transfer.NewCopier(sourceDB.DB, pool, chunkSize).CopyAll(ctx, tables)
}

func selectTables(names []string) ([]transfer.Table, error) {
	if len(names) == 0 {
		return transfer.Tables, nil
	}

	byName := make(map[string]transfer.Table, len(transfer.Tables))
	for _, t := range transfer.Tables {
		byName[t.Name] = t
	}

	out := make([]transfer.Table, 0, len(names))
	for _, name := range names {
		t, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown table %q", name)
		}
		out = append(out, t)
	}
	return out, nil
}
