package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CurieLedger/internal/config"
	"CurieLedger/internal/observability"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const configFlagName = "config"

var rootCmd = &cobra.Command{
	Use:           "curieledger",
	Short:         "Clearinghouse ledger and valuation core",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String(configFlagName, "", "path to a TOML config file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "curieledger: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the --config file and builds the root logger from it.
func loadConfig(cmd *cobra.Command) (config.Config, zerolog.Logger, error) {
	path, err := cmd.Flags().GetString(configFlagName)
	if err != nil {
		return config.Config{}, zerolog.Logger{}, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, zerolog.Logger{}, err
	}
	logger := observability.NewLoggerTo(os.Stdout, "curieledger", observability.ParseLogLevel(cfg.LogLevel))
	return cfg, logger, nil
}

func openDB(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}
