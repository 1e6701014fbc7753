package main

import (
	"fmt"
	"time"

	"CurieLedger/internal/ledger"
	"CurieLedger/internal/oracle"
	"CurieLedger/internal/persistence"
	"CurieLedger/internal/projection"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(rebuildCmd, publishPriceCmd)
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild-projections",
	Short: "Truncate the read projections and rebuild them from the event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := openDB(cmd.Context(), cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer db.Close()

		start := time.Now()
		if err := projection.RebuildProjections(cmd.Context(), db, persistence.NewSnapshotManager(db), logger); err != nil {
			return err
		}
		logger.Info().Dur("took", time.Since(start)).Msg("projections rebuilt")
		return nil
	},
}

var publishPriceCmd = &cobra.Command{
	Use:   "publish-price <asset> <price>",
	Short: "Write an index price to the Redis price feed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.RedisURL == "" {
			return fmt.Errorf("redis_url is not configured")
		}
		asset, err := ledger.ParseAssetID(args[0])
		if err != nil {
			return err
		}
		price, err := oracle.ParsePrice(args[1])
		if err != nil {
			return err
		}

		rdb, err := openRedis(cmd.Context(), cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()

		feed := oracle.NewRedisFeed(rdb, cfg.OracleTimeout, cfg.OracleCacheTTL, cfg.OracleMaxAge)
		if err := feed.Publish(cmd.Context(), asset, price, time.Now().UTC()); err != nil {
			return err
		}
		logger.Info().Str("asset", asset.String()).Str("price", oracle.FormatPrice(price)).Msg("index price published")
		return nil
	},
}
