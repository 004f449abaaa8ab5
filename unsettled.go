package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"boost-service/internal/config"
	"boost-service/internal/ledger"
	"boost-service/internal/logging"
	"github.com/spf13/cobra"
)

func unsettledCmd() *cobra.Command {
	var (
		olderThan time.Duration
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "unsettled",
		Short: "Print transactions the payment webhook has not settled",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.MustLoadConfig(configPath)
			logger := logging.GetLogger(cfg.Logs)

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			s, _, err := openStores(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			txns, err := ledger.New(s.transactions, logger).Unsettled(ctx, olderThan, limit)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(txns)
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 6*time.Hour, "only transactions created at least this long ago")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of transactions, 0 for all")
	return cmd
}
