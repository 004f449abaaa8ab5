package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"boost-service/internal/api"
	"boost-service/internal/boost"
	"boost-service/internal/config"
	"boost-service/internal/gateway"
	"boost-service/internal/kafka"
	"boost-service/internal/ledger"
	"boost-service/internal/logging"
	"boost-service/internal/metrics"
	"boost-service/internal/notification"
	"boost-service/internal/sweeper"
	"boost-service/internal/webhook"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the notification dispatcher and the sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(config.MustLoadConfig(configPath))
		},
	}
}

func runServe(cfg *config.Config) error {
	logger := logging.GetLogger(cfg.Logs)
	metrics.Setup(cfg.Metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, dir, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	notificationWriter := kafka.NewWriter(cfg.Kafka, cfg.Kafka.Topic.BoostNotifications)
	defer notificationWriter.Close()

	l := ledger.New(s.transactions, logger)
	coordinator := boost.NewCoordinator(s.boosts, l, dir, notification.NewPublisher(notificationWriter, logger), logger)

	storageTimeout := time.Duration(cfg.Storage.TimeoutMs) * time.Millisecond
	handoffTimeout := time.Duration(cfg.Boost.HandoffTimeoutMs) * time.Millisecond

	codes := gateway.NewCodes(cfg.Gateway)
	charger := gateway.NewCharger(gateway.NewClient(cfg.Gateway, logger), l, dir, coordinator, codes,
		gateway.Timeouts{Storage: storageTimeout, Handoff: handoffTimeout}, logger)

	webhookHandler := webhook.NewHandler(webhook.NewReconciler(l, coordinator, codes, handoffTimeout, logger),
		cfg.Webhook.AckCode, storageTimeout, logger)
	handler := api.NewHandler(charger, l, coordinator, storageTimeout, logger)

	notificationReader := kafka.NewReader(cfg.Kafka, cfg.Kafka.Topic.BoostNotifications)
	defer notificationReader.Close()

	dispatcher := notification.NewDispatcher(notification.NewSMSSender(cfg.SMS, logger), logger)
	go dispatcher.Run(ctx, notificationReader)

	sweeper.New(l, coordinator, cfg.Sweeper, logger).Start(ctx)

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: api.NewMux(handler, webhookHandler),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down HTTP server", "error", err)
	}
	charger.Wait()

	return nil
}
