/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/storefront/apiserver/config"
	"github.com/storefront/apiserver/internal/db"
	"github.com/storefront/apiserver/internal/logging"
	"github.com/storefront/apiserver/internal/mq"
	"github.com/storefront/apiserver/internal/services"
	"github.com/storefront/apiserver/internal/store"
)

// workerCmd consumes order events and sends customer notifications.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume order events and send notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := logging.New(cfg.Log)
		ctx := cmd.Context()

		broker, err := mq.Connect(ctx, cfg.MQ)
		if err != nil {
			return fmt.Errorf("init mq: %w", err)
		}
		if broker == nil {
			return errors.New("MQ_BACKEND is required for the worker")
		}
		defer broker.Close()

		dbConn, err := db.Open(ctx, cfg)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer dbConn.Close()

		notifier := services.NewOrderNotifier(
			store.NewUserRepository(dbConn),
			services.LogMailer{Logger: logger},
			logger,
		)

		logger.Info("worker consuming", slog.String("channel", cfg.MQ.OrderEventsChannel))
		err = broker.Subscribe(ctx, cfg.MQ.OrderEventsChannel, notifier.Handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info("worker stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
