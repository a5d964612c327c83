/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/usermgmt/apiserver/internal/events"
	"github.com/usermgmt/apiserver/internal/mq"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect account events",
}

var eventsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Log account events from the configured message queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		queue, err := mq.Open(ctx, cfg.MQ)
		if err != nil {
			return err
		}
		if queue == nil {
			return errors.New("events watch requires MQ_BACKEND to be set")
		}
		defer queue.Close()

		logger.Info("watching account events", "backend", queue.Name(), "channel", cfg.MQ.Channel)
		err = events.Watch(ctx, queue, cfg.MQ.Channel, func(ctx context.Context, event events.AccountEvent) error {
			logger.InfoContext(ctx, "account event", event.LogAttrs()...)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(eventsWatchCmd)
}
