package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/amishk599/leadscout/internal/alert"
)

var notifyCmd = &cobra.Command{
	Use:   "notify <email>",
	Short: "Send one user's report now",
	Long:  "Runs the notifier for one user. Nothing is sent when the user has no enriched leads.",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotify,
}

var notifyTestCmd = &cobra.Command{
	Use:   "test <email>",
	Short: "Send a sample report",
	Long:  "Renders a report from built-in sample leads and mails it to <email> through the configured transport.",
	Args:  cobra.ExactArgs(1),
	RunE:  runNotifyTest,
}

var notifyTestAlertCmd = &cobra.Command{
	Use:   "test-alert",
	Short: "Send a sample dead-letter alert",
	Long:  "Sends a test dead-letter alert using the configured alerter.",
	Args:  cobra.NoArgs,
	RunE:  runNotifyTestAlert,
}

func init() {
	rootCmd.AddCommand(notifyCmd)
	notifyCmd.AddCommand(notifyTestCmd)
	notifyCmd.AddCommand(notifyTestAlertCmd)
}

func runNotify(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(logger)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return err
	}
	defer a.Close()

	res, err := a.notifier.Notify(ctx, args[0])
	if err != nil {
		logger.Error("notify failed", "user_email", args[0], "error", err)
		return err
	}
	if !res.Sent {
		fmt.Printf("%s: no enriched leads, nothing sent\n", args[0])
		return nil
	}
	fmt.Printf("%s: report with %d leads sent\n", args[0], res.Leads)
	return nil
}

func runNotifyTest(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(logger)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return err
	}
	defer a.Close()

	if err := a.notifier.SendSample(ctx, args[0]); err != nil {
		logger.Error("test report failed", "error", err)
		return err
	}
	logger.Info("test report sent successfully", "to", args[0])
	return nil
}

func runNotifyTestAlert(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	cfg, err := loadConfig(logger)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return err
	}

	alerter := buildAlerter(cfg.Alerts, &http.Client{Timeout: 30 * time.Second}, nil, logger)
	if err := alert.SendTestAlert(cmd.Context(), alerter); err != nil {
		logger.Error("test alert failed", "error", err)
		return err
	}
	logger.Info("test alert sent successfully", "type", cfg.Alerts.Type)
	return nil
}
