package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/leadscout/internal/model"
	"github.com/amishk599/leadscout/internal/queue"
	"github.com/amishk599/leadscout/internal/worker"
)

var analyzeFileCmd = &cobra.Command{
	Use:   "analyze-file <path>",
	Short: "Analyze one raw lead message from a JSON file",
	Long: "Runs the analyzer for a RawLeadMessage JSON file. A dead-letter envelope\n" +
		"is accepted too, so a failed message can be replayed after fixing its cause.",
	Args: cobra.ExactArgs(1),
	RunE: runAnalyzeFile,
}

func init() {
	rootCmd.AddCommand(analyzeFileCmd)
}

func workerAnalyze(a *app) queue.Handler[model.RawLeadMessage] {
	return worker.AnalyzeHandler(a.analyzer, a.logger)
}

// decodeRawLead accepts a bare RawLeadMessage or a dead-letter envelope around one.
func decodeRawLead(data []byte) (model.RawLeadMessage, error) {
	var dl queue.DeadLetter
	if err := json.Unmarshal(data, &dl); err == nil && dl.Queue != "" && len(dl.Body) > 0 {
		data = dl.Body
	}
	var msg model.RawLeadMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("decoding raw lead message: %w", err)
	}
	if msg.UserEmail == "" || msg.JobURL == "" {
		return msg, fmt.Errorf("message needs userEmail and jobUrl: %w", model.ErrValidation)
	}
	return msg, nil
}

func runAnalyzeFile(cmd *cobra.Command, args []string) error {
	logger := setupLogger(debug)

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	msg, err := decodeRawLead(data)
	if err != nil {
		return err
	}

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

	res, err := a.analyzer.Analyze(ctx, msg)
	if err != nil {
		logger.Error("analyze failed", "user_email", msg.UserEmail, "job_url", msg.JobURL, "error", err)
		return err
	}
	if res.Written {
		fmt.Printf("stored enriched lead %s (score %d)\n", msg.JobURL, res.RelevanceScore)
	} else {
		fmt.Printf("lead %s was already enriched, nothing written\n", msg.JobURL)
	}
	return nil
}
