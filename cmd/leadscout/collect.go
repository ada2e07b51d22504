package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/leadscout/internal/collector"
	"github.com/amishk599/leadscout/internal/model"
	"github.com/amishk599/leadscout/internal/store"
)

var collectDryRun bool

var collectCmd = &cobra.Command{
	Use:   "collect <email>",
	Short: "Run the collector for one user",
	Long: "Search, probe and dedup postings for one user and emit raw leads.\n" +
		"--dry-run prints the raw lead messages instead of storing or publishing them.",
	Args: cobra.ExactArgs(1),
	RunE: runCollect,
}

func init() {
	collectCmd.Flags().BoolVar(&collectDryRun, "dry-run", false, "print raw leads, do not write the lead store or publish")
	rootCmd.AddCommand(collectCmd)
}

// printPublisher writes each message as one JSON line.
type printPublisher struct {
	enc *json.Encoder
}

func (p printPublisher) Publish(_ context.Context, msg model.RawLeadMessage) error {
	return p.enc.Encode(msg)
}

func runCollect(cmd *cobra.Command, args []string) error {
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

	c := a.collector
	if collectDryRun {
		logger.Info("dry run: leads will be printed, not stored")
		c = collector.New(a.store, store.NewNopLeadStore(), a.source, a.prober,
			printPublisher{enc: json.NewEncoder(os.Stdout)}, logger,
			collector.WithProbeConcurrency(cfg.Probe.Concurrency),
		)
	}

	res, err := c.Collect(ctx, args[0])
	if err != nil {
		logger.Error("collect failed", "user_email", args[0], "error", err)
		return err
	}
	if res.Skipped {
		fmt.Printf("%s: no active profile, nothing collected\n", args[0])
		return nil
	}
	fmt.Printf("%s: %d candidates, %d unreachable, %d already enriched, %d raw leads emitted\n",
		res.UserEmail, res.Candidates, res.Unreachable, res.AlreadyEnriched, res.RawLeadsEmitted)

	if collectDryRun {
		return nil
	}
	if rawQ, ok := a.rawQ.(drainer[model.RawLeadMessage]); ok {
		return rawQ.Drain(ctx, workerAnalyze(a))
	}
	return nil
}
