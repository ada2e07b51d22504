package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/leadscout/internal/model"
	"github.com/amishk599/leadscout/internal/orchestrator"
	"github.com/amishk599/leadscout/internal/worker"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Trigger one orchestrator cycle now",
}

var cycleCollectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Fan out collect tasks for every active user",
	Long: "Runs the daily collect cycle once. With the memory queue the collect and analyze\n" +
		"stages run in-process until both queues are empty; otherwise tasks are left for workers.",
	RunE: runCycleCollect,
}

var cycleNotifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Fan out notify tasks for every active user",
	RunE:  runCycleNotify,
}

func init() {
	rootCmd.AddCommand(cycleCmd)
	cycleCmd.AddCommand(cycleCollectCmd)
	cycleCmd.AddCommand(cycleNotifyCmd)
}

func runCycleCollect(cmd *cobra.Command, args []string) error {
	return runCycle(orchestrator.CycleCollect)
}

func runCycleNotify(cmd *cobra.Command, args []string) error {
	return runCycle(orchestrator.CycleNotify)
}

func runCycle(cycle string) error {
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

	var res orchestrator.Result
	if cycle == orchestrator.CycleCollect {
		res, err = a.orchestrator.RunDailyCycle(ctx)
	} else {
		res, err = a.orchestrator.RunNotifyCycle(ctx)
	}
	if err != nil {
		logger.Error("cycle failed", "cycle", cycle, "error", err)
		return err
	}
	fmt.Printf("%s cycle: %d users triggered, %d failed, %d leads purged\n",
		cycle, res.UsersTriggered, res.Failed, res.Purged)

	if cycle == orchestrator.CycleCollect {
		return a.drainCollect(ctx)
	}
	return a.drainNotify(ctx)
}

// drainCollect runs the collect then analyze stages in-process when the
// queues support it.
func (a *app) drainCollect(ctx context.Context) error {
	collectQ, ok1 := a.collectQ.(drainer[model.CollectTask])
	rawQ, ok2 := a.rawQ.(drainer[model.RawLeadMessage])
	if !ok1 || !ok2 {
		a.logger.Info("tasks published; run `leadscout worker` to process them")
		return nil
	}
	if err := collectQ.Drain(ctx, worker.CollectHandler(a.collector, a.logger)); err != nil {
		return fmt.Errorf("draining collect tasks: %w", err)
	}
	if err := rawQ.Drain(ctx, worker.AnalyzeHandler(a.analyzer, a.logger)); err != nil {
		return fmt.Errorf("draining raw leads: %w", err)
	}
	a.logger.Info("collect cycle drained")
	return nil
}

func (a *app) drainNotify(ctx context.Context) error {
	notifyQ, ok := a.notifyQ.(drainer[model.NotifyTask])
	if !ok {
		a.logger.Info("tasks published; run `leadscout worker` to process them")
		return nil
	}
	if err := notifyQ.Drain(ctx, worker.NotifyHandler(a.notifier, a.logger)); err != nil {
		return fmt.Errorf("draining notify tasks: %w", err)
	}
	a.logger.Info("notify cycle drained")
	return nil
}
