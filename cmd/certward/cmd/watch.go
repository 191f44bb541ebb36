package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var watchSchedule string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reconcile on a schedule until interrupted",
	Long: `Runs reconciliation immediately, then again on a cron schedule until
SIGINT or SIGTERM. Runs are serialized; a failing run does not stop the
schedule.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchSchedule, "schedule", "@daily", "Cron schedule for reconciliation runs")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	driver, cleanup, err := newDriver(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var mu sync.Mutex
	reconcileOnce := func() {
		mu.Lock()
		defer mu.Unlock()
		report, err := driver.Run(context.Background(), cfg)
		if err != nil {
			logger.Error().Err(err).Msg("reconciliation run failed")
			return
		}
		if report.Failed() {
			logger.Warn().Str("run_id", report.RunID).Msg("reconciliation run finished with rejections")
		}
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(watchSchedule, reconcileOnce); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", watchSchedule, err)
	}

	printBanner()
	fmt.Printf("Watching %s (schedule: %s)...\n", cfgFile, watchSchedule)

	reconcileOnce()
	scheduler.Start()

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	fmt.Printf("\nReceived %s, shutting down...\n", sig)

	// Stop returns a context that is done once running jobs finish.
	<-scheduler.Stop().Done()
	return nil
}
