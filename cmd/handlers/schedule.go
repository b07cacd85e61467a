package handlers

import (
	"bulletin/internal/config"
	"bulletin/internal/logger"
	"bulletin/internal/pipeline"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// NewScheduleCmd creates the schedule command
func NewScheduleCmd() *cobra.Command {
	var every time.Duration

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run refreshes on a fixed interval",
		Long: `Run a refresh immediately and then once per interval until interrupted.

A tick that fires while the previous run is still active is skipped.

Examples:
  bulletin schedule
  bulletin schedule --every 30m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if every == 0 {
				every = config.Duration(config.Get().Schedule.Interval, time.Hour)
			}
			return runSchedule(cmd.Context(), every)
		},
	}

	cmd.Flags().DurationVar(&every, "every", 0, "Interval between runs (default from config: schedule.interval)")

	return cmd
}

func runSchedule(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		return fmt.Errorf("interval must be positive, got %s", every)
	}
	ctx = contextOrBackground(ctx)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Get()
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	p, err := newPipeline(ctx, cfg, db)
	if err != nil {
		return err
	}

	log := logger.Get()
	log.Info("Scheduler started", "every", every.String())

	var wg sync.WaitGroup
	runOnce := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := p.Run(ctx)
			if errors.Is(err, pipeline.ErrRunInProgress) {
				log.Warn("Previous run still active, skipping tick")
				return
			}
			if err != nil {
				log.Error("Scheduled run failed", "error", err)
				return
			}
			log.Info("Scheduled run finished", "run_id", m.RunID, "digest", m.Digest.Status, "failed", m.Failed())
		}()
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	runOnce()
	for {
		select {
		case <-ctx.Done():
			log.Info("Scheduler stopping, waiting for active run")
			wg.Wait()
			return nil
		case <-ticker.C:
			runOnce()
		}
	}
}
