package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/esusu/internal/bootstrap"
	"github.com/cassiomorais/esusu/internal/domain/group"
	"github.com/cassiomorais/esusu/internal/jobs"
	"github.com/cassiomorais/esusu/internal/locallock"
	"golang.org/x/sync/errgroup"
)

const jobLogRetention = 30 * 24 * time.Hour

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "esusu-worker", "esusu_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	svcs := bootstrap.BuildServices(app)
	cfg := app.Config

	if err := svcs.Queue.CreateGroup(ctx); err != nil {
		app.Logger.Error().Err(err).Msg("Failed to create consumer group")
	}

	// Repair schedules that went stale while no worker was running.
	if err := svcs.Scheduler.NormalizeAll(ctx); err != nil {
		app.Logger.Error().Err(err).Msg("Failed to normalize schedules at startup")
	}

	locks := locallock.NewManager(cfg.Savings.LocalLockTTL)

	worker := jobs.NewWorker(svcs.Queue, locks, svcs.JobLog, app.Logger, app.Metrics, cfg.Savings.CycleJobTimeout)
	worker.Register(jobs.KindCycleTick, func(ctx context.Context, j jobs.Job) error {
		return svcs.Processor.Run(ctx, j.GroupID)
	})
	worker.Register(jobs.KindRetryPayment, func(ctx context.Context, j jobs.Job) error {
		return svcs.Retrier.Run(ctx, j.PaymentID)
	})
	worker.Register(jobs.KindGroupPause, func(ctx context.Context, j jobs.Job) error {
		return svcs.Pauser.Pause(ctx, j.GroupID, group.PauseReason(j.Reason))
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gctx := errgroup.WithContext(ctx)

	consumers := cfg.Queue.Workers
	if consumers <= 0 {
		consumers = 1
	}
	for i := 0; i < consumers; i++ {
		g.Go(func() error {
			return worker.Run(gctx)
		})
	}

	g.Go(func() error {
		return worker.RunMover(gctx, cfg.Queue.MoverInterval)
	})

	g.Go(func() error {
		return worker.RunReclaimer(gctx, cfg.Queue.StallTimeout)
	})

	g.Go(func() error {
		locks.Run(gctx)
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
			n, err := svcs.JobLog.Prune(gctx, time.Now().UTC().Add(-jobLogRetention))
			if err != nil {
				if gctx.Err() == nil {
					app.Logger.Error().Err(err).Msg("Failed to prune job log")
				}
				continue
			}
			if n > 0 {
				app.Logger.Info().Int64("pruned", n).Msg("Pruned resolved job log entries")
			}
		}
	})

	g.Go(func() error {
		select {
		case <-quit:
			app.Logger.Info().Msg("Shutdown signal received")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	app.Logger.Info().Int("consumers", consumers).Msg("Worker started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker exited with error")
		os.Exit(1)
	}
	app.Logger.Info().Msg("Worker exited")
}
