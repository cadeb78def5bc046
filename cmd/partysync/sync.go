package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/coderaid/partysync/internal/notify"
	"github.com/coderaid/partysync/internal/session"
)

func syncCmd() *cobra.Command {
	var (
		workers int
		every   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sync PARTY_ID...",
		Short: "Sync parties into the local cache",
		Long: `Page every listed party to the head of its log and persist it in the
configured cache. With --every the sync repeats until interrupted.

Examples:
  partysync sync abc123 def456
  partysync sync --workers 8 abc123 def456 ghi789
  partysync sync --every 5m abc123`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if workers < 1 {
				workers = cfg.Prefetch.Workers
			}

			sess, closeFn, err := openSession(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			notifier := notify.New(cfg.Notify, logger.Named("notify"))

			if every <= 0 {
				return runSync(ctx, sess, args, workers, notifier)
			}

			logger.Info("sync loop started",
				zap.Strings("parties", args),
				zap.Duration("every", every),
			)
			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				if err := runSync(ctx, sess, args, workers, notifier); err != nil {
					logger.Error("sync failed", zap.Error(err))
				}
				select {
				case <-ctx.Done():
					logger.Info("context cancelled, shutting down")
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "concurrent parties (default prefetch.workers)")
	cmd.Flags().DurationVar(&every, "every", 0, "repeat the sync at this interval")

	return cmd
}

func runSync(ctx context.Context, sess *session.Session, partyIDs []string, workers int, notifier notify.Notifier) error {
	start := time.Now()
	result, err := syncParties(ctx, sess, partyIDs, workers, logger)
	duration := time.Since(start)
	if err != nil {
		if nerr := notifier.SendFailure(context.WithoutCancel(ctx), result, duration, err); nerr != nil {
			logger.Warn("failed to send notification", zap.Error(nerr))
		}
		return err
	}

	logger.Info("sync complete",
		zap.Int("total", result.Total),
		zap.Int("synced", result.Synced),
		zap.Int("empty", result.Empty),
		zap.Int("rate_limited", result.RateLimited),
		zap.Int("failed", result.Failed),
		zap.Int("events", result.Events),
		zap.Duration("duration", duration),
	)

	if result.Failed > 0 {
		for _, e := range result.Errors {
			logger.Error("sync error", zap.String("error", e))
		}
		err := fmt.Errorf("%d parties failed to sync", result.Failed)
		if nerr := notifier.SendFailure(ctx, result, duration, err); nerr != nil {
			logger.Warn("failed to send notification", zap.Error(nerr))
		}
		return err
	}

	if nerr := notifier.SendSuccess(ctx, result, duration); nerr != nil {
		logger.Warn("failed to send notification", zap.Error(nerr))
	}
	return nil
}
