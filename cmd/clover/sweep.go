package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/clover/pkg/models"
)

var scheduleRetention bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Release stuck queue jobs once",
	Long: `Returns jobs whose worker stopped heartbeating to the pending state. With
--retention a retention_cleanup job is enqueued as well, for use from cron.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		reset, err := a.newPool().Sweep(ctx)
		if err != nil {
			return err
		}
		a.logger.WithContext(ctx).Infof("Released %d stuck jobs", reset)

		if !scheduleRetention {
			return nil
		}
		job, err := a.queue.Enqueue(ctx, models.RetentionCleanupPayload{OlderThanDays: a.cfg.RejectedRetentionDays}, models.EnqueueOptions{Priority: models.JobPriorityLow})
		if err != nil {
			return err
		}
		a.logger.WithContext(ctx).Infof("Enqueued retention cleanup job %s", job.ID)
		return nil
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&scheduleRetention, "retention", false, "also enqueue a retention_cleanup job")
}
