package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/expense-approval/internal/expense"
	"github.com/frahmantamala/expense-approval/internal/notification"
	"github.com/frahmantamala/expense-approval/internal/workflow"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Start workers that consume the change feed outside the HTTP process.`,
}

var notificationWorkerCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Deliver notifications from the change feed",
	Long: `Follow the change feed and deliver a notification for every submitted
or transitioned request. Use --after to resume from a known sequence number.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startNotificationWorker()
	},
}

var (
	maxWorkers   int
	jobQueueSize int
	resumeAfter  int64
)

func startNotificationWorker() error {
	cfg, lg := mustBootstrap()

	store, closeStore, err := openStore(cfg, lg)
	if err != nil {
		return err
	}
	defer closeStore()

	dispatcher := notification.NewDispatcher(notification.Config{
		Workers:        getIntFlag(maxWorkers, cfg.Notification.Workers),
		QueueSize:      getIntFlag(jobQueueSize, cfg.Notification.QueueSize),
		DeliverTimeout: cfg.Notification.DeliverTimeout,
	}, notification.LogNotifier{Logger: lg}, lg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lg.Info("notification worker started", "after_seq", resumeAfter)
	last := relayChanges(ctx, store, dispatcher, lg, resumeAfter)
	lg.Info("received signal, shutting down notification worker", "last_seq", last)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	dispatcher.Shutdown(shutdownCtx)
	lg.Info("notification worker shutdown complete")
	return nil
}

// relayChanges feeds created and transitioned changes to the dispatcher until
// ctx is done and returns the last sequence number it handled.
func relayChanges(ctx context.Context, store expense.Store, dispatcher *notification.Dispatcher, lg *slog.Logger, after int64) int64 {
	filter := workflow.StreamFilter{
		AfterSeq: after,
		Kinds:    []workflow.ChangeKind{workflow.ChangeCreated, workflow.ChangeTransitioned},
	}
	last := after
	for ev := range store.StreamAll(ctx, filter) {
		last = ev.Seq
		req, err := store.GetByID(ctx, ev.RequestID)
		if err != nil && !errors.Is(err, workflow.ErrRequestNotFound) {
			lg.Error("failed to load request for change", "seq", ev.Seq, "request_id", ev.RequestID, "error", err)
			continue
		}
		for _, n := range notification.FromChange(ev, req) {
			if err := enqueueWithBackoff(ctx, dispatcher, n); err != nil {
				lg.Warn("dropped notification", "seq", ev.Seq, "notification_id", n.ID, "error", err)
			}
		}
	}
	return last
}

// enqueueWithBackoff retries a full queue a few times before giving up.
func enqueueWithBackoff(ctx context.Context, dispatcher *notification.Dispatcher, n notification.Notification) error {
	const attempts = 4
	backoff := 50 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		if err = dispatcher.Enqueue(n); !errors.Is(err, notification.ErrQueueFull) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	notificationWorkerCmd.Flags().IntVar(&maxWorkers, "max-workers", 0, "Maximum number of workers (overrides config)")
	notificationWorkerCmd.Flags().IntVar(&jobQueueSize, "job-queue-size", 0, "Job queue buffer size (overrides config)")
	notificationWorkerCmd.Flags().Int64Var(&resumeAfter, "after", 0, "Resume after this change sequence number")

	workerCmd.AddCommand(notificationWorkerCmd)
}
