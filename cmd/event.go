package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/frahmantamala/expense-approval/internal/workflow"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "events",
	Short: "Change feed commands",
	Long:  `Inspect the append-only change feed of expense requests`,
}

var (
	tailRequestID string
	tailAfterSeq  int64
	tailKinds     []string
)

var tailEventCmd = &cobra.Command{
	Use:   "tail",
	Short: "Stream change events as JSON lines",
	Long: `Replay the change feed from --after and keep following it until
interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, lg := mustBootstrap()
		store, closeStore, err := openStore(cfg, lg)
		if err != nil {
			return err
		}
		defer closeStore()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		filter := workflow.StreamFilter{RequestID: tailRequestID, AfterSeq: tailAfterSeq}
		for _, k := range tailKinds {
			filter.Kinds = append(filter.Kinds, workflow.ChangeKind(k))
		}

		lg.Info("tailing change feed", "request_id", tailRequestID, "after_seq", tailAfterSeq)
		enc := json.NewEncoder(os.Stdout)
		for ev := range store.StreamAll(ctx, filter) {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	tailEventCmd.Flags().StringVar(&tailRequestID, "request", "", "only events of this request")
	tailEventCmd.Flags().Int64Var(&tailAfterSeq, "after", 0, "resume after this sequence number")
	tailEventCmd.Flags().StringSliceVar(&tailKinds, "kind", nil, "only these kinds (created, transitioned, updated, withdrawn)")

	eventCmd.AddCommand(tailEventCmd)
}
