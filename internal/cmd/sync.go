package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elagerway/magpipe/internal/api"
)

// syncOutcome is the JSON shape of one sync pass result.
type syncOutcome struct {
	RecordID string `json:"record_id"`
	Synced   int    `json:"synced"`
	Pending  bool   `json:"pending"`
}

func newSyncCmd() *cobra.Command {
	var pending bool

	cmd := &cobra.Command{
		Use:   "sync [record-id]",
		Short: "Pull recording and transcript artifacts for calls",
		Long: `Ask the sync service to copy recording artifacts into durable storage and
refresh the call record. With --pending, runs one pass over every recent
call that still has artifacts outstanding.`,
		Example: `  magpipe sync call-8841
  magpipe sync --pending`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if pending == (len(args) == 1) {
				return fmt.Errorf("pass exactly one record id, or --pending")
			}

			ctx := cmd.Context()
			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()
			if sess.account.SyncURL == "" {
				return fmt.Errorf("no sync service configured; set --sync-url during 'magpipe auth login'")
			}
			if err := sess.load(ctx); err != nil {
				return err
			}

			client := api.New(sess.account.SyncURL, sess.account.SyncToken)

			var ids []string
			if pending {
				ids = sess.pendingCalls
			} else {
				ids = args
			}

			outcomes := make([]syncOutcome, 0, len(ids))
			for _, id := range ids {
				outcome, err := syncOnce(ctx, sess, client, id)
				if err != nil {
					return err
				}
				outcomes = append(outcomes, outcome)
			}

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"results": outcomes})
			}
			out := cmd.OutOrStdout()
			if len(outcomes) == 0 {
				_, _ = fmt.Fprintln(out, "Nothing to sync.")
				return nil
			}
			for _, o := range outcomes {
				status := "done"
				if o.Pending {
					status = "still pending"
				}
				_, _ = fmt.Fprintf(out, "%s: %d artifact(s) synced, %s\n", o.RecordID, o.Synced, status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&pending, "pending", false, "Sync every recent call with outstanding artifacts")
	return cmd
}

// syncOnce runs a single request-refresh-apply round for one record.
func syncOnce(ctx context.Context, sess *session, client *api.Client, recordID string) (syncOutcome, error) {
	result, err := client.RequestSync(ctx, recordID)
	if err != nil {
		return syncOutcome{}, err
	}
	rec, err := sess.store.CallRecord(ctx, recordID)
	if err != nil {
		return syncOutcome{}, err
	}
	stillPending, err := sess.engine.ApplyCallRecord(*rec)
	if err != nil {
		return syncOutcome{}, err
	}
	return syncOutcome{RecordID: recordID, Synced: result.Synced, Pending: stillPending}, nil
}
