package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReadCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "read [conversation-key]",
		Short: "Mark conversations read",
		Long: `Clear the unread state of one conversation, or of every visible unread
conversation with --all. Read state is written back to the store so other
machines agree.`,
		Example: `  magpipe read sms_+15550001111_+15559990000
  magpipe read --all`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("pass exactly one conversation key, or --all")
			}

			ctx := cmd.Context()
			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()
			if err := sess.load(ctx); err != nil {
				return err
			}

			var keys []string
			if all {
				keys, err = sess.engine.MarkAllRead()
				if err != nil {
					return err
				}
			} else {
				key := args[0]
				if err := sess.engine.MarkRead(key); err != nil {
					return err
				}
				keys = []string{key}
			}

			// The local watermark already moved; a failed write-back is
			// reported but not rolled back.
			var writeErr error
			for _, key := range keys {
				conv := sess.engine.Get(key)
				if conv == nil || conv.LastActivity.IsZero() {
					continue
				}
				if err := sess.store.UpdateReadState(ctx, key, conv.LastActivity); err != nil {
					sess.logger.Warn("writing read state failed", "key", key, "error", err)
					writeErr = err
				}
			}
			if writeErr != nil {
				return fmt.Errorf("read state not fully saved: %w", writeErr)
			}

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"read": keys, "count": len(keys)})
			}
			if len(keys) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Nothing unread.")
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Marked %d conversation(s) read.\n", len(keys))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "A", false, "Mark every visible unread conversation read")
	return cmd
}
