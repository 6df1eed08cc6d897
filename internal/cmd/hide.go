package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elagerway/magpipe/internal/record"
)

func newHideCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hide <conversation-key>",
		Short: "Hide a conversation from the list",
		Long: `Hide a conversation. Hidden conversations stay out of every listing until
unhidden, but fresh activity (any call, or a new inbound message) brings
them back automatically.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()
			if err := sess.load(ctx); err != nil {
				return err
			}
			if err := sess.engine.Hide(args[0]); err != nil {
				return err
			}
			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"hidden": args[0]})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Hidden %s\n", args[0])
			return nil
		},
	}
}

func newUnhideCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unhide <conversation-key>",
		Short: "Bring a hidden conversation back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()
			if err := sess.load(ctx); err != nil {
				return err
			}
			if err := sess.engine.Unhide(args[0]); err != nil {
				return err
			}
			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"unhidden": args[0]})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Unhidden %s\n", args[0])
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "delete <conversation-key>",
		Aliases: []string{"rm"},
		Short:   "Delete a conversation and its store rows",
		Long: `Delete a conversation permanently: the underlying rows are removed from
the record store and all local state for the key is dropped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("deletion is permanent; re-run with --yes to confirm")
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

			key := args[0]
			conv := sess.engine.Get(key)
			if conv == nil {
				return fmt.Errorf("no conversation %q", key)
			}

			// Chat sessions are stored as one row per session, not per message.
			var ids []string
			if conv.Source == record.SourceChat {
				ids = []string{conv.GroupID}
			} else {
				ids = make([]string, 0, len(conv.Interactions))
				for _, in := range conv.Interactions {
					ids = append(ids, in.ID)
				}
			}
			if err := sess.store.DeleteRows(ctx, conv.Source, ids); err != nil {
				return err
			}
			if err := sess.engine.Delete(key); err != nil {
				return err
			}

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"deleted": key, "rows": len(ids)})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (%d rows)\n", key, len(ids))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm permanent deletion")
	return cmd
}
