package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/elagerway/magpipe/internal/api"
	"github.com/elagerway/magpipe/internal/realtime"
	"github.com/elagerway/magpipe/internal/record"
	"github.com/elagerway/magpipe/internal/syncer"
)

// reconnectDelay is the fixed pause between reconnect attempts. The bus
// tolerates tight reconnect loops badly, so there is no backoff ramp.
const reconnectDelay = 5 * time.Second

func newFollowCmd() *cobra.Command {
	var (
		unreadOnly bool
		typ        string
	)

	cmd := &cobra.Command{
		Use:     "follow",
		Aliases: []string{"fw"},
		Short:   "Stream inbox changes in real time",
		Long: `Connect to the event bus and print each conversation as it changes.
Call records that still need recording artifacts are handed to the
background sync loop while the stream stays live.`,
		Example: `  magpipe follow
  magpipe follow --type sms
  magpipe follow --unread-only --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, err := parseSource(typ)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()
			if sess.account.CableURL == "" {
				return fmt.Errorf("no event bus configured; set --cable-url during 'magpipe auth login'")
			}
			if err := sess.load(ctx); err != nil {
				return err
			}

			var sched *syncer.Scheduler
			if sess.account.SyncURL != "" {
				client := api.New(sess.account.SyncURL, sess.account.SyncToken)
				sched = syncer.New(client, sess.store, sess.engine.ApplyCallRecord, sess.logger)
				defer sched.Close()
				for _, id := range sess.pendingCalls {
					sched.Enqueue(id)
				}
			}

			rec := &realtime.Reconciler{
				Engine: sess.engine,
				Norm:   sess.norm,
				Logger: sess.logger,
			}
			if sched != nil {
				rec.OnCallNeedsSync = sched.Enqueue
			}

			if !isJSON(cmd) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Following inbox (press Ctrl+C to stop)...")
			}

			channel := realtime.InboxChannel(sess.account.AccountID, sess.account.SyncToken)
			for {
				err := followOnce(cmd, sess, rec, channel, source, unreadOnly)
				if ctx.Err() != nil {
					return nil
				}
				if !isJSON(cmd) {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "disconnected: %v, reconnecting in %s...\n", err, reconnectDelay)
				}
				select {
				case <-time.After(reconnectDelay):
				case <-ctx.Done():
					return nil
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&unreadOnly, "unread-only", "u", false, "Only print conversations that became unread")
	cmd.Flags().StringVarP(&typ, "type", "t", "", "Only print one channel: sms|call|chat|email")
	return cmd
}

// followOnce holds one bus connection until it drops. Returns the reason for
// the drop; a nil error means the event channel closed cleanly.
func followOnce(cmd *cobra.Command, sess *session, rec *realtime.Reconciler, channel realtime.ChannelID, source record.Source, unreadOnly bool) error {
	ctx := cmd.Context()
	client, err := realtime.Connect(ctx, sess.account.CableURL)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if err := client.Subscribe(ctx, channel); err != nil {
		return err
	}

	for ev := range client.Listen(ctx) {
		if ev.Err != nil {
			return ev.Err
		}
		key, err := rec.Apply(ev.Data)
		if err != nil {
			sess.logger.Warn("dropping bad event", "error", err)
			continue
		}
		if key == "" {
			continue
		}
		if err := printFollowChange(cmd, sess, key, source, unreadOnly); err != nil {
			return err
		}
	}
	return fmt.Errorf("event channel closed")
}

func printFollowChange(cmd *cobra.Command, sess *session, key string, source record.Source, unreadOnly bool) error {
	conv := sess.engine.Get(key)
	if conv == nil {
		return nil
	}
	if source != "" && conv.Source != source {
		return nil
	}
	if unreadOnly && conv.Unread == 0 {
		return nil
	}
	item := toListItem(conv, time.Now())
	if isJSON(cmd) {
		return printJSON(cmd, item)
	}
	printListRow(cmd.OutOrStdout(), item)
	return nil
}
