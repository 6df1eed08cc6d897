package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/elagerway/magpipe/internal/inbox"
	"github.com/elagerway/magpipe/internal/record"
	"github.com/elagerway/magpipe/internal/store"
)

// showInteraction is the JSON shape of one entry in a conversation detail.
type showInteraction struct {
	ID        string    `json:"id"`
	Direction string    `json:"direction"`
	Timestamp time.Time `json:"timestamp"`
	Preview   string    `json:"preview"`
	Body      string    `json:"body,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Sentiment string    `json:"sentiment,omitempty"`
}

func newShowCmd() *cobra.Command {
	var keepUnread bool

	cmd := &cobra.Command{
		Use:     "show <conversation-key>",
		Aliases: []string{"view"},
		Short:   "Show one conversation's full history",
		Long: strings.TrimSpace(`
Print every interaction in a conversation, oldest first. Opening a
conversation marks it read unless --keep-unread is set. For calls the
recording transcript is included when one exists.
`),
		Example: strings.TrimSpace(`
  magpipe show sms_+15550001111_+15559990000
  magpipe show call_c1 --json
`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			ctx := cmd.Context()
			sess, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer sess.Close()
			if err := sess.load(ctx); err != nil {
				return err
			}

			conv := sess.engine.Get(key)
			if conv == nil {
				return fmt.Errorf("%w: conversation %q", store.ErrNotFound, key)
			}

			if !keepUnread {
				if err := sess.engine.MarkRead(key); err != nil {
					return err
				}
				if !conv.LastActivity.IsZero() {
					if err := sess.store.UpdateReadState(ctx, key, conv.LastActivity); err != nil {
						sess.logger.Warn("writing read state failed", "key", key, "error", err)
					}
				}
			}

			if isJSON(cmd) {
				items := make([]showInteraction, 0, len(conv.Interactions))
				for _, in := range conv.Interactions {
					items = append(items, showInteraction{
						ID:        in.ID,
						Direction: string(in.Direction),
						Timestamp: in.Timestamp,
						Preview:   in.Preview,
						Body:      in.Body,
						Subject:   in.Subject,
						Sentiment: string(in.Sentiment),
					})
				}
				resp := map[string]any{
					"key":           conv.Key,
					"source":        string(conv.Source),
					"counterpart":   conv.CounterpartID,
					"last_activity": conv.LastActivity,
					"interactions":  items,
				}
				if conv.DisplayName != "" {
					resp["display_name"] = conv.DisplayName
				}
				if conv.Call != nil {
					resp["call"] = conv.Call
				}
				return printJSON(cmd, resp)
			}

			printConversation(cmd, conv)
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepUnread, "keep-unread", false, "Do not mark the conversation read")
	return cmd
}

func printConversation(cmd *cobra.Command, conv *inbox.Conversation) {
	out := cmd.OutOrStdout()

	name := conv.CounterpartID
	if conv.DisplayName != "" {
		name = fmt.Sprintf("%s (%s)", conv.DisplayName, conv.CounterpartID)
	}
	_, _ = fmt.Fprintf(out, "%s  [%s]\n", name, conv.Source)
	if conv.Subject != "" {
		_, _ = fmt.Fprintf(out, "Subject: %s\n", conv.Subject)
	}
	_, _ = fmt.Fprintln(out)

	for _, in := range conv.Interactions {
		marker := "<-"
		if in.Direction == record.DirectionOutbound {
			marker = "->"
		}
		text := in.Body
		if text == "" {
			text = in.Preview
		}
		_, _ = fmt.Fprintf(out, "%s %s  %s\n", in.Timestamp.Local().Format("Jan 02 15:04"), marker, text)
	}

	if conv.Call != nil {
		for _, seg := range conv.Call.Recordings {
			if seg.Transcript == nil || *seg.Transcript == "" {
				continue
			}
			_, _ = fmt.Fprintf(out, "\nTranscript (%s):\n%s\n", record.FormatDuration(int64(seg.DurationSeconds)), *seg.Transcript)
		}
	}
}
