package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/elagerway/magpipe/internal/inbox"
	"github.com/elagerway/magpipe/internal/record"
	"github.com/elagerway/magpipe/internal/resolve"
)

// listItem is the JSON shape of one conversation row.
type listItem struct {
	Key          string    `json:"key"`
	Source       string    `json:"source"`
	Counterpart  string    `json:"counterpart"`
	DisplayName  string    `json:"display_name,omitempty"`
	Subject      string    `json:"subject,omitempty"`
	Preview      string    `json:"preview"`
	LastActivity time.Time `json:"last_activity"`
	Unread       int       `json:"unread"`
	Missed       bool      `json:"missed,omitempty"`
	Sentiment    string    `json:"sentiment,omitempty"`
	Syncing      bool      `json:"syncing,omitempty"`
}

func newListCmd() *cobra.Command {
	var (
		typ       string
		direction string
		missed    bool
		unread    bool
		sentiment string
		search    string
		contact   string
		since     string
		pageSize  int
		pages     int
		counts    bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show the unified conversation list",
		Long: strings.TrimSpace(`
List all conversations across SMS, calls, web chat, and email, merged and
sorted newest first. Filters stack; every flag narrows the list further.
`),
		Example: strings.TrimSpace(`
  # Everything, first page
  magpipe list

  # Unread missed calls
  magpipe list --type call --missed --unread

  # Messages from a contact, matched by name
  magpipe list --contact "jane" --since week

  # Unread totals per channel
  magpipe list --counts --json
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filters, err := buildFilters(typ, direction, missed, unread, sentiment, search, since)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			var opts []inbox.Option
			if pageSize > 0 {
				opts = append(opts, inbox.WithPageSize(pageSize))
			}
			sess, err := openSession(ctx, opts...)
			if err != nil {
				return err
			}
			defer sess.Close()
			if err := sess.load(ctx); err != nil {
				return err
			}

			if counts {
				return printCounts(cmd, sess)
			}

			if contact != "" {
				resolved, err := resolveContact(contact, sess.contacts)
				if err != nil {
					return err
				}
				filters.Search = resolved
			}

			sess.engine.SetFilters(filters)
			for i := 1; i < pages; i++ {
				if !sess.engine.LoadMore() {
					break
				}
			}
			visible, total := sess.engine.Visible()

			items := make([]listItem, 0, len(visible))
			now := time.Now()
			for _, conv := range visible {
				items = append(items, toListItem(conv, now))
			}

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{
					"conversations": items,
					"total":         total,
				})
			}

			out := cmd.OutOrStdout()
			if len(items) == 0 {
				_, _ = fmt.Fprintln(out, "No conversations.")
				return nil
			}
			for _, item := range items {
				printListRow(out, item)
			}
			_, _ = fmt.Fprintf(out, "\nShowing %d of %d conversations\n", len(items), total)
			return nil
		},
	}

	cmd.Flags().StringVarP(&typ, "type", "t", "", "Only one channel: sms|call|chat|email")
	cmd.Flags().StringVarP(&direction, "direction", "d", "", "Who started the conversation: inbound|outbound")
	cmd.Flags().BoolVar(&missed, "missed", false, "Only missed calls")
	cmd.Flags().BoolVarP(&unread, "unread", "u", false, "Only conversations with unread activity")
	cmd.Flags().StringVar(&sentiment, "sentiment", "", "Only one sentiment: positive|neutral|negative")
	cmd.Flags().StringVarP(&search, "search", "s", "", "Free-text search over names, numbers, subjects, and bodies")
	cmd.Flags().StringVarP(&contact, "contact", "c", "", "Filter to a contact, matched by name")
	cmd.Flags().StringVar(&since, "since", "", "Only recent activity: today|yesterday|week|month")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Conversations per page (default 20)")
	cmd.Flags().IntVar(&pages, "pages", 1, "Number of pages to show")
	cmd.Flags().BoolVar(&counts, "counts", false, "Show unread counts per channel instead of the list")

	cmd.PreRunE = func(cmd *cobra.Command, _ []string) error {
		if pageSize < 0 {
			return fmt.Errorf("--page-size must be >= 0")
		}
		if pages < 1 {
			return fmt.Errorf("--pages must be >= 1")
		}
		return nil
	}
	return cmd
}

func parseSource(typ string) (record.Source, error) {
	switch typ {
	case "":
		return "", nil
	case "sms", "call", "chat", "email":
		return record.Source(typ), nil
	}
	return "", fmt.Errorf("invalid --type %q (want sms, call, chat, or email)", typ)
}

func buildFilters(typ, direction string, missed, unread bool, sentiment, search, since string) (inbox.Filters, error) {
	var f inbox.Filters
	source, err := parseSource(typ)
	if err != nil {
		return f, err
	}
	f.Type = source
	switch direction {
	case "":
	case "inbound", "outbound":
		f.Direction = record.Direction(direction)
	default:
		return f, fmt.Errorf("invalid --direction %q (want inbound or outbound)", direction)
	}
	switch sentiment {
	case "":
	case "positive", "neutral", "negative":
		f.Sentiment = record.Sentiment(sentiment)
	default:
		return f, fmt.Errorf("invalid --sentiment %q (want positive, neutral, or negative)", sentiment)
	}
	if since != "" {
		r, err := inbox.ParseDateRange(since)
		if err != nil {
			return f, err
		}
		f.Range = r
	}
	f.MissedOnly = missed
	f.UnreadOnly = unread
	f.Search = search
	return f, nil
}

// resolveContact maps a human name to the counterpart id (number or address)
// it belongs to. Both a contact's phone and email count as candidates.
func resolveContact(query string, contacts []record.Contact) (string, error) {
	var items []resolve.Named
	for _, c := range contacts {
		if c.Name == "" {
			continue
		}
		if c.Phone != "" {
			items = append(items, resolve.Named{Key: c.Phone, Name: c.Name})
		}
		if c.Email != "" {
			items = append(items, resolve.Named{Key: c.Email, Name: c.Name})
		}
	}
	key, err := resolve.FuzzyMatch(query, items)
	if err != nil {
		return "", fmt.Errorf("resolving --contact: %w", err)
	}
	return key, nil
}

func toListItem(conv *inbox.Conversation, now time.Time) listItem {
	return listItem{
		Key:          conv.Key,
		Source:       string(conv.Source),
		Counterpart:  conv.CounterpartID,
		DisplayName:  conv.DisplayName,
		Subject:      conv.Subject,
		Preview:      conv.Preview,
		LastActivity: conv.LastActivity,
		Unread:       conv.Unread,
		Missed:       conv.Missed(),
		Sentiment:    string(conv.Sentiment()),
		Syncing:      conv.Call != nil && record.CallNeedsSync(conv.Call, now),
	}
}

func printListRow(w io.Writer, item listItem) {
	name := item.DisplayName
	if name == "" {
		name = item.Counterpart
	}
	badge := ""
	if item.Unread > 0 {
		badge = fmt.Sprintf(" (%d unread)", item.Unread)
	}
	if item.Missed {
		badge += " [missed]"
	}
	if item.Syncing {
		badge += " [syncing]"
	}
	preview := item.Preview
	if item.Source == "email" && item.Subject != "" {
		preview = item.Subject
	}
	_, _ = fmt.Fprintf(w, "%s  %-5s  %s%s: %s\n",
		item.LastActivity.Local().Format("Jan 02 15:04"), item.Source, name, badge, preview)
}

func printCounts(cmd *cobra.Command, sess *session) error {
	by, total := sess.engine.UnreadBreakdown()
	if isJSON(cmd) {
		payload := map[string]any{"total": total}
		for source, n := range by {
			payload[string(source)] = n
		}
		return printJSON(cmd, payload)
	}
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Unread conversations: %d\n", total)
	for _, source := range []record.Source{record.SourceSms, record.SourceCall, record.SourceChat, record.SourceEmail} {
		if n := by[source]; n > 0 {
			_, _ = fmt.Fprintf(out, "  %-5s %d\n", source, n)
		}
	}
	return nil
}
