// Package inbox groups normalized interactions from every channel into one
// conversation list with unified unread, hide, filter, and paging behavior.
package inbox

import (
	"fmt"
	"time"

	"github.com/elagerway/magpipe/internal/record"
)

// Conversation is one entry in the unified list. SMS threads merge both
// directions of a number pair, calls are one conversation per record, chat
// follows the widget session, and email follows the thread.
type Conversation struct {
	Key           string
	Source        record.Source
	CounterpartID string
	OwnerLineID   string
	DisplayName   string
	GroupID       string
	Subject       string
	FromName      string

	// Interactions are kept oldest first.
	Interactions []record.Interaction
	LastActivity time.Time
	Preview      string
	Unread       int
	Hidden       bool

	// Call is set for call conversations so status, recordings, and the
	// scored sentiment stay reachable after grouping.
	Call *record.CallRecord
}

// clone returns a copy that stays valid after the engine lock is released.
// The interaction list and call recordings are copied; readers never observe
// later engine mutations through a clone.
func (c *Conversation) clone() *Conversation {
	out := *c
	out.Interactions = append([]record.Interaction(nil), c.Interactions...)
	if c.Call != nil {
		call := *c.Call
		call.Recordings = append([]record.RecordingSegment(nil), c.Call.Recordings...)
		out.Call = &call
	}
	return &out
}

// KeyFor derives the stable conversation key for an interaction.
func KeyFor(in record.Interaction) (string, error) {
	switch in.Source {
	case record.SourceSms:
		return "sms_" + in.CounterpartID + "_" + in.OwnerLineID, nil
	case record.SourceCall:
		return "call_" + in.ID, nil
	case record.SourceChat:
		if in.GroupID == "" {
			return "", fmt.Errorf("chat interaction %s has no session id", in.ID)
		}
		return "chat_" + in.GroupID, nil
	case record.SourceEmail:
		if in.GroupID == "" {
			return "", fmt.Errorf("email interaction %s has no thread id", in.ID)
		}
		return "email_" + in.GroupID, nil
	}
	return "", fmt.Errorf("unknown interaction source %q", in.Source)
}

// Direction reports how the conversation started. Chat sessions are always
// visitor-initiated regardless of who sent the first stored message.
func (c *Conversation) Direction() record.Direction {
	if c.Source == record.SourceChat {
		return record.DirectionInbound
	}
	if len(c.Interactions) == 0 {
		return record.DirectionInbound
	}
	return c.Interactions[0].Direction
}

// Sentiment resolves the conversation-level sentiment. Calls carry one
// scored value on the record; SMS uses the most recent inbound message with
// a score; email uses the most recent scored message in either direction.
// Chat sessions are not scored.
func (c *Conversation) Sentiment() record.Sentiment {
	switch c.Source {
	case record.SourceCall:
		if c.Call != nil {
			return c.Call.UserSentiment
		}
	case record.SourceSms:
		for i := len(c.Interactions) - 1; i >= 0; i-- {
			in := c.Interactions[i]
			if in.Direction == record.DirectionInbound && in.Sentiment != "" {
				return in.Sentiment
			}
		}
	case record.SourceEmail:
		for i := len(c.Interactions) - 1; i >= 0; i-- {
			if c.Interactions[i].Sentiment != "" {
				return c.Interactions[i].Sentiment
			}
		}
	}
	return ""
}

// Missed reports whether a call conversation ended unanswered.
func (c *Conversation) Missed() bool {
	if c.Source != record.SourceCall || c.Call == nil {
		return false
	}
	switch c.Call.Status {
	case "missed", "no-answer":
		return true
	}
	return false
}
