package record

import (
	"log/slog"
	"strings"
	"time"
)

// Normalizer converts raw store rows into Interactions. Rows are never
// dropped for missing fields; a missing timestamp is replaced with the
// current time and logged.
type Normalizer struct {
	Now    func() time.Time
	Logger *slog.Logger
}

func NewNormalizer(logger *slog.Logger) *Normalizer {
	return &Normalizer{Now: time.Now, Logger: logger}
}

func (n *Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

func (n *Normalizer) timestamp(t FlexTime, source Source, id string) time.Time {
	if !t.IsZero() {
		return t.Time
	}
	if n.Logger != nil {
		n.Logger.Warn("row missing timestamp, substituting current time",
			"source", string(source), "id", id)
	}
	return n.now()
}

// Sms normalizes one SMS row. The counterpart is the far-end number and the
// owner line is the account's service number, whichever side each lands on.
func (n *Normalizer) Sms(m SmsMessage) Interaction {
	counterpart, line := m.FromNumber, m.ToNumber
	if m.Direction == DirectionOutbound {
		counterpart, line = m.ToNumber, m.FromNumber
	}
	if m.ServiceNumber != "" {
		line = m.ServiceNumber
	}
	return Interaction{
		ID:            m.ID,
		Source:        SourceSms,
		Direction:     m.Direction,
		CounterpartID: counterpart,
		OwnerLineID:   line,
		Timestamp:     n.timestamp(m.CreatedAt, SourceSms, m.ID),
		Preview:       m.Body,
		Body:          m.Body,
		Sentiment:     m.Sentiment,
	}
}

// Call normalizes one call record into a single interaction.
func (n *Normalizer) Call(rec CallRecord) Interaction {
	counterpart := rec.ContactPhone
	if counterpart == "" {
		counterpart = rec.CallerNumber
	}
	label := "Incoming"
	if rec.Direction == DirectionOutbound {
		label = "Outgoing"
	}
	var body strings.Builder
	for _, seg := range rec.Recordings {
		if seg.Transcript != nil && *seg.Transcript != "" {
			if body.Len() > 0 {
				body.WriteString(" ")
			}
			body.WriteString(*seg.Transcript)
		}
	}
	return Interaction{
		ID:            rec.ID,
		Source:        SourceCall,
		Direction:     rec.Direction,
		CounterpartID: counterpart,
		OwnerLineID:   rec.ServiceNumber,
		Timestamp:     n.timestamp(rec.StartedAt, SourceCall, rec.ID),
		Preview:       label + " Call • " + FormatDuration(TotalCallDuration(&rec)),
		Body:          body.String(),
		Sentiment:     rec.UserSentiment,
	}
}

// Chat normalizes the messages of one web-chat session. Visitor messages are
// inbound, everything else outbound.
func (n *Normalizer) Chat(sess ChatSession) []Interaction {
	out := make([]Interaction, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		dir := DirectionOutbound
		if m.Role == "visitor" {
			dir = DirectionInbound
		}
		out = append(out, Interaction{
			ID:            m.ID,
			Source:        SourceChat,
			Direction:     dir,
			CounterpartID: sess.VisitorName,
			GroupID:       sess.ID,
			Timestamp:     n.timestamp(m.CreatedAt, SourceChat, m.ID),
			Preview:       m.Body,
			Body:          m.Body,
			FromName:      sess.VisitorName,
		})
	}
	return out
}

// ChatMessage normalizes a single chat message arriving outside its session
// row, as realtime events deliver them.
func (n *Normalizer) ChatMessage(m ChatMessage, visitorName string) Interaction {
	dir := DirectionOutbound
	if m.Role == "visitor" {
		dir = DirectionInbound
	}
	return Interaction{
		ID:            m.ID,
		Source:        SourceChat,
		Direction:     dir,
		CounterpartID: visitorName,
		GroupID:       m.SessionID,
		Timestamp:     n.timestamp(m.CreatedAt, SourceChat, m.ID),
		Preview:       m.Body,
		Body:          m.Body,
		FromName:      visitorName,
	}
}

// Email normalizes one email row. Grouping happens by thread id; the
// counterpart is the far-end address for the row's direction.
func (n *Normalizer) Email(m EmailMessage) Interaction {
	counterpart := m.FromEmail
	if m.Direction == DirectionOutbound {
		counterpart = m.ToEmail
	}
	fromName := ""
	if m.Direction == DirectionInbound {
		fromName = m.FromName
	}
	return Interaction{
		ID:            m.ID,
		Source:        SourceEmail,
		Direction:     m.Direction,
		CounterpartID: counterpart,
		GroupID:       m.ThreadID,
		Timestamp:     n.timestamp(m.CreatedAt, SourceEmail, m.ID),
		Preview:       m.Subject,
		Body:          m.Body,
		Subject:       m.Subject,
		FromName:      fromName,
		Sentiment:     m.Sentiment,
	}
}

const (
	// Recording artifacts are only chased for recently completed calls.
	syncRecency = 24 * time.Hour

	// Segments shorter than this never get a transcript upstream.
	transcriptMinSeconds = 3
)

// DurableURLMarker is the substring a recording URL must contain once the
// artifact has been copied into durable storage.
var DurableURLMarker = "/storage/"

// SegmentNeedsSync reports whether one recording segment still has artifacts
// outstanding. An empty-string transcript is a terminal state (transcription
// produced nothing); only a nil transcript is outstanding.
func SegmentNeedsSync(seg RecordingSegment) bool {
	if seg.Status == "pending_sync" {
		return true
	}
	if seg.URL == "" || !strings.Contains(seg.URL, DurableURLMarker) {
		return true
	}
	if int64(seg.DurationSeconds) >= transcriptMinSeconds && seg.Transcript == nil {
		return true
	}
	return false
}

// CallNeedsSync reports whether a call record should enter the sync loop:
// completed within the last 24 hours with at least one segment outstanding.
func CallNeedsSync(rec *CallRecord, now time.Time) bool {
	if rec == nil || rec.Status != "completed" || len(rec.Recordings) == 0 {
		return false
	}
	started := rec.StartedAt.Time
	if started.IsZero() || started.Before(now.Add(-syncRecency)) {
		return false
	}
	for _, seg := range rec.Recordings {
		if SegmentNeedsSync(seg) {
			return true
		}
	}
	return false
}
