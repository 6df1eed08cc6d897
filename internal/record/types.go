// Package record defines the raw rows magpipe reads from the store and the
// normalized Interaction shape the inbox engine consumes.
package record

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Source identifies which channel a row came from.
type Source string

const (
	SourceSms   Source = "sms"
	SourceCall  Source = "call"
	SourceChat  Source = "chat"
	SourceEmail Source = "email"
)

// Direction of an interaction relative to the account owner.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Sentiment as scored upstream. Empty means unscored.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// FlexInt tolerates JSON numbers arriving as strings or floats.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = FlexInt(n)
		return nil
	}
	if fl, err := strconv.ParseFloat(s, 64); err == nil {
		*f = FlexInt(int64(fl))
		return nil
	}
	return fmt.Errorf("cannot parse %q as integer", s)
}

// FlexTime tolerates RFC 3339 strings, unix seconds, and unix milliseconds.
// The zero value means the row carried no timestamp.
type FlexTime struct {
	time.Time
}

func (f *FlexTime) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		f.Time = time.Time{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, raw); err == nil {
				f.Time = t
				return nil
			}
		}
		return fmt.Errorf("cannot parse %q as timestamp", raw)
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("cannot parse %q as timestamp", s)
	}
	// Millisecond epochs are 13 digits; anything that large is ms.
	if n > 1e12 {
		f.Time = time.UnixMilli(int64(n))
	} else {
		f.Time = time.Unix(int64(n), 0)
	}
	return nil
}

func (f FlexTime) MarshalJSON() ([]byte, error) {
	if f.Time.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(f.Time.Format(time.RFC3339))
}

// SmsMessage is one row of the SMS collection.
type SmsMessage struct {
	ID            string    `json:"id"`
	Direction     Direction `json:"direction"`
	FromNumber    string    `json:"from_number"`
	ToNumber      string    `json:"to_number"`
	Body          string    `json:"body"`
	Status        string    `json:"status,omitempty"`
	Sentiment     Sentiment `json:"sentiment,omitempty"`
	CreatedAt     FlexTime  `json:"created_at"`
	ServiceNumber string    `json:"service_number,omitempty"`
}

// RecordingSegment is one audio artifact attached to a call record.
type RecordingSegment struct {
	ID              string   `json:"id"`
	URL             string   `json:"url,omitempty"`
	Status          string   `json:"status,omitempty"`
	DurationSeconds FlexInt  `json:"duration_seconds"`
	Transcript      *string  `json:"transcript,omitempty"`
	CreatedAt       FlexTime `json:"created_at"`
}

// CallRecord is one row of the call collection.
type CallRecord struct {
	ID              string             `json:"id"`
	Direction       Direction          `json:"direction"`
	CallerNumber    string             `json:"caller_number,omitempty"`
	ContactPhone    string             `json:"contact_phone,omitempty"`
	ServiceNumber   string             `json:"service_number,omitempty"`
	Status          string             `json:"status,omitempty"`
	DurationSeconds FlexInt            `json:"duration_seconds"`
	UserSentiment   Sentiment          `json:"user_sentiment,omitempty"`
	Recordings      []RecordingSegment `json:"recordings,omitempty"`
	StartedAt       FlexTime           `json:"started_at"`
	EndedAt         FlexTime           `json:"ended_at,omitempty"`
}

// ChatMessage is one message inside a web-chat session.
type ChatMessage struct {
	ID        string   `json:"id"`
	SessionID string   `json:"session_id"`
	Role      string   `json:"role"`
	Body      string   `json:"body"`
	CreatedAt FlexTime `json:"created_at"`
}

// ChatSession is one row of the web-chat session collection.
type ChatSession struct {
	ID          string        `json:"id"`
	VisitorName string        `json:"visitor_name,omitempty"`
	WidgetName  string        `json:"widget_name,omitempty"`
	Messages    []ChatMessage `json:"messages,omitempty"`
	CreatedAt   FlexTime      `json:"created_at"`
}

// EmailMessage is one row of the email collection.
type EmailMessage struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Direction Direction `json:"direction"`
	FromEmail string    `json:"from_email"`
	ToEmail   string    `json:"to_email"`
	FromName  string    `json:"from_name,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body,omitempty"`
	Sentiment Sentiment `json:"sentiment,omitempty"`
	CreatedAt FlexTime  `json:"created_at"`
}

// Contact maps phone numbers and email addresses to a display name.
type Contact struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Interaction is the normalized, source-independent unit the engine groups.
type Interaction struct {
	ID            string
	Source        Source
	Direction     Direction
	CounterpartID string
	OwnerLineID   string
	// GroupID carries the chat session id or email thread id. Empty for
	// SMS and calls, which group by other fields.
	GroupID   string
	Timestamp time.Time
	Preview   string
	Body      string
	Subject   string
	FromName  string
	Sentiment Sentiment
}

// TotalCallDuration sums recording segment durations, falling back to the
// record's own duration when no segments carry one.
func TotalCallDuration(rec *CallRecord) int64 {
	var total int64
	for _, seg := range rec.Recordings {
		total += int64(seg.DurationSeconds)
	}
	if total == 0 {
		total = int64(rec.DurationSeconds)
	}
	return total
}

// FormatDuration renders seconds as m:ss (zero renders "0:00").
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
