// Package realtime implements the websocket client for the record event
// bus. The server speaks a cable-style JSON protocol: a welcome frame on
// connect, periodic pings, and subscription confirm/reject frames, with
// record change envelopes as the payload.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"
)

// DefaultPingTimeout is how long we wait without receiving any frame
// (including server pings) before treating the connection as dead.
var DefaultPingTimeout = 15 * time.Second

// ErrPingTimeout is returned when no frames are received within the ping timeout.
var ErrPingTimeout = errors.New("ping timeout: no frames received")

// frame is a raw JSON frame on the wire.
type frame struct {
	Type       string          `json:"type,omitempty"`
	Identifier string          `json:"identifier,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
	Command    string          `json:"command,omitempty"`
	Reconnect  *bool           `json:"reconnect,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// ChannelID identifies the inbox subscription for one account.
type ChannelID struct {
	Channel   string `json:"channel"`
	AccountID string `json:"account_id"`
	Token     string `json:"token,omitempty"`
}

// InboxChannel returns the standard inbox change feed identifier.
func InboxChannel(accountID, token string) ChannelID {
	return ChannelID{Channel: "InboxChannel", AccountID: accountID, Token: token}
}

// Event is one message received from the bus.
type Event struct {
	Data json.RawMessage // the envelope payload
	Err  error           // non-nil on read error or disconnect
}

// Client is a connected event-bus session.
type Client struct {
	conn *websocket.Conn
}

// Bus messages are small JSON; anything larger is malformed.
const maxReadSize = 1 << 20 // 1 MB

// Connect dials the bus endpoint and waits for the welcome frame.
func Connect(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{"magpipe-v1-json"},
	})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(maxReadSize)

	_, data, err := conn.Read(ctx)
	if err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("read welcome: %w", err)
	}

	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("parse welcome: %w", err)
	}
	if f.Type != "welcome" {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("expected welcome, got %q (reason: %s)", f.Type, f.Reason)
	}

	return &Client{conn: conn}, nil
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

// Subscribe sends a subscribe command and waits for confirmation.
func (c *Client) Subscribe(ctx context.Context, id ChannelID) error {
	idJSON, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("marshal identifier: %w", err)
	}
	idStr := string(idJSON)

	cmd := frame{
		Command:    "subscribe",
		Identifier: idStr,
	}
	data, _ := json.Marshal(cmd)
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}

	// Wait for confirm or reject, skipping pings that may arrive in between.
	for {
		_, resp, err := c.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read subscription response: %w", err)
		}

		var f frame
		if err := json.Unmarshal(resp, &f); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}

		switch f.Type {
		case "confirm_subscription":
			return nil
		case "reject_subscription":
			return fmt.Errorf("subscription rejected (check token)")
		case "ping":
			continue
		default:
			return fmt.Errorf("unexpected response type: %q", f.Type)
		}
	}
}

// Listen starts the read loop and returns a channel of events.
// Pings and internal frames are handled silently.
// The channel closes when the connection drops or ctx is cancelled.
//
// A rolling ping timeout detects half-dead connections: if no frame
// (including server pings) arrives within DefaultPingTimeout, the
// connection is treated as dead and an ErrPingTimeout is emitted.
func (c *Client) Listen(ctx context.Context) <-chan Event {
	return c.ListenWithTimeout(ctx, DefaultPingTimeout)
}

// ListenWithTimeout is like Listen but with a configurable ping timeout.
// Use 0 to disable the timeout.
func (c *Client) ListenWithTimeout(ctx context.Context, pingTimeout time.Duration) <-chan Event {
	ch := make(chan Event, 64)
	go func() {
		defer close(ch)
		for {
			// Per-read deadline so silent connections get detected.
			readCtx := ctx
			var readCancel context.CancelFunc
			if pingTimeout > 0 {
				readCtx, readCancel = context.WithTimeout(ctx, pingTimeout)
			}

			_, data, err := c.conn.Read(readCtx)

			if readCancel != nil {
				readCancel()
			}

			if err != nil {
				// Distinguish ping timeout from parent context cancellation.
				if pingTimeout > 0 && ctx.Err() == nil && readCtx.Err() != nil {
					err = ErrPingTimeout
				}
				select {
				case ch <- Event{Err: err}:
				case <-ctx.Done():
				}
				return
			}

			var f frame
			if err := json.Unmarshal(data, &f); err != nil {
				continue // skip malformed frames
			}

			switch {
			case f.Type == "ping":
				continue
			case f.Type == "disconnect":
				reconnect := f.Reconnect != nil && *f.Reconnect
				select {
				case ch <- Event{Err: fmt.Errorf("disconnect (reason=%s, reconnect=%v)", f.Reason, reconnect)}:
				case <-ctx.Done():
				}
				return
			case f.Type == "confirm_subscription", f.Type == "reject_subscription":
				continue
			case len(f.Message) > 0:
				select {
				case ch <- Event{Data: f.Message}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch
}
