// Package store is the boundary to the persistent record store. The engine
// never talks to the store directly; commands bulk-load through it and write
// back read state, record patches, and deletions.
package store

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/elagerway/magpipe/internal/record"
)

// Per-collection bulk load caps.
const (
	SmsLimit   = 500
	CallLimit  = 300
	ChatLimit  = 50
	EmailLimit = 500
)

// Reader fetches record collections, newest first, capped by limit.
type Reader interface {
	SmsMessages(ctx context.Context, limit int) ([]record.SmsMessage, error)
	CallRecords(ctx context.Context, limit int) ([]record.CallRecord, error)
	ChatSessions(ctx context.Context, limit int) ([]record.ChatSession, error)
	EmailMessages(ctx context.Context, limit int) ([]record.EmailMessage, error)
	Contacts(ctx context.Context) ([]record.Contact, error)
	CallRecord(ctx context.Context, id string) (*record.CallRecord, error)
	ReadStates(ctx context.Context) (map[string]time.Time, error)
}

// Writer applies the store-side effects of inbox mutations.
type Writer interface {
	UpdateReadState(ctx context.Context, key string, viewedAt time.Time) error
	UpdateCallRecord(ctx context.Context, rec record.CallRecord) error
	DeleteRows(ctx context.Context, source record.Source, ids []string) error
}

// Store combines both sides.
type Store interface {
	Reader
	Writer
}

// Loaded is the result of one bulk load.
type Loaded struct {
	Sms      []record.SmsMessage
	Calls    []record.CallRecord
	Chats    []record.ChatSession
	Emails   []record.EmailMessage
	Contacts []record.Contact
}

// BulkLoad fetches all collections concurrently with the standard caps.
func BulkLoad(ctx context.Context, r Reader) (*Loaded, error) {
	var out Loaded
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		out.Sms, err = r.SmsMessages(ctx, SmsLimit)
		return err
	})
	g.Go(func() error {
		var err error
		out.Calls, err = r.CallRecords(ctx, CallLimit)
		return err
	})
	g.Go(func() error {
		var err error
		out.Chats, err = r.ChatSessions(ctx, ChatLimit)
		return err
	})
	g.Go(func() error {
		var err error
		out.Emails, err = r.EmailMessages(ctx, EmailLimit)
		return err
	})
	g.Go(func() error {
		var err error
		out.Contacts, err = r.Contacts(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}
