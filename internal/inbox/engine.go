package inbox

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/elagerway/magpipe/internal/localstate"
	"github.com/elagerway/magpipe/internal/record"
)

// DefaultPageSize is the render-window increment.
const DefaultPageSize = 20

// Hidden conversations resurface when fresh activity lands within this window.
const unhideWindow = 24 * time.Hour

// Engine owns the conversation set. Every mutation, whether from the bulk
// load, the realtime reconciler, or the sync loop, enters through its
// methods; the mutex makes it a single logical writer.
type Engine struct {
	mu       sync.Mutex
	now      func() time.Time
	logger   *slog.Logger
	norm     *record.Normalizer
	state    *localstate.Store
	pageSize int

	convs    map[string]*Conversation
	position map[string]string // interaction id -> conversation key
	viewed   map[string]struct{}
	contacts map[string]string // counterpart id -> display name

	filters Filters
	limit   int
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithState(s *localstate.Store) Option {
	return func(e *Engine) { e.state = s }
}

func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

func NewEngine(logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		now:      time.Now,
		logger:   logger,
		pageSize: DefaultPageSize,
		convs:    make(map[string]*Conversation),
		position: make(map[string]string),
		viewed:   make(map[string]struct{}),
		contacts: make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.norm = &record.Normalizer{Now: e.now, Logger: logger}
	e.limit = e.pageSize
	return e
}

// SetContacts installs the counterpart-to-display-name mapping used for
// rendering and search.
func (e *Engine) SetContacts(contacts []record.Contact) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.contacts = make(map[string]string, len(contacts)*2)
	for _, c := range contacts {
		if c.Phone != "" {
			e.contacts[c.Phone] = c.Name
		}
		if c.Email != "" {
			e.contacts[c.Email] = c.Name
		}
	}
	for _, conv := range e.convs {
		conv.DisplayName = e.contacts[conv.CounterpartID]
	}
}

// Ingest adds or updates one interaction. Redelivery of an already-seen
// interaction id replaces the stored copy instead of duplicating it, so
// realtime events may race the bulk load in either order.
func (e *Engine) Ingest(in record.Interaction) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ingestLocked(in)
}

func (e *Engine) ingestLocked(in record.Interaction) (string, error) {
	if in.ID == "" {
		return "", fmt.Errorf("interaction without id")
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = e.now()
	}
	key, err := KeyFor(in)
	if err != nil {
		return "", err
	}

	conv, ok := e.convs[key]
	if !ok {
		conv = &Conversation{
			Key:           key,
			Source:        in.Source,
			CounterpartID: in.CounterpartID,
			OwnerLineID:   in.OwnerLineID,
			GroupID:       in.GroupID,
			DisplayName:   e.contacts[in.CounterpartID],
		}
		if e.state != nil {
			_, conv.Hidden = e.state.Hidden()[key]
		}
		e.convs[key] = conv
	}

	if prevKey, seen := e.position[in.ID]; seen && prevKey == key {
		for i := range conv.Interactions {
			if conv.Interactions[i].ID == in.ID {
				conv.Interactions[i] = in
				break
			}
		}
	} else {
		conv.Interactions = append(conv.Interactions, in)
		e.position[in.ID] = key
	}

	// Stable sort keeps arrival order for equal timestamps.
	sort.SliceStable(conv.Interactions, func(i, j int) bool {
		return conv.Interactions[i].Timestamp.Before(conv.Interactions[j].Timestamp)
	})

	if in.Subject != "" {
		conv.Subject = in.Subject
	}
	if in.FromName != "" {
		conv.FromName = in.FromName
	}

	if conv.Hidden && e.qualifiesForUnhide(conv, in) {
		conv.Hidden = false
		if e.state != nil {
			if err := e.state.Unhide(key); err != nil && e.logger != nil {
				e.logger.Warn("persisting auto-unhide failed", "key", key, "error", err)
			}
		}
	}

	e.recomputeLocked(conv)
	return key, nil
}

func (e *Engine) qualifiesForUnhide(conv *Conversation, in record.Interaction) bool {
	if in.Timestamp.Before(e.now().Add(-unhideWindow)) {
		return false
	}
	// Any fresh call record resurfaces the conversation; message channels
	// need a fresh inbound message.
	if conv.Source == record.SourceCall {
		return true
	}
	return in.Direction == record.DirectionInbound
}

// ApplyCallRecord refreshes a call conversation in place from a full record,
// creating the conversation when the record is new. It reports whether the
// record still has recording artifacts outstanding.
func (e *Engine) ApplyCallRecord(rec record.CallRecord) (needsSync bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	in := e.norm.Call(rec)
	key, err := e.ingestLocked(in)
	if err != nil {
		return false, err
	}
	conv := e.convs[key]
	conv.Call = &rec
	e.recomputeLocked(conv)
	return record.CallNeedsSync(&rec, e.now()), nil
}

// recomputeLocked refreshes the derived fields after any interaction change.
func (e *Engine) recomputeLocked(conv *Conversation) {
	if n := len(conv.Interactions); n > 0 {
		last := conv.Interactions[n-1]
		conv.LastActivity = last.Timestamp
		conv.Preview = last.Preview
	}
	conv.DisplayName = e.contacts[conv.CounterpartID]
	conv.Unread = e.unreadCountLocked(conv)
}

func (e *Engine) unreadCountLocked(conv *Conversation) int {
	if _, ok := e.viewed[conv.Key]; ok {
		return 0
	}
	var watermark time.Time
	if e.state != nil {
		watermark = e.state.Watermark(conv.Key)
	}
	count := 0
	for _, in := range conv.Interactions {
		if in.Direction == record.DirectionInbound && in.Timestamp.After(watermark) {
			count++
		}
	}
	return count
}

// MarkRead clears the unread state for one conversation: the session viewed
// set, the durable watermark, and the in-memory count. Calling it twice is a
// no-op.
func (e *Engine) MarkRead(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	conv, ok := e.convs[key]
	if !ok {
		return fmt.Errorf("no conversation %q", key)
	}
	return e.markReadLocked(conv)
}

func (e *Engine) markReadLocked(conv *Conversation) error {
	e.viewed[conv.Key] = struct{}{}
	conv.Unread = 0
	if e.state != nil && !conv.LastActivity.IsZero() {
		if err := e.state.SetWatermark(conv.Key, conv.LastActivity); err != nil {
			return fmt.Errorf("persisting watermark for %s: %w", conv.Key, err)
		}
	}
	return nil
}

// MarkAllRead marks every currently visible unread conversation read and
// returns their keys.
func (e *Engine) MarkAllRead() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var keys []string
	for _, conv := range e.visibleLocked() {
		if conv.Unread == 0 {
			continue
		}
		if err := e.markReadLocked(conv); err != nil {
			return keys, err
		}
		keys = append(keys, conv.Key)
	}
	return keys, nil
}

func (e *Engine) Hide(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	conv, ok := e.convs[key]
	if !ok {
		return fmt.Errorf("no conversation %q", key)
	}
	conv.Hidden = true
	if e.state != nil {
		return e.state.Hide(key)
	}
	return nil
}

func (e *Engine) Unhide(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	conv, ok := e.convs[key]
	if !ok {
		return fmt.Errorf("no conversation %q", key)
	}
	conv.Hidden = false
	if e.state != nil {
		return e.state.Unhide(key)
	}
	return nil
}

// Delete removes a conversation and all local state tied to it. Backing
// store rows are the caller's concern.
func (e *Engine) Delete(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	conv, ok := e.convs[key]
	if !ok {
		return fmt.Errorf("no conversation %q", key)
	}
	for _, in := range conv.Interactions {
		delete(e.position, in.ID)
	}
	delete(e.convs, key)
	delete(e.viewed, key)
	if e.state != nil {
		return e.state.Forget(key)
	}
	return nil
}

// Get returns a copy of the conversation for key, or nil. The copy is safe
// to read while the syncer and reconciler keep mutating engine state.
func (e *Engine) Get(key string) *Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	conv, ok := e.convs[key]
	if !ok {
		return nil
	}
	return conv.clone()
}

// Len returns the total number of conversations, hidden included.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.convs)
}

// UnreadBreakdown returns unread conversation counts per source plus the
// total. Hidden conversations do not count.
func (e *Engine) UnreadBreakdown() (map[record.Source]int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	by := make(map[record.Source]int)
	total := 0
	for _, conv := range e.convs {
		if conv.Hidden || conv.Unread == 0 {
			continue
		}
		by[conv.Source]++
		total++
	}
	return by, total
}
