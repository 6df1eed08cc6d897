package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/elagerway/magpipe/internal/record"
)

// ErrNotFound marks a lookup for a row that is not in the store.
var ErrNotFound = errors.New("record not found")

// Redis implements Store on a Redis keyspace. Rows live in per-account
// hashes keyed by row id, with a sorted-set index per collection scored by
// the row timestamp so bulk loads can take the newest N.
type Redis struct {
	rdb     *redis.Client
	account string
}

// NewRedis connects to addr. An empty account falls back to "default" so
// key prefixes are never ambiguous.
func NewRedis(addr, password string, db int, account string) *Redis {
	if account == "" {
		account = "default"
	}
	return &Redis{
		rdb:     redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		account: account,
	}
}

// NewRedisFromURL accepts redis:// and rediss:// URLs.
func NewRedisFromURL(rawURL, account string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing store URL: %w", err)
	}
	if account == "" {
		account = "default"
	}
	return &Redis{rdb: redis.NewClient(opts), account: account}, nil
}

func (s *Redis) Close() error { return s.rdb.Close() }

// Ping verifies connectivity.
func (s *Redis) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Redis) key(parts ...string) string {
	out := "mp:" + s.account
	for _, p := range parts {
		out += ":" + p
	}
	return out
}

func (s *Redis) put(ctx context.Context, collection, id string, row any, at time.Time) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encoding %s row: %w", collection, err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.key(collection), id, data)
	pipe.ZAdd(ctx, s.key(collection, "idx"), redis.Z{Score: float64(at.UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing %s row %s: %w", collection, id, err)
	}
	return nil
}

// newestIDs returns up to limit row ids, newest first.
func (s *Redis) newestIDs(ctx context.Context, collection string, limit int) ([]string, error) {
	stop := int64(limit - 1)
	if limit <= 0 {
		stop = -1
	}
	ids, err := s.rdb.ZRevRange(ctx, s.key(collection, "idx"), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("listing %s index: %w", collection, err)
	}
	return ids, nil
}

func loadRows[T any](ctx context.Context, s *Redis, collection string, limit int) ([]T, error) {
	ids, err := s.newestIDs(ctx, collection, limit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	raw, err := s.rdb.HMGet(ctx, s.key(collection), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetching %s rows: %w", collection, err)
	}
	out := make([]T, 0, len(raw))
	for _, v := range raw {
		str, ok := v.(string)
		if !ok {
			// Index entry without a row; a concurrent delete won the race.
			continue
		}
		var row T
		if err := json.Unmarshal([]byte(str), &row); err != nil {
			return nil, fmt.Errorf("decoding %s row: %w", collection, err)
		}
		out = append(out, row)
	}
	return out, nil
}

func (s *Redis) PutSms(ctx context.Context, m record.SmsMessage) error {
	return s.put(ctx, "sms", m.ID, m, m.CreatedAt.Time)
}

func (s *Redis) PutChatSession(ctx context.Context, sess record.ChatSession) error {
	at := sess.CreatedAt.Time
	if n := len(sess.Messages); n > 0 {
		at = sess.Messages[n-1].CreatedAt.Time
	}
	return s.put(ctx, "chat", sess.ID, sess, at)
}

func (s *Redis) PutEmail(ctx context.Context, m record.EmailMessage) error {
	return s.put(ctx, "email", m.ID, m, m.CreatedAt.Time)
}

func (s *Redis) PutContact(ctx context.Context, c record.Contact) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding contact: %w", err)
	}
	if err := s.rdb.HSet(ctx, s.key("contacts"), c.ID, data).Err(); err != nil {
		return fmt.Errorf("writing contact %s: %w", c.ID, err)
	}
	return nil
}

func (s *Redis) SmsMessages(ctx context.Context, limit int) ([]record.SmsMessage, error) {
	return loadRows[record.SmsMessage](ctx, s, "sms", limit)
}

func (s *Redis) CallRecords(ctx context.Context, limit int) ([]record.CallRecord, error) {
	return loadRows[record.CallRecord](ctx, s, "calls", limit)
}

func (s *Redis) ChatSessions(ctx context.Context, limit int) ([]record.ChatSession, error) {
	return loadRows[record.ChatSession](ctx, s, "chat", limit)
}

func (s *Redis) EmailMessages(ctx context.Context, limit int) ([]record.EmailMessage, error) {
	return loadRows[record.EmailMessage](ctx, s, "email", limit)
}

func (s *Redis) Contacts(ctx context.Context) ([]record.Contact, error) {
	raw, err := s.rdb.HGetAll(ctx, s.key("contacts")).Result()
	if err != nil {
		return nil, fmt.Errorf("fetching contacts: %w", err)
	}
	out := make([]record.Contact, 0, len(raw))
	for _, v := range raw {
		var c record.Contact
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			return nil, fmt.Errorf("decoding contact: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Redis) CallRecord(ctx context.Context, id string) (*record.CallRecord, error) {
	raw, err := s.rdb.HGet(ctx, s.key("calls"), id).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("call %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching call %s: %w", id, err)
	}
	var rec record.CallRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decoding call %s: %w", id, err)
	}
	return &rec, nil
}

func (s *Redis) ReadStates(ctx context.Context) (map[string]time.Time, error) {
	raw, err := s.rdb.HGetAll(ctx, s.key("read")).Result()
	if err != nil {
		return nil, fmt.Errorf("fetching read states: %w", err)
	}
	out := make(map[string]time.Time, len(raw))
	for key, v := range raw {
		at, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			continue
		}
		out[key] = at
	}
	return out, nil
}

func (s *Redis) UpdateReadState(ctx context.Context, key string, viewedAt time.Time) error {
	err := s.rdb.HSet(ctx, s.key("read"), key, viewedAt.Format(time.RFC3339Nano)).Err()
	if err != nil {
		return fmt.Errorf("writing read state for %s: %w", key, err)
	}
	return nil
}

func (s *Redis) UpdateCallRecord(ctx context.Context, rec record.CallRecord) error {
	return s.put(ctx, "calls", rec.ID, rec, rec.StartedAt.Time)
}

func (s *Redis) DeleteRows(ctx context.Context, source record.Source, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	collection := ""
	switch source {
	case record.SourceSms:
		collection = "sms"
	case record.SourceCall:
		collection = "calls"
	case record.SourceChat:
		collection = "chat"
	case record.SourceEmail:
		collection = "email"
	default:
		return fmt.Errorf("unknown source %q", source)
	}
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	pipe := s.rdb.TxPipeline()
	pipe.HDel(ctx, s.key(collection), ids...)
	pipe.ZRem(ctx, s.key(collection, "idx"), members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting %s rows: %w", collection, err)
	}
	return nil
}
