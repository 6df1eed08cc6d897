package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/elagerway/magpipe/internal/config"
	"github.com/elagerway/magpipe/internal/inbox"
	"github.com/elagerway/magpipe/internal/localstate"
	"github.com/elagerway/magpipe/internal/record"
	"github.com/elagerway/magpipe/internal/store"
)

// session bundles the per-invocation wiring: the configured account, the
// record store, local inbox state, and the engine.
type session struct {
	account config.Account
	store   *store.Redis
	state   *localstate.Store
	engine  *inbox.Engine
	norm    *record.Normalizer
	logger  *slog.Logger

	contacts []record.Contact

	// pendingCalls collects record ids that still had recording artifacts
	// outstanding after the bulk load.
	pendingCalls []string
}

func openSession(ctx context.Context, opts ...inbox.Option) (*session, error) {
	account, err := config.LoadAccount()
	if err != nil {
		return nil, err
	}

	st, err := store.NewRedisFromURL(account.StoreURL, account.AccountID)
	if err != nil {
		return nil, err
	}
	if err := st.Ping(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("record store unreachable: %w", err)
	}

	logger := slog.Default()

	var state *localstate.Store
	if dir, err := localstate.DefaultDir(); err == nil {
		state, err = localstate.Open(dir, account.AccountID)
		if err != nil {
			logger.Warn("local state unavailable, hide and read state will not persist", "error", err)
			state = nil
		}
	}

	engineOpts := append([]inbox.Option{inbox.WithState(state)}, opts...)
	return &session{
		account: account,
		store:   st,
		state:   state,
		engine:  inbox.NewEngine(logger, engineOpts...),
		norm:    record.NewNormalizer(logger),
		logger:  logger,
	}, nil
}

func (s *session) Close() {
	_ = s.store.Close()
}

// load bulk-fetches every collection and replays it through the engine.
// Store-side read state is merged into the local watermarks first so unread
// counts agree across machines.
func (s *session) load(ctx context.Context) error {
	loaded, err := store.BulkLoad(ctx, s.store)
	if err != nil {
		return fmt.Errorf("loading inbox: %w", err)
	}

	if s.state != nil {
		states, err := s.store.ReadStates(ctx)
		if err != nil {
			return err
		}
		for key, at := range states {
			if err := s.state.SetWatermark(key, at); err != nil {
				s.logger.Warn("merging read state failed", "key", key, "error", err)
			}
		}
	}

	s.contacts = loaded.Contacts
	s.engine.SetContacts(loaded.Contacts)

	for _, m := range loaded.Sms {
		if _, err := s.engine.Ingest(s.norm.Sms(m)); err != nil {
			s.logger.Warn("skipping sms row", "id", m.ID, "error", err)
		}
	}
	for _, rec := range loaded.Calls {
		needsSync, err := s.engine.ApplyCallRecord(rec)
		if err != nil {
			s.logger.Warn("skipping call row", "id", rec.ID, "error", err)
			continue
		}
		if needsSync {
			s.pendingCalls = append(s.pendingCalls, rec.ID)
		}
	}
	for _, sess := range loaded.Chats {
		for _, in := range s.norm.Chat(sess) {
			if _, err := s.engine.Ingest(in); err != nil {
				s.logger.Warn("skipping chat row", "id", in.ID, "error", err)
			}
		}
	}
	for _, m := range loaded.Emails {
		if _, err := s.engine.Ingest(s.norm.Email(m)); err != nil {
			s.logger.Warn("skipping email row", "id", m.ID, "error", err)
		}
	}
	return nil
}
