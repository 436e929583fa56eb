// Package session composes the sync stack for one user: the push channel, the
// reconciliation engine, the action coordinator and the in-memory store, all
// wired through the shared bus.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/nestmate/chatsync/internal/bus"
	"github.com/nestmate/chatsync/internal/channel"
	"github.com/nestmate/chatsync/internal/config"
	"github.com/nestmate/chatsync/internal/outbox"
	"github.com/nestmate/chatsync/internal/rest"
	"github.com/nestmate/chatsync/internal/status"
	"github.com/nestmate/chatsync/internal/store"
	intsync "github.com/nestmate/chatsync/internal/sync"
	"go.uber.org/zap"
)

// Session is the top-level handle an embedding application drives. All
// operations are safe for concurrent use.
type Session struct {
	userID  string
	bus     *bus.Bus
	store   *store.Store
	machine *status.Machine
	api     *rest.Client
	manager *channel.Manager
	engine  *intsync.Engine
	coord   *outbox.Coordinator
	logger  *zap.Logger

	closeOnce sync.Once
}

// New builds a session for userID from the global config. Nothing connects
// until Start.
func New(cfg *config.Config, userID string, logger *zap.Logger) (*Session, error) {
	if err := ValidateUser(userID); err != nil {
		return nil, err
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server_url not configured")
	}

	b := bus.New()
	st := store.New()
	machine := status.NewMachine(b)
	api := rest.NewClient(cfg.ServerURL, cfg.AuthToken)
	coord := outbox.NewCoordinator(st, api, b, userID, logger)
	engine := intsync.NewEngine(st, b, userID, coord, coord, logger)
	dispatcher := channel.NewDispatcher(b, logger)
	manager := channel.NewManager(channel.Config{
		URL:         cfg.ServerURL,
		Token:       cfg.AuthToken,
		BaseDelay:   cfg.ReconnectBaseDelay(),
		MaxAttempts: cfg.ReconnectMaxAttempts,
	}, dispatcher, machine, b, logger)

	return &Session{
		userID:  userID,
		bus:     b,
		store:   st,
		machine: machine,
		api:     api,
		manager: manager,
		engine:  engine,
		coord:   coord,
		logger:  logger,
	}, nil
}

// Start begins processing push events, seeds the store from the server and
// opens the push channel. Seeding failures are fatal; a failed first dial is
// not: it enters the backoff policy, which either connects eventually or
// publishes "channel.lost" once the retry ceiling is exhausted.
func (s *Session) Start(ctx context.Context) error {
	s.engine.Start(ctx)

	if err := s.seed(ctx); err != nil {
		return fmt.Errorf("seed store: %w", err)
	}

	if err := s.manager.Connect(ctx, s.userID); err != nil {
		s.logger.Warn("initial channel connect failed", zap.Error(err))
	}
	return nil
}

func (s *Session) seed(ctx context.Context) error {
	recs, err := s.api.ListConversations(ctx, s.userID)
	if err != nil {
		return err
	}
	counts, err := s.api.UnreadCounts(ctx, s.userID)
	if err != nil {
		// Conversation list is usable without counts.
		s.logger.Warn("unread counts unavailable", zap.Error(err))
		counts = nil
	}

	for _, rec := range recs {
		if len(rec.Participants) != 2 {
			continue
		}
		var preview *store.Preview
		if rec.Preview != nil {
			preview = &store.Preview{
				Content:   rec.Preview.Content,
				SenderID:  rec.Preview.SenderID,
				Timestamp: rec.Preview.Timestamp,
			}
		}
		unread := rec.Unread
		if n, ok := counts[rec.ID]; ok {
			unread = n
		}
		s.store.Seed(rec.Participants[0], rec.Participants[1], preview, unread)
	}
	s.logger.Info("store seeded", zap.Int("conversations", len(recs)))
	return nil
}

// SelectConversation opens the conversation with otherUserID: loads history
// from the server, marks it active and acknowledges unread incoming messages.
func (s *Session) SelectConversation(ctx context.Context, otherUserID string) error {
	key := s.store.Touch(s.userID, otherUserID)
	s.store.Select(key)

	if err := s.coord.Resync(ctx, key); err != nil {
		return err
	}
	if ids := s.store.UnreadIncoming(key, s.userID); len(ids) > 0 {
		if err := s.coord.MarkRead(ctx, key, ids); err != nil {
			s.logger.Warn("acknowledge on open failed", zap.Error(err))
		}
	}
	return nil
}

// DeselectConversation marks no conversation as actively viewed.
func (s *Session) DeselectConversation() {
	s.store.Select("")
}

// Send submits a message to otherUserID through the coordinator.
func (s *Session) Send(ctx context.Context, otherUserID, content string) error {
	return s.coord.Send(ctx, otherUserID, content)
}

// MarkRead acknowledges the given messages and clears the conversation's
// unread counter.
func (s *Session) MarkRead(ctx context.Context, conversationKey string, messageIDs []string) error {
	return s.coord.MarkRead(ctx, conversationKey, messageIDs)
}

// Delete removes one of the user's messages.
func (s *Session) Delete(ctx context.Context, conversationKey, messageID string) error {
	return s.coord.Delete(ctx, conversationKey, messageID)
}

// Conversations returns the conversation list, most recent first.
func (s *Session) Conversations() []store.Conversation {
	return s.store.Conversations()
}

// Messages returns the loaded messages of a conversation in timestamp order.
func (s *Session) Messages(conversationKey string) []store.Message {
	return s.store.Messages(conversationKey)
}

// Status reports the push channel's connection state.
func (s *Session) Status() status.State {
	return s.machine.Current()
}

// Connected reports whether the push channel is live.
func (s *Session) Connected() bool {
	return s.manager.Connected()
}

// Events subscribes to bus events under the given namespace prefix ("" for
// all). The returned function unsubscribes.
func (s *Session) Events(namespace string, bufSize int) (<-chan bus.Event, func()) {
	return s.bus.Subscribe(namespace, bufSize)
}

// Close tears the session down. In-flight request results are discarded, the
// engine stops and the channel closes. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.coord.Close()
		s.engine.Stop()
		s.manager.Disconnect()
		s.logger.Info("session closed", zap.String("user", s.userID))
	})
}
