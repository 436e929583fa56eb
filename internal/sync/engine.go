// Package sync applies inbound push events to the store under the engine's
// reconciliation policy. Events arrive through the bus and are processed by a
// single goroutine, one at a time, so store mutations driven by the push
// channel never interleave.
package sync

import (
	"context"
	"time"

	"github.com/nestmate/chatsync/internal/bus"
	"github.com/nestmate/chatsync/internal/channel"
	"github.com/nestmate/chatsync/internal/store"
	"go.uber.org/zap"
)

// Acker acknowledges messages as read on the server (best effort).
type Acker interface {
	MarkRead(ctx context.Context, conversationKey string, messageIDs []string) error
}

// Resyncer refetches a conversation's history to restore ground truth.
type Resyncer interface {
	Resync(ctx context.Context, conversationKey string) error
}

// Engine consumes "channel." events from the bus and reconciles the store.
type Engine struct {
	store    *store.Store
	bus      *bus.Bus
	acker    Acker
	resyncer Resyncer
	userID   string
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewEngine creates a sync engine for the given user. acker and resyncer may
// be nil (auto-acknowledgment and reconnect catch-up are then skipped).
func NewEngine(st *store.Store, b *bus.Bus, userID string, acker Acker, resyncer Resyncer, logger *zap.Logger) *Engine {
	return &Engine{
		store:    st,
		bus:      b,
		acker:    acker,
		resyncer: resyncer,
		userID:   userID,
		logger:   logger,
	}
}

// Start subscribes to inbound push events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("channel.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case "channel.message_new":
		p, ok := evt.Payload.(*channel.MessageNewPayload)
		if !ok {
			return
		}
		e.handleNewMessage(ctx, p)
	case "channel.message_read":
		p, ok := evt.Payload.(*channel.MessageReadPayload)
		if !ok {
			return
		}
		e.handleReadReceipt(p)
	case "channel.message_deleted":
		p, ok := evt.Payload.(*channel.MessageDeletedPayload)
		if !ok {
			return
		}
		e.handleDeleted(p)
	case "channel.typing":
		// No store mutation; surfaced to the UI as a conversation-level event.
		e.bus.Publish(bus.Event{Kind: "chat.typing", Timestamp: time.Now(), Payload: evt.Payload})
	case "channel.connected":
		e.handleConnected(ctx)
	}
}

func (e *Engine) handleNewMessage(ctx context.Context, p *channel.MessageNewPayload) {
	inserted := e.store.ApplyIncoming(&store.Message{
		ID:              p.MessageID,
		ConversationKey: p.ConversationID,
		SenderID:        p.SenderID,
		RecipientID:     p.RecipientID,
		Content:         p.Content,
		Timestamp:       p.Timestamp,
	})
	if !inserted {
		// At-least-once delivery: we already have this id.
		return
	}

	if p.ConversationID == e.store.Selected() {
		// The user is actively viewing this conversation; acknowledge
		// the message right away instead of counting it unread.
		if e.acker != nil && p.RecipientID == e.userID {
			key, id := p.ConversationID, p.MessageID
			go func() {
				if err := e.acker.MarkRead(ctx, key, []string{id}); err != nil && e.logger != nil {
					e.logger.Warn("auto-acknowledge failed", zap.Error(err), zap.String("msg_id", id))
				}
			}()
		}
	} else if p.SenderID != e.userID {
		e.store.IncrementUnread(p.ConversationID)
	}

	now := time.Now()
	e.bus.Publish(bus.Event{
		Kind:      "message.upserted",
		Timestamp: now,
		Payload:   map[string]string{"conversation": p.ConversationID, "msg_id": p.MessageID},
	})
	e.bus.Publish(bus.Event{Kind: "chat.updated", Timestamp: now, Payload: p.ConversationID})
}

func (e *Engine) handleReadReceipt(p *channel.MessageReadPayload) {
	// Ids referring to messages not currently loaded are ignored; reopening
	// the conversation refetches history and restores ground truth.
	if e.store.ApplyReadReceipt(p.MessageIDs, p.ReadAt) == 0 {
		return
	}
	e.bus.Publish(bus.Event{
		Kind:      "message.read_applied",
		Timestamp: time.Now(),
		Payload:   p.ConversationID,
	})
}

func (e *Engine) handleDeleted(p *channel.MessageDeletedPayload) {
	if !e.store.ApplyDeleteConfirmed(p.MessageID) {
		return
	}
	now := time.Now()
	e.bus.Publish(bus.Event{
		Kind:      "message.deleted",
		Timestamp: now,
		Payload:   map[string]string{"conversation": p.ConversationID, "msg_id": p.MessageID},
	})
	e.bus.Publish(bus.Event{Kind: "chat.updated", Timestamp: now, Payload: p.ConversationID})
}

// handleConnected catches up the actively viewed conversation after a
// reconnect, since push events may have been missed while the channel was down.
func (e *Engine) handleConnected(ctx context.Context) {
	key := e.store.Selected()
	if key == "" || e.resyncer == nil {
		return
	}
	go func() {
		if err := e.resyncer.Resync(ctx, key); err != nil && e.logger != nil {
			e.logger.Warn("post-reconnect resync failed", zap.Error(err), zap.String("conversation", key))
		}
	}()
}
