// Package outbox coordinates user-initiated message actions against the REST
// API with optimistic local application: the store is updated first so the UI
// responds immediately, and the server's answer either confirms the change or
// rolls it back.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nestmate/chatsync/internal/bus"
	"github.com/nestmate/chatsync/internal/rest"
	"github.com/nestmate/chatsync/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrEmptyContent rejects whitespace-only sends before anything is staged.
	ErrEmptyContent = errors.New("message content is empty")

	// ErrSendInFlight rejects a send while a previous one is unresolved.
	ErrSendInFlight = errors.New("a send is already in flight")
)

// SendFailedError reports a rejected send. Content carries the message text so
// the caller can restore it into the composer.
type SendFailedError struct {
	Content string
	Err     error
}

func (e *SendFailedError) Error() string { return fmt.Sprintf("send failed: %v", e.Err) }
func (e *SendFailedError) Unwrap() error { return e.Err }

// API is the subset of the REST client the coordinator drives.
type API interface {
	SendMessage(ctx context.Context, req rest.SendRequest) (*rest.MessageRecord, error)
	MarkRead(ctx context.Context, messageIDs []string) error
	DeleteMessage(ctx context.Context, messageID string) error
	History(ctx context.Context, conversationID string) ([]rest.MessageRecord, error)
}

// Coordinator applies user actions optimistically and reconciles them with
// the server's response. After Close, responses still in flight are discarded
// without touching the store.
type Coordinator struct {
	store  *store.Store
	api    API
	bus    *bus.Bus
	userID string
	logger *zap.Logger

	mu       sync.Mutex
	inFlight bool

	closed atomic.Bool
}

// NewCoordinator creates a coordinator acting on behalf of userID.
func NewCoordinator(st *store.Store, api API, b *bus.Bus, userID string, logger *zap.Logger) *Coordinator {
	return &Coordinator{store: st, api: api, bus: b, userID: userID, logger: logger}
}

// Send stages content into the recipient's conversation and submits it to the
// server. On rejection the staged message is rolled back and the returned
// SendFailedError carries the content for recovery. Only one send may be in
// flight at a time.
func (c *Coordinator) Send(ctx context.Context, recipientID, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	c.inFlight = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	key := c.store.Touch(c.userID, recipientID)
	tempID := "tmp-" + uuid.NewString()
	now := time.Now()
	c.store.ApplyOptimisticSend(&store.Message{
		ID:              tempID,
		ConversationKey: key,
		SenderID:        c.userID,
		RecipientID:     recipientID,
		Content:         content,
		Timestamp:       now.UnixMilli(),
	})
	c.publish("message.upserted", map[string]string{"conversation": key, "msg_id": tempID})
	c.publish("chat.updated", key)

	rec, err := c.api.SendMessage(ctx, rest.SendRequest{
		ConversationID: key,
		SenderID:       c.userID,
		RecipientID:    recipientID,
		Content:        content,
	})
	if c.closed.Load() {
		return nil
	}
	if err != nil {
		text, _ := c.store.RollbackSend(tempID)
		if c.logger != nil {
			c.logger.Warn("send rejected", zap.Error(err), zap.String("conversation", key))
		}
		c.publish("message.send_failed", map[string]string{"conversation": key, "temp_id": tempID})
		c.publish("chat.updated", key)
		return &SendFailedError{Content: text, Err: err}
	}

	c.store.ConfirmSend(tempID, &store.Message{
		ID:              rec.ID,
		ConversationKey: key,
		SenderID:        c.userID,
		RecipientID:     recipientID,
		Content:         rec.Content,
		Timestamp:       rec.Timestamp,
		IsRead:          rec.IsRead,
		ReadAt:          rec.ReadAt,
	})
	c.publish("message.send_ack", map[string]string{"conversation": key, "temp_id": tempID, "msg_id": rec.ID})
	c.publish("chat.updated", key)
	return nil
}

// MarkRead acknowledges messageIDs on the server and, on success, marks them
// read locally and zeroes the conversation's unread count. Server-first so the
// counter never lies about what the sender was told. A failure is logged and
// returned; the next conversation open retries naturally.
func (c *Coordinator) MarkRead(ctx context.Context, conversationKey string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	err := c.api.MarkRead(ctx, messageIDs)
	if c.closed.Load() {
		return nil
	}
	if err != nil {
		if c.logger != nil {
			c.logger.Warn("mark-read failed", zap.Error(err), zap.String("conversation", conversationKey))
		}
		return err
	}
	c.store.ApplyReadReceipt(messageIDs, time.Now().UnixMilli())
	c.store.ResetUnread(conversationKey)
	c.publish("chat.updated", conversationKey)
	return nil
}

// Delete removes messageID locally, then asks the server to delete it. If the
// server refuses, the conversation's history is refetched so the store returns
// to ground truth instead of guessing at an undo.
func (c *Coordinator) Delete(ctx context.Context, conversationKey, messageID string) error {
	if c.store.ApplyDeleteConfirmed(messageID) {
		c.publish("message.deleted", map[string]string{"conversation": conversationKey, "msg_id": messageID})
		c.publish("chat.updated", conversationKey)
	}

	err := c.api.DeleteMessage(ctx, messageID)
	if c.closed.Load() {
		return nil
	}
	if err == nil {
		return nil
	}
	if c.logger != nil {
		c.logger.Warn("delete rejected, resyncing", zap.Error(err), zap.String("msg_id", messageID))
	}
	if rerr := c.Resync(ctx, conversationKey); rerr != nil && c.logger != nil {
		c.logger.Warn("resync after failed delete also failed", zap.Error(rerr))
	}
	return fmt.Errorf("delete message %s: %w", messageID, err)
}

// Resync replaces the conversation's loaded history with the server's copy.
// Pending optimistic messages survive the replacement.
func (c *Coordinator) Resync(ctx context.Context, conversationKey string) error {
	recs, err := c.api.History(ctx, conversationKey)
	if err != nil {
		return fmt.Errorf("fetch history for %s: %w", conversationKey, err)
	}
	if c.closed.Load() {
		return nil
	}
	history := make([]*store.Message, 0, len(recs))
	for _, r := range recs {
		history = append(history, recordToMessage(conversationKey, r))
	}
	c.store.ReplaceHistory(conversationKey, history)
	c.publish("chat.updated", conversationKey)
	return nil
}

// Close stops the coordinator from mutating the store. Requests already in
// flight complete against the server but their results are dropped.
func (c *Coordinator) Close() {
	c.closed.Store(true)
}

func (c *Coordinator) publish(kind string, payload any) {
	c.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}

func recordToMessage(conversationKey string, r rest.MessageRecord) *store.Message {
	return &store.Message{
		ID:              r.ID,
		ConversationKey: conversationKey,
		SenderID:        r.SenderID,
		RecipientID:     r.RecipientID,
		Content:         r.Content,
		Timestamp:       r.Timestamp,
		IsRead:          r.IsRead,
		ReadAt:          r.ReadAt,
	}
}
