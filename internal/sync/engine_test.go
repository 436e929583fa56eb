package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nestmate/chatsync/internal/bus"
	"github.com/nestmate/chatsync/internal/channel"
	"github.com/nestmate/chatsync/internal/store"
)

type mockAcker struct {
	mu    sync.Mutex
	calls [][]string
}

func (m *mockAcker) MarkRead(_ context.Context, _ string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, ids)
	return nil
}

func (m *mockAcker) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockResyncer struct {
	mu   sync.Mutex
	keys []string
}

func (m *mockResyncer) Resync(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, key)
	return nil
}

func (m *mockResyncer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

func startEngine(t *testing.T, st *store.Store, b *bus.Bus, userID string, acker Acker, resyncer Resyncer) *Engine {
	t.Helper()
	e := NewEngine(st, b, userID, acker, resyncer, nil)
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	return e
}

func publishNew(b *bus.Bus, p *channel.MessageNewPayload) {
	b.Publish(bus.Event{Kind: "channel.message_new", Timestamp: time.Now(), Payload: p})
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestIncomingMessageStoredAndAnnounced(t *testing.T) {
	st := store.New()
	b := bus.New()
	startEngine(t, st, b, "bob", nil, nil)

	ch, unsub := b.Subscribe("message.", 8)
	defer unsub()

	key := store.ConversationKey("alice", "bob")
	st.Touch("alice", "bob")
	publishNew(b, &channel.MessageNewPayload{
		ConversationID: key,
		MessageID:      "m1",
		SenderID:       "alice",
		RecipientID:    "bob",
		Content:        "hi there",
		Timestamp:      1000,
	})

	select {
	case evt := <-ch:
		if evt.Kind != "message.upserted" {
			t.Fatalf("expected message.upserted, got %s", evt.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message.upserted")
	}

	msgs := st.Messages(key)
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Fatalf("expected m1 in store, got %+v", msgs)
	}
}

func TestDuplicateDeliveryCountedOnce(t *testing.T) {
	st := store.New()
	b := bus.New()
	startEngine(t, st, b, "bob", nil, nil)

	key := st.Touch("alice", "bob")
	p := &channel.MessageNewPayload{
		ConversationID: key,
		MessageID:      "m1",
		SenderID:       "alice",
		RecipientID:    "bob",
		Content:        "hi",
		Timestamp:      1000,
	}
	publishNew(b, p)
	publishNew(b, p)
	publishNew(b, p)

	waitUntil(t, func() bool { return len(st.Messages(key)) == 1 }, "message never stored")
	time.Sleep(50 * time.Millisecond)

	if got := len(st.Messages(key)); got != 1 {
		t.Fatalf("expected 1 message after redelivery, got %d", got)
	}
	conv := st.Conversation(key)
	if conv.Unread != 1 {
		t.Fatalf("expected unread 1 after redelivery, got %d", conv.Unread)
	}
}

func TestSelectedConversationAutoAcknowledges(t *testing.T) {
	st := store.New()
	b := bus.New()
	acker := &mockAcker{}
	startEngine(t, st, b, "bob", acker, nil)

	key := st.Touch("alice", "bob")
	st.Select(key)
	publishNew(b, &channel.MessageNewPayload{
		ConversationID: key,
		MessageID:      "m1",
		SenderID:       "alice",
		RecipientID:    "bob",
		Content:        "hi",
		Timestamp:      1000,
	})

	waitUntil(t, func() bool { return acker.count() == 1 }, "auto-acknowledge never fired")
	conv := st.Conversation(key)
	if conv.Unread != 0 {
		t.Fatalf("expected unread 0 for selected conversation, got %d", conv.Unread)
	}
}

func TestOwnEchoDoesNotIncrementUnread(t *testing.T) {
	st := store.New()
	b := bus.New()
	startEngine(t, st, b, "bob", nil, nil)

	key := st.Touch("alice", "bob")
	publishNew(b, &channel.MessageNewPayload{
		ConversationID: key,
		MessageID:      "m1",
		SenderID:       "bob",
		RecipientID:    "alice",
		Content:        "from my other tab",
		Timestamp:      1000,
	})

	waitUntil(t, func() bool { return len(st.Messages(key)) == 1 }, "message never stored")
	conv := st.Conversation(key)
	if conv.Unread != 0 {
		t.Fatalf("expected unread 0 for own echo, got %d", conv.Unread)
	}
}

func TestReadReceiptApplied(t *testing.T) {
	st := store.New()
	b := bus.New()
	startEngine(t, st, b, "alice", nil, nil)

	key := st.Touch("alice", "bob")
	st.ApplyIncoming(&store.Message{
		ID: "m1", ConversationKey: key, SenderID: "alice", RecipientID: "bob",
		Content: "hi", Timestamp: 1000,
	})

	ch, unsub := b.Subscribe("message.read_applied", 4)
	defer unsub()

	b.Publish(bus.Event{Kind: "channel.message_read", Timestamp: time.Now(), Payload: &channel.MessageReadPayload{
		ConversationID: key,
		MessageIDs:     []string{"m1", "unknown"},
		ReadAt:         2000,
	}})

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message.read_applied")
	}
	msgs := st.Messages(key)
	if !msgs[0].IsRead || msgs[0].ReadAt != 2000 {
		t.Fatalf("expected m1 read at 2000, got %+v", msgs[0])
	}
}

func TestRemoteDeleteRemovesMessage(t *testing.T) {
	st := store.New()
	b := bus.New()
	startEngine(t, st, b, "alice", nil, nil)

	key := st.Touch("alice", "bob")
	st.ApplyIncoming(&store.Message{
		ID: "m1", ConversationKey: key, SenderID: "bob", RecipientID: "alice",
		Content: "oops", Timestamp: 1000,
	})

	b.Publish(bus.Event{Kind: "channel.message_deleted", Timestamp: time.Now(), Payload: &channel.MessageDeletedPayload{
		ConversationID: key,
		MessageID:      "m1",
	}})

	waitUntil(t, func() bool { return len(st.Messages(key)) == 0 }, "message never removed")
}

func TestReconnectResyncsSelectedConversation(t *testing.T) {
	st := store.New()
	b := bus.New()
	rs := &mockResyncer{}
	startEngine(t, st, b, "alice", nil, rs)

	key := st.Touch("alice", "bob")
	st.Select(key)

	b.Publish(bus.Event{Kind: "channel.connected", Timestamp: time.Now(), Payload: "alice"})
	waitUntil(t, func() bool { return rs.count() == 1 }, "resync never fired")
}

func TestTypingForwardedToChat(t *testing.T) {
	st := store.New()
	b := bus.New()
	startEngine(t, st, b, "alice", nil, nil)

	ch, unsub := b.Subscribe("chat.typing", 4)
	defer unsub()

	b.Publish(bus.Event{Kind: "channel.typing", Timestamp: time.Now(), Payload: &channel.TypingPayload{
		ConversationID: "a:b",
		UserID:         "bob",
	}})

	select {
	case evt := <-ch:
		p, ok := evt.Payload.(*channel.TypingPayload)
		if !ok || p.UserID != "bob" {
			t.Fatalf("unexpected typing payload: %+v", evt.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for chat.typing")
	}
}
