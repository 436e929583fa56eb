package store

import (
	"slices"
	"sort"
	"sync"
)

// ConversationKey derives the deterministic conversation id for two
// participants: ids sorted, joined with ":". Either party can compute it
// without a server round trip, before the conversation exists server-side.
func ConversationKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// Store is the canonical in-memory representation of conversations and their
// messages. All mutations are idempotent by message id and atomic from the
// perspective of any reader: a message is never observable as both pending
// and confirmed.
type Store struct {
	mu       sync.RWMutex
	convs    map[string]*Conversation
	msgs     map[string][]*Message // per conversation, timestamp ascending
	byID     map[string]*Message   // message id -> message, O(1) replace/rollback
	selected string
}

// New creates an empty store.
func New() *Store {
	return &Store{
		convs: make(map[string]*Conversation),
		msgs:  make(map[string][]*Message),
		byID:  make(map[string]*Message),
	}
}

// Touch ensures a conversation for the two participants exists and returns
// its key. Creation is idempotent; referencing a not-yet-persisted
// conversation is valid.
func (s *Store) Touch(a, b string) string {
	key := ConversationKey(a, b)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureConv(key, a, b)
	return key
}

// Seed populates a conversation's summary from the server's record during
// startup, before any history is loaded. Returns the conversation key.
func (s *Store) Seed(a, b string, preview *Preview, unread int) string {
	key := ConversationKey(a, b)
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.ensureConv(key, a, b)
	if preview != nil {
		p := *preview
		c.Preview = &p
		if p.Timestamp > c.LastActivity {
			c.LastActivity = p.Timestamp
		}
	}
	c.Unread = unread
	return key
}

// Select marks a conversation as the one the user is actively viewing.
// An empty key deselects.
func (s *Store) Select(key string) {
	s.mu.Lock()
	s.selected = key
	s.mu.Unlock()
}

// Selected returns the key of the actively viewed conversation, or "".
func (s *Store) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// ApplyIncoming inserts a server-confirmed message in timestamp order.
// Returns false (no-op) if the id is already present, so re-delivery under
// at-least-once semantics cannot duplicate a message.
func (s *Store) ApplyIncoming(m *Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[m.ID]; ok {
		return false
	}
	cp := *m
	cp.Pending = PendingNone
	s.ensureConv(cp.ConversationKey, cp.SenderID, cp.RecipientID)
	s.insertOrdered(&cp)
	s.refreshPreview(cp.ConversationKey)
	return true
}

// ApplyOptimisticSend inserts a locally authored message with a temporary id
// and PendingState "sending". Idempotent on the temporary id.
func (s *Store) ApplyOptimisticSend(m *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[m.ID]; ok {
		return
	}
	cp := *m
	cp.Pending = PendingSending
	s.ensureConv(cp.ConversationKey, cp.SenderID, cp.RecipientID)
	s.insertOrdered(&cp)
	s.refreshPreview(cp.ConversationKey)
}

// ConfirmSend replaces the optimistic entry identified by tempID (never by
// content or timestamp) with the server-confirmed record, in the same list
// position. If the confirmed id already arrived through the push channel the
// temporary entry is dropped instead. Returns false if tempID is unknown.
func (s *Store) ConfirmSend(tempID string, confirmed *Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[tempID]
	if !ok {
		return false
	}
	if _, dup := s.byID[confirmed.ID]; dup {
		// The push channel already delivered the confirmed message.
		s.removeLocked(m)
		return true
	}
	delete(s.byID, tempID)
	m.ID = confirmed.ID
	m.Timestamp = confirmed.Timestamp
	m.IsRead = confirmed.IsRead
	m.ReadAt = confirmed.ReadAt
	m.Pending = PendingNone
	s.byID[m.ID] = m
	s.refreshPreview(m.ConversationKey)
	return true
}

// RollbackSend removes the optimistic entry and returns its content so the
// caller can restore the user's input for retry.
func (s *Store) RollbackSend(tempID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[tempID]
	if !ok {
		return "", false
	}
	s.removeLocked(m)
	s.refreshPreview(m.ConversationKey)
	return m.Content, true
}

// ApplyDeleteConfirmed removes a message by id. The same path serves
// remote-initiated deletions and locally confirmed ones. No-op if absent.
func (s *Store) ApplyDeleteConfirmed(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return false
	}
	s.removeLocked(m)
	s.refreshPreview(m.ConversationKey)
	return true
}

// ApplyReadReceipt marks the given ids as read. IsRead only ever moves
// false -> true; ids not currently loaded are ignored. Returns how many
// messages changed state.
func (s *Store) ApplyReadReceipt(ids []string, readAt int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, id := range ids {
		m, ok := s.byID[id]
		if !ok || m.IsRead {
			continue
		}
		m.IsRead = true
		m.ReadAt = readAt
		changed++
	}
	return changed
}

// IncrementUnread bumps the unread counter of a conversation.
func (s *Store) IncrementUnread(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[key]; ok {
		c.Unread++
	}
}

// SetUnread sets the unread counter, used when seeding from the server.
func (s *Store) SetUnread(key string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[key]; ok {
		c.Unread = n
	}
}

// ResetUnread zeroes the unread counter after acknowledgment.
func (s *Store) ResetUnread(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[key]; ok {
		c.Unread = 0
	}
}

// ReplaceHistory swaps a conversation's message list for the server-canonical
// history. Locally pending messages (not on the server yet) are retained.
func (s *Store) ReplaceHistory(key string, history []*Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*Message
	for _, m := range s.msgs[key] {
		if m.Pending != PendingNone {
			pending = append(pending, m)
			continue
		}
		delete(s.byID, m.ID)
	}
	s.msgs[key] = nil

	sorted := make([]*Message, 0, len(history))
	for _, m := range history {
		cp := *m
		cp.ConversationKey = key
		cp.Pending = PendingNone
		sorted = append(sorted, &cp)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })
	for _, m := range sorted {
		if _, ok := s.byID[m.ID]; ok {
			continue
		}
		s.ensureConv(key, m.SenderID, m.RecipientID)
		s.msgs[key] = append(s.msgs[key], m)
		s.byID[m.ID] = m
	}
	for _, m := range pending {
		s.insertOrdered(m)
	}
	s.refreshPreview(key)
}

// Conversations returns a snapshot ordered by most-recent activity.
func (s *Store) Conversations() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		cp := *c
		if c.Preview != nil {
			p := *c.Preview
			cp.Preview = &p
		}
		out = append(out, cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastActivity > out[j].LastActivity })
	return out
}

// Conversation returns a snapshot of a single conversation, or nil.
func (s *Store) Conversation(key string) *Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[key]
	if !ok {
		return nil
	}
	cp := *c
	if c.Preview != nil {
		p := *c.Preview
		cp.Preview = &p
	}
	return &cp
}

// Messages returns a snapshot of a conversation's messages in timestamp
// order (ties retain arrival order).
func (s *Store) Messages(key string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.msgs[key]
	out := make([]Message, len(list))
	for i, m := range list {
		out[i] = *m
	}
	return out
}

// UnreadIncoming returns the ids of unread messages addressed to selfID in
// the given conversation, oldest first. Used to acknowledge a conversation
// when it is opened.
func (s *Store) UnreadIncoming(key, selfID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for _, m := range s.msgs[key] {
		if m.RecipientID == selfID && !m.IsRead && m.Pending == PendingNone {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// ensureConv creates the conversation record if absent. Caller holds mu.
func (s *Store) ensureConv(key, a, b string) *Conversation {
	if c, ok := s.convs[key]; ok {
		return c
	}
	if ConversationKey(a, b) != key {
		// Participants unknown for this key; keep it addressable anyway.
		a, b = "", ""
	}
	pa, pb := a, b
	if pb < pa {
		pa, pb = pb, pa
	}
	c := &Conversation{Key: key, ParticipantA: pa, ParticipantB: pb}
	s.convs[key] = c
	return c
}

// insertOrdered inserts in timestamp order, after any equal timestamps so
// that ties retain arrival order. Caller holds mu.
func (s *Store) insertOrdered(m *Message) {
	list := s.msgs[m.ConversationKey]
	i := len(list)
	for i > 0 && list[i-1].Timestamp > m.Timestamp {
		i--
	}
	s.msgs[m.ConversationKey] = slices.Insert(list, i, m)
	s.byID[m.ID] = m
}

// removeLocked removes a message from its list and the id index. Caller holds mu.
func (s *Store) removeLocked(m *Message) {
	list := s.msgs[m.ConversationKey]
	for i, cur := range list {
		if cur.ID == m.ID {
			s.msgs[m.ConversationKey] = slices.Delete(list, i, i+1)
			break
		}
	}
	delete(s.byID, m.ID)
}

// refreshPreview recomputes the conversation summary from the newest message.
// Caller holds mu.
func (s *Store) refreshPreview(key string) {
	c, ok := s.convs[key]
	if !ok {
		return
	}
	list := s.msgs[key]
	if len(list) == 0 {
		c.Preview = nil
		return
	}
	last := list[len(list)-1]
	c.Preview = &Preview{
		Content:   last.Content,
		SenderID:  last.SenderID,
		Timestamp: last.Timestamp,
	}
	if last.Timestamp > c.LastActivity {
		c.LastActivity = last.Timestamp
	}
}
