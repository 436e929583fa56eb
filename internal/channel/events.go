package channel

import "encoding/json"

// Envelope is the wire format of every push frame: a named event kind and a
// serialized payload.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Push event kinds emitted by the server.
const (
	EventMessageNew     = "message.new"
	EventMessageRead    = "message.read"
	EventMessageDeleted = "message.deleted"
	EventTyping         = "typing"
)

// MessageNewPayload announces a message delivered to one of the user's
// conversations.
type MessageNewPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	SenderID       string `json:"senderId"`
	RecipientID    string `json:"recipientId"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
}

// MessageReadPayload announces that a batch of messages was read.
type MessageReadPayload struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
	ReadAt         int64    `json:"readAt"`
}

// MessageDeletedPayload announces a message removal.
type MessageDeletedPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// TypingPayload announces that a participant started or stopped typing.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}
