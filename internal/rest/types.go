package rest

// ConversationRecord is the server-side record of a conversation.
type ConversationRecord struct {
	ID           string         `json:"id"`
	Participants []string       `json:"participants"`
	Preview      *PreviewRecord `json:"preview,omitempty"`
	Unread       int            `json:"unread"`
}

// PreviewRecord summarizes a conversation's most recent message.
type PreviewRecord struct {
	Content   string `json:"content"`
	SenderID  string `json:"senderId"`
	Timestamp int64  `json:"timestamp"`
}

// MessageRecord is the canonical server-side record of a message.
type MessageRecord struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	RecipientID    string `json:"recipientId"`
	Content        string `json:"content"`
	Timestamp      int64  `json:"timestamp"`
	IsRead         bool   `json:"isRead"`
	ReadAt         int64  `json:"readAt,omitempty"`
}

// SendRequest is the payload for sending a message.
type SendRequest struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	RecipientID    string `json:"recipientId"`
	Content        string `json:"content"`
}

// MarkReadRequest acknowledges a batch of messages.
type MarkReadRequest struct {
	MessageIDs []string `json:"messageIds"`
}
