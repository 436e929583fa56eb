package store

// PendingState tracks the local-only delivery state of a message. It is never
// sent to the server. A failed send does not get its own state: the optimistic
// entry is removed outright and the content handed back to the caller.
type PendingState string

const (
	PendingNone    PendingState = ""
	PendingSending PendingState = "sending"
)

// Preview is the conversation-list summary of the most recent message.
type Preview struct {
	Content   string
	SenderID  string
	Timestamp int64
}

// Conversation represents a two-party conversation.
type Conversation struct {
	Key          string
	ParticipantA string
	ParticipantB string
	Preview      *Preview
	Unread       int
	LastActivity int64
}

// Message represents a single chat message. ID is the server-assigned id once
// confirmed, or a locally-assigned temporary id while Pending is "sending".
type Message struct {
	ID              string
	ConversationKey string
	SenderID        string
	RecipientID     string
	Content         string
	Timestamp       int64 // unix milliseconds
	IsRead          bool
	ReadAt          int64 // unix milliseconds, 0 = unset
	Pending         PendingState
}
