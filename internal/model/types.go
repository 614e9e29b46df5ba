package model

// Message lifecycle states. A pending message was created locally and has
// not been acknowledged by the backend yet; confirmation replaces it in
// place with the server copy. A failed send removes the entry entirely.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
)

// Member roles within a conversation.
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// ChatUser is a user identity as the backend knows it. Instances are only
// ever mutated by presence events; this subsystem never creates or deletes
// them.
type ChatUser struct {
	ID           string `json:"id"`
	DisplayName  string `json:"displayName"`
	Username     string `json:"username,omitempty"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
	IsOnline     bool   `json:"isOnline"`
	LastActiveAt int64  `json:"lastActiveAt"`
}

// Member is a conversation membership reference.
type Member struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// Conversation is the per-viewer summary of a chat. UpdatedAt is the
// ordering key: last-message time, or creation time when empty.
type Conversation struct {
	ID          string   `json:"id"`
	IsGroup     bool     `json:"isGroup"`
	Name        string   `json:"name,omitempty"`
	Members     []Member `json:"members"`
	LastMessage *Message `json:"lastMessage"`
	CreatedAt   int64    `json:"createdAt"`
	UpdatedAt   int64    `json:"updatedAt"`
	UnreadCount int      `json:"unreadCount"`
	IsPinned    bool     `json:"isPinned"`
}

// Message is a single chat message. ClientKey is a client-generated
// idempotency key attached to optimistic sends and echoed back by the
// backend; it is the primary handle for de-duplicating a local send against
// its own push fan-out.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	Sender         ChatUser      `json:"sender"`
	Content        string        `json:"content"`
	MediaURL       string        `json:"mediaUrl,omitempty"`
	ClientKey      string        `json:"clientKey,omitempty"`
	CreatedAt      int64         `json:"createdAt"`
	UpdatedAt      int64         `json:"updatedAt"`
	SeenBy         []SeenReceipt `json:"seenBy,omitempty"`
	Status         string        `json:"-"`
}

// SeenReceipt records that a user has seen a message. Append-only, unique
// per (message, user).
type SeenReceipt struct {
	UserID string `json:"userId"`
	SeenAt int64  `json:"seenAt"`
}

// TypingStatus is the ephemeral typing indicator for one user in one
// conversation. Superseded by the next status for the same key.
type TypingStatus struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// OnlineStatus is the ephemeral online flag for a user. Last write wins.
type OnlineStatus struct {
	UserID       string `json:"userId"`
	IsOnline     bool   `json:"isOnline"`
	LastActiveAt int64  `json:"lastActiveAt"`
}

// SeenEvent is the push payload announcing that a user has seen a message.
type SeenEvent struct {
	MessageID   string `json:"messageId"`
	UserID      string `json:"userId"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	SeenAt      int64  `json:"seenAt"`
}
