package presence

import (
	"sync"
	"time"

	"github.com/lfelipesv/talkd/internal/model"
)

// DefaultTypingTTL is the defensive expiry for remote typing state. The
// protocol sends an explicit typing=false, but that event can be lost on a
// flaky channel; the TTL self-heals a stuck indicator.
const DefaultTypingTTL = 10 * time.Second

type typingKey struct {
	ConversationID string
	UserID         string
}

type typingEntry struct {
	timer *time.Timer
}

// Tracker holds ephemeral presence state: who is online and who is typing
// where. Nothing here is authoritative or persisted; it is rebuilt from
// events and the periodic presence refresh.
type Tracker struct {
	mu     sync.RWMutex
	online map[string]model.OnlineStatus
	typing map[typingKey]*typingEntry
	ttl    time.Duration
}

// NewTracker creates a tracker with the given typing TTL; zero means
// DefaultTypingTTL.
func NewTracker(typingTTL time.Duration) *Tracker {
	if typingTTL <= 0 {
		typingTTL = DefaultTypingTTL
	}
	return &Tracker{
		online: make(map[string]model.OnlineStatus),
		typing: make(map[typingKey]*typingEntry),
		ttl:    typingTTL,
	}
}

// ApplyTyping applies a typing event. A true status arms (or re-arms) the
// TTL; false removes the entry immediately. Each event supersedes the
// previous one for the same (conversation, user) key.
func (t *Tracker) ApplyTyping(ts model.TypingStatus) {
	key := typingKey{ConversationID: ts.ConversationID, UserID: ts.UserID}

	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.typing[key]; ok {
		entry.timer.Stop()
		delete(t.typing, key)
	}
	if !ts.IsTyping {
		return
	}
	t.typing[key] = &typingEntry{
		timer: time.AfterFunc(t.ttl, func() { t.expire(key) }),
	}
}

func (t *Tracker) expire(key typingKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.typing, key)
}

// TypingIn returns the ids of users currently typing in a conversation.
func (t *Tracker) TypingIn(conversationID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var users []string
	for key := range t.typing {
		if key.ConversationID == conversationID {
			users = append(users, key.UserID)
		}
	}
	return users
}

// ApplyOnline applies an online status update. Last write wins per user;
// presence is eventually consistent by design.
func (t *Tracker) ApplyOnline(o model.OnlineStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online[o.UserID] = o
}

// ReplaceOnline rebuilds the online set from a full presence fetch.
func (t *Tracker) ReplaceOnline(users []model.ChatUser) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = make(map[string]model.OnlineStatus, len(users))
	for _, u := range users {
		t.online[u.ID] = model.OnlineStatus{
			UserID:       u.ID,
			IsOnline:     u.IsOnline,
			LastActiveAt: u.LastActiveAt,
		}
	}
}

// IsOnline reports the last known online flag for a user.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online[userID].IsOnline
}

// Online returns a snapshot of users currently flagged online.
func (t *Tracker) Online() []model.OnlineStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []model.OnlineStatus
	for _, o := range t.online {
		if o.IsOnline {
			out = append(out, o)
		}
	}
	return out
}

// ClearConversation drops all typing state for a conversation; called when
// it is closed.
func (t *Tracker) ClearConversation(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, entry := range t.typing {
		if key.ConversationID == conversationID {
			entry.timer.Stop()
			delete(t.typing, key)
		}
	}
}

// Reset drops all typing state; called on channel disconnect, since stop
// events can no longer arrive.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, entry := range t.typing {
		entry.timer.Stop()
		delete(t.typing, key)
	}
}
