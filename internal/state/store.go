package state

import (
	"sort"
	"sync"

	"github.com/lfelipesv/talkd/internal/model"
)

// Store is the in-memory view of conversations and messages for one viewer.
// The sync engine is its sole writer; everything else (local API handlers,
// the archive) only reads published snapshots. Mutating operations are
// individually atomic under the store lock, so a reader never observes a
// half-applied reconciliation (replace-in-place, never remove-then-insert).
type Store struct {
	mu       sync.RWMutex
	viewerID string

	conversations map[string]*model.Conversation

	// messages holds the ordered list only for conversations that have been
	// opened; closing a conversation drops its list. createdAt ascending.
	messages map[string][]model.Message

	// openID is the conversation currently on screen. It decides unread
	// accounting and guards stale loadMessages responses.
	openID string
}

// NewStore creates an empty store for the given viewer.
func NewStore(viewerID string) *Store {
	return &Store{
		viewerID:      viewerID,
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]model.Message),
	}
}

// ViewerID returns the identity the store is scoped to.
func (s *Store) ViewerID() string {
	return s.viewerID
}

// ReplaceConversations swaps in a fresh authoritative conversation list.
// Idempotent; safe on a refresh timer. Conversations absent from the new
// list disappear locally (remote deletion confirmed).
func (s *Store) ReplaceConversations(convs []model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := make(map[string]*model.Conversation, len(convs))
	for i := range convs {
		c := convs[i]
		fresh[c.ID] = &c
	}
	s.conversations = fresh

	for id := range s.messages {
		if _, ok := fresh[id]; !ok {
			delete(s.messages, id)
		}
	}
	if _, ok := fresh[s.openID]; s.openID != "" && !ok {
		s.openID = ""
	}
}

// UpsertConversation inserts or replaces a single conversation summary,
// used when a get-or-create call returns a conversation the list fetch has
// not seen yet.
func (s *Store) UpsertConversation(conv model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := conv
	s.conversations[c.ID] = &c
}

// Conversations returns a snapshot sorted by updatedAt descending.
func (s *Store) Conversations() []model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		out = append(out, *c)
	}
	sortConversations(out)
	return out
}

// Conversation returns one conversation summary, or false.
func (s *Store) Conversation(id string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return model.Conversation{}, false
	}
	return *c, true
}

// Open marks a conversation as the one on screen. Returns false if the
// conversation is unknown.
func (s *Store) Open(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conversationID]; !ok {
		return false
	}
	s.openID = conversationID
	return true
}

// Close clears the open-conversation pointer and drops its message list.
// Returns the conversation that was open, if any.
func (s *Store) Close() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	closed := s.openID
	if closed != "" {
		delete(s.messages, closed)
	}
	s.openID = ""
	return closed
}

// OpenID returns the currently open conversation id, or "".
func (s *Store) OpenID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openID
}

// MarkRead zeroes the unread counter for a conversation. Opening a
// conversation deliberately does not do this; read acknowledgment is an
// explicit action.
func (s *Store) MarkRead(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[conversationID]; ok {
		c.UnreadCount = 0
	}
}

// TotalUnread returns the sum of unread counters across conversations.
func (s *Store) TotalUnread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, c := range s.conversations {
		total += c.UnreadCount
	}
	return total
}

func sortConversations(convs []model.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		if convs[i].UpdatedAt != convs[j].UpdatedAt {
			return convs[i].UpdatedAt > convs[j].UpdatedAt
		}
		return convs[i].ID < convs[j].ID
	})
}

// touchSummary updates a conversation's denormalized last message and
// ordering key. Older out-of-order events never regress the key.
// Caller holds the lock.
func (s *Store) touchSummary(conversationID string, msg *model.Message) bool {
	c, ok := s.conversations[conversationID]
	if !ok {
		return false
	}
	if msg.CreatedAt < c.UpdatedAt {
		return false
	}
	m := *msg
	c.LastMessage = &m
	c.UpdatedAt = msg.CreatedAt
	return true
}
