package state

import (
	"sort"

	"github.com/lfelipesv/talkd/internal/model"
)

// PushResult describes how an inbound push message was applied.
type PushResult struct {
	// Deduplicated is true when the push matched an existing optimistic or
	// just-confirmed entry and overwrote it in place instead of appending.
	Deduplicated bool
	// UnreadIncremented is true when the conversation's unread counter grew.
	UnreadIncremented bool
	// ConversationKnown is false when the push referenced a conversation
	// the store has never seen; the caller should schedule a full refresh.
	ConversationKnown bool
}

// ReplaceMessages swaps in the authoritative message history for the open
// conversation. Responses for a conversation that is no longer open are
// discarded (stale-response guard) and the call reports false.
//
// Pending optimistic entries whose client key is absent from the fetched
// history are carried over, so a refresh landing mid-send does not make the
// user's own message vanish before its confirmation.
func (s *Store) ReplaceMessages(conversationID string, msgs []model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conversationID != s.openID {
		return false
	}

	fetched := make(map[string]struct{}, len(msgs))
	list := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Status == "" {
			m.Status = model.StatusConfirmed
		}
		if m.ClientKey != "" {
			fetched[m.ClientKey] = struct{}{}
		}
		list = append(list, m)
	}
	for _, m := range s.messages[conversationID] {
		if m.Status != model.StatusPending {
			continue
		}
		if _, ok := fetched[m.ClientKey]; !ok {
			list = append(list, m)
		}
	}

	sortMessages(list)
	s.messages[conversationID] = list
	return true
}

// Messages returns a snapshot of the message list for a conversation,
// createdAt ascending.
func (s *Store) Messages(conversationID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Message(nil), s.messages[conversationID]...)
}

// ApplyOptimistic appends a locally created message and optimistically
// reorders the conversation list, so the send is visible with zero latency.
func (s *Store) ApplyOptimistic(msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.Status = model.StatusPending
	s.messages[msg.ConversationID] = insertSorted(s.messages[msg.ConversationID], msg)
	s.touchSummary(msg.ConversationID, &msg)
}

// ReconcileConfirmed replaces the optimistic entry identified by clientKey
// with its server-confirmed counterpart, preserving list position. The
// entry may already be confirmed if the push fan-out won the race; the
// server copy still overwrites it. Returns false when no entry matched (the
// message is then upserted by id so the confirmation is never lost).
func (s *Store) ReconcileConfirmed(clientKey string, confirmed model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	confirmed.Status = model.StatusConfirmed
	list := s.messages[confirmed.ConversationID]

	matched := false
	for i := range list {
		if list[i].ClientKey == clientKey && clientKey != "" {
			list[i] = confirmed
			matched = true
			break
		}
	}
	if !matched {
		for i := range list {
			if list[i].ID == confirmed.ID {
				list[i] = confirmed
				matched = true
				break
			}
		}
	}
	if !matched && s.openID == confirmed.ConversationID {
		s.messages[confirmed.ConversationID] = insertSorted(list, confirmed)
	}

	// The summary may still carry the optimistic copy.
	if c, ok := s.conversations[confirmed.ConversationID]; ok && c.LastMessage != nil {
		if c.LastMessage.ClientKey == clientKey || c.LastMessage.ID == confirmed.ID {
			m := confirmed
			c.LastMessage = &m
			if confirmed.CreatedAt > c.UpdatedAt {
				c.UpdatedAt = confirmed.CreatedAt
			}
		}
	}
	return matched
}

// RollbackOptimistic removes a failed optimistic entry entirely. The
// speculative conversation reordering is discarded separately by reloading
// the conversation list.
func (s *Store) RollbackOptimistic(clientKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for convID, list := range s.messages {
		for i := range list {
			if list[i].ClientKey == clientKey && list[i].Status == model.StatusPending {
				s.messages[convID] = append(list[:i:i], list[i+1:]...)
				return true
			}
		}
	}
	return false
}

// ApplyPush merges an inbound fan-out message. For the open conversation it
// de-duplicates against the optimistic set — by client key when the payload
// carries one, by (conversation, sender, content) otherwise — so a single
// logical send never renders twice. The conversation summary is always
// updated, and unread grows only for messages from others in conversations
// that are not on screen.
func (s *Store) ApplyPush(msg *model.Message) PushResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res PushResult
	m := *msg
	m.Status = model.StatusConfirmed

	_, res.ConversationKnown = s.conversations[m.ConversationID]
	if !res.ConversationKnown {
		// First sight of this conversation: synthesize a minimal summary so
		// ordering and unread stay correct until the next full refresh.
		s.conversations[m.ConversationID] = &model.Conversation{
			ID:        m.ConversationID,
			CreatedAt: m.CreatedAt,
		}
	}

	open := s.openID == m.ConversationID
	if open {
		list := s.messages[m.ConversationID]
		if i := matchExisting(list, &m); i >= 0 {
			list[i] = m
			res.Deduplicated = true
		} else {
			s.messages[m.ConversationID] = insertSorted(list, m)
		}
	}

	s.touchSummary(m.ConversationID, &m)

	if !open && m.SenderID != s.viewerID {
		s.conversations[m.ConversationID].UnreadCount++
		res.UnreadIncremented = true
	}
	return res
}

// ApplySeen appends a seen receipt to a message, idempotent on the
// (message, user) pair.
func (s *Store) ApplySeen(messageID string, receipt model.SeenReceipt) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := false
	for _, list := range s.messages {
		for i := range list {
			if list[i].ID != messageID {
				continue
			}
			if hasReceipt(list[i].SeenBy, receipt.UserID) {
				return false
			}
			list[i].SeenBy = append(list[i].SeenBy, receipt)
			applied = true
			break
		}
	}

	for _, c := range s.conversations {
		if c.LastMessage != nil && c.LastMessage.ID == messageID {
			if !hasReceipt(c.LastMessage.SeenBy, receipt.UserID) {
				c.LastMessage.SeenBy = append(c.LastMessage.SeenBy, receipt)
				applied = true
			}
		}
	}
	return applied
}

func hasReceipt(seenBy []model.SeenReceipt, userID string) bool {
	for _, r := range seenBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// matchExisting finds the entry a push message is another copy of.
func matchExisting(list []model.Message, m *model.Message) int {
	for i := range list {
		if m.ClientKey != "" && list[i].ClientKey == m.ClientKey {
			return i
		}
		if list[i].ID == m.ID {
			return i
		}
	}
	if m.ClientKey != "" {
		return -1
	}
	// Fallback heuristic for payloads without a client key: a pending
	// entry from the same sender with identical content is the same send.
	for i := range list {
		if list[i].Status == model.StatusPending &&
			list[i].ConversationID == m.ConversationID &&
			list[i].SenderID == m.SenderID &&
			list[i].Content == m.Content {
			return i
		}
	}
	return -1
}

func sortMessages(list []model.Message) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].CreatedAt != list[j].CreatedAt {
			return list[i].CreatedAt < list[j].CreatedAt
		}
		return list[i].ID < list[j].ID
	})
}

// insertSorted places msg at its createdAt-ascending position, keeping the
// ordering invariant even when push events arrive out of order.
func insertSorted(list []model.Message, msg model.Message) []model.Message {
	i := sort.Search(len(list), func(i int) bool {
		return list[i].CreatedAt > msg.CreatedAt
	})
	list = append(list, model.Message{})
	copy(list[i+1:], list[i:])
	list[i] = msg
	return list
}
