package state

import (
	"testing"

	"github.com/lfelipesv/talkd/internal/model"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := NewStore("viewer")
	s.ReplaceConversations([]model.Conversation{
		{ID: "c1", UpdatedAt: 100},
		{ID: "c2", UpdatedAt: 200},
		{ID: "c3", UpdatedAt: 300},
	})
	return s
}

func TestConversationOrderingDescending(t *testing.T) {
	s := seeded(t)
	convs := s.Conversations()
	want := []string{"c3", "c2", "c1"}
	for i, id := range want {
		if convs[i].ID != id {
			t.Fatalf("order = %v, want %v", ids(convs), want)
		}
	}
}

func ids(convs []model.Conversation) []string {
	out := make([]string, len(convs))
	for i, c := range convs {
		out[i] = c.ID
	}
	return out
}

// The §8 example scenario: a push for a closed conversation bumps unread,
// last message, ordering key, and list position.
func TestPushToClosedConversation(t *testing.T) {
	s := seeded(t)

	res := s.ApplyPush(&model.Message{
		ID: "m1", ConversationID: "c1", SenderID: "other",
		Content: "are you there?", CreatedAt: 400,
	})
	if !res.ConversationKnown {
		t.Error("conversation should be known")
	}
	if !res.UnreadIncremented {
		t.Error("unread should increment for closed conversation")
	}

	c, _ := s.Conversation("c1")
	if c.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", c.UnreadCount)
	}
	if c.LastMessage == nil || c.LastMessage.Content != "are you there?" {
		t.Errorf("lastMessage = %+v", c.LastMessage)
	}
	if c.UpdatedAt != 400 {
		t.Errorf("updatedAt = %d, want 400", c.UpdatedAt)
	}
	if got := s.Conversations()[0].ID; got != "c1" {
		t.Errorf("first conversation = %s, want c1", got)
	}
}

func TestUnreadAccountingExactlyN(t *testing.T) {
	s := seeded(t)
	for i := int64(0); i < 5; i++ {
		s.ApplyPush(&model.Message{
			ID: string(rune('a' + i)), ConversationID: "c2",
			SenderID: "other", Content: "x", CreatedAt: 400 + i,
		})
	}
	c, _ := s.Conversation("c2")
	if c.UnreadCount != 5 {
		t.Errorf("unread = %d, want 5", c.UnreadCount)
	}
	if s.TotalUnread() != 5 {
		t.Errorf("total unread = %d, want 5", s.TotalUnread())
	}
}

func TestOwnMessagesNeverCountUnread(t *testing.T) {
	s := seeded(t)
	s.ApplyPush(&model.Message{ID: "m1", ConversationID: "c1", SenderID: "viewer", Content: "x", CreatedAt: 400})
	if c, _ := s.Conversation("c1"); c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 for own message", c.UnreadCount)
	}
}

func TestOpenConversationDoesNotCountUnread(t *testing.T) {
	s := seeded(t)
	s.Open("c1")
	s.ApplyPush(&model.Message{ID: "m1", ConversationID: "c1", SenderID: "other", Content: "x", CreatedAt: 400})
	if c, _ := s.Conversation("c1"); c.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 for open conversation", c.UnreadCount)
	}
	// The message itself lands in the open list.
	if got := len(s.Messages("c1")); got != 1 {
		t.Errorf("messages = %d, want 1", got)
	}
}

func TestOpenDoesNotChangeUnreadMarkReadDoes(t *testing.T) {
	s := seeded(t)
	s.ApplyPush(&model.Message{ID: "m1", ConversationID: "c1", SenderID: "other", Content: "x", CreatedAt: 400})

	s.Open("c1")
	s.ReplaceMessages("c1", []model.Message{{ID: "m1", ConversationID: "c1", CreatedAt: 400}})
	if c, _ := s.Conversation("c1"); c.UnreadCount != 1 {
		t.Errorf("unread = %d after open+load, want 1 (only explicit read clears)", c.UnreadCount)
	}

	s.MarkRead("c1")
	if c, _ := s.Conversation("c1"); c.UnreadCount != 0 {
		t.Errorf("unread = %d after MarkRead, want 0", c.UnreadCount)
	}
}

// No-duplicate-rendering: push fan-out arrives before the REST response.
func TestPushBeforeConfirmRendersOnce(t *testing.T) {
	s := seeded(t)
	s.Open("c1")

	s.ApplyOptimistic(model.Message{
		ID: "tmp-1", ClientKey: "k1", ConversationID: "c1",
		SenderID: "viewer", Content: "hello", CreatedAt: 400,
	})

	// Fan-out of our own send, carrying the echoed client key.
	res := s.ApplyPush(&model.Message{
		ID: "srv-1", ClientKey: "k1", ConversationID: "c1",
		SenderID: "viewer", Content: "hello", CreatedAt: 401,
	})
	if !res.Deduplicated {
		t.Error("push should have matched the optimistic entry")
	}

	// REST response lands last.
	s.ReconcileConfirmed("k1", model.Message{
		ID: "srv-1", ClientKey: "k1", ConversationID: "c1",
		SenderID: "viewer", Content: "hello", CreatedAt: 401,
	})

	msgs := s.Messages("c1")
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want exactly 1", len(msgs))
	}
	if msgs[0].ID != "srv-1" || msgs[0].Status != model.StatusConfirmed {
		t.Errorf("got %+v", msgs[0])
	}
}

func TestPushWithoutClientKeyFallsBackToContentMatch(t *testing.T) {
	s := seeded(t)
	s.Open("c1")

	s.ApplyOptimistic(model.Message{
		ID: "tmp-1", ClientKey: "k1", ConversationID: "c1",
		SenderID: "viewer", Content: "hello", CreatedAt: 400,
	})

	res := s.ApplyPush(&model.Message{
		ID: "srv-1", ConversationID: "c1",
		SenderID: "viewer", Content: "hello", CreatedAt: 401,
	})
	if !res.Deduplicated {
		t.Error("content-tuple fallback should have matched")
	}
	if got := len(s.Messages("c1")); got != 1 {
		t.Errorf("messages = %d, want 1", got)
	}
}

func TestConfirmBeforePushRendersOnce(t *testing.T) {
	s := seeded(t)
	s.Open("c1")

	s.ApplyOptimistic(model.Message{ID: "tmp-1", ClientKey: "k1", ConversationID: "c1", SenderID: "viewer", Content: "hi", CreatedAt: 400})
	s.ReconcileConfirmed("k1", model.Message{ID: "srv-1", ClientKey: "k1", ConversationID: "c1", SenderID: "viewer", Content: "hi", CreatedAt: 401})

	// Fan-out arrives after confirmation; matched by id.
	res := s.ApplyPush(&model.Message{ID: "srv-1", ClientKey: "k1", ConversationID: "c1", SenderID: "viewer", Content: "hi", CreatedAt: 401})
	if !res.Deduplicated {
		t.Error("push after confirm should dedupe by id/key")
	}
	if got := len(s.Messages("c1")); got != 1 {
		t.Errorf("messages = %d, want 1", got)
	}
}

func TestReconcilePreservesPosition(t *testing.T) {
	s := seeded(t)
	s.Open("c1")
	s.ReplaceMessages("c1", []model.Message{
		{ID: "a", ConversationID: "c1", CreatedAt: 100},
		{ID: "b", ConversationID: "c1", CreatedAt: 200},
	})
	s.ApplyOptimistic(model.Message{ID: "tmp", ClientKey: "k", ConversationID: "c1", SenderID: "viewer", Content: "x", CreatedAt: 150})

	s.ReconcileConfirmed("k", model.Message{ID: "srv", ClientKey: "k", ConversationID: "c1", SenderID: "viewer", Content: "x", CreatedAt: 150})

	msgs := s.Messages("c1")
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	if msgs[1].ID != "srv" {
		t.Errorf("middle message = %s, want srv (position preserved)", msgs[1].ID)
	}
}

func TestRollbackLeavesNoTrace(t *testing.T) {
	s := seeded(t)
	s.Open("c1")
	s.ApplyOptimistic(model.Message{ID: "tmp", ClientKey: "k", ConversationID: "c1", SenderID: "viewer", Content: "doomed", CreatedAt: 999})

	if !s.RollbackOptimistic("k") {
		t.Fatal("rollback found nothing")
	}
	if got := len(s.Messages("c1")); got != 0 {
		t.Errorf("messages = %d, want 0 after rollback", got)
	}

	// The discarded speculative reordering is undone by a fresh reload.
	s.ReplaceConversations([]model.Conversation{
		{ID: "c1", UpdatedAt: 100},
		{ID: "c2", UpdatedAt: 200},
		{ID: "c3", UpdatedAt: 300},
	})
	c, _ := s.Conversation("c1")
	if c.UpdatedAt != 100 || c.LastMessage != nil {
		t.Errorf("c1 after reload = %+v, want pristine", c)
	}
	if got := s.Conversations()[0].ID; got != "c3" {
		t.Errorf("first = %s, want c3", got)
	}
}

func TestOutOfOrderPushKeepsAscendingOrder(t *testing.T) {
	s := seeded(t)
	s.Open("c1")
	for _, m := range []model.Message{
		{ID: "m3", ConversationID: "c1", SenderID: "o", Content: "3", CreatedAt: 300},
		{ID: "m1", ConversationID: "c1", SenderID: "o", Content: "1", CreatedAt: 100},
		{ID: "m2", ConversationID: "c1", SenderID: "o", Content: "2", CreatedAt: 200},
	} {
		m := m
		s.ApplyPush(&m)
	}
	msgs := s.Messages("c1")
	for i, want := range []string{"m1", "m2", "m3"} {
		if msgs[i].ID != want {
			t.Fatalf("order wrong at %d: got %s want %s", i, msgs[i].ID, want)
		}
	}
}

func TestOlderPushDoesNotRegressSummary(t *testing.T) {
	s := seeded(t)
	s.ApplyPush(&model.Message{ID: "new", ConversationID: "c1", SenderID: "o", Content: "new", CreatedAt: 500})
	s.ApplyPush(&model.Message{ID: "old", ConversationID: "c1", SenderID: "o", Content: "old", CreatedAt: 50})

	c, _ := s.Conversation("c1")
	if c.UpdatedAt != 500 || c.LastMessage.ID != "new" {
		t.Errorf("summary regressed: %+v", c)
	}
	// The late message still counted as unread.
	if c.UnreadCount != 2 {
		t.Errorf("unread = %d, want 2", c.UnreadCount)
	}
}

func TestIdempotentSeen(t *testing.T) {
	s := seeded(t)
	s.Open("c1")
	s.ReplaceMessages("c1", []model.Message{{ID: "m1", ConversationID: "c1", CreatedAt: 100}})

	r := model.SeenReceipt{UserID: "u2", SeenAt: 500}
	if !s.ApplySeen("m1", r) {
		t.Fatal("first apply should succeed")
	}
	if s.ApplySeen("m1", r) {
		t.Error("second apply should be a no-op")
	}
	msgs := s.Messages("c1")
	if len(msgs[0].SeenBy) != 1 {
		t.Errorf("seenBy = %d entries, want 1", len(msgs[0].SeenBy))
	}
}

func TestStaleMessagesResponseDiscarded(t *testing.T) {
	s := seeded(t)
	s.Open("c1")
	s.Open("c2") // user switched before c1's response arrived

	if s.ReplaceMessages("c1", []model.Message{{ID: "m", ConversationID: "c1", CreatedAt: 1}}) {
		t.Error("stale response should be discarded")
	}
	if got := len(s.Messages("c1")); got != 0 {
		t.Errorf("messages = %d, want 0", got)
	}
	if !s.ReplaceMessages("c2", nil) {
		t.Error("response for open conversation should apply")
	}
}

func TestReplaceMessagesKeepsInFlightOptimistic(t *testing.T) {
	s := seeded(t)
	s.Open("c1")
	s.ApplyOptimistic(model.Message{ID: "tmp", ClientKey: "k", ConversationID: "c1", SenderID: "viewer", Content: "mid-flight", CreatedAt: 300})

	s.ReplaceMessages("c1", []model.Message{{ID: "m1", ConversationID: "c1", CreatedAt: 100}})

	msgs := s.Messages("c1")
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2 (history + pending)", len(msgs))
	}
	if msgs[1].ClientKey != "k" {
		t.Errorf("pending entry lost: %+v", msgs)
	}
}

func TestCloseDropsMessagesAndPointer(t *testing.T) {
	s := seeded(t)
	s.Open("c1")
	s.ReplaceMessages("c1", []model.Message{{ID: "m1", ConversationID: "c1", CreatedAt: 1}})

	if closed := s.Close(); closed != "c1" {
		t.Errorf("closed = %q, want c1", closed)
	}
	if s.OpenID() != "" {
		t.Error("open pointer not cleared")
	}
	if got := len(s.Messages("c1")); got != 0 {
		t.Errorf("messages = %d, want 0 after close", got)
	}
}

func TestPushForUnknownConversation(t *testing.T) {
	s := seeded(t)
	res := s.ApplyPush(&model.Message{ID: "m", ConversationID: "brand-new", SenderID: "o", Content: "hi", CreatedAt: 700})
	if res.ConversationKnown {
		t.Error("conversation should be reported unknown")
	}
	c, ok := s.Conversation("brand-new")
	if !ok || c.UnreadCount != 1 || c.LastMessage == nil {
		t.Errorf("placeholder summary = %+v, ok=%v", c, ok)
	}
}

func TestReplaceConversationsRecomputesAggregate(t *testing.T) {
	s := seeded(t)
	s.ReplaceConversations([]model.Conversation{
		{ID: "a", UnreadCount: 2, UpdatedAt: 1},
		{ID: "b", UnreadCount: 3, UpdatedAt: 2},
	})
	if got := s.TotalUnread(); got != 5 {
		t.Errorf("total unread = %d, want 5", got)
	}
}
