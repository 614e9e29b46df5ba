package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lfelipesv/talkd/internal/bus"
	"github.com/lfelipesv/talkd/internal/model"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + fts)", result.Version)
	}
}

func TestUpsertMessageIdempotent(t *testing.T) {
	db := testDB(t)

	msg := &model.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Content: "hello", CreatedAt: 1000}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg.Content = "hello edited"
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	if msgs[0].Content != "hello edited" {
		t.Errorf("content = %q, want hello edited", msgs[0].Content)
	}
}

func TestListMessagesKeysetPagination(t *testing.T) {
	db := testDB(t)

	for i := int64(1); i <= 5; i++ {
		msg := &model.Message{
			ID: "m" + string(rune('0'+i)), ConversationID: "c1",
			SenderID: "u1", Content: "msg", CreatedAt: i * 100,
		}
		if err := db.UpsertMessage(msg); err != nil {
			t.Fatal(err)
		}
	}

	page, err := db.ListMessages("c1", 400, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("got %d messages, want 2", len(page))
	}
	if page[0].ID != "m3" || page[1].ID != "m2" {
		t.Errorf("page = %s, %s; want m3, m2", page[0].ID, page[1].ID)
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&model.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Content: "hello world", CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&model.Message{ID: "m2", ConversationID: "c2", SenderID: "u1", Content: "goodbye world", CreatedAt: 2000}); err != nil {
		t.Fatal(err)
	}

	results, err := db.SearchMessages("hello", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Message.ID != "m1" {
		t.Errorf("msg_id = %q, want m1", results[0].Message.ID)
	}

	// Scoped to a conversation.
	results, err = db.SearchMessages("world", "c2", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Message.ID != "m2" {
		t.Errorf("scoped results = %+v, want only m2", results)
	}
}

func TestSearchUpdatedContent(t *testing.T) {
	db := testDB(t)

	msg := &model.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Content: "original", CreatedAt: 1000}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg.Content = "replacement"
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	if results, _ := db.SearchMessages("original", "", 10); len(results) != 0 {
		t.Errorf("stale FTS entry survived update: %+v", results)
	}
	if results, _ := db.SearchMessages("replacement", "", 10); len(results) != 1 {
		t.Error("updated content not searchable")
	}
}

func TestWriterArchivesConfirmedOnly(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	w := NewWriter(db, b, nil)
	w.Start(context.Background())
	defer w.Stop()

	b.Publish(bus.Event{Kind: bus.KindMessageAppended, Payload: &model.Message{
		ID: "tmp-1", ConversationID: "c1", SenderID: "u1",
		Content: "pending", Status: model.StatusPending, CreatedAt: 100,
	}})
	b.Publish(bus.Event{Kind: bus.KindMessageConfirmed, Payload: &model.Message{
		ID: "srv-1", ConversationID: "c1", SenderID: "u1",
		Content: "confirmed", Status: model.StatusConfirmed, CreatedAt: 200,
	}})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs, err := db.ListMessages("c1", 0, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) == 1 && msgs[0].ID == "srv-1" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("confirmed message never archived (or pending message leaked)")
}

func TestStats(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&model.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Content: "a", CreatedAt: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&model.Message{ID: "m2", ConversationID: "c2", SenderID: "u1", Content: "b", CreatedAt: 2}); err != nil {
		t.Fatal(err)
	}

	stats, err := db.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Messages != 2 || stats.Conversations != 2 {
		t.Errorf("stats = %+v, want 2 messages across 2 conversations", stats)
	}
}
