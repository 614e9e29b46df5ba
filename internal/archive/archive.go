package archive

import (
	"context"
	"time"

	"github.com/lfelipesv/talkd/internal/bus"
	"github.com/lfelipesv/talkd/internal/model"
	"go.uber.org/zap"
)

// Writer consumes the message event stream and persists confirmed messages.
// Optimistic entries are skipped; a rolled-back message must never reach
// disk, and confirmed copies arrive as their own events.
type Writer struct {
	db     *DB
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWriter creates a writer over an opened, migrated database.
func NewWriter(db *DB, b *bus.Bus, logger *zap.Logger) *Writer {
	return &Writer{db: db, bus: b, logger: logger}
}

// Start subscribes to message events and begins archiving.
func (w *Writer) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	ch, unsub := w.bus.Subscribe("message.", 256)
	w.done = make(chan struct{})

	go func() {
		defer unsub()
		defer close(w.done)
		for {
			select {
			case evt := <-ch:
				w.apply(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts archiving and waits for the loop to drain.
func (w *Writer) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.done != nil {
		<-w.done
	}
}

func (w *Writer) apply(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessageAppended, bus.KindMessageConfirmed:
		msg, ok := evt.Payload.(*model.Message)
		if !ok {
			return
		}
		if msg.Status == model.StatusPending {
			return
		}
		if err := w.db.UpsertMessage(msg); err != nil && w.logger != nil {
			w.logger.Warn("archive upsert failed",
				zap.String("message_id", msg.ID),
				zap.Error(err))
		}
	}
}

// UpsertMessage inserts or updates an archived message (idempotent on msg_id).
func (db *DB) UpsertMessage(m *model.Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (msg_id, conversation_id, sender_id, sender_name, content, media_url, client_key, created_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(msg_id) DO UPDATE SET
			sender_name = excluded.sender_name,
			content = excluded.content,
			media_url = excluded.media_url`,
		m.ID, m.ConversationID, m.SenderID, m.Sender.DisplayName, m.Content, m.MediaURL, m.ClientKey, m.CreatedAt, now)
	return err
}

// ListMessages returns archived messages for a conversation using keyset
// pagination by created_at.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT msg_id, conversation_id, sender_id, sender_name, content, media_url, client_key, created_at
		FROM messages
		WHERE conversation_id = ? AND created_at < ?
		ORDER BY created_at DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Sender.DisplayName, &m.Content, &m.MediaURL, &m.ClientKey, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Sender.ID = m.SenderID
		m.Status = model.StatusConfirmed
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Stats summarizes what the archive holds.
type Stats struct {
	Messages      int64 `json:"messages"`
	Conversations int64 `json:"conversations"`
}

// Stats counts archived rows for the status surface.
func (db *DB) Stats() (*Stats, error) {
	var s Stats
	if err := db.QueryRow("SELECT COUNT(*), COUNT(DISTINCT conversation_id) FROM messages").Scan(&s.Messages, &s.Conversations); err != nil {
		return nil, err
	}
	return &s, nil
}
