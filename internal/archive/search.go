package archive

import "github.com/lfelipesv/talkd/internal/model"

// SearchResult is one full-text hit with a highlighted snippet.
type SearchResult struct {
	Message model.Message `json:"message"`
	Snippet string        `json:"snippet"`
}

// SearchMessages performs a full-text search over archived message bodies.
func (db *DB) SearchMessages(query string, conversationID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT m.msg_id, m.conversation_id, m.sender_id, m.sender_name,
		       m.content, m.media_url, m.client_key, m.created_at,
		       snippet(messages_fts, 0, '<<', '>>', '...', 32)
		FROM messages_fts f
		JOIN messages m ON m.id = f.rowid
		WHERE messages_fts MATCH ?`

	args := []any{query}
	if conversationID != "" {
		q += " AND m.conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY rank LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.Message.ID, &r.Message.ConversationID, &r.Message.SenderID,
			&r.Message.Sender.DisplayName, &r.Message.Content, &r.Message.MediaURL,
			&r.Message.ClientKey, &r.Message.CreatedAt, &r.Snippet,
		); err != nil {
			return nil, err
		}
		r.Message.Sender.ID = r.Message.SenderID
		r.Message.Status = model.StatusConfirmed
		results = append(results, r)
	}
	return results, rows.Err()
}
