package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lfelipesv/talkd/internal/model"
	"go.uber.org/zap"
)

// Client talks to the backend chat API. All authoritative writes go through
// it; the push channel only carries advisory traffic and fan-out.
type Client struct {
	base   string
	token  string
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a REST client for the given base URL.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		base:   baseURL,
		token:  token,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

// ListConversations returns all conversations for the viewer, newest first.
func (c *Client) ListConversations(ctx context.Context, viewerID string) ([]model.Conversation, error) {
	if viewerID == "" {
		return nil, &ValidationError{Reason: "missing viewer id"}
	}
	var out []model.Conversation
	q := url.Values{"userId": {viewerID}}
	if err := c.do(ctx, http.MethodGet, "/api/conversations?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessages returns messages for a conversation ascending by time.
// before is an optional exclusive upper-bound timestamp cursor (unix ms);
// zero means newest page.
func (c *Client) ListMessages(ctx context.Context, conversationID string, before int64, limit int) ([]model.Message, error) {
	if conversationID == "" {
		return nil, &ValidationError{Reason: "missing conversation id"}
	}
	q := url.Values{}
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []model.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type createMessageRequest struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Content        string `json:"content"`
	ClientKey      string `json:"clientKey,omitempty"`
}

// CreateMessage performs the authoritative message create. The returned
// message carries the server-assigned id and echoes the client key.
func (c *Client) CreateMessage(ctx context.Context, conversationID, userID, content, clientKey string) (*model.Message, error) {
	if conversationID == "" {
		return nil, &ValidationError{Reason: "missing conversation id"}
	}
	if content == "" {
		return nil, &ValidationError{Reason: "empty content"}
	}
	req := createMessageRequest{
		ConversationID: conversationID,
		UserID:         userID,
		Content:        content,
		ClientKey:      clientKey,
	}
	var out model.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type directConversationRequest struct {
	OtherUserID string `json:"otherUserId"`
}

// GetOrCreateDirect returns the one-to-one conversation with the given
// user, creating it on the backend if it does not exist yet.
func (c *Client) GetOrCreateDirect(ctx context.Context, otherUserID string) (*model.Conversation, error) {
	if otherUserID == "" {
		return nil, &ValidationError{Reason: "missing user id"}
	}
	var out model.Conversation
	if err := c.do(ctx, http.MethodPost, "/api/conversations/direct", directConversationRequest{OtherUserID: otherUserID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkSeen acknowledges a message as seen by the viewer.
func (c *Client) MarkSeen(ctx context.Context, messageID string) error {
	if messageID == "" {
		return &ValidationError{Reason: "missing message id"}
	}
	return c.do(ctx, http.MethodPost, "/api/messages/"+url.PathEscape(messageID)+"/seen", nil, nil)
}

// OnlineUsers returns currently online users.
func (c *Client) OnlineUsers(ctx context.Context) ([]model.ChatUser, error) {
	var out []model.ChatUser
	if err := c.do(ctx, http.MethodGet, "/api/users/online", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classify(resp); err != nil {
		if c.logger != nil {
			c.logger.Warn("api call failed",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("status", resp.StatusCode))
		}
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// classify maps an HTTP response status onto the error taxonomy.
func classify(resp *http.Response) error {
	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Status: resp.StatusCode}
	case resp.StatusCode < 500:
		var eb errorBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&eb)
		reason := eb.Message
		if reason == "" {
			reason = eb.Error
		}
		if reason == "" {
			reason = resp.Status
		}
		return &ValidationError{Reason: reason}
	default:
		return &TransientError{Err: fmt.Errorf("server returned %s", resp.Status)}
	}
}
