// Package ctl is the client side of the daemon's local API, used by talkctl
// and other local tooling.
package ctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lfelipesv/talkd/internal/archive"
	"github.com/lfelipesv/talkd/internal/daemon"
	"github.com/lfelipesv/talkd/internal/model"
)

// Client talks to a session daemon over its Unix domain socket.
type Client struct {
	http *http.Client
}

// New creates a client for the daemon listening on socketPath.
func New(socketPath string) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: 10 * time.Second,
		},
	}
}

// Status returns the daemon's runtime status.
func (c *Client) Status(ctx context.Context) (*daemon.StatusResponse, error) {
	var out daemon.StatusResponse
	if err := c.get(ctx, "/v1/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Conversations returns the synced conversation list, newest activity first.
func (c *Client) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var out []model.Conversation
	if err := c.get(ctx, "/v1/conversations", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateDirect returns the one-to-one conversation with the given user.
func (c *Client) CreateDirect(ctx context.Context, otherUserID string) (*model.Conversation, error) {
	var out model.Conversation
	if err := c.post(ctx, "/v1/conversations", map[string]string{"otherUserId": otherUserID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Open marks a conversation open and returns its history.
func (c *Client) Open(ctx context.Context, conversationID string) ([]model.Message, error) {
	var out []model.Message
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/open"
	if err := c.post(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Messages returns messages for a conversation; before/limit page backwards.
func (c *Client) Messages(ctx context.Context, conversationID string, before int64, limit int) ([]model.Message, error) {
	q := url.Values{}
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var out []model.Message
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Send posts a message and returns the confirmed copy.
func (c *Client) Send(ctx context.Context, conversationID, content string) (*model.Message, error) {
	var out model.Message
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.post(ctx, path, map[string]string{"content": content}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkRead zeroes a conversation's unread counter.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.post(ctx, path, nil, nil)
}

// Presence returns online users, plus who is typing in the given
// conversation when one is named.
func (c *Client) Presence(ctx context.Context, conversationID string) (*daemon.PresenceResponse, error) {
	path := "/v1/presence"
	if conversationID != "" {
		path += "?conversation=" + url.QueryEscape(conversationID)
	}
	var out daemon.PresenceResponse
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Search runs a full-text query over the message archive.
func (c *Client) Search(ctx context.Context, query, conversationID string, limit int) ([]archive.SearchResult, error) {
	q := url.Values{"q": {query}}
	if conversationID != "" {
		q.Set("conversation", conversationID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []archive.SearchResult
	if err := c.get(ctx, "/v1/search?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix"+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://unix"+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon: %s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("daemon: status %d", resp.StatusCode)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
