package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/zapboard/zapboard/internal/broadcast"
	"github.com/zapboard/zapboard/internal/state"
	"go.uber.org/zap"
)

// ConversationPage is one page of the conversation list.
type ConversationPage struct {
	Data       []state.Conversation `json:"data"`
	Total      int                  `json:"total"`
	Page       int                  `json:"page"`
	Limit      int                  `json:"limit"`
	TotalPages int                  `json:"totalPages"`
}

// MessagePage is one page of a conversation's message history.
// Page 1 is the newest window; higher pages are older. Messages within
// a page are ordered oldest first.
type MessagePage struct {
	Data       []state.Message `json:"data"`
	Total      int             `json:"total"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
	TotalPages int             `json:"totalPages"`
}

// Client consumes the bot's REST API. All endpoints are treated as
// opaque JSON; failures leave the caller's state intact.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a REST client for the given base URL.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// ListConversations fetches one page of the conversation list.
func (c *Client) ListConversations(ctx context.Context, page, limit int) (*ConversationPage, error) {
	u := fmt.Sprintf("%s/conversations?page=%d&limit=%d", c.baseURL, page, limit)
	var out ConversationPage
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return &out, nil
}

// MessageHistory fetches one page of a conversation's history.
func (c *Client) MessageHistory(ctx context.Context, jid string, page, limit int) (*MessagePage, error) {
	u := fmt.Sprintf("%s/conversations/%s/messages?page=%d&limit=%d",
		c.baseURL, url.PathEscape(jid), page, limit)
	var out MessagePage
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, fmt.Errorf("message history %s: %w", jid, err)
	}
	return &out, nil
}

// GetBroadcast fetches the current server-held broadcast record.
func (c *Client) GetBroadcast(ctx context.Context, id string) (*broadcast.Broadcast, error) {
	u := fmt.Sprintf("%s/broadcasts/%s", c.baseURL, url.PathEscape(id))
	var out broadcast.Broadcast
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, fmt.Errorf("get broadcast %s: %w", id, err)
	}
	return &out, nil
}

// SendBroadcast starts a bulk send and returns the created record.
func (c *Client) SendBroadcast(ctx context.Context, req broadcast.SendRequest) (*broadcast.Broadcast, error) {
	u := c.baseURL + "/broadcasts"
	var out broadcast.Broadcast
	if err := c.postJSON(ctx, u, req, &out); err != nil {
		return nil, fmt.Errorf("send broadcast: %w", err)
	}
	return &out, nil
}

// CancelBroadcast asks the server to cancel an in-flight broadcast.
func (c *Client) CancelBroadcast(ctx context.Context, id string) error {
	u := fmt.Sprintf("%s/broadcasts/%s/cancel", c.baseURL, url.PathEscape(id))
	if err := c.postJSON(ctx, u, nil, nil); err != nil {
		return fmt.Errorf("cancel broadcast %s: %w", id, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) postJSON(ctx context.Context, u string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("request failed", zap.String("url", req.URL.String()), zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("non-2xx response",
			zap.String("url", req.URL.String()),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
