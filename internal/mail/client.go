package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"example.com/eventscout/config"
	"example.com/eventscout/internal/models"
)

// Source is the narrow mailbox contract the pipeline consumes.
type Source interface {
	// SearchUnread returns up to max unread messages matching the query.
	// Order beyond "unread" is not guaranteed.
	SearchUnread(ctx context.Context, query string, max int) ([]models.CandidateMessage, error)
	// MarkRead marks a message read. Idempotent: repeating it is a no-op.
	MarkRead(ctx context.Context, messageID string) error
}

// Client talks to a REST mail gateway (Gmail-style message API).
type Client struct {
	BaseURL string
	APIKey  string

	HTTPClient *http.Client
}

// NewClient creates a mail gateway client from configuration.
func NewClient(cfg config.MailConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		HTTPClient: newHTTPClient(timeout),
	}
}

type searchResponse struct {
	Messages []models.CandidateMessage `json:"messages"`
}

// SearchUnread implements Source.
func (c *Client) SearchUnread(ctx context.Context, query string, max int) ([]models.CandidateMessage, error) {
	if c.BaseURL == "" {
		return nil, errors.New("mail: base URL required")
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("maxResults", strconv.Itoa(max))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/messages?"+q.Encode(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "mail: build search request")
	}
	c.authorize(req)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "mail: search request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("mail: search returned status %d", resp.StatusCode)
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, "mail: decode search response")
	}
	return payload.Messages, nil
}

// MarkRead implements Source.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	endpoint := fmt.Sprintf("%s/messages/%s/read", c.BaseURL, url.PathEscape(messageID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "mail: build mark-read request")
	}
	c.authorize(req)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return errors.Wrap(err, "mail: mark-read request failed")
	}
	defer resp.Body.Close()

	// The gateway answers 200 for a fresh mark and 204 when the message was
	// already read; both count as success.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return errors.Errorf("mail: mark-read returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return newHTTPClient(15 * time.Second)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}
