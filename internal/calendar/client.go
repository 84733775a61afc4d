package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"example.com/eventscout/config"
)

// Sink is the one-shot calendar side effect available to admin tooling.
// The pipeline never calls it.
type Sink interface {
	CreateAllDayEvent(ctx context.Context, title, date string, opts EventOptions) error
}

// EventOptions carries the optional fields of an all-day calendar entry.
type EventOptions struct {
	Description string
	Time        string
	Link        string
}

// Client talks to a REST calendar gateway.
type Client struct {
	BaseURL    string
	APIKey     string
	CalendarID string

	HTTPClient *http.Client
}

// NewClient creates a calendar client from configuration.
func NewClient(cfg config.CalendarConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:    cfg.BaseURL,
		APIKey:     cfg.APIKey,
		CalendarID: cfg.CalendarID,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type createEventRequest struct {
	Title       string `json:"title"`
	Date        string `json:"date"`
	AllDay      bool   `json:"all_day"`
	Description string `json:"description,omitempty"`
}

// CreateAllDayEvent creates an all-day entry. Description, time and link are
// folded into the entry description, matching the original sink behavior.
func (c *Client) CreateAllDayEvent(ctx context.Context, title, date string, opts EventOptions) error {
	if c.BaseURL == "" {
		return errors.New("calendar: base URL required")
	}

	description := fmt.Sprintf("%s\n\nTime: %s\nLink: %s", opts.Description, opts.Time, opts.Link)
	reqBody, err := json.Marshal(createEventRequest{
		Title:       title,
		Date:        date,
		AllDay:      true,
		Description: description,
	})
	if err != nil {
		return errors.Wrap(err, "calendar: marshal request")
	}

	endpoint := fmt.Sprintf("%s/calendars/%s/events", c.BaseURL, url.PathEscape(c.CalendarID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return errors.Wrap(err, "calendar: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "calendar: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return errors.Errorf("calendar: gateway returned status %d", resp.StatusCode)
	}
	return nil
}
