// Package extraction wraps the language-model call that turns a message's
// free text into a structured event. The model is a black box with a fixed
// contract: it answers with a JSON object {title, date, time, description,
// link} or the sentinel {"error": "no event"}.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/eventscout/config"
	"example.com/eventscout/internal/models"
)

// Status classifies an extraction attempt.
type Status int

const (
	// StatusExtracted means the text described an event and Outcome.Event is set.
	StatusExtracted Status = iota
	// StatusNoEvent means the model decided the text is not an event.
	StatusNoEvent
	// StatusFailed means transport failure, bad status or malformed payload.
	StatusFailed
)

// Outcome is the structured result of one extraction attempt. Transport
// failures are carried here, never returned as errors: a broken extraction
// call must not abort the batch.
type Outcome struct {
	Status Status
	Event  *models.ExtractedEvent
	Err    error
}

// Service is the extraction contract the pipeline consumes.
type Service interface {
	Extract(ctx context.Context, subject, body string) Outcome
}

// Client calls a Gemini-style generateContent endpoint.
type Client struct {
	BaseURL              string
	APIKey               string
	Model                string
	BodyTruncationLength int

	HTTPClient *http.Client
}

// NewClient creates an extraction client from configuration.
func NewClient(cfg config.ExtractionConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	truncation := cfg.BodyTruncationLength
	if truncation <= 0 {
		truncation = 5000
	}
	return &Client{
		BaseURL:              cfg.BaseURL,
		APIKey:               cfg.APIKey,
		Model:                cfg.Model,
		BodyTruncationLength: truncation,
		HTTPClient:           &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMimeType string `json:"responseMimeType"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// eventPayload is the model's answer: an event, or the sentinel error.
type eventPayload struct {
	models.ExtractedEvent
	Error string `json:"error"`
}

// Extract asks the model to structure one message. The body is capped at
// BodyTruncationLength before it reaches the model; truncation never fails
// the call, it only reduces context.
func (c *Client) Extract(ctx context.Context, subject, body string) Outcome {
	payload, err := c.generate(ctx, buildPrompt(subject, truncate(body, c.BodyTruncationLength)))
	if err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("Extraction call failed")
		return Outcome{Status: StatusFailed, Err: err}
	}
	if payload.Error != "" {
		return Outcome{Status: StatusNoEvent}
	}
	if strings.TrimSpace(payload.Title) == "" {
		// A titleless answer is unusable; treat like a malformed payload.
		err := errors.New("extraction: model returned event without title")
		return Outcome{Status: StatusFailed, Err: err}
	}
	event := payload.ExtractedEvent
	return Outcome{Status: StatusExtracted, Event: &event}
}

func (c *Client) generate(ctx context.Context, prompt string) (*eventPayload, error) {
	if c.BaseURL == "" || c.Model == "" {
		return nil, errors.New("extraction: base URL and model required")
	}

	reqBody, err := json.Marshal(generateRequest{
		Contents:         []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{ResponseMimeType: "application/json"},
	})
	if err != nil {
		return nil, errors.Wrap(err, "extraction: marshal request")
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.BaseURL, c.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "extraction: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("x-goog-api-key", c.APIKey)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "extraction: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, errors.Errorf("extraction: model returned status %d", resp.StatusCode)
	}

	var outer generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&outer); err != nil {
		return nil, errors.Wrap(err, "extraction: decode response")
	}
	if len(outer.Candidates) == 0 || len(outer.Candidates[0].Content.Parts) == 0 {
		return nil, errors.New("extraction: empty model response")
	}

	var payload eventPayload
	if err := json.Unmarshal([]byte(outer.Candidates[0].Content.Parts[0].Text), &payload); err != nil {
		return nil, errors.Wrap(err, "extraction: decode event payload")
	}
	return &payload, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func buildPrompt(subject, body string) string {
	var buf bytes.Buffer
	buf.WriteString("Extract event details as JSON:\n")
	buf.WriteString("- title, date (YYYY-MM-DD), time, description, link.\n")
	buf.WriteString(`If NOT an event, return {"error": "no event"}.` + "\n")
	fmt.Fprintf(&buf, "Subject: %s Body: %s", subject, body)
	return buf.String()
}

// truncate caps s at limit bytes without splitting a UTF-8 rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := s[:limit]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
