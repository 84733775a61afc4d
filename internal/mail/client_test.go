package mail

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type roundTrip func(*http.Request) (*http.Response, error)

func (rt roundTrip) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt(req)
}

func newTestClient(rt roundTrip) *Client {
	return &Client{
		BaseURL:    "https://mail.test",
		APIKey:     "test-key",
		HTTPClient: &http.Client{Transport: rt},
	}
}

func TestSearchUnread(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		require.Equal(t, http.MethodGet, req.Method)
		require.Equal(t, "/messages", req.URL.Path)
		require.Equal(t, `is:unread (subject:"seminar")`, req.URL.Query().Get("q"))
		require.Equal(t, "10", req.URL.Query().Get("maxResults"))
		require.Equal(t, "Bearer test-key", req.Header.Get("Authorization"))

		return &http.Response{
			StatusCode: http.StatusOK,
			Body: io.NopCloser(strings.NewReader(`{
				"messages": [
					{"id": "m1", "subject": "Seminar on Go", "body": "details", "unread": true}
				]
			}`)),
			Header: make(http.Header),
		}, nil
	})

	messages, err := client.SearchUnread(context.Background(), `is:unread (subject:"seminar")`, 10)

	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "m1", messages[0].ID)
	require.Equal(t, "Seminar on Go", messages[0].Subject)
	require.True(t, messages[0].Unread)
}

func TestSearchUnreadBadStatus(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusBadGateway,
			Body:       io.NopCloser(strings.NewReader("upstream down")),
			Header:     make(http.Header),
		}, nil
	})

	_, err := client.SearchUnread(context.Background(), "is:unread", 10)

	require.Error(t, err)
	require.Contains(t, err.Error(), "status 502")
}

func TestMarkRead(t *testing.T) {
	var calledPath string
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		calledPath = req.URL.Path
		require.Equal(t, http.MethodPost, req.Method)
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader("")),
			Header:     make(http.Header),
		}, nil
	})

	err := client.MarkRead(context.Background(), "m1")

	require.NoError(t, err)
	require.Equal(t, "/messages/m1/read", calledPath)
}

func TestMarkReadAlreadyReadIsNoOp(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusNoContent,
			Body:       io.NopCloser(strings.NewReader("")),
			Header:     make(http.Header),
		}, nil
	})

	require.NoError(t, client.MarkRead(context.Background(), "m1"))
}

func TestMarkReadBadStatus(t *testing.T) {
	client := newTestClient(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusInternalServerError,
			Body:       io.NopCloser(strings.NewReader("")),
			Header:     make(http.Header),
		}, nil
	})

	require.Error(t, client.MarkRead(context.Background(), "m1"))
}
