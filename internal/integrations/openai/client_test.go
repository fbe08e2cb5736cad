package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studyroom-bot/internal/domain"
)

// ---------------------------------------------------------------------------
// chatURL helper
// ---------------------------------------------------------------------------

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"https://api.perplexity.ai", "https://api.perplexity.ai/chat/completions"},
		{"", "https://api.perplexity.ai/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

type fakeTokens struct {
	token string
	err   error
	names []string
}

func (f *fakeTokens) Token(_ context.Context, name string) (string, error) {
	f.names = append(f.names, name)
	return f.token, f.err
}

func TestNewClient_NilTokenSource(t *testing.T) {
	_, err := NewClient(nil, "ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestNewClient_EmptyTokenName(t *testing.T) {
	_, err := NewClient(&fakeTokens{}, " ")
	require.ErrorContains(t, err, "token name")
}

func TestNewClient_Valid(t *testing.T) {
	c, err := NewClient(&fakeTokens{}, "ai-token")
	require.NoError(t, err)
	require.Equal(t, defaultBaseURL, c.baseURL)
	require.Equal(t, 60*time.Second, c.httpClient.Timeout)
}

// ---------------------------------------------------------------------------
// Client.Complete
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server) (*Client, *fakeTokens) {
	t.Helper()
	tokens := &fakeTokens{token: "sk-test"}
	c, err := NewClient(
		tokens,
		"ai-token",
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c, tokens
}

func testRequest() domain.CompletionRequest {
	return domain.CompletionRequest{
		Model:       "sonar",
		Messages:    []domain.ChatMessage{{Role: "system", Content: "be brief"}, {Role: "user", Content: "hi"}},
		MaxTokens:   1000,
		Temperature: 0.7,
	}
}

func TestClient_Complete_HappyPath(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		reqBody, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(reqBody, &got))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-123",
			"choices": [{
				"index": 0,
				"message": { "role": "assistant", "content": "Hello from mock" }
			}]
		}`))
	}))
	defer srv.Close()

	c, tokens := newTestClient(t, srv)
	resp, err := c.Complete(context.Background(), testRequest())
	require.NoError(t, err)
	require.Equal(t, "Hello from mock", resp)
	require.Equal(t, "sonar", got.Model)
	require.Equal(t, 1000, got.MaxTokens)
	require.NotNil(t, got.Temperature)
	require.InDelta(t, 0.7, *got.Temperature, 1e-9)
	require.Len(t, got.Messages, 2)
	require.Equal(t, []string{"ai-token"}, tokens.names)
}

func TestClient_Complete_ZeroTemperatureIsSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.Contains(t, string(body), `"temperature":0`)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	req := testRequest()
	req.Temperature = 0
	_, err := c.Complete(context.Background(), req)
	require.NoError(t, err)
}

func TestClient_Complete_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	_, err := c.Complete(context.Background(), testRequest())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected status")
	require.Contains(t, err.Error(), "400")

	var statusErr *HTTPStatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, 400, statusErr.HTTPStatusCode())
}

func TestClient_Complete_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`not-a-json`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	_, err := c.Complete(context.Background(), testRequest())
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}

func TestClient_Complete_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.Complete(context.Background(), testRequest())
	require.Error(t, err)
}

func TestClient_Complete_NetworkError(t *testing.T) {
	c, err := NewClient(&fakeTokens{token: "sk-test"}, "ai-token")
	require.NoError(t, err)
	c.baseURL = "http://127.0.0.1:1"
	c.httpClient = &http.Client{Timeout: 100 * time.Millisecond}

	_, err = c.Complete(context.Background(), testRequest())
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}

func TestClient_Complete_Validation(t *testing.T) {
	c, err := NewClient(&fakeTokens{token: "sk-test"}, "ai-token")
	require.NoError(t, err)

	req := testRequest()
	req.Model = ""
	_, err = c.Complete(context.Background(), req)
	require.ErrorContains(t, err, "model")

	req = testRequest()
	req.Messages = nil
	_, err = c.Complete(context.Background(), req)
	require.ErrorContains(t, err, "messages")
}

func TestClient_Complete_TokenError(t *testing.T) {
	c, err := NewClient(&fakeTokens{err: errors.New("ssm unavailable")}, "ai-token")
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), testRequest())
	require.ErrorContains(t, err, "ssm unavailable")
}

func TestClient_Complete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	_, err := c.Complete(context.Background(), testRequest())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no choices")
}

func TestClient_Complete_429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(429)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	_, err := c.Complete(context.Background(), testRequest())
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
}

func TestClient_Complete_500(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv)
	_, err := c.Complete(context.Background(), testRequest())
	require.Error(t, err)
	require.Contains(t, err.Error(), "500")
}
