package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/iamvkosarev/llm-chat-relay/config"
	"github.com/iamvkosarev/llm-chat-relay/internal/model"
	"github.com/iamvkosarev/llm-chat-relay/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubRelay struct {
	stream   io.ReadCloser
	err      error
	messages []model.Message
	model    string
}

func (s *stubRelay) Chat(_ context.Context, messages []model.Message, chatModel string) (io.ReadCloser, error) {
	s.messages = messages
	s.model = chatModel
	return s.stream, s.err
}

type failingReader struct {
	sent bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if !f.sent {
		f.sent = true
		return copy(p, "partial"), nil
	}
	return 0, errors.New("upstream dropped")
}

func (f *failingReader) Close() error {
	return nil
}

func postChat(t *testing.T, h *ChatHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Chat(rec, httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body)))
	return rec
}

func TestChatHandler_StreamsPlainText(t *testing.T) {
	relay := &stubRelay{stream: io.NopCloser(strings.NewReader("Hi there"))}
	h := NewChatHandler(relay, discardLogger())

	rec := postChat(t, h, `{"messages":[{"role":"user","content":"Hello"}],"model":"llama3.2"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Hi there", rec.Body.String())
	assert.True(t, rec.Flushed)
	assert.Equal(t, []model.Message{{Role: model.RoleUser, Content: "Hello"}}, relay.messages)
	assert.Equal(t, "llama3.2", relay.model)
}

func TestChatHandler_RejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `{messages`},
		{name: "no messages", body: `{"messages":[]}`},
		{name: "unknown role", body: `{"messages":[{"role":"system","content":"x"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewChatHandler(&stubRelay{}, discardLogger())
			rec := postChat(t, h, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestChatHandler_RelayErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "upstream status",
			err:        &model.UpstreamStatusError{StatusCode: http.StatusTooManyRequests, Body: "rate limited"},
			wantStatus: http.StatusTooManyRequests,
			wantBody:   `{"error":"rate limited"}`,
		},
		{
			name:       "transport",
			err:        &model.UpstreamRequestError{Err: errors.New("dial tcp: refused")},
			wantStatus: http.StatusBadGateway,
			wantBody:   `{"error":"upstream request failed: dial tcp: refused"}`,
		},
		{
			name:       "other",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"internal server error"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewChatHandler(&stubRelay{err: tt.err}, discardLogger())
			rec := postChat(t, h, `{"messages":[{"role":"user","content":"Hello"}]}`)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestChatHandler_MidStreamFailureAborts(t *testing.T) {
	h := NewChatHandler(&stubRelay{stream: &failingReader{}}, discardLogger())

	assert.PanicsWithValue(
		t, http.ErrAbortHandler, func() {
			postChat(t, h, `{"messages":[{"role":"user","content":"Hello"}]}`)
		},
	)
}

func TestChatHandler_WithUpstream(t *testing.T) {
	upstream := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				for _, word := range []string{"Hello", ", ", "world"} {
					_, _ = fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", word)
					w.(http.Flusher).Flush()
				}
				_, _ = io.WriteString(w, "data: [DONE]\n\n")
			},
		),
	)
	defer upstream.Close()

	relay := usecase.NewRelayUsecase(
		usecase.RelayUsecaseDeps{Logger: discardLogger()},
		config.Upstream{BaseURL: upstream.URL},
	)
	server := httptest.NewServer(http.HandlerFunc(NewChatHandler(relay, discardLogger()).Chat))
	defer server.Close()

	resp, err := http.Post(
		server.URL, "application/json", strings.NewReader(`{"messages":[{"role":"user","content":"Hi"}]}`),
	)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello, world", string(body))
}

type stubModels struct {
	models []model.ModelInfo
	err    error
}

func (s stubModels) ListModels(context.Context) ([]model.ModelInfo, error) {
	return s.models, s.err
}

func TestModelsHandler(t *testing.T) {
	tests := []struct {
		name       string
		lister     stubModels
		wantStatus int
		wantBody   string
	}{
		{
			name:       "ok",
			lister:     stubModels{models: []model.ModelInfo{{ID: "llama3.2", Name: "llama3.2", OwnedBy: "meta"}}},
			wantStatus: http.StatusOK,
			wantBody:   `{"models":[{"id":"llama3.2","name":"llama3.2","owned_by":"meta"}]}`,
		},
		{
			name:       "upstream status",
			lister:     stubModels{err: &model.UpstreamStatusError{StatusCode: http.StatusUnauthorized, Body: "bad key"}},
			wantStatus: http.StatusUnauthorized,
			wantBody:   `{"error":"Failed to fetch models"}`,
		},
		{
			name:       "transport",
			lister:     stubModels{err: &model.UpstreamRequestError{Err: errors.New("timeout")}},
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"Failed to fetch models"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewModelsHandler(tt.lister, discardLogger()).ListModels(rec, httptest.NewRequest(http.MethodGet, "/models", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestListPromptsAndHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	ListPrompts(rec, httptest.NewRequest(http.MethodGet, "/prompts", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"title":"Help me study"`)

	rec = httptest.NewRecorder()
	Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
