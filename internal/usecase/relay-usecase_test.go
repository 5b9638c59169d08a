package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/iamvkosarev/llm-chat-relay/config"
	"github.com/iamvkosarev/llm-chat-relay/internal/model"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deltaFrame(content string) string {
	return fmt.Sprintf(`data: {"choices":[{"delta":{"content":%q}}]}`+"\n\n", content)
}

func newTestRelay(t *testing.T, handler http.HandlerFunc) (*RelayUsecase, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	relay := NewRelayUsecase(
		RelayUsecaseDeps{HTTPClient: server.Client()},
		config.Upstream{APIKey: "test-key", BaseURL: server.URL + "/v1", DefaultModel: "default-model"},
	)
	return relay, server
}

func TestRelayUsecase_Stream_Reframes(t *testing.T) {
	var got openai.ChatCompletionRequest
	relay, _ := newTestRelay(
		t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, deltaFrame("Hi")+deltaFrame(" there")+"data: [DONE]\n\n")
		},
	)

	messages := []model.Message{
		{Role: model.RoleUser, Content: "Hello"},
		{Role: model.RoleAssistant, Content: "Hey"},
		{Role: model.RoleUser, Content: "Again"},
	}
	stream, err := relay.Stream(context.Background(), messages, "")
	require.NoError(t, err)
	defer stream.Close()

	out, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "Hi there", string(out))

	assert.True(t, got.Stream)
	assert.Equal(t, "default-model", got.Model)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	assert.Equal(t, "Again", got.Messages[2].Content)
}

func TestRelayUsecase_Stream_SkipsMalformedFrame(t *testing.T) {
	relay, _ := newTestRelay(
		t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, deltaFrame("A")+"data: {malformed garbage\n\n"+deltaFrame("B")+"data: [DONE]\n\n")
		},
	)

	stream, err := relay.Stream(context.Background(), nil, "m")
	require.NoError(t, err)
	defer stream.Close()

	out, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "AB", string(out))
	assert.Equal(t, 1, stream.stats.malformed)
}

func TestRelayUsecase_Stream_StopsAtSentinel(t *testing.T) {
	relay, _ := newTestRelay(
		t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, deltaFrame("kept")+"data: [DONE]\n\n"+deltaFrame("dropped"))
		},
	)

	stream, err := relay.Stream(context.Background(), nil, "m")
	require.NoError(t, err)
	defer stream.Close()

	out, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "kept", string(out))
}

func TestRelayUsecase_Stream_EndsAtUpstreamEOF(t *testing.T) {
	relay, _ := newTestRelay(
		t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, deltaFrame("no ")+`data: {"choices":[{"delta":{"content":"sentinel"}}]}`)
		},
	)

	stream, err := relay.Stream(context.Background(), nil, "m")
	require.NoError(t, err)
	defer stream.Close()

	out, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, "no sentinel", string(out))
}

func TestRelayUsecase_Stream_UpstreamStatusPassthrough(t *testing.T) {
	relay, _ := newTestRelay(
		t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"message":"slow down"}`)
		},
	)

	_, err := relay.Stream(context.Background(), nil, "m")

	var statusErr *model.UpstreamStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Equal(t, `{"message":"slow down"}`, statusErr.Body)
}

func TestRelayUsecase_Stream_RequestFailure(t *testing.T) {
	relay, server := newTestRelay(t, func(w http.ResponseWriter, r *http.Request) {})
	server.Close()

	_, err := relay.Stream(context.Background(), nil, "m")

	var reqErr *model.UpstreamRequestError
	assert.ErrorAs(t, err, &reqErr)
}

func TestRelayUsecase_Stream_CloseReleasesUpstream(t *testing.T) {
	released := make(chan struct{})
	relay, _ := newTestRelay(
		t, func(w http.ResponseWriter, r *http.Request) {
			flusher := w.(http.Flusher)
			_, _ = io.WriteString(w, deltaFrame("first"))
			flusher.Flush()
			<-r.Context().Done()
			close(released)
		},
	)

	stream, err := relay.Stream(context.Background(), nil, "m")
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := stream.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "first", string(buf[:n]))

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream request was not released")
	}

	_, err = stream.Read(buf)
	assert.True(t, errors.Is(err, io.ErrClosedPipe))
}

func TestRelayUsecase_Stream_ContextCancelEndsStream(t *testing.T) {
	relay, _ := newTestRelay(
		t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, deltaFrame("partial"))
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := relay.Stream(ctx, nil, "m")
	require.NoError(t, err)
	defer stream.Close()

	buf := make([]byte, 16)
	_, err = stream.Read(buf)
	require.NoError(t, err)

	cancel()
	_, err = io.ReadAll(stream)
	assert.Error(t, err)
}

func TestRelayUsecase_ListModels(t *testing.T) {
	relay, _ := newTestRelay(
		t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/models", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(
				w,
				`{"object":"list","data":[{"id":"llama-3.3-70b","object":"model","owned_by":"Meta"},{"id":"qwen-3-32b","object":"model"}]}`,
			)
		},
	)

	models, err := relay.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(
		t, []model.ModelInfo{
			{ID: "llama-3.3-70b", Name: "llama-3.3-70b", OwnedBy: "Meta"},
			{ID: "qwen-3-32b", Name: "qwen-3-32b"},
		}, models,
	)
}

func TestRelayUsecase_ListModels_UpstreamError(t *testing.T) {
	relay, _ := newTestRelay(
		t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
		},
	)

	_, err := relay.ListModels(context.Background())

	var statusErr *model.UpstreamStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, "bad key", statusErr.Body)
}

func TestRelayUsecase_CountsPromptTokens(t *testing.T) {
	var counted []openai.ChatCompletionMessage
	server := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, "data: [DONE]\n\n")
			},
		),
	)
	defer server.Close()

	relay := NewRelayUsecase(
		RelayUsecaseDeps{
			Logger:      slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})),
			CountTokens: func(messages []openai.ChatCompletionMessage, _ string) (int, error) {
				counted = messages
				return 0, errors.New("no encoding")
			},
		},
		config.Upstream{BaseURL: server.URL},
	)

	stream, err := relay.Stream(context.Background(), []model.Message{{Role: model.RoleUser, Content: "count me"}}, "m")
	require.NoError(t, err)
	defer stream.Close()
	_, err = io.ReadAll(stream)
	require.NoError(t, err)

	require.Len(t, counted, 1)
	assert.Equal(t, "count me", counted[0].Content)
}
