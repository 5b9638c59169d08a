package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/iamvkosarev/llm-chat-relay/internal/handler"
	"github.com/iamvkosarev/llm-chat-relay/internal/httputil"
	"github.com/iamvkosarev/llm-chat-relay/internal/model"
)

const maxErrorBodySize = 1 << 20

// RelayClient talks to a relay server over HTTP. It satisfies the
// orchestrator's Relay so the terminal client can run against a remote relay.
type RelayClient struct {
	baseURL string
	client  *http.Client
}

func NewRelayClient(baseURL string, client *http.Client) *RelayClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &RelayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (c *RelayClient) Chat(ctx context.Context, messages []model.Message, chatModel string) (io.ReadCloser, error) {
	req := handler.ChatRequest{
		Messages: make([]handler.ChatMessage, 0, len(messages)),
		Model:    chatModel,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, handler.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &model.UpstreamRequestError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp.Body, nil
}

func (c *RelayClient) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create models request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &model.UpstreamRequestError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var list handler.ModelsResponse
	if err = json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode models: %w", err)
	}
	return list.Models, nil
}

// statusError unwraps the relay's {error} body when present.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	var body httputil.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return &model.UpstreamStatusError{StatusCode: resp.StatusCode, Body: body.Error}
	}
	return &model.UpstreamStatusError{StatusCode: resp.StatusCode, Body: string(raw)}
}
