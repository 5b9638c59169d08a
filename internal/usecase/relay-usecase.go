package usecase

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/iamvkosarev/llm-chat-relay/config"
	"github.com/iamvkosarev/llm-chat-relay/internal/model"
	"github.com/sashabaranov/go-openai"
	"github.com/sourcegraph/conc"
)

const maxErrorBodySize = 1 << 20

type TokenCounter func(messages []openai.ChatCompletionMessage, model string) (int, error)

type ModelLister interface {
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

type RelayUsecaseDeps struct {
	HTTPClient  *http.Client
	Models      ModelLister
	CountTokens TokenCounter
	Logger      *slog.Logger
}

type RelayUsecase struct {
	RelayUsecaseDeps
	cfg config.Upstream
}

func NewRelayUsecase(deps RelayUsecaseDeps, cfg config.Upstream) *RelayUsecase {
	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Models == nil {
		clientConfig := openai.DefaultConfig(cfg.APIKey)
		clientConfig.BaseURL = cfg.BaseURL
		clientConfig.HTTPClient = deps.HTTPClient
		deps.Models = openai.NewClientWithConfig(clientConfig)
	}
	return &RelayUsecase{
		RelayUsecaseDeps: deps,
		cfg:              cfg,
	}
}

// Stream opens a streaming completion upstream and returns its content as a
// plain byte stream. The caller must Close the stream.
func (r *RelayUsecase) Stream(ctx context.Context, messages []model.Message, chatModel string) (*ChatStream, error) {
	if chatModel == "" {
		chatModel = r.cfg.DefaultModel
	}
	history := toOpenAIMessages(messages)
	r.logPromptTokens(ctx, history, chatModel)

	body, err := json.Marshal(
		openai.ChatCompletionRequest{
			Model:    chatModel,
			Messages: history,
			Stream:   true,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(
		streamCtx, http.MethodPost, strings.TrimRight(r.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		cancel()
		return nil, &model.UpstreamRequestError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer cancel()
		defer resp.Body.Close()
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		if readErr != nil {
			r.Logger.Warn("failed to read upstream error body", "status", resp.StatusCode, "error", readErr)
		}
		return nil, &model.UpstreamStatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	r.Logger.Info("upstream stream opened", "model", chatModel, "messages", len(messages))
	return newChatStream(resp.Body, cancel, r.Logger.With("model", chatModel)), nil
}

// Chat lets the relay serve as the orchestrator's in-process relay.
func (r *RelayUsecase) Chat(ctx context.Context, messages []model.Message, chatModel string) (io.ReadCloser, error) {
	stream, err := r.Stream(ctx, messages, chatModel)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (r *RelayUsecase) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	list, err := r.Models.ListModels(ctx)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
			return nil, &model.UpstreamStatusError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
			return nil, &model.UpstreamStatusError{StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
		}
		return nil, &model.UpstreamRequestError{Err: err}
	}

	models := make([]model.ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(
			models, model.ModelInfo{
				ID:      m.ID,
				Name:    m.ID,
				OwnedBy: m.OwnedBy,
			},
		)
	}
	return models, nil
}

// logPromptTokens only counts when debug logging is on; encodings are
// loaded lazily and can be slow the first time.
func (r *RelayUsecase) logPromptTokens(ctx context.Context, history []openai.ChatCompletionMessage, chatModel string) {
	if r.CountTokens == nil || !r.Logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	tokens, err := r.CountTokens(history, chatModel)
	if err != nil {
		r.Logger.Debug("failed to count prompt tokens", "model", chatModel, "error", err)
		return
	}
	r.Logger.Debug("prompt tokens counted", "model", chatModel, "tokens", tokens)
}

func toOpenAIMessages(messages []model.Message) []openai.ChatCompletionMessage {
	history := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, message := range messages {
		history = append(
			history, openai.ChatCompletionMessage{
				Role:    string(message.Role),
				Content: message.Content,
			},
		)
	}
	return history
}

// ChatStream is the relay's single output stream. A pump goroutine unwraps
// upstream delta frames into a pipe; the stream ends once, at the sentinel,
// at upstream EOF or at a read error.
type ChatStream struct {
	reader    *io.PipeReader
	cancel    context.CancelFunc
	wg        *conc.WaitGroup
	closeOnce sync.Once
	stats     streamStats
}

type streamStats struct {
	deltas    int
	malformed int
	bytes     int
}

func newChatStream(body io.ReadCloser, cancel context.CancelFunc, logger *slog.Logger) *ChatStream {
	reader, writer := io.Pipe()
	s := &ChatStream{
		reader: reader,
		cancel: cancel,
		wg:     conc.NewWaitGroup(),
	}
	s.wg.Go(
		func() {
			started := time.Now()
			err := s.pump(body, writer)
			_ = body.Close()
			cancel()
			if err != nil {
				_ = writer.CloseWithError(err)
			} else {
				_ = writer.Close()
			}
			logger.Info(
				"upstream stream finished",
				"deltas", s.stats.deltas,
				"malformed_frames", s.stats.malformed,
				"bytes", s.stats.bytes,
				"duration", time.Since(started),
				"error", err,
			)
		},
	)
	return s
}

func (s *ChatStream) pump(body io.Reader, writer *io.PipeWriter) error {
	reader := bufio.NewReader(body)
	for {
		line, readErr := reader.ReadString('\n')
		if line != "" {
			frame := DecodeFrame(line)
			switch frame.Kind {
			case FrameDone:
				return nil
			case FrameMalformed:
				s.stats.malformed++
			case FrameDelta:
				if frame.Content == "" {
					break
				}
				s.stats.deltas++
				n, err := io.WriteString(writer, frame.Content)
				s.stats.bytes += n
				if err != nil {
					// The reading side is gone.
					return nil
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read upstream stream: %w", readErr)
		}
	}
}

func (s *ChatStream) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

// Close releases the upstream response and waits for the pump to exit. It
// is safe to call more than once.
func (s *ChatStream) Close() error {
	s.closeOnce.Do(
		func() {
			s.cancel()
			_ = s.reader.Close()
			s.wg.Wait()
		},
	)
	return nil
}
