package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/iamvkosarev/llm-chat-relay/internal/httputil"
	"github.com/iamvkosarev/llm-chat-relay/internal/model"
)

const streamBufferSize = 4096

type ChatRelay interface {
	Chat(ctx context.Context, messages []model.Message, chatModel string) (io.ReadCloser, error)
}

type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	Model    string        `json:"model"`
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatHandler struct {
	relay  ChatRelay
	logger *slog.Logger
}

func NewChatHandler(relay ChatRelay, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		relay:  relay,
		logger: logger,
	}
}

// Chat relays a completion as plain text, flushing after every chunk.
// POST /chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	messages := req.toMessages()

	stream, err := h.relay.Chat(r.Context(), messages, req.Model)
	if err != nil {
		h.respondRelayError(w, err)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	buf := make([]byte, streamBufferSize)
	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			if _, err = w.Write(buf[:n]); err != nil {
				h.logger.Debug("client went away", "error", err)
				return
			}
			if err = rc.Flush(); err != nil {
				h.logger.Debug("failed to flush chat stream", "error", err)
			}
		}
		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) || r.Context().Err() != nil {
			return
		}
		// The status line is already sent; aborting is the only way to tell
		// the client the body is incomplete.
		h.logger.Error("chat stream failed", "error", readErr)
		panic(http.ErrAbortHandler)
	}
}

func (h *ChatHandler) respondRelayError(w http.ResponseWriter, err error) {
	var statusErr *model.UpstreamStatusError
	var reqErr *model.UpstreamRequestError
	switch {
	case errors.As(err, &statusErr):
		h.logger.Warn("upstream rejected chat request", "status", statusErr.StatusCode)
		httputil.RespondError(w, statusErr.StatusCode, statusErr.Body)
	case errors.As(err, &reqErr):
		h.logger.Error("upstream unreachable", "error", err)
		httputil.RespondError(w, http.StatusBadGateway, err.Error())
	default:
		h.logger.Error("failed to open chat stream", "error", err)
		httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (req ChatRequest) Validate() error {
	return validation.ValidateStruct(
		&req,
		validation.Field(&req.Messages, validation.Required),
	)
}

func (m ChatMessage) Validate() error {
	return validation.ValidateStruct(
		&m,
		validation.Field(&m.Role, validation.Required, validation.In(string(model.RoleUser), string(model.RoleAssistant))),
	)
}

func (req ChatRequest) toMessages() []model.Message {
	messages := make([]model.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, model.Message{Role: model.Role(m.Role), Content: m.Content})
	}
	return messages
}
