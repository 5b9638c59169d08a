package handler

import (
	"net/http"

	"github.com/iamvkosarev/llm-chat-relay/internal/httputil"
	"github.com/iamvkosarev/llm-chat-relay/internal/model"
)

type PromptsResponse struct {
	Prompts []model.SuggestedPrompt `json:"prompts"`
}

// ListPrompts serves the starter prompts shown on an empty chat.
// GET /prompts
func ListPrompts(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, PromptsResponse{Prompts: model.SuggestedPrompts})
}

// Health
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
