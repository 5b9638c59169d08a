package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/iamvkosarev/llm-chat-relay/internal/httputil"
	"github.com/iamvkosarev/llm-chat-relay/internal/model"
)

const messageFailedToFetchModels = "Failed to fetch models"

type ModelLister interface {
	ListModels(ctx context.Context) ([]model.ModelInfo, error)
}

type ModelsResponse struct {
	Models []model.ModelInfo `json:"models"`
}

type ModelsHandler struct {
	models ModelLister
	logger *slog.Logger
}

func NewModelsHandler(models ModelLister, logger *slog.Logger) *ModelsHandler {
	return &ModelsHandler{
		models: models,
		logger: logger,
	}
}

// ListModels returns the models the upstream offers.
// GET /models
func (h *ModelsHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.models.ListModels(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		var statusErr *model.UpstreamStatusError
		if errors.As(err, &statusErr) {
			status = statusErr.StatusCode
		}
		h.logger.Error("failed to list models", "status", status, "error", err)
		httputil.RespondError(w, status, messageFailedToFetchModels)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, ModelsResponse{Models: models})
}
