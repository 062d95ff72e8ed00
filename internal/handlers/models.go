package handlers

import (
	"log/slog"
	"net/http"

	"github.com/poe2oai/gateway/internal/apierror"
	"github.com/poe2oai/gateway/internal/emit"
	"github.com/poe2oai/gateway/internal/models"
	"github.com/poe2oai/gateway/internal/poetypes"
)

// ModelsHandler serves the filtered model list: GET /v1/models, /models.
type ModelsHandler struct {
	agg    *models.Aggregator
	logger *slog.Logger
}

func NewModelsHandler(agg *models.Aggregator, logger *slog.Logger) *ModelsHandler {
	return &ModelsHandler{agg: agg, logger: logger}
}

func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	list, err := h.agg.Filtered(r.Context())
	if err != nil {
		h.logger.Error("filtered model list failed", "error", err)
		emit.WriteError(w, apierror.GenericUpstreamFailure(err.Error()))
		return
	}

	emit.WriteJSON(w, http.StatusOK, poetypes.ModelListResponse{Object: "list", Data: list})
}

// APIModelsHandler serves the unfiltered, always-fresh upstream catalog:
// GET /api/models.
type APIModelsHandler struct {
	agg    *models.Aggregator
	logger *slog.Logger
}

func NewAPIModelsHandler(agg *models.Aggregator, logger *slog.Logger) *APIModelsHandler {
	return &APIModelsHandler{agg: agg, logger: logger}
}

func (h *APIModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	list, err := h.agg.RefreshUpstream(r.Context())
	if err != nil {
		h.logger.Error("upstream model list refresh failed", "error", err)
		emit.WriteError(w, apierror.GenericUpstreamFailure(err.Error()))
		return
	}

	emit.WriteJSON(w, http.StatusOK, poetypes.ModelListResponse{Object: "list", Data: list})
}
