package handlers

import (
	"net/http"

	"github.com/Thainyx11/GameMaster/internal/models"
	"github.com/Thainyx11/GameMaster/internal/openrouter"
)

// ModelsResponse represents the model catalog response.
type ModelsResponse struct {
	Models       []openrouter.Model `json:"models"`
	DefaultModel string             `json:"default_model"`
}

// Models handles the model catalog endpoint. Catalog fetch failures degrade
// to an empty list: picking a model is optional, the default always works.
func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.llm.Models(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("model catalog fetch failed")
		catalog = []openrouter.Model{}
	}

	h.JSON(w, http.StatusOK, ModelsResponse{
		Models:       catalog,
		DefaultModel: models.DefaultModel,
	})
}
