package handlers

import (
	"net/http"

	"restaurant-pos/internal/common/httpx"
	"restaurant-pos/internal/microservices/audit/service"
)

type AuditHandler struct {
	service service.Recorder
}

func NewAuditHandler(svc service.Recorder) *AuditHandler {
	return &AuditHandler{service: svc}
}

func (h *AuditHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/audit/{entity_type}/{entity_id}", h.GetTimeline)
}

func (h *AuditHandler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	entityType := r.PathValue("entity_type")
	entityID, err := httpx.PathID(r, "entity_id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	limit := httpx.QueryInt(r, "limit", 50)
	offset := httpx.QueryInt(r, "offset", 0)

	entries, err := h.service.Timeline(r.Context(), entityType, entityID, limit, offset)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"entity_type": entityType,
		"entity_id":   entityID,
		"entries":     entries,
	})
}
