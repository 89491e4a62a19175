package handlers

import (
	"net/http"

	"restaurant-pos/internal/common/httpx"
	"restaurant-pos/internal/microservices/table/domain/dto"
	"restaurant-pos/internal/microservices/table/service"
)

type TableHandler struct {
	service service.TableServiceInterface
}

func NewTableHandler(svc service.TableServiceInterface) *TableHandler {
	return &TableHandler{service: svc}
}

func (h *TableHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/tables", h.Create)
	mux.HandleFunc("GET /api/tables", h.List)
	mux.HandleFunc("GET /api/tables/{id}", h.Get)
	mux.HandleFunc("DELETE /api/tables/{id}", h.Delete)
	mux.HandleFunc("POST /api/tables/merge", h.Merge)
	mux.HandleFunc("POST /api/tables/split", h.Split)
	mux.HandleFunc("POST /api/tables/{id}/release", h.Release)
}

func (h *TableHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateTableRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	t, err := h.service.Create(r.Context(), httpx.ActorFrom(r.Context()), req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, t)
}

func (h *TableHandler) List(w http.ResponseWriter, r *http.Request) {
	tables, err := h.service.List(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

func (h *TableHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, t)
}

func (h *TableHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), httpx.ActorFrom(r.Context()), id); err != nil {
		httpx.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TableHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var req dto.MergeTablesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	tables, err := h.service.Merge(r.Context(), httpx.ActorFrom(r.Context()), req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"primary_table_id": req.PrimaryTableID, "tables": tables})
}

func (h *TableHandler) Split(w http.ResponseWriter, r *http.Request) {
	var req dto.SplitTablesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	tables, err := h.service.Split(r.Context(), httpx.ActorFrom(r.Context()), req.PrimaryTableID)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"primary_table_id": req.PrimaryTableID, "tables": tables})
}

func (h *TableHandler) Release(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	tables, err := h.service.Release(r.Context(), httpx.ActorFrom(r.Context()), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"tables": tables})
}
