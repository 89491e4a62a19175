package handlers

import (
	"net/http"

	"restaurant-pos/internal/common/httpx"
	"restaurant-pos/internal/microservices/order/domain/dto"
	"restaurant-pos/internal/microservices/order/service"
)

type OrderHandler struct {
	service service.OrderServiceInterface
}

func NewOrderHandler(svc service.OrderServiceInterface) *OrderHandler {
	return &OrderHandler{service: svc}
}

func (h *OrderHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.CreateOrder)
	mux.HandleFunc("GET /api/orders", h.ListOpen)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("POST /api/orders/{id}/items", h.AppendItems)
	mux.HandleFunc("PUT /api/orders/{id}/items/{itemId}/status", h.AdvanceItem)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.CancelOrder)
	mux.HandleFunc("GET /api/kitchen/items", h.KitchenQueue)
}

func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	o, err := h.service.CreateOrder(r.Context(), httpx.ActorFrom(r.Context()), req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, o)
}

func (h *OrderHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListOpenOrders(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"orders": orders})
}

func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	o, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) AppendItems(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req dto.AppendItemsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	o, err := h.service.AppendItems(r.Context(), httpx.ActorFrom(r.Context()), id, req.Items)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) AdvanceItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	itemID, err := httpx.PathID(r, "itemId")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req dto.AdvanceItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	item, err := h.service.AdvanceItem(r.Context(), httpx.ActorFrom(r.Context()), id, itemID, req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, item)
}

func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req dto.CancelOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	o, err := h.service.CancelOrder(r.Context(), httpx.ActorFrom(r.Context()), id, req.Reason)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) KitchenQueue(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.KitchenQueue(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}
