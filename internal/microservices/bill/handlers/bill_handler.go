package handlers

import (
	"net/http"

	"restaurant-pos/internal/common/httpx"
	"restaurant-pos/internal/domain"
	"restaurant-pos/internal/microservices/bill/domain/dto"
	"restaurant-pos/internal/microservices/bill/service"
)

type BillHandler struct {
	service service.BillServiceInterface
}

func NewBillHandler(svc service.BillServiceInterface) *BillHandler {
	return &BillHandler{service: svc}
}

func (h *BillHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/bills", h.Generate)
	mux.HandleFunc("GET /api/bills/{id}", h.GetBill)
	mux.HandleFunc("PUT /api/bills/{id}/payment", h.UpdatePayment)
	mux.HandleFunc("POST /api/bills/{id}/void", h.Void)
	mux.HandleFunc("POST /api/bills/{id}/split", h.Split)
	mux.HandleFunc("PUT /api/bills/{id}/splits/{splitId}/payment", h.PaySplit)
	mux.HandleFunc("POST /api/bills/{id}/print", h.Print)
	mux.HandleFunc("GET /api/taxes", h.ListTaxes)
}

func (h *BillHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req dto.GenerateBillRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	b, err := h.service.Generate(r.Context(), httpx.ActorFrom(r.Context()), req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"billId": b.ID, "bill": b})
}

func (h *BillHandler) GetBill(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	view, err := h.service.GetBill(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, view)
}

func (h *BillHandler) UpdatePayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req dto.PaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	b, err := h.service.UpdatePayment(r.Context(), httpx.ActorFrom(r.Context()), id, req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, b)
}

func (h *BillHandler) Void(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req dto.VoidRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	b, err := h.service.Void(r.Context(), httpx.ActorFrom(r.Context()), id, req.VoidReason)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, b)
}

func (h *BillHandler) Split(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req dto.SplitRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	b, err := h.service.Split(r.Context(), httpx.ActorFrom(r.Context()), id, req)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, b)
}

func (h *BillHandler) PaySplit(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	splitID, err := httpx.PathID(r, "splitId")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	var req dto.SplitPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, err)
		return
	}
	b, err := h.service.PaySplit(r.Context(), httpx.ActorFrom(r.Context()), id, splitID, domain.PaymentMethod(req.PaymentMethod))
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, b)
}

func (h *BillHandler) Print(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	b, err := h.service.RecordPrint(r.Context(), httpx.ActorFrom(r.Context()), id)
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"bill_id": b.ID, "printed_count": b.PrintedCount})
}

func (h *BillHandler) ListTaxes(w http.ResponseWriter, r *http.Request) {
	taxes, err := h.service.ListTaxes(r.Context())
	if err != nil {
		httpx.WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"taxes": taxes})
}
