package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// GetPackages возвращает пакеты токенов магазина.
func (h *Handler) GetPackages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Packages())
}

type createOrderRequest struct {
	PackageID string `json:"packageId"`
}

// CreateOrder создаёт заказ и возвращает ссылку на оплату.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req createOrderRequest
	if !decode(r, &req) || req.PackageID == "" {
		badRequest(w)
		return
	}

	o, err := h.service.CreateOrder(r.Context(), a, req.PackageID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// GetOrders возвращает заказы пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		unauthorized(w)
		return
	}

	orders, err := h.service.Orders(r.Context(), a)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetOrder возвращает статус заказа. С параметром wait=1 ждёт, пока заказ ожидает оплаты,
// но не дольше окна опроса.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		unauthorized(w)
		return
	}

	id := chi.URLParam(r, "id")
	get := h.service.GetOrder
	if wait := r.URL.Query().Get("wait"); wait == "1" || wait == "true" {
		get = h.service.WaitOrder
	}

	o, err := get(r.Context(), a, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ConfirmTestOrder имитирует оплату заказа в тестовом режиме.
func (h *Handler) ConfirmTestOrder(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		unauthorized(w)
		return
	}

	o, err := h.service.ConfirmTestOrder(r.Context(), a, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
