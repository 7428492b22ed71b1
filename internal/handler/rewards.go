package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/gamehub-rewards/internal/realtime"
	"github.com/mmeshcher/gamehub-rewards/internal/service"
)

// GetProfile возвращает профиль, создавая его при первом обращении.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		unauthorized(w)
		return
	}

	p, err := h.service.GetOrCreateProfile(r.Context(), a)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetTransactions возвращает историю начислений, новые записи первыми.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		unauthorized(w)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(w)
			return
		}
		limit = n
	}

	txs, err := h.service.Transactions(r.Context(), a, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// Stream открывает WebSocket с обновлениями профиля и сменой дня.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		unauthorized(w)
		return
	}

	p, err := h.service.GetOrCreateProfile(r.Context(), a)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// Полночь отсчитывается в поясе, закреплённом за профилем.
	loc := h.location
	if p.Timezone != "" {
		if l, err := time.LoadLocation(p.Timezone); err == nil {
			loc = l
		}
	}
	h.streamer.ServeWS(w, r, realtime.Session{
		UserID:   a.UserID,
		TestMode: a.TestMode && h.service.TestModeAllowed(a.UserID),
		Location: loc,
		Initial:  p,
	})
}

// GetCheckin возвращает состояние недельной серии отметок.
func (h *Handler) GetCheckin(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		unauthorized(w)
		return
	}

	st, err := h.service.CheckinStatus(r.Context(), a)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ClaimCheckin получает награду за день серии.
func (h *Handler) ClaimCheckin(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		unauthorized(w)
		return
	}

	day, err := strconv.Atoi(chi.URLParam(r, "day"))
	if err != nil {
		h.writeError(w, r, service.ErrUnknownDay)
		return
	}

	res, err := h.service.ClaimCheckin(r.Context(), a, day)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetTasks возвращает задания с прогрессом пользователя.
func (h *Handler) GetTasks(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		unauthorized(w)
		return
	}

	st, err := h.service.TaskStatus(r.Context(), a)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type progressRequest struct {
	Progress *int `json:"progress"`
}

// UpdateTaskProgress сохраняет прогресс задания.
func (h *Handler) UpdateTaskProgress(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req progressRequest
	if !decode(r, &req) || req.Progress == nil {
		badRequest(w)
		return
	}

	st, err := h.service.UpdateTaskProgress(r.Context(), a, chi.URLParam(r, "id"), *req.Progress)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ClaimTask получает награду за задание.
func (h *Handler) ClaimTask(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		unauthorized(w)
		return
	}

	res, err := h.service.ClaimTask(r.Context(), a, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ResetDailyTasks сбрасывает ежедневные задания в тестовом режиме.
func (h *Handler) ResetDailyTasks(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		unauthorized(w)
		return
	}

	st, err := h.service.ResetDailyTasks(r.Context(), a)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetInvites возвращает код приглашения и лестницу наград.
func (h *Handler) GetInvites(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		unauthorized(w)
		return
	}

	st, err := h.service.InviteStatus(r.Context(), a)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type redeemRequest struct {
	Code string `json:"code"`
}

// RedeemInvite привязывает пользователя к пригласившему по коду.
func (h *Handler) RedeemInvite(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req redeemRequest
	if !decode(r, &req) {
		badRequest(w)
		return
	}

	p, err := h.service.RedeemInvite(r.Context(), a, req.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ClaimInvite получает награду этапа лестницы приглашений.
func (h *Handler) ClaimInvite(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		unauthorized(w)
		return
	}

	res, err := h.service.ClaimInvite(r.Context(), a, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ResetSandbox очищает данные тестового режима пользователя.
func (h *Handler) ResetSandbox(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		unauthorized(w)
		return
	}

	if err := h.service.ResetSandbox(r.Context(), a); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sandboxInvitesRequest struct {
	Count int `json:"count"`
}

// AddSandboxInvites добавляет приглашённых друзей в тестовом режиме.
func (h *Handler) AddSandboxInvites(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req sandboxInvitesRequest
	if !decode(r, &req) {
		badRequest(w)
		return
	}

	st, err := h.service.AddSandboxInvites(r.Context(), a, req.Count)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
