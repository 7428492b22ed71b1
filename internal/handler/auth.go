package handler

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/gamehub-rewards/internal/middleware"
	"github.com/mmeshcher/gamehub-rewards/internal/service"
)

type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type identityResponse struct {
	UserID          string `json:"userId"`
	Email           string `json:"email"`
	DisplayName     string `json:"displayName,omitempty"`
	TestMode        bool   `json:"testMode"`
	TestModeAllowed bool   `json:"testModeAllowed"`
}

func (h *Handler) identity(userID, email, displayName string, testMode bool) identityResponse {
	allowed := h.service.TestModeAllowed(userID)
	return identityResponse{
		UserID:          userID,
		Email:           email,
		DisplayName:     displayName,
		TestMode:        testMode && allowed,
		TestModeAllowed: allowed,
	}
}

func readCredentials(r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	if !decode(r, &req) {
		return req, false
	}
	req.Email = strings.TrimSpace(req.Email)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	return req, req.Email != "" && req.Password != ""
}

// Register создаёт учётную запись и открывает сессию.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := readCredentials(r)
	if !ok {
		badRequest(w)
		return
	}

	acc, err := h.service.RegisterUser(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.startSession(w, acc.ID, acc.Email, req.DisplayName, false)
}

// Login выполняет аутентификацию пользователя и открывает сессию.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := readCredentials(r)
	if !ok {
		badRequest(w)
		return
	}

	acc, err := h.service.AuthenticateUser(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.startSession(w, acc.ID, acc.Email, req.DisplayName, false)
}

func (h *Handler) startSession(w http.ResponseWriter, userID, email, displayName string, testMode bool) {
	if err := h.authMiddleware.SetSessionCookie(w, userID, email, displayName, testMode); err != nil {
		h.logger.Error("issue session", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: http.StatusText(http.StatusInternalServerError)})
		return
	}
	writeJSON(w, http.StatusOK, h.identity(userID, email, displayName, testMode))
}

// Logout завершает сессию.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	middleware.ClearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me возвращает текущего пользователя.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		unauthorized(w)
		return
	}
	writeJSON(w, http.StatusOK, h.identity(a.UserID, a.Email, a.DisplayName, a.TestMode))
}

type testModeRequest struct {
	Enabled bool `json:"enabled"`
}

// ToggleTestMode перевыпускает сессию с признаком тестового режима.
// Включить режим может только пользователь из белого списка.
func (h *Handler) ToggleTestMode(w http.ResponseWriter, r *http.Request) {
	a, ok := actor(r)
	if !ok {
		unauthorized(w)
		return
	}

	var req testModeRequest
	if !decode(r, &req) {
		badRequest(w)
		return
	}

	if req.Enabled && !h.service.TestModeAllowed(a.UserID) {
		h.writeError(w, r, service.ErrTestModeForbidden)
		return
	}

	h.logger.Info("test mode toggled", zap.String("userID", a.UserID), zap.Bool("enabled", req.Enabled))
	h.startSession(w, a.UserID, a.Email, a.DisplayName, req.Enabled)
}
