// Package handler содержит HTTP-обработчики API сервиса наград.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/gamehub-rewards/internal/middleware"
	"github.com/mmeshcher/gamehub-rewards/internal/model"
	"github.com/mmeshcher/gamehub-rewards/internal/realtime"
	"github.com/mmeshcher/gamehub-rewards/internal/repository"
	"github.com/mmeshcher/gamehub-rewards/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, email, password string) (*model.Account, error)
	AuthenticateUser(ctx context.Context, email, password string) (*model.Account, error)
	TestModeAllowed(userID string) bool

	GetOrCreateProfile(ctx context.Context, a service.Actor) (*model.Profile, error)
	Transactions(ctx context.Context, a service.Actor, limit int) ([]model.Transaction, error)

	CheckinStatus(ctx context.Context, a service.Actor) (*service.CheckinStatus, error)
	ClaimCheckin(ctx context.Context, a service.Actor, day int) (*service.ClaimResult, error)

	TaskStatus(ctx context.Context, a service.Actor) (*service.TaskStatus, error)
	UpdateTaskProgress(ctx context.Context, a service.Actor, taskID string, value int) (*service.TaskItemStatus, error)
	ClaimTask(ctx context.Context, a service.Actor, taskID string) (*service.ClaimResult, error)
	ResetDailyTasks(ctx context.Context, a service.Actor) (*service.TaskStatus, error)

	InviteStatus(ctx context.Context, a service.Actor) (*service.InviteStatus, error)
	RedeemInvite(ctx context.Context, a service.Actor, code string) (*model.Profile, error)
	ClaimInvite(ctx context.Context, a service.Actor, milestoneID string) (*service.ClaimResult, error)

	Packages() []model.Package
	CreateOrder(ctx context.Context, a service.Actor, packageID string) (*model.Order, error)
	GetOrder(ctx context.Context, a service.Actor, orderID string) (*model.Order, error)
	WaitOrder(ctx context.Context, a service.Actor, orderID string) (*model.Order, error)
	Orders(ctx context.Context, a service.Actor) ([]model.Order, error)
	ConfirmTestOrder(ctx context.Context, a service.Actor, orderID string) (*model.Order, error)

	ResetSandbox(ctx context.Context, a service.Actor) error
	AddSandboxInvites(ctx context.Context, a service.Actor, count int) (*service.InviteStatus, error)
}

// Streamer обслуживает подписку на изменения профиля по WebSocket.
type Streamer interface {
	ServeWS(w http.ResponseWriter, r *http.Request, sess realtime.Session)
}

// Handler реализует HTTP-обработчики API сервиса наград.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	streamer       Streamer
	location       *time.Location
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// Пояс loc используется для профилей без закреплённого часового пояса.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, streamer Streamer, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		streamer:       streamer,
		location:       loc,
	}
}

const timezoneHeader = "X-Timezone"

// actor собирает пользователя запроса из токена сессии и заголовка часового пояса.
// Заголовок X-Timezone учитывается только при создании профиля.
func actor(r *http.Request) (service.Actor, bool) {
	c, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		return service.Actor{}, false
	}

	a := service.Actor{
		UserID:      c.UserID(),
		Email:       c.Email,
		DisplayName: c.DisplayName,
		TestMode:    c.TestMode,
	}
	if tz := r.Header.Get(timezoneHeader); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			a.Location = loc
		}
	}
	return a, true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotAuthenticated),
		errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrTestModeForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrAlreadyClaimed),
		errors.Is(err, repository.ErrAccountExists),
		errors.Is(err, repository.ErrAlreadyInvited),
		errors.Is(err, repository.ErrOrderClosed):
		return http.StatusConflict
	case errors.Is(err, service.ErrNotEligible),
		errors.Is(err, service.ErrInvalidInviteCode),
		errors.Is(err, service.ErrInvalidProgress),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, repository.ErrSelfInvite):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrUnknownDay),
		errors.Is(err, service.ErrUnknownTask),
		errors.Is(err, service.ErrUnknownMilestone),
		errors.Is(err, service.ErrUnknownPackage),
		errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrInviteCodeNotFound),
		errors.Is(err, repository.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrStoreUnavailable),
		errors.Is(err, service.ErrPaymentsDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError отвечает статусом, соответствующим ошибке. Неизвестные ошибки пишутся в журнал.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()

	switch status {
	case http.StatusInternalServerError:
		h.logger.Error("request failed", zap.String("uri", r.RequestURI), zap.Error(err))
		msg = http.StatusText(status)
	case http.StatusServiceUnavailable:
		h.logger.Warn("store unavailable", zap.String("uri", r.RequestURI), zap.Error(err))
		if errors.Is(err, service.ErrStoreUnavailable) {
			msg = service.ErrStoreUnavailable.Error()
		}
	}

	writeJSON(w, status, errorResponse{Error: msg})
}

func decode(r *http.Request, v any) bool {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v) == nil
}

func unauthorized(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: service.ErrNotAuthenticated.Error()})
}

func badRequest(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: http.StatusText(http.StatusBadRequest)})
}
