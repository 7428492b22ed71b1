package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/mmeshcher/gamehub-rewards/internal/auditlog"
	custommiddleware "github.com/mmeshcher/gamehub-rewards/internal/middleware"
	"github.com/mmeshcher/gamehub-rewards/internal/model"
	"github.com/mmeshcher/gamehub-rewards/internal/payment"
	"github.com/mmeshcher/gamehub-rewards/internal/repository"
	"github.com/mmeshcher/gamehub-rewards/internal/service"
)

const (
	maxWebhookBody   = 64 << 10
	processedEventsN = 4096
	signatureHeader  = "Stripe-Signature"
)

// PaymentEvents применяет проверенные события платёжной системы.
type PaymentEvents interface {
	ApplyPaymentEvent(ctx context.Context, ev *payment.Event) (*model.Order, error)
}

// AuditLog сохраняет проверенные события.
type AuditLog interface {
	Write(e auditlog.Entry) error
}

// WebhookHandler принимает уведомления платёжной системы.
type WebhookHandler struct {
	events    PaymentEvents
	secret    string
	audit     AuditLog
	processed *lru.Cache
	logger    *zap.Logger
}

// NewWebhookHandler создаёт обработчик уведомлений. audit может быть nil.
func NewWebhookHandler(events PaymentEvents, secret string, audit AuditLog, logger *zap.Logger) (*WebhookHandler, error) {
	processed, err := lru.New(processedEventsN)
	if err != nil {
		return nil, fmt.Errorf("create event cache: %w", err)
	}
	return &WebhookHandler{
		events:    events,
		secret:    secret,
		audit:     audit,
		processed: processed,
		logger:    logger,
	}, nil
}

type receivedResponse struct {
	Received bool `json:"received"`
}

// Stripe проверяет подпись уведомления, пишет его в журнал аудита и применяет к заказу.
// Ошибка хранилища возвращает 500, чтобы платёжная система повторила доставку.
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Webhook Error: "+err.Error(), http.StatusBadRequest)
		return
	}

	ev, err := payment.ParseEvent(payload, r.Header.Get(signatureHeader), h.secret)
	if err != nil {
		h.logger.Warn("reject webhook", zap.Error(err))
		http.Error(w, "Webhook Error: "+err.Error(), http.StatusBadRequest)
		return
	}

	if h.audit != nil {
		if err := h.audit.Write(auditlog.Entry{Type: ev.Type, ID: ev.ID, Data: ev.Data}); err != nil {
			h.logger.Error("write webhook audit log", zap.String("event", ev.ID), zap.Error(err))
		}
	}

	if h.processed.Contains(ev.ID) {
		h.logger.Info("duplicate webhook", zap.String("event", ev.ID), zap.String("type", ev.Type))
		writeJSON(w, http.StatusOK, receivedResponse{Received: true})
		return
	}

	o, err := h.events.ApplyPaymentEvent(r.Context(), ev)
	switch {
	case err == nil:
	case errors.Is(err, service.ErrPaymentMismatch),
		errors.Is(err, repository.ErrOrderNotFound):
		h.logger.Warn("ignore webhook",
			zap.String("event", ev.ID),
			zap.String("type", ev.Type),
			zap.String("order", ev.OrderID),
			zap.Error(err),
		)
	default:
		h.logger.Error("apply webhook", zap.String("event", ev.ID), zap.String("order", ev.OrderID), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.processed.Add(ev.ID, struct{}{})
	if o != nil {
		h.logger.Info("webhook applied",
			zap.String("event", ev.ID),
			zap.String("type", ev.Type),
			zap.String("order", o.ID),
			zap.String("status", string(o.Status)),
		)
	}

	writeJSON(w, http.StatusOK, receivedResponse{Received: true})
}

// SetupRouter настраивает маршруты приёмника уведомлений.
// Тело запроса читается без распаковки, подпись считается по исходным байтам.
func (h *WebhookHandler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Logger(h.logger))
	r.Post("/api/webhook/stripe", h.Stripe)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	return r
}
