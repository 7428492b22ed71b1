package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ErrInvalidSignature возвращается, если подпись события не прошла проверку.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Action описывает, что нужно сделать с заказом по событию.
type Action int

const (
	// ActionNone: событие только журналируется.
	ActionNone Action = iota
	// ActionConfirm: оплата получена, заказ подтверждается.
	ActionConfirm
	// ActionFail: оплата больше невозможна, заказ закрывается без начисления.
	ActionFail
)

// Типы событий, которые влияют на заказы.
const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncFailed    = "checkout.session.async_payment_failed"
	EventCheckoutExpired        = "checkout.session.expired"
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
)

const (
	metadataOrderID = "orderId"
	metadataUserID  = "userId"
)

// Event описывает проверенное событие платёжной системы.
type Event struct {
	ID   string
	Type string
	// Data хранит исходный объект события для журнала аудита.
	Data json.RawMessage

	OrderID     string
	UserID      string
	AmountCents int64
	Paid        bool
}

// Action возвращает действие над заказом для события.
func (e *Event) Action() Action {
	if e.OrderID == "" {
		return ActionNone
	}
	switch e.Type {
	case EventCheckoutCompleted:
		if e.Paid {
			return ActionConfirm
		}
		return ActionNone
	case EventCheckoutAsyncSucceeded, EventPaymentIntentSucceeded:
		return ActionConfirm
	case EventCheckoutExpired, EventCheckoutAsyncFailed:
		return ActionFail
	default:
		return ActionNone
	}
}

// ParseEvent проверяет подпись заголовка Stripe-Signature и разбирает событие.
func ParseEvent(payload []byte, signature, secret string) (*Event, error) {
	raw, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	ev := &Event{ID: raw.ID, Type: string(raw.Type)}
	if raw.Data == nil {
		return ev, nil
	}
	ev.Data = raw.Data.Raw

	switch ev.Type {
	case EventCheckoutCompleted, EventCheckoutAsyncSucceeded, EventCheckoutAsyncFailed, EventCheckoutExpired:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(raw.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		ev.OrderID = s.ClientReferenceID
		if ev.OrderID == "" {
			ev.OrderID = s.Metadata[metadataOrderID]
		}
		ev.UserID = s.Metadata[metadataUserID]
		ev.AmountCents = s.AmountTotal
		ev.Paid = s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid
	case EventPaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		ev.OrderID = pi.Metadata[metadataOrderID]
		ev.UserID = pi.Metadata[metadataUserID]
		ev.AmountCents = pi.AmountReceived
		if ev.AmountCents == 0 {
			ev.AmountCents = pi.Amount
		}
		ev.Paid = true
	}

	return ev, nil
}
