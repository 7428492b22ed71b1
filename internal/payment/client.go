// Package payment предоставляет клиент платёжной системы: создание сессий оплаты,
// проверку их статуса и разбор входящих событий вебхука.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/mmeshcher/gamehub-rewards/internal/model"
)

// ErrNotConfigured возвращается, если ключ платёжной системы не задан.
var ErrNotConfigured = errors.New("payment processor not configured")

// Checkout описывает созданную сессию оплаты.
type Checkout struct {
	SessionID string
	URL       string
}

// SessionStatus описывает состояние сессии оплаты с точки зрения сверки заказов.
type SessionStatus string

const (
	// SessionOpen: оплата ещё может состояться.
	SessionOpen SessionStatus = "open"
	// SessionPaid: оплата получена.
	SessionPaid SessionStatus = "paid"
	// SessionExpired: сессия истекла, оплата невозможна.
	SessionExpired SessionStatus = "expired"
)

// Client инкапсулирует взаимодействие с платёжной системой.
type Client struct {
	api       *client.API
	publicURL string
}

// NewClient создаёт клиент платёжной системы. publicURL задаёт адрес фронтенда для
// страниц успешной и отменённой оплаты.
func NewClient(secretKey, publicURL string) *Client {
	return newClient(secretKey, publicURL, nil)
}

func newClient(secretKey, publicURL string, backends *stripe.Backends) *Client {
	return &Client{
		api:       client.New(secretKey, backends),
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// CreateCheckout создаёт отдельную сессию оплаты для заказа. Идентификатор заказа
// передаётся как client_reference_id и в метаданных сессии и платежа.
func (c *Client) CreateCheckout(ctx context.Context, order model.Order) (*Checkout, error) {
	if c == nil || c.api == nil {
		return nil, ErrNotConfigured
	}

	metadata := map[string]string{
		metadataOrderID: order.ID,
		metadataUserID:  order.UserID,
		"packageId":     order.PackageID,
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(order.ID),
		SuccessURL: stripe.String(fmt.Sprintf("%s/payment-success?session_id={CHECKOUT_SESSION_ID}&order_id=%s",
			c.publicURL, url.QueryEscape(order.ID))),
		CancelURL: stripe.String(fmt.Sprintf("%s/payment-cancelled?order_id=%s",
			c.publicURL, url.QueryEscape(order.ID))),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(string(stripe.CurrencyUSD)),
					UnitAmount: stripe.Int64(order.PriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("%d tokens", order.Total())),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	return &Checkout{SessionID: s.ID, URL: s.URL}, nil
}

// CheckoutStatus запрашивает состояние сессии оплаты.
func (c *Client) CheckoutStatus(ctx context.Context, sessionID string) (SessionStatus, error) {
	if c == nil || c.api == nil {
		return "", ErrNotConfigured
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	s, err := c.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return "", fmt.Errorf("get checkout session: %w", err)
	}

	switch {
	case s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		return SessionPaid, nil
	case s.Status == stripe.CheckoutSessionStatusExpired:
		return SessionExpired, nil
	default:
		return SessionOpen, nil
	}
}
