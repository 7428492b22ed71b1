package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/gamehub-rewards/internal/model"
	"github.com/mmeshcher/gamehub-rewards/internal/payment"
	"github.com/mmeshcher/gamehub-rewards/internal/repository"
)

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := newActor("quinn")

	_, err := f.svc.CreateOrder(ctx, a, "token_7")
	assert.ErrorIs(t, err, ErrUnknownPackage)

	o, err := f.svc.CreateOrder(ctx, a, "token_50")
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, o.Status)
	assert.Equal(t, int64(50), o.TokenAmount)
	assert.Equal(t, int64(5), o.BonusAmount)
	assert.Equal(t, int64(499), o.PriceCents)
	assert.Equal(t, "https://checkout.example.com/"+o.ID, o.CheckoutURL)

	other, err := f.svc.CreateOrder(ctx, a, "token_50")
	require.NoError(t, err)
	assert.NotEqual(t, o.ID, other.ID)
	require.Len(t, f.payments.created, 2, "one checkout session per order")

	stored, err := f.svc.GetOrder(ctx, a, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "cs_"+o.ID, stored.CheckoutSessionID)

	_, err = f.svc.GetOrder(ctx, newActor("rita"), o.ID)
	assert.ErrorIs(t, err, repository.ErrOrderNotFound)

	orders, err := f.svc.Orders(ctx, a)
	require.NoError(t, err)
	assert.Len(t, orders, 2)
}

func TestCreateOrder_ProcessorErrors(t *testing.T) {
	ctx := context.Background()
	a := newActor("sam")

	svc := NewService(repository.NewMemoryRepository(), Options{})
	_, err := svc.CreateOrder(ctx, a, "token_10")
	assert.ErrorIs(t, err, ErrPaymentsDisabled)

	f := newFixture(t)
	f.payments.newErr = errors.New("card network down")

	_, err = f.svc.CreateOrder(ctx, a, "token_10")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	orders, err := f.svc.Orders(ctx, a)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, model.OrderStatusFailed, orders[0].Status)
}

func TestConfirmPayment_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := newActor("tina")

	o, err := f.svc.CreateOrder(ctx, a, "token_50")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		confirmed, err := f.svc.ConfirmPayment(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusCompleted, confirmed.Status)
	}

	p, err := f.svc.GetOrCreateProfile(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(55), p.Tokens)
	assert.Equal(t, int64(1), p.PurchaseCount)
	assert.Equal(t, int64(499), p.TotalSpentCents)

	_, err = f.svc.ConfirmPayment(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrOrderNotFound)
}

func TestApplyPaymentEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := newActor("uma")

	o, err := f.svc.CreateOrder(ctx, a, "token_100")
	require.NoError(t, err)

	res, err := f.svc.ApplyPaymentEvent(ctx, &payment.Event{Type: "customer.created"})
	require.NoError(t, err)
	assert.Nil(t, res)

	_, err = f.svc.ApplyPaymentEvent(ctx, &payment.Event{
		Type: payment.EventCheckoutCompleted, OrderID: o.ID, UserID: "someone-else", AmountCents: 999, Paid: true,
	})
	assert.ErrorIs(t, err, ErrPaymentMismatch)

	_, err = f.svc.ApplyPaymentEvent(ctx, &payment.Event{
		Type: payment.EventCheckoutCompleted, OrderID: o.ID, UserID: a.UserID, AmountCents: 1, Paid: true,
	})
	assert.ErrorIs(t, err, ErrPaymentMismatch)

	// Сумма события больше цены не влияет на начисление.
	confirmed, err := f.svc.ApplyPaymentEvent(ctx, &payment.Event{
		Type: payment.EventCheckoutCompleted, OrderID: o.ID, UserID: a.UserID, AmountCents: 1_000_000, Paid: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, confirmed.Status)
	assert.Equal(t, int64(115), f.tokens(t, f.repo, a))

	_, err = f.svc.ApplyPaymentEvent(ctx, &payment.Event{
		Type: payment.EventPaymentIntentSucceeded, OrderID: o.ID, UserID: a.UserID, AmountCents: 999, Paid: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(115), f.tokens(t, f.repo, a))
}

func TestApplyPaymentEvent_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := newActor("victor")

	o, err := f.svc.CreateOrder(ctx, a, "token_10")
	require.NoError(t, err)

	failed, err := f.svc.ApplyPaymentEvent(ctx, &payment.Event{Type: payment.EventCheckoutExpired, OrderID: o.ID})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFailed, failed.Status)

	_, err = f.svc.ConfirmPayment(ctx, o.ID)
	assert.ErrorIs(t, err, repository.ErrOrderClosed)
}

func TestPaymentReconciliation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := newActor("wendy")

	paid, err := f.svc.CreateOrder(ctx, a, "token_10")
	require.NoError(t, err)

	f.payments.status = payment.SessionPaid
	f.svc.processPendingBatch(ctx)

	o, err := f.svc.GetOrder(ctx, a, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, o.Status)
	assert.Equal(t, int64(10), f.tokens(t, f.repo, a))

	f.payments.status = payment.SessionExpired
	expired, err := f.svc.CreateOrder(ctx, a, "token_10")
	require.NoError(t, err)
	f.svc.processPendingBatch(ctx)

	o, err = f.svc.GetOrder(ctx, a, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusFailed, o.Status)
}

func TestWaitOrder(t *testing.T) {
	f := newFixture(t)
	a := newActor("xena")

	o, err := f.svc.CreateOrder(context.Background(), a, "token_50")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	got, err := f.svc.WaitOrder(ctx, a, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, got.Status, "request context bounds the wait")

	f.payments.status = payment.SessionPaid

	got, err = f.svc.WaitOrder(context.Background(), a, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, got.Status)

	f.payments.status = payment.SessionOpen
	late, err := f.svc.CreateOrder(context.Background(), a, "token_10")
	require.NoError(t, err)
	f.clock.Set(f.clock.Now().Add(2 * time.Minute))

	got, err = f.svc.WaitOrder(context.Background(), a, late.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, got.Status, "poll window elapsed")
}

func TestTestModeOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	op := operator()

	o, err := f.svc.CreateOrder(ctx, op, "token_50")
	require.NoError(t, err)
	assert.Empty(t, o.CheckoutURL)
	assert.Empty(t, f.payments.created)

	_, err = f.svc.ConfirmTestOrder(ctx, newActor("yuri"), o.ID)
	assert.ErrorIs(t, err, ErrTestModeForbidden)

	done := make(chan *model.Order, 1)
	go func() {
		waited, err := f.svc.WaitOrder(ctx, op, o.ID)
		assert.NoError(t, err)
		done <- waited
	}()

	confirmed, err := f.svc.ConfirmTestOrder(ctx, op, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCompleted, confirmed.Status)
	assert.Equal(t, int64(55), f.tokens(t, f.sandbox, op))

	select {
	case waited := <-done:
		assert.Equal(t, model.OrderStatusCompleted, waited.Status)
	case <-time.After(time.Second):
		t.Fatal("WaitOrder did not observe the confirmation")
	}

	_, err = f.repo.GetOrder(ctx, o.ID)
	assert.ErrorIs(t, err, repository.ErrOrderNotFound)
}
