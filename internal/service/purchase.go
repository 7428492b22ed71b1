package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/gamehub-rewards/internal/model"
	"github.com/mmeshcher/gamehub-rewards/internal/payment"
	"github.com/mmeshcher/gamehub-rewards/internal/repository"
)

const pendingBatchSize = 100

// Packages возвращает пакеты токенов магазина.
func (s *Service) Packages() []model.Package {
	return s.catalog.Packages
}

// CreateOrder создаёт ожидающий оплаты заказ и отдельную сессию оплаты для него.
// В тестовом режиме сессия не создаётся: заказ подтверждается через ConfirmTestOrder.
func (s *Service) CreateOrder(ctx context.Context, a Actor, packageID string) (*model.Order, error) {
	repo, testMode, err := s.session(a)
	if err != nil {
		return nil, err
	}

	pkg, ok := s.catalog.Package(packageID)
	if !ok {
		return nil, ErrUnknownPackage
	}
	if !testMode && s.payments == nil {
		return nil, ErrPaymentsDisabled
	}
	if _, err := s.ensureProfile(ctx, repo, a, testMode); err != nil {
		return nil, err
	}

	order := model.Order{
		ID:          uuid.NewString(),
		UserID:      a.UserID,
		PackageID:   pkg.ID,
		TokenAmount: pkg.Amount,
		BonusAmount: pkg.Bonus,
		PriceCents:  pkg.PriceCents,
		Status:      model.OrderStatusPending,
		CreatedAt:   s.now().UTC(),
	}
	if err := repo.CreateOrder(ctx, order); err != nil {
		return nil, storeError(err)
	}
	if testMode {
		return &order, nil
	}

	checkout, err := s.payments.CreateCheckout(ctx, order)
	if err != nil {
		if _, _, failErr := repo.FailOrder(ctx, order.ID); failErr != nil {
			s.logger.Error("fail order after checkout error", zap.String("order", order.ID), zap.Error(failErr))
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	if err := repo.SetOrderCheckout(ctx, order.ID, checkout.SessionID, checkout.URL); err != nil {
		return nil, storeError(err)
	}
	order.CheckoutSessionID = checkout.SessionID
	order.CheckoutURL = checkout.URL

	return &order, nil
}

// GetOrder возвращает заказ пользователя.
func (s *Service) GetOrder(ctx context.Context, a Actor, orderID string) (*model.Order, error) {
	repo, _, err := s.session(a)
	if err != nil {
		return nil, err
	}
	return ownOrder(ctx, repo, a, orderID)
}

func ownOrder(ctx context.Context, repo Repository, a Actor, orderID string) (*model.Order, error) {
	o, err := repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, storeError(err)
	}
	if o.UserID != a.UserID {
		return nil, repository.ErrOrderNotFound
	}
	return o, nil
}

// Orders возвращает заказы пользователя, новые первыми.
func (s *Service) Orders(ctx context.Context, a Actor) ([]model.Order, error) {
	repo, _, err := s.session(a)
	if err != nil {
		return nil, err
	}

	orders, err := repo.GetOrdersByUser(ctx, a.UserID)
	if err != nil {
		return nil, storeError(err)
	}
	return orders, nil
}

// ConfirmPayment переводит заказ в completed и начисляет токены заказа одной транзакцией.
// Повторный вызов для завершённого заказа ничего не меняет.
func (s *Service) ConfirmPayment(ctx context.Context, orderID string) (*model.Order, error) {
	o, completed, err := s.repo.CompleteOrder(ctx, orderID)
	if err != nil {
		return nil, storeError(err)
	}

	if completed {
		s.logger.Info("order completed",
			zap.String("order", o.ID),
			zap.String("userID", o.UserID),
			zap.Int64("tokens", o.Total()))
		s.publish(ctx, s.repo, o.UserID, false)
	}
	return o, nil
}

// FailOrder закрывает ожидающий заказ без начисления.
func (s *Service) FailOrder(ctx context.Context, orderID string) (*model.Order, error) {
	o, failed, err := s.repo.FailOrder(ctx, orderID)
	if err != nil {
		return nil, storeError(err)
	}
	if failed {
		s.logger.Info("order failed", zap.String("order", o.ID), zap.String("userID", o.UserID))
	}
	return o, nil
}

// ApplyPaymentEvent применяет проверенное событие платёжной системы к заказу.
// Начисляется сумма из заказа; сумма события только сверяется с ценой.
func (s *Service) ApplyPaymentEvent(ctx context.Context, ev *payment.Event) (*model.Order, error) {
	action := ev.Action()
	if action == payment.ActionNone {
		return nil, nil
	}

	o, err := s.repo.GetOrder(ctx, ev.OrderID)
	if err != nil {
		return nil, storeError(err)
	}
	if ev.UserID != "" && ev.UserID != o.UserID {
		return nil, fmt.Errorf("%w: event user %q, order user %q", ErrPaymentMismatch, ev.UserID, o.UserID)
	}

	switch action {
	case payment.ActionConfirm:
		if ev.AmountCents > 0 && ev.AmountCents < o.PriceCents {
			return nil, fmt.Errorf("%w: paid %d, price %d", ErrPaymentMismatch, ev.AmountCents, o.PriceCents)
		}
		return s.ConfirmPayment(ctx, o.ID)
	case payment.ActionFail:
		return s.FailOrder(ctx, o.ID)
	}
	return o, nil
}

// ConfirmTestOrder имитирует успешную оплату заказа тестового режима.
func (s *Service) ConfirmTestOrder(ctx context.Context, a Actor, orderID string) (*model.Order, error) {
	repo, testMode, err := s.session(a)
	if err != nil {
		return nil, err
	}
	if !testMode {
		return nil, ErrTestModeForbidden
	}

	if _, err := ownOrder(ctx, repo, a, orderID); err != nil {
		return nil, err
	}

	o, completed, err := repo.CompleteOrder(ctx, orderID)
	if err != nil {
		return nil, storeError(err)
	}
	if completed {
		s.publish(ctx, repo, a.UserID, true)
	}
	return o, nil
}

// WaitOrder ожидает завершения заказа, периодически сверяясь с платёжной системой.
// Ожидание ограничено окном опроса от момента создания заказа и контекстом запроса;
// по истечении окна заказ возвращается как есть и остаётся ожидающим.
func (s *Service) WaitOrder(ctx context.Context, a Actor, orderID string) (*model.Order, error) {
	repo, testMode, err := s.session(a)
	if err != nil {
		return nil, err
	}

	o, err := ownOrder(ctx, repo, a, orderID)
	if err != nil {
		return nil, err
	}

	deadline := o.CreatedAt.Add(s.pollWindow)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for o.Status == model.OrderStatusPending && s.now().Before(deadline) {
		if !testMode {
			if reconciled, err := s.reconcileOrder(ctx, *o); err != nil {
				s.logger.Warn("reconcile order", zap.String("order", o.ID), zap.Error(err))
			} else if reconciled != nil {
				o = reconciled
				continue
			}
		}

		select {
		case <-ctx.Done():
			return o, nil
		case <-ticker.C:
		}

		if o, err = ownOrder(ctx, repo, a, orderID); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// reconcileOrder сверяет ожидающий заказ с состоянием сессии оплаты.
// Возвращает nil, если состояние заказа не изменилось.
func (s *Service) reconcileOrder(ctx context.Context, o model.Order) (*model.Order, error) {
	if s.payments == nil || o.CheckoutSessionID == "" {
		return nil, nil
	}

	status, err := s.payments.CheckoutStatus(ctx, o.CheckoutSessionID)
	if err != nil {
		return nil, err
	}

	switch status {
	case payment.SessionPaid:
		return s.ConfirmPayment(ctx, o.ID)
	case payment.SessionExpired:
		return s.FailOrder(ctx, o.ID)
	default:
		return nil, nil
	}
}

// StartPaymentReconciliation запускает фоновую сверку ожидающих заказов с платёжной системой.
// Сверяются только заказы, созданные в пределах окна опроса.
func (s *Service) StartPaymentReconciliation(ctx context.Context) {
	if s.payments == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processPendingBatch(ctx)
			}
		}
	}()
}

func (s *Service) processPendingBatch(ctx context.Context) {
	orders, err := s.repo.GetPendingOrders(ctx, s.now().Add(-s.pollWindow), pendingBatchSize)
	if err != nil {
		s.logger.Error("get pending orders", zap.Error(err))
		return
	}

	for _, o := range orders {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.reconcileOrder(ctx, o); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("reconcile order", zap.String("order", o.ID), zap.Error(err))
		}
	}
}
