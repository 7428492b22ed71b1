package service

import (
	"context"

	"github.com/mmeshcher/gamehub-rewards/internal/model"
)

const defaultTransactionsLimit = 50

// GetOrCreateProfile возвращает профиль пользователя, создавая его с нулевыми счётчиками при первом обращении.
func (s *Service) GetOrCreateProfile(ctx context.Context, a Actor) (*model.Profile, error) {
	repo, testMode, err := s.session(a)
	if err != nil {
		return nil, err
	}
	return s.ensureProfile(ctx, repo, a, testMode)
}

// IncrementTokens атомарно начисляет delta токенов и записывает операцию в историю.
func (s *Service) IncrementTokens(ctx context.Context, a Actor, delta int64, typ model.TransactionType, description string) (*model.Profile, error) {
	if delta <= 0 {
		return nil, ErrInvalidAmount
	}

	repo, testMode, err := s.session(a)
	if err != nil {
		return nil, err
	}
	if _, err := s.ensureProfile(ctx, repo, a, testMode); err != nil {
		return nil, err
	}

	p, err := repo.IncrementTokens(ctx, a.UserID, model.Credit{Amount: delta, Type: typ, Description: description})
	if err != nil {
		return nil, storeError(err)
	}

	if s.notifier != nil {
		s.notifier.ProfileChanged(a.UserID, *p, testMode)
	}
	return p, nil
}

// Transactions возвращает историю начислений пользователя, новые первыми.
func (s *Service) Transactions(ctx context.Context, a Actor, limit int) ([]model.Transaction, error) {
	repo, _, err := s.session(a)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultTransactionsLimit
	}

	txs, err := repo.GetTransactions(ctx, a.UserID, limit)
	if err != nil {
		return nil, storeError(err)
	}
	return txs, nil
}
