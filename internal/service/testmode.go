package service

import "context"

// ResetSandbox очищает данные пользователя в хранилище тестового режима.
func (s *Service) ResetSandbox(ctx context.Context, a Actor) error {
	_, testMode, err := s.session(a)
	if err != nil {
		return err
	}
	if !testMode {
		return ErrTestModeForbidden
	}

	if err := s.sandbox.Reset(ctx, a.UserID); err != nil {
		return storeError(err)
	}
	return nil
}

// maxSandboxInvites ограничивает одно добавление приглашений в тестовом режиме.
const maxSandboxInvites = 100

// AddSandboxInvites увеличивает счётчик приглашённых друзей в хранилище тестового режима,
// чтобы этапы лестницы можно было проверить без реальных приглашений.
func (s *Service) AddSandboxInvites(ctx context.Context, a Actor, count int) (*InviteStatus, error) {
	_, testMode, err := s.session(a)
	if err != nil {
		return nil, err
	}
	if !testMode {
		return nil, ErrTestModeForbidden
	}
	if count <= 0 || count > maxSandboxInvites {
		return nil, ErrInvalidAmount
	}
	if _, err := s.ensureProfile(ctx, s.sandbox, a, testMode); err != nil {
		return nil, err
	}

	if _, err := s.sandbox.AddInvited(ctx, a.UserID, int64(count)); err != nil {
		return nil, storeError(err)
	}
	s.publish(ctx, s.sandbox, a.UserID, testMode)

	return s.InviteStatus(ctx, a)
}
