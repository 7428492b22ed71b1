package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmeshcher/gamehub-rewards/internal/model"
	"github.com/mmeshcher/gamehub-rewards/internal/repository"
	"github.com/mmeshcher/gamehub-rewards/internal/validation"
)

// MilestoneStatus описывает этап лестницы приглашений для отображения.
type MilestoneStatus struct {
	model.Milestone
	Claimed   bool `json:"claimed"`
	Claimable bool `json:"claimable"`
}

// InviteStatus описывает прогресс приглашений пользователя.
type InviteStatus struct {
	InviteCode   string            `json:"inviteCode"`
	InvitedCount int64             `json:"invitedCount"`
	Claimed      []string          `json:"claimedRewardIds"`
	Milestones   []MilestoneStatus `json:"milestones"`
	TestMode     bool              `json:"testMode"`
}

func canClaimInvite(st model.InviteProgress, m model.Milestone, testMode bool) bool {
	if testMode {
		return true
	}
	return st.InvitedCount >= m.FriendCount && !contains(st.ClaimedRewardIDs, m.ID)
}

// inviteProgress загружает состояние лестницы и подставляет актуальный счётчик приглашений из профиля.
func (s *Service) inviteProgress(ctx context.Context, repo Repository, a Actor, testMode bool) (*model.Profile, *model.InviteProgress, error) {
	p, err := s.ensureProfile(ctx, repo, a, testMode)
	if err != nil {
		return nil, nil, err
	}

	st, err := loadState[model.InviteProgress](ctx, repo, a.UserID, repository.StateInvites)
	if err != nil {
		return nil, nil, err
	}
	if p.InvitedCount > st.InvitedCount {
		st.InvitedCount = p.InvitedCount
	}
	return p, st, nil
}

// InviteStatus возвращает код приглашения, число приглашённых и состояние лестницы.
func (s *Service) InviteStatus(ctx context.Context, a Actor) (*InviteStatus, error) {
	repo, testMode, err := s.session(a)
	if err != nil {
		return nil, err
	}

	p, st, err := s.inviteProgress(ctx, repo, a, testMode)
	if err != nil {
		return nil, err
	}

	res := &InviteStatus{
		InviteCode:   p.InviteCode,
		InvitedCount: st.InvitedCount,
		Claimed:      st.ClaimedRewardIDs,
		TestMode:     testMode,
	}
	if res.Claimed == nil {
		res.Claimed = []string{}
	}
	for _, m := range s.catalog.Milestones {
		res.Milestones = append(res.Milestones, MilestoneStatus{
			Milestone: m,
			Claimed:   contains(st.ClaimedRewardIDs, m.ID),
			Claimable: canClaimInvite(*st, m, testMode),
		})
	}
	return res, nil
}

// CanClaimInvite сообщает, можно ли получить награду этапа.
func (s *Service) CanClaimInvite(ctx context.Context, a Actor, milestoneID string) (bool, error) {
	repo, testMode, err := s.session(a)
	if err != nil {
		return false, err
	}

	m, ok := s.catalog.Milestone(milestoneID)
	if !ok {
		return false, ErrUnknownMilestone
	}

	_, st, err := s.inviteProgress(ctx, repo, a, testMode)
	if err != nil {
		return false, err
	}
	return canClaimInvite(*st, m, testMode), nil
}

// ClaimInvite выдаёт награду этапа лестницы. Вне тестового режима каждый этап выдаётся не более одного раза.
func (s *Service) ClaimInvite(ctx context.Context, a Actor, milestoneID string) (*ClaimResult, error) {
	repo, testMode, err := s.session(a)
	if err != nil {
		return nil, err
	}

	m, ok := s.catalog.Milestone(milestoneID)
	if !ok {
		return nil, ErrUnknownMilestone
	}

	// Счётчик только растёт, поэтому прочитанное до блокировки значение не завышает права.
	p, err := s.ensureProfile(ctx, repo, a, testMode)
	if err != nil {
		return nil, err
	}

	_, err = updateState(ctx, repo, a.UserID, repository.StateInvites, func(st *model.InviteProgress) (*model.Credit, error) {
		if p.InvitedCount > st.InvitedCount {
			st.InvitedCount = p.InvitedCount
		}
		claimed := contains(st.ClaimedRewardIDs, m.ID)
		if claimed && !testMode {
			return nil, ErrAlreadyClaimed
		}
		if !canClaimInvite(*st, m, testMode) {
			return nil, ErrNotEligible
		}

		if !claimed {
			st.ClaimedRewardIDs = append(st.ClaimedRewardIDs, m.ID)
		}
		return rewardCredit(m.Reward, model.TransactionInvite, fmt.Sprintf("Invite milestone: %s", m.Title)), nil
	})
	if err != nil {
		return nil, err
	}

	return s.claimed(ctx, repo, a.UserID, testMode, m.Reward), nil
}

// RedeemInvite привязывает пользователя к владельцу кода приглашения.
// Счётчик приглашений владельца увеличивается в той же транзакции.
func (s *Service) RedeemInvite(ctx context.Context, a Actor, code string) (*model.Profile, error) {
	repo, testMode, err := s.session(a)
	if err != nil {
		return nil, err
	}

	code = strings.TrimSpace(code)
	if !validation.IsValidInviteCode(code) {
		return nil, ErrInvalidInviteCode
	}
	if _, err := s.ensureProfile(ctx, repo, a, testMode); err != nil {
		return nil, err
	}

	inviterID, err := repo.RedeemInvite(ctx, a.UserID, code)
	if err != nil {
		return nil, storeError(err)
	}

	s.publish(ctx, repo, inviterID, testMode)
	p, err := repo.GetProfile(ctx, a.UserID)
	if err != nil {
		return nil, storeError(err)
	}
	return p, nil
}
