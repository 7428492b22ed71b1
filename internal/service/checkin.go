package service

import (
	"context"
	"fmt"

	"github.com/mmeshcher/gamehub-rewards/internal/catalog"
	"github.com/mmeshcher/gamehub-rewards/internal/model"
	"github.com/mmeshcher/gamehub-rewards/internal/repository"
)

// CheckinDayStatus описывает день недельной серии для отображения.
type CheckinDayStatus struct {
	model.CheckinDay
	Claimed   bool `json:"claimed"`
	Claimable bool `json:"claimable"`
}

// CheckinStatus описывает состояние серии отметок пользователя.
type CheckinStatus struct {
	Today    string             `json:"today"`
	State    model.CheckinState `json:"state"`
	Days     []CheckinDayStatus `json:"days"`
	TestMode bool               `json:"testMode"`
}

func canClaimCheckin(st model.CheckinState, day int, today string, testMode bool) bool {
	if testMode {
		return true
	}
	// Ключи дня сравниваются как строки YYYY-MM-DD, отметка возможна только в более поздний день.
	return day == len(st.CompletedDays)+1 && today > st.LastCheckIn
}

// CheckinStatus возвращает состояние серии и доступность каждого дня.
func (s *Service) CheckinStatus(ctx context.Context, a Actor) (*CheckinStatus, error) {
	repo, testMode, err := s.session(a)
	if err != nil {
		return nil, err
	}

	_, loc, err := s.zone(ctx, repo, a, testMode)
	if err != nil {
		return nil, err
	}

	st, err := loadState[model.CheckinState](ctx, repo, a.UserID, repository.StateCheckin)
	if err != nil {
		return nil, err
	}

	today := s.today(loc)
	res := &CheckinStatus{Today: today, State: *st, TestMode: testMode}
	for _, d := range s.catalog.Checkin {
		res.Days = append(res.Days, CheckinDayStatus{
			CheckinDay: d,
			Claimed:    contains(st.CompletedDays, d.Day),
			Claimable:  canClaimCheckin(*st, d.Day, today, testMode),
		})
	}
	return res, nil
}

// CanClaimCheckin сообщает, можно ли сейчас получить награду за день day.
func (s *Service) CanClaimCheckin(ctx context.Context, a Actor, day int) (bool, error) {
	repo, testMode, err := s.session(a)
	if err != nil {
		return false, err
	}
	if _, ok := s.catalog.CheckinReward(day); !ok {
		return false, ErrUnknownDay
	}

	_, loc, err := s.zone(ctx, repo, a, testMode)
	if err != nil {
		return false, err
	}

	st, err := loadState[model.CheckinState](ctx, repo, a.UserID, repository.StateCheckin)
	if err != nil {
		return false, err
	}
	return canClaimCheckin(*st, day, s.today(loc), testMode), nil
}

// ClaimCheckin выдаёт награду за день day. Начисление и отметка дня сохраняются вместе;
// после седьмого дня серия начинается заново, а счётчик недель увеличивается.
func (s *Service) ClaimCheckin(ctx context.Context, a Actor, day int) (*ClaimResult, error) {
	repo, testMode, err := s.session(a)
	if err != nil {
		return nil, err
	}

	reward, ok := s.catalog.CheckinReward(day)
	if !ok {
		return nil, ErrUnknownDay
	}
	_, loc, err := s.zone(ctx, repo, a, testMode)
	if err != nil {
		return nil, err
	}

	today := s.today(loc)
	_, err = updateState(ctx, repo, a.UserID, repository.StateCheckin, func(st *model.CheckinState) (*model.Credit, error) {
		if !canClaimCheckin(*st, day, today, testMode) {
			if st.LastCheckIn >= today || day <= len(st.CompletedDays) {
				return nil, ErrAlreadyClaimed
			}
			return nil, ErrNotEligible
		}

		if !contains(st.CompletedDays, day) {
			st.CompletedDays = append(st.CompletedDays, day)
		}
		if today > st.LastCheckIn {
			st.LastCheckIn = today
		}
		if len(st.CompletedDays) >= catalog.CheckinDays {
			st.CompletedDays = []int{}
			st.Week++
		}

		return rewardCredit(reward, model.TransactionCheckin, fmt.Sprintf("Daily check-in day %d: %s", day, reward.Name)), nil
	})
	if err != nil {
		return nil, err
	}

	return s.claimed(ctx, repo, a.UserID, testMode, reward), nil
}
