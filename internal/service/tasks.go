package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/gamehub-rewards/internal/calendar"
	"github.com/mmeshcher/gamehub-rewards/internal/catalog"
	"github.com/mmeshcher/gamehub-rewards/internal/model"
	"github.com/mmeshcher/gamehub-rewards/internal/repository"
)

// TaskItemStatus описывает задание каталога вместе с прогрессом пользователя.
type TaskItemStatus struct {
	model.Task
	Completed bool   `json:"completed"`
	Progress  int    `json:"progress"`
	LastClaim string `json:"lastClaim,omitempty"`
	Claimable bool   `json:"claimable"`
}

// TaskStatus описывает состояние заданий пользователя.
type TaskStatus struct {
	Today    string           `json:"today"`
	Tasks    []TaskItemStatus `json:"tasks"`
	TestMode bool             `json:"testMode"`
}

func canClaimTask(st model.TaskState, t model.Task, today string, testMode bool) bool {
	if testMode {
		return true
	}
	if contains(st.CompletedTasks, t.ID) {
		return false
	}
	if t.Cadence != model.CadenceOnce && st.LastClaimTime[t.ID] >= today {
		return false
	}
	if t.Total > 0 && st.TaskProgress[t.ID] < t.Total {
		return false
	}
	return true
}

// resetDaily убирает ежедневные задания из выполненных и обнуляет их прогресс.
func resetDaily(st *model.TaskState) {
	kept := st.CompletedTasks[:0]
	for _, id := range st.CompletedTasks {
		if !catalog.IsDaily(id) {
			kept = append(kept, id)
		}
	}
	st.CompletedTasks = kept

	for id := range st.TaskProgress {
		if catalog.IsDaily(id) {
			st.TaskProgress[id] = 0
		}
	}
}

func (s *Service) resetWeekly(st *model.TaskState) {
	kept := st.CompletedTasks[:0]
	for _, id := range st.CompletedTasks {
		if t, ok := s.catalog.Task(id); ok && t.Cadence == model.CadenceWeekly {
			delete(st.TaskProgress, id)
			continue
		}
		kept = append(kept, id)
	}
	st.CompletedTasks = kept
}

// rollover применяет ежедневный и еженедельный сброс, если наступил более поздний
// календарный день или неделя, чем при последнем сбросе. Ключи только растут.
func (s *Service) rollover(st *model.TaskState, loc *time.Location) {
	if st.CompletedTasks == nil {
		st.CompletedTasks = []string{}
	}
	if st.LastClaimTime == nil {
		st.LastClaimTime = make(map[string]string)
	}
	if st.TaskProgress == nil {
		st.TaskProgress = make(map[string]int)
	}

	now := s.now()
	today := calendar.Day(now, loc)
	week := calendar.Week(now, loc)

	if today > st.ResetDay {
		resetDaily(st)
		st.ResetDay = today
	}
	if week > st.ResetWeek {
		s.resetWeekly(st)
		st.ResetWeek = week
	}
}

func (s *Service) loadTasks(ctx context.Context, repo Repository, a Actor, loc *time.Location) (*model.TaskState, error) {
	st, err := loadState[model.TaskState](ctx, repo, a.UserID, repository.StateTasks)
	if err != nil {
		return nil, err
	}
	s.rollover(st, loc)
	return st, nil
}

// TaskStatus возвращает задания каталога с прогрессом и доступностью награды.
func (s *Service) TaskStatus(ctx context.Context, a Actor) (*TaskStatus, error) {
	repo, testMode, err := s.session(a)
	if err != nil {
		return nil, err
	}

	_, loc, err := s.zone(ctx, repo, a, testMode)
	if err != nil {
		return nil, err
	}

	st, err := s.loadTasks(ctx, repo, a, loc)
	if err != nil {
		return nil, err
	}

	today := s.today(loc)
	res := &TaskStatus{Today: today, TestMode: testMode}
	for _, t := range s.catalog.Tasks {
		res.Tasks = append(res.Tasks, TaskItemStatus{
			Task:      t,
			Completed: contains(st.CompletedTasks, t.ID),
			Progress:  st.TaskProgress[t.ID],
			LastClaim: st.LastClaimTime[t.ID],
			Claimable: canClaimTask(*st, t, today, testMode),
		})
	}
	return res, nil
}

// CanClaimTask сообщает, можно ли сейчас получить награду за задание.
func (s *Service) CanClaimTask(ctx context.Context, a Actor, taskID string) (bool, error) {
	repo, testMode, err := s.session(a)
	if err != nil {
		return false, err
	}

	t, ok := s.catalog.Task(taskID)
	if !ok {
		return false, ErrUnknownTask
	}

	_, loc, err := s.zone(ctx, repo, a, testMode)
	if err != nil {
		return false, err
	}

	st, err := s.loadTasks(ctx, repo, a, loc)
	if err != nil {
		return false, err
	}
	return canClaimTask(*st, t, s.today(loc), testMode), nil
}

// ClaimTask выдаёт награду за задание. Начисление и отметка выполнения сохраняются вместе.
func (s *Service) ClaimTask(ctx context.Context, a Actor, taskID string) (*ClaimResult, error) {
	repo, testMode, err := s.session(a)
	if err != nil {
		return nil, err
	}

	t, ok := s.catalog.Task(taskID)
	if !ok {
		return nil, ErrUnknownTask
	}
	_, loc, err := s.zone(ctx, repo, a, testMode)
	if err != nil {
		return nil, err
	}

	today := s.today(loc)
	_, err = updateState(ctx, repo, a.UserID, repository.StateTasks, func(st *model.TaskState) (*model.Credit, error) {
		s.rollover(st, loc)

		if !canClaimTask(*st, t, today, testMode) {
			if contains(st.CompletedTasks, t.ID) || st.LastClaimTime[t.ID] >= today {
				return nil, ErrAlreadyClaimed
			}
			return nil, ErrNotEligible
		}

		if !contains(st.CompletedTasks, t.ID) {
			st.CompletedTasks = append(st.CompletedTasks, t.ID)
		}
		if today > st.LastClaimTime[t.ID] {
			st.LastClaimTime[t.ID] = today
		}

		return rewardCredit(t.Reward, model.TransactionTask, fmt.Sprintf("Task completed: %s", t.Title)), nil
	})
	if err != nil {
		return nil, err
	}

	return s.claimed(ctx, repo, a.UserID, testMode, t.Reward), nil
}

// UpdateTaskProgress устанавливает прогресс задания.
func (s *Service) UpdateTaskProgress(ctx context.Context, a Actor, taskID string, value int) (*TaskItemStatus, error) {
	repo, testMode, err := s.session(a)
	if err != nil {
		return nil, err
	}

	t, ok := s.catalog.Task(taskID)
	if !ok {
		return nil, ErrUnknownTask
	}
	if value < 0 {
		return nil, ErrInvalidProgress
	}
	_, loc, err := s.zone(ctx, repo, a, testMode)
	if err != nil {
		return nil, err
	}

	st, err := updateState(ctx, repo, a.UserID, repository.StateTasks, func(st *model.TaskState) (*model.Credit, error) {
		s.rollover(st, loc)
		st.TaskProgress[t.ID] = value
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	today := s.today(loc)
	return &TaskItemStatus{
		Task:      t,
		Completed: contains(st.CompletedTasks, t.ID),
		Progress:  st.TaskProgress[t.ID],
		LastClaim: st.LastClaimTime[t.ID],
		Claimable: canClaimTask(*st, t, today, testMode),
	}, nil
}

// ResetDailyTasks принудительно выполняет ежедневный сброс. Доступно только в тестовом режиме.
func (s *Service) ResetDailyTasks(ctx context.Context, a Actor) (*TaskStatus, error) {
	repo, testMode, err := s.session(a)
	if err != nil {
		return nil, err
	}
	if !testMode {
		return nil, ErrTestModeForbidden
	}
	_, loc, err := s.zone(ctx, repo, a, testMode)
	if err != nil {
		return nil, err
	}

	_, err = updateState(ctx, repo, a.UserID, repository.StateTasks, func(st *model.TaskState) (*model.Credit, error) {
		s.rollover(st, loc)
		resetDaily(st)
		return nil, nil
	})
	if err != nil {
		return nil, err
	}

	return s.TaskStatus(ctx, a)
}
