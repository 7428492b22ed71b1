// Package calendar вычисляет календарные дни и недели в часовом поясе пользователя
// и планирует срабатывания в локальную полночь.
package calendar

import (
	"context"
	"fmt"
	"time"
)

// DayLayout задаёт формат строки календарного дня.
const DayLayout = "2006-01-02"

// Clock возвращает текущее время. Нужен для подмены времени в тестах.
type Clock interface {
	Now() time.Time
}

// ClockFunc адаптирует функцию к интерфейсу Clock.
type ClockFunc func() time.Time

// Now возвращает текущее время.
func (f ClockFunc) Now() time.Time { return f() }

// System возвращает реальное время.
var System Clock = ClockFunc(time.Now)

// Day возвращает календарный день момента t в часовом поясе loc.
func Day(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DayLayout)
}

// Week возвращает ISO-неделю момента t в часовом поясе loc, например "2024-W01".
func Week(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	year, week := t.In(loc).ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// NextMidnight возвращает ближайшую локальную полночь строго после t.
func NextMidnight(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// Scheduler вызывает обработчик в каждую локальную полночь и перевзводит таймер после срабатывания.
type Scheduler struct {
	loc    *time.Location
	clock  Clock
	onTick func(day string)

	// after подменяется в тестах.
	after func(d time.Duration) (<-chan time.Time, func() bool)
}

// NewScheduler создаёт планировщик полуночных срабатываний для часового пояса loc.
func NewScheduler(loc *time.Location, clock Clock, onTick func(day string)) *Scheduler {
	if clock == nil {
		clock = System
	}
	return &Scheduler{
		loc:    loc,
		clock:  clock,
		onTick: onTick,
		after: func(d time.Duration) (<-chan time.Time, func() bool) {
			t := time.NewTimer(d)
			return t.C, t.Stop
		},
	}
}

// Run блокируется до отмены контекста, вызывая обработчик с новым днём после каждой полуночи.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		now := s.clock.Now()
		wait := NextMidnight(now, s.loc).Sub(now)

		fired, stop := s.after(wait)
		select {
		case <-ctx.Done():
			stop()
			return
		case <-fired:
			s.onTick(Day(s.clock.Now(), s.loc))
		}
	}
}
