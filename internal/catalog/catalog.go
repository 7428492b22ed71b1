// Package catalog содержит статические таблицы наград: дни отметок, задания,
// лестницу приглашений и пакеты токенов.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/mmeshcher/gamehub-rewards/internal/model"
)

// CheckinDays задаёт число дней недельной серии отметок.
const CheckinDays = 7

// DailyPrefix отмечает идентификаторы ежедневных заданий.
const DailyPrefix = "daily-"

// ErrInvalidCatalog возвращается, если каталог нарушает инварианты.
var ErrInvalidCatalog = errors.New("invalid catalog")

// Catalog объединяет все таблицы наград.
type Catalog struct {
	Checkin    []model.CheckinDay `toml:"checkin"`
	Tasks      []model.Task       `toml:"tasks"`
	Milestones []model.Milestone  `toml:"milestones"`
	Packages   []model.Package    `toml:"packages"`
}

// Default возвращает каталог наград по умолчанию.
func Default() *Catalog {
	return &Catalog{
		Checkin: []model.CheckinDay{
			{Day: 1, Reward: model.Reward{Kind: model.RewardToken, Amount: 100, Name: "Tokens"}},
			{Day: 2, Reward: model.Reward{Kind: model.RewardToken, Amount: 200, Name: "Tokens"}},
			{Day: 3, Reward: model.Reward{Kind: model.RewardToken, Amount: 300, Name: "Tokens"}},
			{Day: 4, Reward: model.Reward{Kind: model.RewardItem, Amount: 1, Name: "Mystery Box"}},
			{Day: 5, Reward: model.Reward{Kind: model.RewardToken, Amount: 500, Name: "Tokens"}},
			{Day: 6, Reward: model.Reward{Kind: model.RewardItem, Amount: 1, Name: "Rare Item"}},
			{Day: 7, Reward: model.Reward{Kind: model.RewardNFT, Amount: 1, Name: "Weekly NFT"}},
		},
		Tasks: []model.Task{
			{
				ID:          "daily-login",
				Title:       "Daily Login",
				Description: "Log in to the platform",
				Reward:      model.Reward{Kind: model.RewardToken, Amount: 10, Name: "tokens"},
				Cadence:     model.CadenceDaily,
			},
			{
				ID:          "daily-games",
				Title:       "Play 3 Games",
				Description: "Play any three games",
				Reward:      model.Reward{Kind: model.RewardToken, Amount: 50, Name: "tokens"},
				Cadence:     model.CadenceDaily,
				Total:       3,
			},
			{
				ID:          "weekly-tournament",
				Title:       "Weekly Tournament",
				Description: "Participate in the weekly tournament",
				Reward:      model.Reward{Kind: model.RewardToken, Amount: 200, Name: "tokens"},
				Cadence:     model.CadenceWeekly,
			},
		},
		Milestones: []model.Milestone{
			{
				ID:          "invite-1",
				FriendCount: 1,
				Reward:      model.Reward{Kind: model.RewardToken, Amount: 100, Name: "Tokens"},
				Title:       "First Friend",
				Description: "Invite your first friend",
			},
			{
				ID:          "invite-3",
				FriendCount: 3,
				Reward:      model.Reward{Kind: model.RewardToken, Amount: 300, Name: "Tokens"},
				Title:       "Growing Circle",
				Description: "Invite 3 friends",
			},
			{
				ID:          "invite-5",
				FriendCount: 5,
				Reward:      model.Reward{Kind: model.RewardItem, Amount: 1, Name: "Mystery Box"},
				Title:       "Social Butterfly",
				Description: "Invite 5 friends",
			},
			{
				ID:          "invite-10",
				FriendCount: 10,
				Reward:      model.Reward{Kind: model.RewardToken, Amount: 1000, Name: "Tokens"},
				Title:       "Party Leader",
				Description: "Invite 10 friends",
			},
			{
				ID:          "invite-20",
				FriendCount: 20,
				Reward:      model.Reward{Kind: model.RewardNFT, Amount: 1, Name: "Exclusive NFT"},
				Title:       "Community Champion",
				Description: "Invite 20 friends",
			},
		},
		Packages: []model.Package{
			{ID: "token_10", Amount: 10, Bonus: 0, PriceCents: 99},
			{ID: "token_50", Amount: 50, Bonus: 5, PriceCents: 499, Tag: "Popular"},
			{ID: "token_100", Amount: 100, Bonus: 15, PriceCents: 999},
			{ID: "token_500", Amount: 500, Bonus: 100, PriceCents: 4999, Tag: "Best Value"},
			{ID: "token_1000", Amount: 1000, Bonus: 250, PriceCents: 9999},
			{ID: "token_2000", Amount: 2000, Bonus: 600, PriceCents: 19999, Tag: "Most Tokens"},
		},
	}
}

// Load читает каталог из TOML-файла. Пустой путь означает каталог по умолчанию.
// Секции, отсутствующие в файле, берутся из каталога по умолчанию.
func Load(path string) (*Catalog, error) {
	def := Default()
	if path == "" {
		return def, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer file.Close()

	var c Catalog
	if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(&c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	if len(c.Checkin) == 0 {
		c.Checkin = def.Checkin
	}
	if len(c.Tasks) == 0 {
		c.Tasks = def.Tasks
	}
	if len(c.Milestones) == 0 {
		c.Milestones = def.Milestones
	}
	if len(c.Packages) == 0 {
		c.Packages = def.Packages
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate проверяет инварианты каталога.
func (c *Catalog) Validate() error {
	if len(c.Checkin) != CheckinDays {
		return fmt.Errorf("%w: checkin table has %d days, want %d", ErrInvalidCatalog, len(c.Checkin), CheckinDays)
	}
	for i, d := range c.Checkin {
		if d.Day != i+1 {
			return fmt.Errorf("%w: checkin day %d at position %d", ErrInvalidCatalog, d.Day, i+1)
		}
	}

	seen := make(map[string]struct{})
	for _, t := range c.Tasks {
		if _, ok := seen[t.ID]; ok || t.ID == "" {
			return fmt.Errorf("%w: duplicate or empty task id %q", ErrInvalidCatalog, t.ID)
		}
		seen[t.ID] = struct{}{}

		daily := strings.HasPrefix(t.ID, DailyPrefix)
		if daily != (t.Cadence == model.CadenceDaily) {
			return fmt.Errorf("%w: task %q cadence %q does not match id prefix", ErrInvalidCatalog, t.ID, t.Cadence)
		}
		switch t.Cadence {
		case model.CadenceOnce, model.CadenceDaily, model.CadenceWeekly:
		default:
			return fmt.Errorf("%w: task %q has unknown cadence %q", ErrInvalidCatalog, t.ID, t.Cadence)
		}
		if t.Total < 0 {
			return fmt.Errorf("%w: task %q has negative total", ErrInvalidCatalog, t.ID)
		}
	}

	seen = make(map[string]struct{})
	var prev int64
	for _, m := range c.Milestones {
		if _, ok := seen[m.ID]; ok || m.ID == "" {
			return fmt.Errorf("%w: duplicate or empty milestone id %q", ErrInvalidCatalog, m.ID)
		}
		seen[m.ID] = struct{}{}
		if m.FriendCount <= prev {
			return fmt.Errorf("%w: milestone %q threshold must grow", ErrInvalidCatalog, m.ID)
		}
		prev = m.FriendCount
	}

	seen = make(map[string]struct{})
	for _, p := range c.Packages {
		if _, ok := seen[p.ID]; ok || p.ID == "" {
			return fmt.Errorf("%w: duplicate or empty package id %q", ErrInvalidCatalog, p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.Amount <= 0 || p.Bonus < 0 || p.PriceCents <= 0 {
			return fmt.Errorf("%w: package %q has invalid amounts", ErrInvalidCatalog, p.ID)
		}
	}

	return nil
}

// CheckinReward возвращает награду за указанный день серии.
func (c *Catalog) CheckinReward(day int) (model.Reward, bool) {
	if day < 1 || day > len(c.Checkin) {
		return model.Reward{}, false
	}
	return c.Checkin[day-1].Reward, true
}

// Task возвращает задание по идентификатору.
func (c *Catalog) Task(id string) (model.Task, bool) {
	for _, t := range c.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return model.Task{}, false
}

// Milestone возвращает этап лестницы приглашений по идентификатору.
func (c *Catalog) Milestone(id string) (model.Milestone, bool) {
	for _, m := range c.Milestones {
		if m.ID == id {
			return m, true
		}
	}
	return model.Milestone{}, false
}

// Package возвращает пакет токенов по идентификатору.
func (c *Catalog) Package(id string) (model.Package, bool) {
	for _, p := range c.Packages {
		if p.ID == id {
			return p, true
		}
	}
	return model.Package{}, false
}

// IsDaily сообщает, относится ли идентификатор задания к ежедневным.
func IsDaily(taskID string) bool {
	return strings.HasPrefix(taskID, DailyPrefix)
}
