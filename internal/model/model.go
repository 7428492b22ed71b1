// Package model содержит доменные сущности сервиса наград игрового хаба.
package model

import "time"

// Account представляет учётную запись для входа в хаб.
type Account struct {
	ID           string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// Profile представляет профиль пользователя с балансом токенов и счётчиками.
// Timezone закрепляется при создании профиля и задаёт границы календарного дня.
type Profile struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	DisplayName     string    `json:"displayName"`
	Tokens          int64     `json:"tokens"`
	InvitedCount    int64     `json:"invitedCount"`
	PurchaseCount   int64     `json:"purchaseCount"`
	TotalSpentCents int64     `json:"totalSpentCents"`
	InviteCode      string    `json:"inviteCode"`
	InvitedBy       string    `json:"invitedBy,omitempty"`
	Timezone        string    `json:"timezone"`
	CreatedAt       time.Time `json:"createdAt"`
}

// TransactionType описывает источник начисления токенов.
type TransactionType string

const (
	TransactionCheckin  TransactionType = "daily_login"
	TransactionTask     TransactionType = "task_reward"
	TransactionInvite   TransactionType = "invite_reward"
	TransactionPurchase TransactionType = "purchase"
)

// Transaction описывает запись аудита об изменении баланса.
type Transaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Type        TransactionType `json:"type"`
	Amount      int64           `json:"amount"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"timestamp"`
}

// Credit описывает начисление, которое хранилище применяет вместе с изменением состояния.
type Credit struct {
	Amount      int64
	Type        TransactionType
	Description string
}

// RewardKind описывает вид награды.
type RewardKind string

const (
	RewardToken RewardKind = "token"
	RewardItem  RewardKind = "item"
	RewardNFT   RewardKind = "nft"
)

// Reward описывает награду за день отметки, задание или этап приглашений.
type Reward struct {
	Kind   RewardKind `json:"type" toml:"kind"`
	Amount int64      `json:"amount" toml:"amount"`
	Name   string     `json:"name" toml:"name"`
}

// Tokens возвращает количество токенов, начисляемых за награду.
func (r Reward) Tokens() int64 {
	if r.Kind != RewardToken {
		return 0
	}
	return r.Amount
}

// CheckinState хранит прогресс недельной серии ежедневных отметок.
type CheckinState struct {
	LastCheckIn   string `json:"lastCheckIn"`
	CompletedDays []int  `json:"completedDays"`
	Week          int    `json:"currentWeek"`
}

// TaskState хранит состояние заданий пользователя.
type TaskState struct {
	CompletedTasks []string          `json:"completedTasks"`
	LastClaimTime  map[string]string `json:"lastClaimTime"`
	TaskProgress   map[string]int    `json:"taskProgress"`
	ResetDay       string            `json:"resetDay,omitempty"`
	ResetWeek      string            `json:"resetWeek,omitempty"`
}

// InviteProgress хранит число приглашённых друзей и полученные награды лестницы.
type InviteProgress struct {
	InvitedCount     int64    `json:"invitedCount"`
	ClaimedRewardIDs []string `json:"claimedRewardIds"`
}

// OrderStatus описывает статус заказа на покупку токенов.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
)

// Order описывает попытку покупки пакета токенов.
type Order struct {
	ID                string      `json:"orderId"`
	UserID            string      `json:"userId"`
	PackageID         string      `json:"packageId"`
	TokenAmount       int64       `json:"tokenAmount"`
	BonusAmount       int64       `json:"bonusAmount"`
	PriceCents        int64       `json:"priceCents"`
	Status            OrderStatus `json:"status"`
	CheckoutSessionID string      `json:"-"`
	CheckoutURL       string      `json:"checkoutUrl,omitempty"`
	CreatedAt         time.Time   `json:"createdAt"`
	CompletedAt       *time.Time  `json:"completedAt,omitempty"`
}

// Total возвращает количество токенов, начисляемых при подтверждении заказа.
func (o Order) Total() int64 {
	return o.TokenAmount + o.BonusAmount
}

// CheckinDay описывает награду за один из семи дней недельной серии.
type CheckinDay struct {
	Day    int    `json:"day" toml:"day"`
	Reward Reward `json:"reward" toml:"reward"`
}

// TaskCadence описывает периодичность задания.
type TaskCadence string

const (
	CadenceOnce   TaskCadence = "once"
	CadenceDaily  TaskCadence = "daily"
	CadenceWeekly TaskCadence = "weekly"
)

// Task описывает задание каталога.
type Task struct {
	ID          string      `json:"id" toml:"id"`
	Title       string      `json:"title" toml:"title"`
	Description string      `json:"description" toml:"description"`
	Reward      Reward      `json:"reward" toml:"reward"`
	Cadence     TaskCadence `json:"type" toml:"cadence"`
	Total       int         `json:"total,omitempty" toml:"total"`
}

// Milestone описывает этап лестницы наград за приглашения.
type Milestone struct {
	ID          string `json:"id" toml:"id"`
	FriendCount int64  `json:"friendCount" toml:"friend_count"`
	Reward      Reward `json:"reward" toml:"reward"`
	Title       string `json:"title" toml:"title"`
	Description string `json:"description" toml:"description"`
}

// Package описывает пакет токенов магазина.
type Package struct {
	ID         string `json:"id" toml:"id"`
	Amount     int64  `json:"amount" toml:"amount"`
	Bonus      int64  `json:"bonus" toml:"bonus"`
	PriceCents int64  `json:"priceCents" toml:"price_cents"`
	Tag        string `json:"tag,omitempty" toml:"tag"`
}
