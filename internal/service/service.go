// Package service реализует бизнес-логику наград игрового хаба: ежедневные отметки,
// задания, лестницу приглашений и покупку токенов.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/singleflight"

	"github.com/mmeshcher/gamehub-rewards/internal/calendar"
	"github.com/mmeshcher/gamehub-rewards/internal/catalog"
	"github.com/mmeshcher/gamehub-rewards/internal/model"
	"github.com/mmeshcher/gamehub-rewards/internal/payment"
	"github.com/mmeshcher/gamehub-rewards/internal/repository"
	"github.com/mmeshcher/gamehub-rewards/internal/testmode"
	"github.com/mmeshcher/gamehub-rewards/internal/validation"
)

var (
	// ErrNotAuthenticated возвращается, если операция вызвана без пользователя.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrInvalidCredentials возвращается при неверном адресе или пароле.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAlreadyClaimed возвращается при повторном получении награды.
	ErrAlreadyClaimed = errors.New("reward already claimed")
	// ErrNotEligible возвращается, если условия получения награды не выполнены.
	ErrNotEligible = errors.New("reward not eligible")
	// ErrStoreUnavailable возвращается при сбое хранилища; операцию можно повторить.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrUnknownDay возвращается для дня вне недельной серии.
	ErrUnknownDay = errors.New("unknown check-in day")
	// ErrUnknownTask возвращается для задания, которого нет в каталоге.
	ErrUnknownTask = errors.New("unknown task")
	// ErrUnknownMilestone возвращается для этапа, которого нет в лестнице приглашений.
	ErrUnknownMilestone = errors.New("unknown milestone")
	// ErrUnknownPackage возвращается для пакета, которого нет в магазине.
	ErrUnknownPackage = errors.New("unknown package")
	// ErrInvalidAmount возвращается при неположительной сумме начисления.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidProgress возвращается при отрицательном прогрессе задания.
	ErrInvalidProgress = errors.New("progress must not be negative")
	// ErrInvalidInviteCode возвращается для кода приглашения с неверным форматом.
	ErrInvalidInviteCode = errors.New("invalid invite code")
	// ErrTestModeForbidden возвращается, если тестовый режим недоступен пользователю.
	ErrTestModeForbidden = errors.New("test mode not allowed")
	// ErrPaymentsDisabled возвращается, если платёжная система не настроена.
	ErrPaymentsDisabled = errors.New("payments disabled")
	// ErrPaymentMismatch возвращается, если событие оплаты не соответствует заказу.
	ErrPaymentMismatch = errors.New("payment does not match order")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateAccount(ctx context.Context, email string, passwordHash []byte) (string, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	GetOrCreateProfile(ctx context.Context, p model.Profile) (*model.Profile, error)
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	IncrementTokens(ctx context.Context, userID string, credit model.Credit) (*model.Profile, error)
	GetTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error)
	LoadState(ctx context.Context, userID, kind string) ([]byte, error)
	UpdateState(ctx context.Context, userID, kind string, fn repository.StateFunc) error
	RedeemInvite(ctx context.Context, userID, code string) (string, error)
	CreateOrder(ctx context.Context, o model.Order) error
	SetOrderCheckout(ctx context.Context, orderID, sessionID, url string) error
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	GetOrdersByUser(ctx context.Context, userID string) ([]model.Order, error)
	GetPendingOrders(ctx context.Context, createdAfter time.Time, limit int) ([]model.Order, error)
	CompleteOrder(ctx context.Context, orderID string) (*model.Order, bool, error)
	FailOrder(ctx context.Context, orderID string) (*model.Order, bool, error)
}

// Sandbox описывает изолированное хранилище тестового режима, которое можно очистить.
type Sandbox interface {
	Repository
	AddInvited(ctx context.Context, userID string, n int64) (*model.Profile, error)
	Reset(ctx context.Context, userID string) error
}

// PaymentProcessor создаёт сессии оплаты и сообщает их состояние.
type PaymentProcessor interface {
	CreateCheckout(ctx context.Context, order model.Order) (*payment.Checkout, error)
	CheckoutStatus(ctx context.Context, sessionID string) (payment.SessionStatus, error)
}

// Notifier получает профиль после каждого изменения баланса или счётчиков.
type Notifier interface {
	ProfileChanged(userID string, p model.Profile, testMode bool)
}

// Actor описывает пользователя, от имени которого выполняется операция.
type Actor struct {
	UserID      string
	Email       string
	DisplayName string
	// TestMode запрошен сессией и действует только для белого списка.
	TestMode bool
	// Location предлагает часовой пояс для нового профиля; nil означает пояс по умолчанию.
	// У существующего профиля пояс уже закреплён и не меняется.
	Location *time.Location
}

// Options содержит зависимости сервиса. Незаданные поля получают значения по умолчанию.
type Options struct {
	Sandbox      Sandbox
	Catalog      *catalog.Catalog
	Policy       *testmode.Policy
	Payments     PaymentProcessor
	Notifier     Notifier
	Logger       *zap.Logger
	Clock        calendar.Clock
	Location     *time.Location
	PollInterval time.Duration
	PollWindow   time.Duration
}

// Service содержит бизнес-логику сервиса наград.
type Service struct {
	repo     Repository
	sandbox  Sandbox
	catalog  *catalog.Catalog
	policy   *testmode.Policy
	payments PaymentProcessor
	notifier Notifier
	logger   *zap.Logger
	clock    calendar.Clock
	loc      *time.Location

	pollInterval time.Duration
	pollWindow   time.Duration
	bcryptCost   int

	profiles singleflight.Group
	zones    sync.Map
}

// NewService создаёт сервис с указанным рабочим хранилищем.
func NewService(repo Repository, opts Options) *Service {
	s := &Service{
		repo:         repo,
		sandbox:      opts.Sandbox,
		catalog:      opts.Catalog,
		policy:       opts.Policy,
		payments:     opts.Payments,
		notifier:     opts.Notifier,
		logger:       opts.Logger,
		clock:        opts.Clock,
		loc:          opts.Location,
		pollInterval: opts.PollInterval,
		pollWindow:   opts.PollWindow,
		bcryptCost:   bcrypt.DefaultCost,
	}
	if s.sandbox == nil {
		s.sandbox = repository.NewMemoryRepository()
	}
	if s.catalog == nil {
		s.catalog = catalog.Default()
	}
	if s.policy == nil {
		s.policy = testmode.NewPolicy(nil)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.clock == nil {
		s.clock = calendar.System
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.pollInterval <= 0 {
		s.pollInterval = 5 * time.Second
	}
	if s.pollWindow <= 0 {
		s.pollWindow = 5 * time.Minute
	}
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	var errs []error
	if s.repo != nil {
		errs = append(errs, s.repo.Close())
	}
	if s.sandbox != nil {
		errs = append(errs, s.sandbox.Close())
	}
	return errors.Join(errs...)
}

// Catalog возвращает каталог наград.
func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog
}

// TestModeAllowed сообщает, может ли учётная запись userID включить тестовый режим.
func (s *Service) TestModeAllowed(userID string) bool {
	return s.policy.Allowed(userID)
}

// RegisterUser создаёт учётную запись и возвращает её.
func (s *Service) RegisterUser(ctx context.Context, email, password string) (*model.Account, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id, err := s.repo.CreateAccount(ctx, email, hashed)
	if err != nil {
		return nil, storeError(err)
	}

	return &model.Account{ID: id, Email: email}, nil
}

// AuthenticateUser проверяет адрес и пароль и возвращает учётную запись.
func (s *Service) AuthenticateUser(ctx context.Context, email, password string) (*model.Account, error) {
	acc, err := s.repo.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, storeError(err)
	}

	if err := bcrypt.CompareHashAndPassword(acc.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return acc, nil
}

// session выбирает хранилище для пользователя и сообщает, действует ли тестовый режим.
// Белый список проверяется при каждом вызове.
func (s *Service) session(a Actor) (Repository, bool, error) {
	if a.UserID == "" {
		return nil, false, ErrNotAuthenticated
	}
	if s.policy.Active(a.TestMode, a.UserID) {
		return s.sandbox, true, nil
	}
	return s.repo, false, nil
}

func (s *Service) now() time.Time {
	return s.clock.Now()
}

func (s *Service) today(loc *time.Location) string {
	return calendar.Day(s.now(), loc)
}

// zone возвращает профиль пользователя и закреплённый в нём часовой пояс.
// Пояс из запроса учитывается только при создании профиля, поэтому смена пояса
// клиентом не сдвигает границы дня.
func (s *Service) zone(ctx context.Context, repo Repository, a Actor, testMode bool) (*model.Profile, *time.Location, error) {
	p, err := s.ensureProfile(ctx, repo, a, testMode)
	if err != nil {
		return nil, nil, err
	}
	return p, s.profileLocation(p), nil
}

// profileLocation загружает пояс профиля. Профили без пояса живут в поясе по умолчанию.
func (s *Service) profileLocation(p *model.Profile) *time.Location {
	if p.Timezone == "" {
		return s.loc
	}
	if v, ok := s.zones.Load(p.Timezone); ok {
		return v.(*time.Location)
	}

	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		s.logger.Warn("load profile timezone",
			zap.String("userID", p.ID), zap.String("timezone", p.Timezone), zap.Error(err))
		return s.loc
	}
	s.zones.Store(p.Timezone, loc)
	return loc
}

const maxInviteCodeAttempts = 5

// ensureProfile возвращает профиль пользователя, создавая его при первом обращении.
// Одновременные вызовы для одного пользователя объединяются.
func (s *Service) ensureProfile(ctx context.Context, repo Repository, a Actor, testMode bool) (*model.Profile, error) {
	p, err := repo.GetProfile(ctx, a.UserID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repository.ErrProfileNotFound) {
		return nil, storeError(err)
	}

	tz := s.loc.String()
	if a.Location != nil {
		// Закрепляется только пояс, который можно загрузить по имени.
		if _, err := time.LoadLocation(a.Location.String()); err == nil {
			tz = a.Location.String()
		}
	}

	key := fmt.Sprintf("%t/%s", testMode, a.UserID)
	v, err, _ := s.profiles.Do(key, func() (interface{}, error) {
		seed := a.UserID
		for attempt := 0; attempt < maxInviteCodeAttempts; attempt++ {
			created, err := repo.GetOrCreateProfile(ctx, model.Profile{
				ID:          a.UserID,
				Email:       a.Email,
				DisplayName: a.DisplayName,
				InviteCode:  validation.InviteCode(seed),
				Timezone:    tz,
			})
			if errors.Is(err, repository.ErrInviteCodeTaken) {
				seed = uuid.NewString()
				continue
			}
			return created, err
		}
		return nil, repository.ErrInviteCodeTaken
	})
	if err != nil {
		return nil, storeError(err)
	}
	return v.(*model.Profile), nil
}

// publish рассылает актуальный профиль подписчикам.
func (s *Service) publish(ctx context.Context, repo Repository, userID string, testMode bool) *model.Profile {
	p, err := repo.GetProfile(ctx, userID)
	if err != nil {
		s.logger.Warn("reload profile for notification", zap.String("userID", userID), zap.Error(err))
		return nil
	}
	if s.notifier != nil {
		s.notifier.ProfileChanged(userID, *p, testMode)
	}
	return p
}

// ClaimResult описывает полученную награду и баланс после её начисления.
type ClaimResult struct {
	Reward model.Reward `json:"reward"`
	Tokens int64        `json:"tokens"`
}

func (s *Service) claimed(ctx context.Context, repo Repository, userID string, testMode bool, reward model.Reward) *ClaimResult {
	res := &ClaimResult{Reward: reward}
	if p := s.publish(ctx, repo, userID, testMode); p != nil {
		res.Tokens = p.Tokens
	}
	return res
}

func rewardCredit(r model.Reward, typ model.TransactionType, description string) *model.Credit {
	if r.Tokens() <= 0 {
		return nil
	}
	return &model.Credit{Amount: r.Tokens(), Type: typ, Description: description}
}

// updateState применяет fn к типизированному документу состояния в одной транзакции с начислением.
func updateState[T any](ctx context.Context, repo Repository, userID, kind string, fn func(state *T) (*model.Credit, error)) (*T, error) {
	var result T
	err := repo.UpdateState(ctx, userID, kind, func(doc []byte) ([]byte, *model.Credit, error) {
		var state T
		if len(doc) > 0 {
			if err := json.Unmarshal(doc, &state); err != nil {
				return nil, nil, fmt.Errorf("decode %s state: %w", kind, err)
			}
		}

		credit, err := fn(&state)
		if err != nil {
			return nil, nil, err
		}

		updated, err := json.Marshal(state)
		if err != nil {
			return nil, nil, fmt.Errorf("encode %s state: %w", kind, err)
		}
		result = state
		return updated, credit, nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	return &result, nil
}

func loadState[T any](ctx context.Context, repo Repository, userID, kind string) (*T, error) {
	doc, err := repo.LoadState(ctx, userID, kind)
	if err != nil {
		return nil, storeError(err)
	}

	var state T
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &state); err != nil {
			return nil, fmt.Errorf("decode %s state: %w", kind, err)
		}
	}
	return &state, nil
}

// expected перечисляет ошибки, которые передаются вызывающему без обёртки.
var expected = []error{
	ErrAlreadyClaimed,
	ErrNotEligible,
	ErrStoreUnavailable,
	ErrUnknownDay,
	ErrUnknownTask,
	ErrUnknownMilestone,
	ErrUnknownPackage,
	ErrInvalidAmount,
	ErrInvalidProgress,
	ErrInvalidInviteCode,
	ErrTestModeForbidden,
	ErrPaymentsDisabled,
	ErrPaymentMismatch,
	repository.ErrAccountExists,
	repository.ErrAccountNotFound,
	repository.ErrProfileNotFound,
	repository.ErrInviteCodeNotFound,
	repository.ErrSelfInvite,
	repository.ErrAlreadyInvited,
	repository.ErrOrderNotFound,
	repository.ErrOrderClosed,
	repository.ErrInvalidCredit,
}

func storeError(err error) error {
	if err == nil {
		return nil
	}
	for _, e := range expected {
		if errors.Is(err, e) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func contains[T comparable](items []T, v T) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}
