package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/gamehub-rewards/internal/model"
)

type stateKey struct {
	userID string
	kind   string
}

// MemoryRepository хранит данные в памяти процесса. Используется как изолированное
// хранилище тестового режима и как рабочее хранилище без настроенной БД.
type MemoryRepository struct {
	mu           sync.Mutex
	accounts     map[string]model.Account
	profiles     map[string]model.Profile
	states       map[stateKey][]byte
	transactions map[string][]model.Transaction
	orders       map[string]model.Order
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:     make(map[string]model.Account),
		profiles:     make(map[string]model.Profile),
		states:       make(map[stateKey][]byte),
		transactions: make(map[string][]model.Transaction),
		orders:       make(map[string]model.Order),
	}
}

// Close ничего не делает.
func (r *MemoryRepository) Close() error { return nil }

// CreateAccount создаёт учётную запись и возвращает её идентификатор.
func (r *MemoryRepository) CreateAccount(ctx context.Context, email string, passwordHash []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(email)
	if _, ok := r.accounts[key]; ok {
		return "", ErrAccountExists
	}

	acc := model.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: append([]byte(nil), passwordHash...),
		CreatedAt:    time.Now().UTC(),
	}
	r.accounts[key] = acc
	return acc.ID, nil
}

// GetAccountByEmail возвращает учётную запись по адресу.
func (r *MemoryRepository) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc, ok := r.accounts[strings.ToLower(email)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return &acc, nil
}

// GetOrCreateProfile возвращает существующий профиль или создаёт новый с нулевыми счётчиками.
func (r *MemoryRepository) GetOrCreateProfile(ctx context.Context, p model.Profile) (*model.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.profiles[p.ID]; ok {
		return &existing, nil
	}

	for _, other := range r.profiles {
		if other.InviteCode == p.InviteCode {
			return nil, ErrInviteCodeTaken
		}
	}

	created := model.Profile{
		ID:          p.ID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		InviteCode:  p.InviteCode,
		Timezone:    p.Timezone,
		CreatedAt:   time.Now().UTC(),
	}
	r.profiles[p.ID] = created
	return &created, nil
}

// GetProfile возвращает профиль пользователя.
func (r *MemoryRepository) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return &p, nil
}

// IncrementTokens атомарно увеличивает баланс и добавляет запись аудита.
func (r *MemoryRepository) IncrementTokens(ctx context.Context, userID string, credit model.Credit) (*model.Profile, error) {
	if !validCredit(&credit) {
		return nil, ErrInvalidCredit
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.applyCreditLocked(userID, credit); err != nil {
		return nil, err
	}
	p := r.profiles[userID]
	return &p, nil
}

func (r *MemoryRepository) applyCreditLocked(userID string, credit model.Credit) error {
	p, ok := r.profiles[userID]
	if !ok {
		return ErrProfileNotFound
	}
	p.Tokens += credit.Amount
	r.profiles[userID] = p

	r.transactions[userID] = append(r.transactions[userID], model.Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        credit.Type,
		Amount:      credit.Amount,
		Description: credit.Description,
		CreatedAt:   time.Now().UTC(),
	})
	return nil
}

// GetTransactions возвращает последние записи аудита пользователя, новые первыми.
func (r *MemoryRepository) GetTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src := r.transactions[userID]
	res := make([]model.Transaction, 0, len(src))
	for i := len(src) - 1; i >= 0 && (limit <= 0 || len(res) < limit); i-- {
		res = append(res, src[i])
	}
	return res, nil
}

// LoadState возвращает копию документа состояния или nil, если его нет.
func (r *MemoryRepository) LoadState(ctx context.Context, userID, kind string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.states[stateKey{userID, kind}]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), doc...), nil
}

// UpdateState применяет fn к документу состояния и начислению под общей блокировкой.
func (r *MemoryRepository) UpdateState(ctx context.Context, userID, kind string, fn StateFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.profiles[userID]; !ok {
		return ErrProfileNotFound
	}

	key := stateKey{userID, kind}
	var current []byte
	if doc, ok := r.states[key]; ok {
		current = append([]byte(nil), doc...)
	}

	updated, credit, err := fn(current)
	if err != nil {
		return err
	}

	if validCredit(credit) {
		if err := r.applyCreditLocked(userID, *credit); err != nil {
			return err
		}
	}
	r.states[key] = append([]byte(nil), updated...)
	return nil
}

// RedeemInvite привязывает пользователя к владельцу кода и увеличивает счётчик приглашений владельца.
func (r *MemoryRepository) RedeemInvite(ctx context.Context, userID, code string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var inviter *model.Profile
	for _, p := range r.profiles {
		if p.InviteCode == code {
			p := p
			inviter = &p
			break
		}
	}
	if inviter == nil {
		return "", ErrInviteCodeNotFound
	}
	if inviter.ID == userID {
		return "", ErrSelfInvite
	}

	invitee, ok := r.profiles[userID]
	if !ok {
		return "", ErrProfileNotFound
	}
	if invitee.InvitedBy != "" {
		return "", ErrAlreadyInvited
	}

	invitee.InvitedBy = inviter.ID
	r.profiles[userID] = invitee

	inviter.InvitedCount++
	r.profiles[inviter.ID] = *inviter

	return inviter.ID, nil
}

// CreateOrder сохраняет новый заказ.
func (r *MemoryRepository) CreateOrder(ctx context.Context, o model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.profiles[o.UserID]; !ok {
		return ErrProfileNotFound
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	r.orders[o.ID] = o
	return nil
}

// SetOrderCheckout сохраняет идентификатор и ссылку сессии оплаты.
func (r *MemoryRepository) SetOrderCheckout(ctx context.Context, orderID, sessionID, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	o.CheckoutSessionID = sessionID
	o.CheckoutURL = url
	r.orders[orderID] = o
	return nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *MemoryRepository) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &o, nil
}

// GetOrdersByUser возвращает заказы пользователя, новые первыми.
func (r *MemoryRepository) GetOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			res = append(res, o)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

// GetPendingOrders возвращает ожидающие оплаты заказы, созданные после createdAfter.
func (r *MemoryRepository) GetPendingOrders(ctx context.Context, createdAfter time.Time, limit int) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Order
	for _, o := range r.orders {
		if o.Status == model.OrderStatusPending && o.CreatedAt.After(createdAfter) {
			res = append(res, o)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// CompleteOrder переводит заказ из pending в completed и начисляет токены заказа.
// Второй результат равен false, если заказ уже был завершён ранее.
func (r *MemoryRepository) CompleteOrder(ctx context.Context, orderID string) (*model.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return nil, false, ErrOrderNotFound
	}
	switch o.Status {
	case model.OrderStatusCompleted:
		return &o, false, nil
	case model.OrderStatusFailed:
		return &o, false, ErrOrderClosed
	}

	p, ok := r.profiles[o.UserID]
	if !ok {
		return nil, false, ErrProfileNotFound
	}
	if err := r.applyCreditLocked(o.UserID, purchaseCredit(o)); err != nil {
		return nil, false, err
	}
	p = r.profiles[o.UserID]
	p.PurchaseCount++
	p.TotalSpentCents += o.PriceCents
	r.profiles[o.UserID] = p

	now := time.Now().UTC()
	o.Status = model.OrderStatusCompleted
	o.CompletedAt = &now
	r.orders[orderID] = o
	return &o, true, nil
}

// FailOrder переводит ожидающий заказ в failed без начисления.
func (r *MemoryRepository) FailOrder(ctx context.Context, orderID string) (*model.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return nil, false, ErrOrderNotFound
	}
	if o.Status != model.OrderStatusPending {
		return &o, false, nil
	}
	o.Status = model.OrderStatusFailed
	r.orders[orderID] = o
	return &o, true, nil
}

// AddInvited увеличивает счётчик приглашений профиля на n без привязки приглашённых пользователей.
func (r *MemoryRepository) AddInvited(ctx context.Context, userID string, n int64) (*model.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.profiles[userID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	p.InvitedCount += n
	r.profiles[userID] = p
	return &p, nil
}

// Reset удаляет все данные пользователя: профиль, состояния, записи аудита и заказы.
func (r *MemoryRepository) Reset(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.profiles, userID)
	delete(r.transactions, userID)
	for key := range r.states {
		if key.userID == userID {
			delete(r.states, key)
		}
	}
	for id, o := range r.orders {
		if o.UserID == userID {
			delete(r.orders, id)
		}
	}
	return nil
}
