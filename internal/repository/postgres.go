package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/gamehub-rewards/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const profileColumns = `id, email, display_name, tokens, invited_count, purchase_count,
	total_spent_cents, invite_code, COALESCE(invited_by, ''), timezone, created_at`

const orderColumns = `id, user_id, package_id, token_amount, bonus_amount, price_cents,
	status, checkout_session_id, checkout_url, created_at, completed_at`

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool    *pgxpool.Pool
	backoff func() retry.Backoff
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool: pool,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewFibonacci(time.Second))
		},
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при конфликте сериализации, взаимоблокировке или обрыве соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// errCommitUncertain помечает обрыв соединения во время COMMIT. Транзакция могла
// примениться на сервере, повтор тогда начислил бы токены второй раз.
var errCommitUncertain = errors.New("commit outcome unknown")

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, errCommitUncertain) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// inTx выполняет fn в транзакции с повторами. Транзакция с неизвестным исходом COMMIT не повторяется.
func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(tx); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return commitError(err)
		}
		return nil
	})
}

// commitError оборачивает ошибку COMMIT. Ответ сервера с кодом ошибки означает откат,
// такую транзакцию можно повторить. Без ответа исход неизвестен.
func commitError(err error) error {
	if pgCode(err) != "" {
		return fmt.Errorf("commit tx: %w", err)
	}
	return fmt.Errorf("commit tx: %w: %w", errCommitUncertain, err)
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateAccount создаёт учётную запись и возвращает её идентификатор.
func (r *PostgresRepository) CreateAccount(ctx context.Context, email string, passwordHash []byte) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO accounts (id, email, password_hash) VALUES ($1, $2, $3)`,
		id, email, passwordHash,
	)
	if err != nil {
		if pgCode(err) == pgerrcode.UniqueViolation {
			return "", fmt.Errorf("%w: %s", ErrAccountExists, email)
		}
		return "", fmt.Errorf("create account: %w", err)
	}
	return id, nil
}

// GetAccountByEmail возвращает учётную запись по адресу.
func (r *PostgresRepository) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	var a model.Account
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM accounts WHERE lower(email) = lower($1)`,
		email,
	).Scan(&a.ID, &a.Email, &a.PasswordHash, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*model.Profile, error) {
	var p model.Profile
	err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.Tokens, &p.InvitedCount, &p.PurchaseCount,
		&p.TotalSpentCents, &p.InviteCode, &p.InvitedBy, &p.Timezone, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetOrCreateProfile возвращает существующий профиль или создаёт новый с нулевыми счётчиками.
// Повторные и параллельные вызовы не создают дубликатов.
func (r *PostgresRepository) GetOrCreateProfile(ctx context.Context, p model.Profile) (*model.Profile, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO profiles (id, email, display_name, invite_code, timezone)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Email, p.DisplayName, p.InviteCode, p.Timezone,
	)
	if err != nil {
		if pgCode(err) == pgerrcode.UniqueViolation {
			return nil, ErrInviteCodeTaken
		}
		return nil, fmt.Errorf("insert profile: %w", err)
	}

	return r.GetProfile(ctx, p.ID)
}

// GetProfile возвращает профиль пользователя.
func (r *PostgresRepository) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	p, err := scanProfile(r.pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

// IncrementTokens атомарно увеличивает баланс на стороне БД и добавляет запись аудита.
func (r *PostgresRepository) IncrementTokens(ctx context.Context, userID string, credit model.Credit) (*model.Profile, error) {
	if !validCredit(&credit) {
		return nil, ErrInvalidCredit
	}

	var res *model.Profile
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if err := applyCredit(ctx, tx, userID, credit); err != nil {
			return err
		}
		p, err := scanProfile(tx.QueryRow(ctx,
			`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, userID))
		if err != nil {
			return fmt.Errorf("select profile: %w", err)
		}
		res = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func applyCredit(ctx context.Context, tx pgx.Tx, userID string, credit model.Credit) error {
	tag, err := tx.Exec(ctx,
		`UPDATE profiles SET tokens = tokens + $2 WHERE id = $1`,
		userID, credit.Amount,
	)
	if err != nil {
		return fmt.Errorf("increment tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProfileNotFound
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO token_transactions (id, user_id, type, amount, description) VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), userID, string(credit.Type), credit.Amount, credit.Description,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetTransactions возвращает последние записи аудита пользователя, новые первыми.
func (r *PostgresRepository) GetTransactions(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, type, amount, description, created_at
		 FROM token_transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		var (
			t   model.Transaction
			typ string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &typ, &t.Amount, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Type = model.TransactionType(typ)
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// LoadState возвращает документ состояния или nil, если его нет.
func (r *PostgresRepository) LoadState(ctx context.Context, userID, kind string) ([]byte, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx,
		`SELECT doc FROM reward_states WHERE user_id = $1 AND kind = $2`,
		userID, kind,
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select state: %w", err)
	}
	return doc, nil
}

// UpdateState блокирует строку документа состояния, применяет fn и в той же транзакции
// сохраняет новый документ и начисление. Конкурирующие вызовы выполняются по очереди,
// поэтому второй из них видит результат первого.
func (r *PostgresRepository) UpdateState(ctx context.Context, userID, kind string, fn StateFunc) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO reward_states (user_id, kind) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			userID, kind,
		)
		if err != nil {
			if pgCode(err) == pgerrcode.ForeignKeyViolation {
				return ErrProfileNotFound
			}
			return fmt.Errorf("insert state: %w", err)
		}

		var doc []byte
		err = tx.QueryRow(ctx,
			`SELECT doc FROM reward_states WHERE user_id = $1 AND kind = $2 FOR UPDATE`,
			userID, kind,
		).Scan(&doc)
		if err != nil {
			return fmt.Errorf("lock state: %w", err)
		}

		updated, credit, err := fn(doc)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE reward_states SET doc = $3, updated_at = now() WHERE user_id = $1 AND kind = $2`,
			userID, kind, updated,
		)
		if err != nil {
			return fmt.Errorf("update state: %w", err)
		}

		if validCredit(credit) {
			return applyCredit(ctx, tx, userID, *credit)
		}
		return nil
	})
}

// RedeemInvite привязывает пользователя к владельцу кода и увеличивает счётчик приглашений владельца.
func (r *PostgresRepository) RedeemInvite(ctx context.Context, userID, code string) (string, error) {
	var inviterID string
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`SELECT id FROM profiles WHERE invite_code = $1`, code,
		).Scan(&inviterID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInviteCodeNotFound
			}
			return fmt.Errorf("select inviter: %w", err)
		}
		if inviterID == userID {
			return ErrSelfInvite
		}

		tag, err := tx.Exec(ctx,
			`UPDATE profiles SET invited_by = $2 WHERE id = $1 AND invited_by IS NULL`,
			userID, inviterID,
		)
		if err != nil {
			return fmt.Errorf("set invited_by: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM profiles WHERE id = $1)`, userID).Scan(&exists); err != nil {
				return fmt.Errorf("check profile: %w", err)
			}
			if !exists {
				return ErrProfileNotFound
			}
			return ErrAlreadyInvited
		}

		_, err = tx.Exec(ctx,
			`UPDATE profiles SET invited_count = invited_count + 1 WHERE id = $1`,
			inviterID,
		)
		if err != nil {
			return fmt.Errorf("increment invited_count: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return inviterID, nil
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var (
		o      model.Order
		status string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.PackageID, &o.TokenAmount, &o.BonusAmount, &o.PriceCents,
		&status, &o.CheckoutSessionID, &o.CheckoutURL, &o.CreatedAt, &o.CompletedAt)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	return &o, nil
}

// CreateOrder сохраняет новый заказ.
func (r *PostgresRepository) CreateOrder(ctx context.Context, o model.Order) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO orders (id, user_id, package_id, token_amount, bonus_amount, price_cents, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, o.UserID, o.PackageID, o.TokenAmount, o.BonusAmount, o.PriceCents, string(o.Status),
	)
	if err != nil {
		if pgCode(err) == pgerrcode.ForeignKeyViolation {
			return ErrProfileNotFound
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// SetOrderCheckout сохраняет идентификатор и ссылку сессии оплаты.
func (r *PostgresRepository) SetOrderCheckout(ctx context.Context, orderID, sessionID, url string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET checkout_session_id = $2, checkout_url = $3 WHERE id = $1`,
		orderID, sessionID, url,
	)
	if err != nil {
		return fmt.Errorf("update order checkout: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *PostgresRepository) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

func (r *PostgresRepository) queryOrders(ctx context.Context, sql string, args ...any) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetOrdersByUser возвращает заказы пользователя, новые первыми.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
}

// GetPendingOrders возвращает ожидающие оплаты заказы, созданные после createdAfter.
func (r *PostgresRepository) GetPendingOrders(ctx context.Context, createdAfter time.Time, limit int) ([]model.Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+`
		 FROM orders
		 WHERE status = $1 AND created_at > $2
		 ORDER BY created_at
		 LIMIT $3`,
		string(model.OrderStatusPending), createdAfter, limit,
	)
}

// CompleteOrder переводит заказ из pending в completed и в той же транзакции начисляет
// токены заказа и обновляет счётчики покупок. Второй результат равен false, если заказ
// уже был завершён ранее; при ошибке начисления заказ остаётся в pending.
func (r *PostgresRepository) CompleteOrder(ctx context.Context, orderID string) (*model.Order, bool, error) {
	var (
		res       *model.Order
		completed bool
	)
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		completed = false

		o, err := scanOrder(tx.QueryRow(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}
		res = o

		switch o.Status {
		case model.OrderStatusCompleted:
			return nil
		case model.OrderStatusFailed:
			return ErrOrderClosed
		}

		if err := applyCredit(ctx, tx, o.UserID, purchaseCredit(*o)); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE profiles
			 SET purchase_count = purchase_count + 1, total_spent_cents = total_spent_cents + $2
			 WHERE id = $1`,
			o.UserID, o.PriceCents,
		)
		if err != nil {
			return fmt.Errorf("update purchase counters: %w", err)
		}

		updated, err := scanOrder(tx.QueryRow(ctx,
			`UPDATE orders SET status = $2, completed_at = now() WHERE id = $1 RETURNING `+orderColumns,
			orderID, string(model.OrderStatusCompleted)))
		if err != nil {
			return fmt.Errorf("complete order: %w", err)
		}
		res = updated
		completed = true
		return nil
	})
	if err != nil {
		return res, false, err
	}
	return res, completed, nil
}

// FailOrder переводит ожидающий заказ в failed без начисления.
func (r *PostgresRepository) FailOrder(ctx context.Context, orderID string) (*model.Order, bool, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx,
		`UPDATE orders SET status = $2 WHERE id = $1 AND status = $3 RETURNING `+orderColumns,
		orderID, string(model.OrderStatusFailed), string(model.OrderStatusPending)))
	if err == nil {
		return o, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("fail order: %w", err)
	}

	o, err = r.GetOrder(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	return o, false, nil
}
