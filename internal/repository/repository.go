// Package repository содержит реализации хранилища профилей, состояний наград и заказов:
// PostgreSQL для рабочих данных и память процесса для тестового режима.
package repository

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/gamehub-rewards/internal/model"
)

var (
	// ErrAccountExists возвращается при регистрации уже существующего адреса.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound возвращается, если учётная запись не найдена.
	ErrAccountNotFound = errors.New("account not found")
	// ErrProfileNotFound возвращается, если профиль пользователя не найден.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrInviteCodeTaken возвращается при коллизии кода приглашения.
	ErrInviteCodeTaken = errors.New("invite code already taken")
	// ErrInviteCodeNotFound возвращается, если код приглашения никому не принадлежит.
	ErrInviteCodeNotFound = errors.New("invite code not found")
	// ErrSelfInvite возвращается при попытке активировать собственный код.
	ErrSelfInvite = errors.New("cannot redeem own invite code")
	// ErrAlreadyInvited возвращается, если пользователь уже активировал приглашение.
	ErrAlreadyInvited = errors.New("invite already redeemed")
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderClosed возвращается при попытке изменить заказ в конечном статусе.
	ErrOrderClosed = errors.New("order is closed")
	// ErrInvalidCredit возвращается при неположительной сумме начисления.
	ErrInvalidCredit = errors.New("credit amount must be positive")
)

// Виды документов состояния наград.
const (
	StateCheckin = "checkin"
	StateTasks   = "tasks"
	StateInvites = "invites"
)

// StateFunc получает текущий документ состояния (nil, если документа ещё нет) и
// возвращает новый документ и необязательное начисление. Ошибка отменяет и то, и другое.
// Функция может вызываться повторно при повторе транзакции.
type StateFunc func(doc []byte) (updated []byte, credit *model.Credit, err error)

func validCredit(c *model.Credit) bool {
	return c != nil && c.Amount > 0
}

func purchaseCredit(o model.Order) model.Credit {
	return model.Credit{
		Amount:      o.Total(),
		Type:        model.TransactionPurchase,
		Description: fmt.Sprintf("Purchase %s (order %s)", o.PackageID, o.ID),
	}
}
