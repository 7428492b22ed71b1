// Package testmode определяет политику тестового режима: обход ограничений
// на получение наград, доступный только учётным записям из белого списка.
package testmode

import "strings"

// Policy хранит белый список идентификаторов учётных записей, которым разрешён тестовый режим.
// Идентификатор выдаёт сервер при регистрации, поэтому, в отличие от адреса почты,
// его нельзя заявить при создании учётной записи.
type Policy struct {
	allowed map[string]struct{}
}

// NewPolicy создаёт политику по списку идентификаторов учётных записей.
func NewPolicy(accountIDs []string) *Policy {
	p := &Policy{allowed: make(map[string]struct{}, len(accountIDs))}
	for _, id := range accountIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			p.allowed[id] = struct{}{}
		}
	}
	return p
}

// Allowed сообщает, может ли учётная запись userID включить тестовый режим.
func (p *Policy) Allowed(userID string) bool {
	if p == nil || userID == "" {
		return false
	}
	_, ok := p.allowed[userID]
	return ok
}

// Active сообщает, действует ли тестовый режим для запроса.
// Запрошенный клиентом режим учитывается только для учётных записей из белого списка.
func (p *Policy) Active(requested bool, userID string) bool {
	return requested && p.Allowed(userID)
}
