// Package validation содержит функции валидации входных данных.
package validation

import (
	"strconv"
	"strings"
	"unicode"
)

const inviteBaseLen = 8

// InviteCode строит код приглашения из идентификатора пользователя:
// первые восемь символов идентификатора и одна шестнадцатеричная контрольная цифра.
func InviteCode(userID string) string {
	base := strings.ReplaceAll(userID, "-", "")
	if len(base) > inviteBaseLen {
		base = base[:inviteBaseLen]
	}
	return base + checksum(base)
}

// IsValidInviteCode проверяет длину, алфавит и контрольную цифру кода приглашения.
func IsValidInviteCode(code string) bool {
	if len(code) != inviteBaseLen+1 {
		return false
	}

	for _, ch := range code {
		if ch > unicode.MaxASCII || !(unicode.IsLetter(ch) || unicode.IsDigit(ch)) {
			return false
		}
	}

	base := code[:inviteBaseLen]
	return code[inviteBaseLen:] == checksum(base)
}

func checksum(base string) string {
	sum := 0
	for i := 0; i < len(base); i++ {
		sum += int(base[i])
	}
	hex := strconv.FormatInt(int64(sum), 16)
	return hex[len(hex)-1:]
}
