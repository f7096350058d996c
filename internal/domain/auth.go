package domain

import (
	"fmt"
	"strings"
)

// AuthorizationState — каноническое состояние авторизации профиля.
type AuthorizationState string

const (
	// AuthUnknown — есть токен, но сервер его ещё не подтвердил в этой сессии.
	AuthUnknown AuthorizationState = "UNKNOWN"
	// AuthNoToken — токена нет, доступ не запрашивался или был сброшен.
	AuthNoToken AuthorizationState = "NO_TOKEN"
	// AuthPending — запрос доступа отправлен и ждёт решения администратора.
	AuthPending AuthorizationState = "PENDING"
	// AuthAccepted — доступ подтверждён. Единственное состояние с доступом к функциям.
	AuthAccepted AuthorizationState = "ACCEPTED"
	// AuthRejected — запрос доступа отклонён.
	AuthRejected AuthorizationState = "REJECTED"
	// AuthRevoked — ранее выданный доступ отозван.
	AuthRevoked AuthorizationState = "REVOKED"
)

// ParseAuthorizationState разбирает статус с провода без учёта регистра.
// Нераспознанные значения превращаются в AuthUnknown.
func ParseAuthorizationState(raw string) AuthorizationState {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(AuthNoToken):
		return AuthNoToken
	case string(AuthPending):
		return AuthPending
	case string(AuthAccepted):
		return AuthAccepted
	case string(AuthRejected):
		return AuthRejected
	case string(AuthRevoked):
		return AuthRevoked
	default:
		return AuthUnknown
	}
}

// HasAccess сообщает, открывает ли состояние доступ к функциям.
func (s AuthorizationState) HasAccess() bool {
	return s == AuthAccepted
}

// IsPending сообщает, что решение по доступу ещё не принято.
func (s AuthorizationState) IsPending() bool {
	return s == AuthPending || s == AuthNoToken || s == AuthUnknown
}

// AccessDecision — ответ сервера на проверку авторизации.
// Found=false означает, что токен серверу неизвестен.
type AccessDecision struct {
	Found  bool
	State  AuthorizationState
	Reason string
}

// AccessDeniedError возвращается транспортом, когда сервер ответил 401
// и сообщил актуальное состояние авторизации.
type AccessDeniedError struct {
	Decision AccessDecision
}

func (e *AccessDeniedError) Error() string {
	if !e.Decision.Found {
		return "доступ запрещён: токен не найден"
	}
	return fmt.Sprintf("доступ запрещён: состояние %s", e.Decision.State)
}
