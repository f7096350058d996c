package domain

import (
	"context"
	"errors"
)

// ErrKeyNotFound возвращается хранилищем, когда ключ отсутствует.
var ErrKeyNotFound = errors.New("ключ не найден")

// EventsAPI выгружает события, рассылки и настройки с сервера сообщества.
type EventsAPI interface {
	FetchEvents(ctx context.Context) ([]Event, error)
	FetchLatestNewsletter(ctx context.Context) (*Newsletter, error)
	FetchNewsletters(ctx context.Context, limit int) ([]Newsletter, error)
	FetchSettings(ctx context.Context) (RemoteSettings, error)
}

// AccessAPI отвечает за рукопожатие авторизации с сервером.
type AccessAPI interface {
	SubmitAccessRequest(ctx context.Context, playerName, token string) error
	CheckAccess(ctx context.Context, playerName, token string) (AccessDecision, error)
}

// RosterAPI управляет записью игрока на события.
// При ответе 401 возвращается *AccessDeniedError с решением сервера.
type RosterAPI interface {
	SignUp(ctx context.Context, eventID, playerName string) error
	CancelSignUp(ctx context.Context, eventID, playerName string) error
}

// ProfileStore — персистентное хранилище строк, разбитое по профилям.
// Get возвращает ErrKeyNotFound при отсутствии ключа.
type ProfileStore interface {
	Get(ctx context.Context, profile, key string) (string, error)
	Set(ctx context.Context, profile, key, value string) error
	Delete(ctx context.Context, profile, key string) error
}

// IntentSink доставляет намерение уведомления внешнему получателю.
type IntentSink interface {
	Deliver(ctx context.Context, intent NotificationIntent) error
}
