package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// EventStatus описывает статус события в жизненном цикле.
type EventStatus string

const (
	// EventStatusUnknown — статус не распознан (совместимость с будущими версиями API).
	EventStatusUnknown EventStatus = "UNKNOWN"
	// EventStatusUpcoming — событие ещё не началось.
	EventStatusUpcoming EventStatus = "UPCOMING"
	// EventStatusActive — событие идёт прямо сейчас.
	EventStatusActive EventStatus = "ACTIVE"
	// EventStatusCompleted — событие завершилось.
	EventStatusCompleted EventStatus = "COMPLETED"
	// EventStatusCancelled — событие отменено.
	EventStatusCancelled EventStatus = "CANCELLED"
)

// ParseEventStatus разбирает статус с провода без учёта регистра.
func ParseEventStatus(raw string) EventStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(EventStatusUpcoming):
		return EventStatusUpcoming
	case string(EventStatusActive):
		return EventStatusActive
	case string(EventStatusCompleted):
		return EventStatusCompleted
	case string(EventStatusCancelled):
		return EventStatusCancelled
	default:
		return EventStatusUnknown
	}
}

// UnmarshalJSON разбирает статус на границе провода, нераспознанные
// значения превращаются в EventStatusUnknown.
func (s *EventStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParseEventStatus(raw)
	return nil
}

// Signup описывает запись игрока на событие.
type Signup struct {
	PlayerName string `json:"playerName"`
}

// Event представляет клановое событие с сервера.
type Event struct {
	ID              string      `json:"eventId"`
	Title           string      `json:"title"`
	StartTime       time.Time   `json:"startTime"`
	DurationMinutes int         `json:"durationMinutes"`
	Description     string      `json:"description"`
	Status          EventStatus `json:"status"`
	Codeword        string      `json:"codeword,omitempty"`
	Signups         []Signup    `json:"signups,omitempty"`
}

// HasSignup проверяет, записан ли игрок на событие (без учёта регистра имени).
func (e Event) HasSignup(playerName string) bool {
	for _, s := range e.Signups {
		if strings.EqualFold(s.PlayerName, playerName) {
			return true
		}
	}
	return false
}

// Newsletter представляет выпуск клановой рассылки.
// Больший ID всегда означает более новый выпуск, ID не переиспользуются.
type Newsletter struct {
	ID          int       `json:"id"`
	Title       string    `json:"title"`
	MonthYear   string    `json:"monthYear"`
	PublishedAt time.Time `json:"publishedAt"`
	ImageURL    string    `json:"imageUrl,omitempty"`
}

// RemoteSettings содержит настройки, которые сервер раздаёт клиентам.
type RemoteSettings struct {
	EventPollingInterval        int    `json:"event_polling_interval"`
	RequireClanMembership       bool   `json:"require_clan_membership"`
	ClanName                    string `json:"clan_name"`
	ShowNewsletterNotifications bool   `json:"show_newsletter_notifications"`
}

// DefaultRemoteSettings возвращает настройки, действующие до первого ответа сервера.
func DefaultRemoteSettings() RemoteSettings {
	return RemoteSettings{
		EventPollingInterval:        30,
		RequireClanMembership:       true,
		ClanName:                    "Arceuus",
		ShowNewsletterNotifications: true,
	}
}

// MembershipReading — сырое наблюдение хоста о членстве игрока в клане.
// Absent означает, что хост не смог определить членство (например, во время загрузки).
type MembershipReading struct {
	Absent bool   `json:"absent"`
	Group  string `json:"group,omitempty"`
}
