package auth

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"clan-sync-bot/internal/domain"
	"clan-sync-bot/internal/infra/metrics"
)

const (
	authTokenKey  = "authToken"
	authStatusKey = "authStatus"

	// notFoundThreshold — сколько подряд ответов «токен не найден» нужно,
	// чтобы сбросить токен. Единичный сбой сервера не должен разлогинить
	// подтверждённого пользователя.
	notFoundThreshold = 3
)

// Machine — машина состояний авторизации активного профиля.
// Все переходы сериализуются внутренним мьютексом; колбэки вызываются вне его.
type Machine struct {
	mu  sync.Mutex
	log zerolog.Logger
	kv  domain.ProfileStore
	api domain.AccessAPI

	profile        string
	token          string
	state          domain.AuthorizationState
	reason         string
	notFoundStreak int

	onAccepted  func()
	onRequested func()
}

// NewMachine создаёт машину состояний.
func NewMachine(kv domain.ProfileStore, api domain.AccessAPI, logger zerolog.Logger) *Machine {
	return &Machine{
		log:   logger,
		kv:    kv,
		api:   api,
		state: domain.AuthNoToken,
	}
}

// SetOnAccepted задаёт сигнал «обновиться немедленно» при переходе в ACCEPTED.
func (m *Machine) SetOnAccepted(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAccepted = fn
}

// SetOnRequested задаёт колбэк успешной отправки запроса доступа
// (используется для запуска вспомогательного опроса статуса).
func (m *Machine) SetOnRequested(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRequested = fn
}

// LoadProfile загружает сохранённый токен профиля. Кэшированный ACCEPTED
// никогда не восстанавливается: при наличии токена состояние становится
// UNKNOWN до подтверждения сервером, чтобы отозванный доступ не протёк
// через устаревшее локальное состояние.
func (m *Machine) LoadProfile(ctx context.Context, profile string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.profile = profile
	m.reason = ""
	m.notFoundStreak = 0

	if profile == "" {
		m.token = ""
		m.state = domain.AuthNoToken
		return
	}

	token, err := m.kv.Get(ctx, profile, authTokenKey)
	if err != nil {
		if !errors.Is(err, domain.ErrKeyNotFound) {
			m.log.Error().Err(err).Msg("auth: не удалось прочитать токен")
		}
		m.token = ""
		m.state = domain.AuthNoToken
		return
	}
	if token == "" {
		m.token = ""
		m.state = domain.AuthNoToken
		return
	}
	m.token = token
	m.state = domain.AuthUnknown
	m.log.Debug().Str("profile", profile).Msg("auth: токен загружен, требуется подтверждение сервером")
}

// Reset сбрасывает машину при выходе из профиля.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile = ""
	m.token = ""
	m.state = domain.AuthNoToken
	m.reason = ""
	m.notFoundStreak = 0
}

// RequestAccess генерирует новый токен, оптимистично переводит машину в
// PENDING и отправляет запрос на сервер. Сбой отправки только логируется:
// состояние уже сохранено и следующая проверка статуса его подхватит.
func (m *Machine) RequestAccess(ctx context.Context) error {
	m.mu.Lock()
	if m.profile == "" {
		m.mu.Unlock()
		return errors.New("профиль не определён, запрос доступа невозможен")
	}
	profile := m.profile
	token := uuid.NewString()
	m.token = token
	m.state = domain.AuthPending
	m.reason = ""
	m.notFoundStreak = 0
	m.persistLocked(ctx)
	onRequested := m.onRequested
	m.mu.Unlock()

	metrics.IncAuthTransition(string(domain.AuthPending))

	go func() {
		if err := m.api.SubmitAccessRequest(context.Background(), profile, token); err != nil {
			m.log.Error().Err(err).Str("profile", profile).Msg("auth: не удалось отправить запрос доступа")
			return
		}
		m.log.Debug().Str("profile", profile).Msg("auth: запрос доступа отправлен")
		if onRequested != nil {
			onRequested()
		}
	}()
	return nil
}

// CheckStatus сверяет состояние токена с сервером. Сетевая ошибка оставляет
// состояние без изменений — попробуем на следующем тике.
func (m *Machine) CheckStatus(ctx context.Context) {
	m.mu.Lock()
	profile, token := m.profile, m.token
	m.mu.Unlock()
	if profile == "" || token == "" {
		return
	}

	decision, err := m.api.CheckAccess(ctx, profile, token)
	if err != nil {
		m.log.Error().Err(err).Msg("auth: проверка статуса не удалась")
		return
	}
	m.ApplyDecision(ctx, decision)
}

// ApplyDecision применяет решение сервера. «Не найден» не сбрасывает токен
// сразу: нужен notFoundThreshold подряд, любой другой ответ обнуляет серию.
func (m *Machine) ApplyDecision(ctx context.Context, decision domain.AccessDecision) {
	m.mu.Lock()
	old := m.state

	if !decision.Found {
		m.notFoundStreak++
		m.log.Debug().
			Str("profile", m.profile).
			Int("streak", m.notFoundStreak).
			Msg("auth: токен не найден на сервере")
		if m.notFoundStreak < notFoundThreshold {
			m.mu.Unlock()
			return
		}
		m.notFoundStreak = 0
		m.token = ""
		m.state = domain.AuthNoToken
		m.reason = ""
		m.persistLocked(ctx)
		m.mu.Unlock()
		metrics.IncAuthTransition(string(domain.AuthNoToken))
		m.log.Info().Msg("auth: токен сброшен после серии ответов «не найден»")
		return
	}

	m.notFoundStreak = 0
	m.state = decision.State
	m.reason = decision.Reason
	m.persistLocked(ctx)
	onAccepted := m.onAccepted
	m.mu.Unlock()

	if old != decision.State {
		metrics.IncAuthTransition(string(decision.State))
		m.log.Debug().
			Str("from", string(old)).
			Str("to", string(decision.State)).
			Msg("auth: переход состояния")
	}
	if decision.State == domain.AuthAccepted && old != domain.AuthAccepted && onAccepted != nil {
		onAccepted()
	}
}

// persistLocked сохраняет (token, state) под профилем. Вызывается под мьютексом.
func (m *Machine) persistLocked(ctx context.Context) {
	if m.profile == "" {
		return
	}
	if m.token != "" {
		if err := m.kv.Set(ctx, m.profile, authTokenKey, m.token); err != nil {
			m.log.Error().Err(err).Msg("auth: не удалось сохранить токен")
		}
	} else {
		if err := m.kv.Delete(ctx, m.profile, authTokenKey); err != nil {
			m.log.Error().Err(err).Msg("auth: не удалось удалить токен")
		}
	}
	if err := m.kv.Set(ctx, m.profile, authStatusKey, string(m.state)); err != nil {
		m.log.Error().Err(err).Msg("auth: не удалось сохранить статус")
	}
}

// State возвращает текущее состояние.
func (m *Machine) State() domain.AuthorizationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Token возвращает текущий токен (пустая строка, если токена нет).
func (m *Machine) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// Reason возвращает последнюю причину отказа или отзыва доступа.
func (m *Machine) Reason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

// HasAccess сообщает, открыт ли доступ к функциям.
func (m *Machine) HasAccess() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.HasAccess()
}

// Credentials возвращает имя профиля и токен для авторизационных заголовков.
func (m *Machine) Credentials() (string, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile, m.token
}
