package readstate

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"clan-sync-bot/internal/domain"
)

const (
	seenEventsKey         = "seenEventIds"
	lastSeenNewsletterKey = "lastSeenNewsletterId"
	hiddenOverlayKey      = "hiddenOverlayEventIds"
	notInterestedKey      = "notInterestedEventIds"
)

// Store отслеживает, какие события и выпуски рассылки пользователь уже видел.
// Наборы и lastSeenNewsletterId персистятся через domain.ProfileStore;
// lastKnownNewsletterId живёт только в памяти и сбрасывается при старте процесса.
type Store struct {
	mu  sync.Mutex
	log zerolog.Logger
	kv  domain.ProfileStore

	profile             string
	seen                map[string]struct{}
	hiddenOverlay       map[string]struct{}
	notInterested       map[string]struct{}
	lastSeenNewsletter  int
	lastKnownNewsletter int
}

// NewStore создаёт хранилище состояния прочитанности.
func NewStore(kv domain.ProfileStore, logger zerolog.Logger) *Store {
	return &Store{
		log:                 logger,
		kv:                  kv,
		seen:                make(map[string]struct{}),
		hiddenOverlay:       make(map[string]struct{}),
		notInterested:       make(map[string]struct{}),
		lastSeenNewsletter:  -1,
		lastKnownNewsletter: -1,
	}
}

// Load загружает персистентное состояние профиля. Отсутствующие ключи дают
// значения по умолчанию, не разбираемое число логируется и игнорируется.
func (s *Store) Load(ctx context.Context, profile string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profile = profile
	s.seen = s.loadSet(ctx, seenEventsKey)
	s.hiddenOverlay = s.loadSet(ctx, hiddenOverlayKey)
	s.notInterested = s.loadSet(ctx, notInterestedKey)

	s.lastSeenNewsletter = -1
	raw, err := s.kv.Get(ctx, profile, lastSeenNewsletterKey)
	if err != nil {
		if !errors.Is(err, domain.ErrKeyNotFound) {
			s.log.Error().Err(err).Msg("readstate: не удалось прочитать lastSeenNewsletterId")
		}
		return
	}
	id, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		s.log.Warn().Str("value", raw).Msg("readstate: некорректный lastSeenNewsletterId, используем значение по умолчанию")
		return
	}
	s.lastSeenNewsletter = id
}

func (s *Store) loadSet(ctx context.Context, key string) map[string]struct{} {
	set := make(map[string]struct{})
	raw, err := s.kv.Get(ctx, s.profile, key)
	if err != nil {
		if !errors.Is(err, domain.ErrKeyNotFound) {
			s.log.Error().Err(err).Str("key", key).Msg("readstate: не удалось прочитать набор")
		}
		return set
	}
	for _, id := range strings.Split(raw, ",") {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return set
}

func (s *Store) saveSet(ctx context.Context, key string, set map[string]struct{}) {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if err := s.kv.Set(ctx, s.profile, key, strings.Join(ids, ",")); err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("readstate: не удалось сохранить набор")
	}
}

// MarkEventSeen помечает событие просмотренным.
func (s *Store) MarkEventSeen(ctx context.Context, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[eventID] = struct{}{}
	s.saveSet(ctx, seenEventsKey, s.seen)
}

// MarkAllEventsSeen помечает просмотренными все перечисленные события.
// Повторный вызов с тем же списком не меняет персистентный набор.
func (s *Store) MarkAllEventsSeen(ctx context.Context, events []domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range events {
		s.seen[event.ID] = struct{}{}
	}
	s.saveSet(ctx, seenEventsKey, s.seen)
}

// IsEventSeen проверяет, просмотрено ли событие.
func (s *Store) IsEventSeen(eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[eventID]
	return ok
}

// HasUnseenEvents сообщает, есть ли непросмотренные предстоящие события.
func (s *Store) HasUnseenEvents(events []domain.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range events {
		if event.Status != domain.EventStatusUpcoming {
			continue
		}
		if _, ok := s.seen[event.ID]; !ok {
			return true
		}
	}
	return false
}

// MarkNewsletterSeen поднимает персистентную отметку прочитанности рассылки.
// Отметка монотонна: меньший ID никогда её не опускает.
func (s *Store) MarkNewsletterSeen(ctx context.Context, newsletterID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if newsletterID <= s.lastSeenNewsletter {
		return
	}
	s.lastSeenNewsletter = newsletterID
	if err := s.kv.Set(ctx, s.profile, lastSeenNewsletterKey, strconv.Itoa(newsletterID)); err != nil {
		s.log.Error().Err(err).Msg("readstate: не удалось сохранить lastSeenNewsletterId")
	}
}

// IsNewsletterUnread проверяет, является ли выпуск непрочитанным.
func (s *Store) IsNewsletterUnread(newsletterID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newsletterID > s.lastSeenNewsletter
}

// LastSeenNewsletterID возвращает персистентную отметку прочитанности.
func (s *Store) LastSeenNewsletterID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeenNewsletter
}

// IsNewSinceLastPoll проверяет, новее ли выпуск высшей отметки этой сессии.
func (s *Store) IsNewSinceLastPoll(newsletterID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newsletterID > s.lastKnownNewsletter
}

// UpdateLastKnownNewsletter поднимает сессионную высшую отметку.
func (s *Store) UpdateLastKnownNewsletter(newsletterID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if newsletterID > s.lastKnownNewsletter {
		s.lastKnownNewsletter = newsletterID
	}
}

// LastKnownNewsletterID возвращает сессионную высшую отметку.
func (s *Store) LastKnownNewsletterID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastKnownNewsletter
}

// ToggleOverlayHidden переключает скрытие события в оверлее.
func (s *Store) ToggleOverlayHidden(ctx context.Context, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hiddenOverlay[eventID]; ok {
		delete(s.hiddenOverlay, eventID)
	} else {
		s.hiddenOverlay[eventID] = struct{}{}
	}
	s.saveSet(ctx, hiddenOverlayKey, s.hiddenOverlay)
}

// IsOverlayHidden проверяет, скрыто ли событие в оверлее.
func (s *Store) IsOverlayHidden(eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.hiddenOverlay[eventID]
	return ok
}

// MarkNotInterested помечает событие как «не интересует».
func (s *Store) MarkNotInterested(ctx context.Context, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notInterested[eventID] = struct{}{}
	s.saveSet(ctx, notInterestedKey, s.notInterested)
}

// ClearNotInterested снимает отметку «не интересует».
func (s *Store) ClearNotInterested(ctx context.Context, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notInterested, eventID)
	s.saveSet(ctx, notInterestedKey, s.notInterested)
}

// IsNotInterested проверяет отметку «не интересует».
func (s *Store) IsNotInterested(eventID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.notInterested[eventID]
	return ok
}
