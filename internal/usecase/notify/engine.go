package notify

import (
	"sync"

	"clan-sync-bot/internal/domain"
	"clan-sync-bot/internal/usecase/readstate"
)

// Options включает и выключает отдельные категории уведомлений.
type Options struct {
	NewEvents     bool
	StatusChanges bool
	Newsletters   bool
	LoginCatchUp  bool
}

// DefaultOptions — все категории включены.
func DefaultOptions() Options {
	return Options{NewEvents: true, StatusChanges: true, Newsletters: true, LoginCatchUp: true}
}

// Engine превращает пары снапшотов в минимальный список намерений уведомлений
// без повторов между тиками и рестартами. Движок не может завершиться ошибкой —
// только вернуть, возможно пустой, список намерений.
type Engine struct {
	mu        sync.Mutex
	readState *readstate.Store
	opts      Options

	lastStatus             map[string]domain.EventStatus
	eventsBaselineDone     bool
	newsletterBaselineDone bool
	newslettersEnabled     bool

	// Идентификаторы, по которым уведомление уже уходило в этой сессии.
	// Детекция на тике имеет приоритет: login catch-up их пропускает.
	notifiedEvents      map[string]struct{}
	notifiedNewsletters map[int]struct{}
}

// NewEngine создаёт движок дедупликации.
func NewEngine(readState *readstate.Store, opts Options) *Engine {
	return &Engine{
		readState:           readState,
		opts:                opts,
		lastStatus:          make(map[string]domain.EventStatus),
		newslettersEnabled:  true,
		notifiedEvents:      make(map[string]struct{}),
		notifiedNewsletters: make(map[int]struct{}),
	}
}

// SetNewslettersEnabled применяет серверный флаг show_newsletter_notifications.
func (e *Engine) SetNewslettersEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.newslettersEnabled = enabled
}

// ProcessEvents сравнивает снапшоты событий. Самый первый снапшот сессии
// только задаёт базовую линию и никогда не порождает намерений «новое событие».
func (e *Engine) ProcessEvents(previous, current []domain.Event) []domain.NotificationIntent {
	e.mu.Lock()
	defer e.mu.Unlock()

	var intents []domain.NotificationIntent

	if e.eventsBaselineDone && e.opts.NewEvents {
		prevIDs := make(map[string]struct{}, len(previous))
		for _, event := range previous {
			prevIDs[event.ID] = struct{}{}
		}
		for _, event := range current {
			if event.Status != domain.EventStatusUpcoming {
				continue
			}
			if _, ok := prevIDs[event.ID]; ok {
				continue
			}
			if e.readState.IsEventSeen(event.ID) {
				continue
			}
			intents = append(intents, domain.NotificationIntent{
				Category: domain.IntentNewEvent,
				Subject:  event.Title,
				EventID:  event.ID,
				Count:    1,
			})
			e.notifiedEvents[event.ID] = struct{}{}
		}
	}

	if e.opts.StatusChanges {
		for _, event := range current {
			old, ok := e.lastStatus[event.ID]
			if !ok || old == event.Status {
				continue
			}
			var category domain.IntentCategory
			switch event.Status {
			case domain.EventStatusActive:
				category = domain.IntentEventStarting
			case domain.EventStatusCompleted:
				category = domain.IntentEventEnded
			case domain.EventStatusCancelled:
				category = domain.IntentEventCancelled
			default:
				continue
			}
			intents = append(intents, domain.NotificationIntent{
				Category: category,
				Subject:  event.Title,
				EventID:  event.ID,
			})
		}
	}

	for _, event := range current {
		e.lastStatus[event.ID] = event.Status
	}
	e.eventsBaselineDone = true
	return intents
}

// ProcessLatestNewsletter сравнивает последний выпуск с сессионной высшей
// отметкой. Первый ответ подсистемы рассылок задаёт базовую линию.
func (e *Engine) ProcessLatestNewsletter(latest *domain.Newsletter) []domain.NotificationIntent {
	e.mu.Lock()
	defer e.mu.Unlock()

	if latest == nil {
		e.newsletterBaselineDone = true
		return nil
	}
	intents := e.newsletterNoveltyLocked(*latest)
	e.readState.UpdateLastKnownNewsletter(latest.ID)
	e.newsletterBaselineDone = true
	return intents
}

// ProcessNewsletterList обрабатывает список выпусков (первый элемент — самый новый).
func (e *Engine) ProcessNewsletterList(newsletters []domain.Newsletter) []domain.NotificationIntent {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(newsletters) == 0 {
		e.newsletterBaselineDone = true
		return nil
	}
	latest := newsletters[0]
	intents := e.newsletterNoveltyLocked(latest)
	e.readState.UpdateLastKnownNewsletter(latest.ID)
	e.newsletterBaselineDone = true
	return intents
}

func (e *Engine) newsletterNoveltyLocked(latest domain.Newsletter) []domain.NotificationIntent {
	if !e.newsletterBaselineDone || !e.newslettersEnabled || !e.opts.Newsletters {
		return nil
	}
	if !e.readState.IsNewSinceLastPoll(latest.ID) {
		return nil
	}
	e.notifiedNewsletters[latest.ID] = struct{}{}
	return []domain.NotificationIntent{{
		Category:     domain.IntentNewNewsletter,
		Subject:      latest.Title,
		NewsletterID: latest.ID,
	}}
}

// LoginCatchUp формирует разовые уведомления при входе в профиль: количество
// непросмотренных предстоящих событий и непрочитанный выпуск рассылки.
// События и выпуски, о которых уже уведомляла детекция на тике, пропускаются.
func (e *Engine) LoginCatchUp(events []domain.Event, latest *domain.Newsletter) []domain.NotificationIntent {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.opts.LoginCatchUp {
		return nil
	}

	var intents []domain.NotificationIntent

	if e.opts.NewEvents {
		unseen := 0
		firstTitle, firstID := "", ""
		for _, event := range events {
			if event.Status != domain.EventStatusUpcoming {
				continue
			}
			if e.readState.IsEventSeen(event.ID) {
				continue
			}
			if _, ok := e.notifiedEvents[event.ID]; ok {
				continue
			}
			if unseen == 0 {
				firstTitle, firstID = event.Title, event.ID
			}
			unseen++
		}
		switch {
		case unseen == 1:
			intents = append(intents, domain.NotificationIntent{
				Category: domain.IntentNewEvent,
				Subject:  firstTitle,
				EventID:  firstID,
				Count:    1,
			})
			e.notifiedEvents[firstID] = struct{}{}
		case unseen > 1:
			intents = append(intents, domain.NotificationIntent{
				Category: domain.IntentNewEvents,
				Count:    unseen,
			})
		}
	}

	if e.opts.Newsletters && e.newslettersEnabled && latest != nil {
		_, alreadyNotified := e.notifiedNewsletters[latest.ID]
		if !alreadyNotified && e.readState.IsNewsletterUnread(latest.ID) {
			intents = append(intents, domain.NotificationIntent{
				Category:     domain.IntentNewNewsletter,
				Subject:      latest.Title,
				NewsletterID: latest.ID,
			})
			e.notifiedNewsletters[latest.ID] = struct{}{}
		}
	}

	return intents
}
