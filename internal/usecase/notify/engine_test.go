package notify

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"clan-sync-bot/internal/domain"
	"clan-sync-bot/internal/infra/kv"
	"clan-sync-bot/internal/usecase/readstate"
)

func newEngine(t *testing.T) (*Engine, *readstate.Store) {
	t.Helper()
	rs := readstate.NewStore(kv.NewMemory(), zerolog.Nop())
	rs.Load(context.Background(), "player")
	return NewEngine(rs, DefaultOptions()), rs
}

func upcoming(id, title string) domain.Event {
	return domain.Event{ID: id, Title: title, Status: domain.EventStatusUpcoming}
}

func categories(intents []domain.NotificationIntent) []domain.IntentCategory {
	out := make([]domain.IntentCategory, 0, len(intents))
	for _, intent := range intents {
		out = append(out, intent.Category)
	}
	return out
}

func TestFirstSnapshotIsBaseline(t *testing.T) {
	e, _ := newEngine(t)
	intents := e.ProcessEvents(nil, []domain.Event{upcoming("e1", "Крепость"), upcoming("e2", "Рейд")})
	if len(intents) != 0 {
		t.Fatalf("первый снапшот задаёт базовую линию, ожидали 0 намерений, получили %d", len(intents))
	}
}

func TestNewUpcomingEventDetected(t *testing.T) {
	e, _ := newEngine(t)
	first := []domain.Event{upcoming("e1", "Крепость")}
	e.ProcessEvents(nil, first)

	second := append(first, upcoming("e2", "Рейд"))
	intents := e.ProcessEvents(first, second)
	if len(intents) != 1 || intents[0].Category != domain.IntentNewEvent {
		t.Fatalf("ожидали одно намерение «новое событие», получили %v", categories(intents))
	}
	if intents[0].EventID != "e2" || intents[0].Subject != "Рейд" {
		t.Fatalf("намерение должно указывать на новое событие, получили %+v", intents[0])
	}
}

func TestNewEventNotRepeated(t *testing.T) {
	e, _ := newEngine(t)
	first := []domain.Event{upcoming("e1", "Крепость")}
	e.ProcessEvents(nil, first)
	second := append(first, upcoming("e2", "Рейд"))
	e.ProcessEvents(first, second)

	intents := e.ProcessEvents(second, second)
	if len(intents) != 0 {
		t.Fatalf("событие из прошлого снапшота не должно объявляться заново, получили %v", categories(intents))
	}
}

func TestSeenEventSuppressed(t *testing.T) {
	e, rs := newEngine(t)
	first := []domain.Event{upcoming("e1", "Крепость")}
	e.ProcessEvents(nil, first)
	rs.MarkEventSeen(context.Background(), "e2")

	intents := e.ProcessEvents(first, append(first, upcoming("e2", "Рейд")))
	if len(intents) != 0 {
		t.Fatalf("просмотренное событие не должно порождать уведомление")
	}
}

func TestNonUpcomingNewEventIgnored(t *testing.T) {
	e, _ := newEngine(t)
	first := []domain.Event{upcoming("e1", "Крепость")}
	e.ProcessEvents(nil, first)

	added := domain.Event{ID: "e2", Title: "Рейд", Status: domain.EventStatusActive}
	intents := e.ProcessEvents(first, append(first, added))
	if len(intents) != 0 {
		t.Fatalf("«новое событие» объявляется только для предстоящих, получили %v", categories(intents))
	}
}

func TestStatusTransitions(t *testing.T) {
	e, _ := newEngine(t)
	ev := upcoming("e1", "Крепость")
	e.ProcessEvents(nil, []domain.Event{ev})

	ev.Status = domain.EventStatusActive
	intents := e.ProcessEvents(nil, []domain.Event{ev})
	if len(intents) != 1 || intents[0].Category != domain.IntentEventStarting {
		t.Fatalf("ожидали «событие начинается», получили %v", categories(intents))
	}

	intents = e.ProcessEvents(nil, []domain.Event{ev})
	if len(intents) != 0 {
		t.Fatalf("повтор статуса не должен давать уведомление")
	}

	ev.Status = domain.EventStatusCompleted
	intents = e.ProcessEvents(nil, []domain.Event{ev})
	if len(intents) != 1 || intents[0].Category != domain.IntentEventEnded {
		t.Fatalf("ожидали «событие завершилось», получили %v", categories(intents))
	}
}

func TestCancelledTransition(t *testing.T) {
	e, _ := newEngine(t)
	ev := upcoming("e1", "Крепость")
	e.ProcessEvents(nil, []domain.Event{ev})

	ev.Status = domain.EventStatusCancelled
	intents := e.ProcessEvents(nil, []domain.Event{ev})
	if len(intents) != 1 || intents[0].Category != domain.IntentEventCancelled {
		t.Fatalf("ожидали «событие отменено», получили %v", categories(intents))
	}
}

func TestNewsletterBaselineThenNovelty(t *testing.T) {
	e, _ := newEngine(t)

	intents := e.ProcessLatestNewsletter(&domain.Newsletter{ID: 5, Title: "Май"})
	if len(intents) != 0 {
		t.Fatalf("первый ответ рассылок задаёт базовую линию")
	}

	intents = e.ProcessLatestNewsletter(&domain.Newsletter{ID: 6, Title: "Июнь"})
	if len(intents) != 1 || intents[0].Category != domain.IntentNewNewsletter {
		t.Fatalf("ожидали уведомление о новом выпуске, получили %v", categories(intents))
	}
	if intents[0].NewsletterID != 6 {
		t.Fatalf("намерение должно указывать на выпуск 6, получили %d", intents[0].NewsletterID)
	}

	intents = e.ProcessLatestNewsletter(&domain.Newsletter{ID: 6, Title: "Июнь"})
	if len(intents) != 0 {
		t.Fatalf("тот же выпуск не должен объявляться повторно")
	}
}

func TestNewsletterOlderIgnored(t *testing.T) {
	e, _ := newEngine(t)
	e.ProcessLatestNewsletter(&domain.Newsletter{ID: 6, Title: "Июнь"})

	intents := e.ProcessLatestNewsletter(&domain.Newsletter{ID: 5, Title: "Май"})
	if len(intents) != 0 {
		t.Fatalf("выпуск не новее сессионной отметки не должен объявляться")
	}
}

func TestNewsletterNilBaseline(t *testing.T) {
	e, _ := newEngine(t)
	if intents := e.ProcessLatestNewsletter(nil); len(intents) != 0 {
		t.Fatalf("пустой ответ не порождает намерений")
	}
	intents := e.ProcessLatestNewsletter(&domain.Newsletter{ID: 1, Title: "Первый"})
	if len(intents) != 1 {
		t.Fatalf("после пустой базовой линии появление выпуска должно объявляться, получили %d", len(intents))
	}
}

func TestNewsletterListUsesHead(t *testing.T) {
	e, _ := newEngine(t)
	e.ProcessNewsletterList([]domain.Newsletter{{ID: 5, Title: "Май"}, {ID: 4, Title: "Апрель"}})

	intents := e.ProcessNewsletterList([]domain.Newsletter{{ID: 6, Title: "Июнь"}, {ID: 5, Title: "Май"}})
	if len(intents) != 1 || intents[0].NewsletterID != 6 {
		t.Fatalf("список должен объявлять только головной выпуск, получили %v", intents)
	}
}

func TestNewslettersDisabledByServer(t *testing.T) {
	e, _ := newEngine(t)
	e.SetNewslettersEnabled(false)
	e.ProcessLatestNewsletter(&domain.Newsletter{ID: 5, Title: "Май"})

	intents := e.ProcessLatestNewsletter(&domain.Newsletter{ID: 6, Title: "Июнь"})
	if len(intents) != 0 {
		t.Fatalf("серверный флаг должен глушить уведомления о рассылке")
	}
}

func TestLoginCatchUpSingleEventNamed(t *testing.T) {
	e, _ := newEngine(t)
	intents := e.LoginCatchUp([]domain.Event{upcoming("e1", "Крепость")}, nil)
	if len(intents) != 1 || intents[0].Category != domain.IntentNewEvent || intents[0].Subject != "Крепость" {
		t.Fatalf("одно непросмотренное событие должно объявляться по имени, получили %v", intents)
	}
}

func TestLoginCatchUpManyEventsCounted(t *testing.T) {
	e, _ := newEngine(t)
	events := []domain.Event{upcoming("e1", "Крепость"), upcoming("e2", "Рейд"), upcoming("e3", "Квиз")}
	intents := e.LoginCatchUp(events, nil)
	if len(intents) != 1 || intents[0].Category != domain.IntentNewEvents || intents[0].Count != 3 {
		t.Fatalf("несколько событий должны сворачиваться в счётчик, получили %v", intents)
	}
}

func TestLoginCatchUpSkipsTickNotified(t *testing.T) {
	e, _ := newEngine(t)
	first := []domain.Event{upcoming("e1", "Крепость")}
	e.ProcessEvents(nil, first)
	second := append(first, upcoming("e2", "Рейд"))
	e.ProcessEvents(first, second)

	intents := e.LoginCatchUp(second, nil)
	if len(intents) != 1 || intents[0].EventID != "e1" {
		t.Fatalf("событие, уже объявленное на тике, должно пропускаться, получили %v", intents)
	}
}

func TestLoginCatchUpNewsletter(t *testing.T) {
	e, rs := newEngine(t)
	latest := &domain.Newsletter{ID: 6, Title: "Июнь"}

	intents := e.LoginCatchUp(nil, latest)
	if len(intents) != 1 || intents[0].Category != domain.IntentNewNewsletter {
		t.Fatalf("непрочитанный выпуск должен объявляться при входе, получили %v", intents)
	}

	rs.MarkNewsletterSeen(context.Background(), 6)
	intents = e.LoginCatchUp(nil, latest)
	if len(intents) != 0 {
		t.Fatalf("прочитанный выпуск не должен объявляться")
	}
}

func TestLoginCatchUpNewsletterNotRepeatedAfterTick(t *testing.T) {
	e, _ := newEngine(t)
	e.ProcessLatestNewsletter(&domain.Newsletter{ID: 5, Title: "Май"})
	e.ProcessLatestNewsletter(&domain.Newsletter{ID: 6, Title: "Июнь"})

	intents := e.LoginCatchUp(nil, &domain.Newsletter{ID: 6, Title: "Июнь"})
	if len(intents) != 0 {
		t.Fatalf("выпуск, объявленный на тике, не должен повторяться при входе")
	}
}

func TestDisabledCategories(t *testing.T) {
	rs := readstate.NewStore(kv.NewMemory(), zerolog.Nop())
	rs.Load(context.Background(), "player")
	e := NewEngine(rs, Options{})

	first := []domain.Event{upcoming("e1", "Крепость")}
	e.ProcessEvents(nil, first)
	ev := first[0]
	ev.Status = domain.EventStatusActive
	if intents := e.ProcessEvents(first, []domain.Event{ev, upcoming("e2", "Рейд")}); len(intents) != 0 {
		t.Fatalf("выключенные категории не должны порождать намерений, получили %v", categories(intents))
	}
	if intents := e.LoginCatchUp(first, &domain.Newsletter{ID: 1}); len(intents) != 0 {
		t.Fatalf("выключенный login catch-up не должен порождать намерений")
	}
}
