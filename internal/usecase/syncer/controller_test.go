package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"clan-sync-bot/internal/domain"
	"clan-sync-bot/internal/infra/kv"
	"clan-sync-bot/internal/usecase/auth"
	"clan-sync-bot/internal/usecase/notify"
	"clan-sync-bot/internal/usecase/readstate"
)

type stubAPI struct {
	mu            sync.Mutex
	events        []domain.Event
	eventsErr     error
	latest        *domain.Newsletter
	newsletters   []domain.Newsletter
	settings      domain.RemoteSettings
	settingsErr   error
	settingsCalls int
	decision      domain.AccessDecision
	signupErr     error
	signups       []string
	unsignups     []string
}

func (s *stubAPI) FetchEvents(context.Context) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventsErr != nil {
		return nil, s.eventsErr
	}
	return append([]domain.Event(nil), s.events...), nil
}

func (s *stubAPI) FetchLatestNewsletter(context.Context) (*domain.Newsletter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, nil
}

func (s *stubAPI) FetchNewsletters(context.Context, int) ([]domain.Newsletter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Newsletter(nil), s.newsletters...), nil
}

func (s *stubAPI) FetchSettings(context.Context) (domain.RemoteSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settingsCalls++
	if s.settingsErr != nil {
		return domain.RemoteSettings{}, s.settingsErr
	}
	return s.settings, nil
}

func (s *stubAPI) SubmitAccessRequest(context.Context, string, string) error { return nil }

func (s *stubAPI) CheckAccess(context.Context, string, string) (domain.AccessDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decision, nil
}

func (s *stubAPI) SignUp(_ context.Context, eventID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signupErr != nil {
		return s.signupErr
	}
	s.signups = append(s.signups, eventID)
	return nil
}

func (s *stubAPI) CancelSignUp(_ context.Context, eventID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signupErr != nil {
		return s.signupErr
	}
	s.unsignups = append(s.unsignups, eventID)
	return nil
}

func (s *stubAPI) setEvents(events []domain.Event, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = events
	s.eventsErr = err
}

type captureSink struct {
	mu      sync.Mutex
	intents []domain.NotificationIntent
}

func (c *captureSink) Deliver(_ context.Context, intent domain.NotificationIntent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intents = append(c.intents, intent)
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.intents)
}

func newTestController(api *stubAPI) (*Controller, *captureSink) {
	mem := kv.NewMemory()
	machine := auth.NewMachine(mem, api, zerolog.Nop())
	readState := readstate.NewStore(mem, zerolog.Nop())
	engine := notify.NewEngine(readState, notify.DefaultOptions())
	sink := &captureSink{}
	c := NewController(
		Config{PollIntervalSeconds: 0, AuthIntervalSeconds: 1, NewsletterLimit: 10},
		api,
		api,
		machine,
		engine,
		readState,
		sink,
		zerolog.Nop(),
	)
	return c, sink
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("не дождались условия: %s", msg)
}

func TestFetchEventsUpdatesSnapshotAndConnection(t *testing.T) {
	api := &stubAPI{events: []domain.Event{{ID: "e1", Title: "Крепость", Status: domain.EventStatusUpcoming}}}
	c, _ := newTestController(api)

	c.fetchEvents(c.currentGen())

	snap := c.Snapshot()
	if len(snap.Events) != 1 || snap.Events[0].ID != "e1" {
		t.Fatalf("ожидали событие e1 в снапшоте, получили %+v", snap.Events)
	}
	if !snap.Connected {
		t.Fatalf("успешная выборка событий должна поднимать признак соединения")
	}
}

func TestFetchEventsFailureKeepsSnapshot(t *testing.T) {
	api := &stubAPI{events: []domain.Event{{ID: "e1", Status: domain.EventStatusUpcoming}}}
	c, _ := newTestController(api)
	c.fetchEvents(c.currentGen())

	api.setEvents(nil, errors.New("таймаут"))
	c.fetchEvents(c.currentGen())

	snap := c.Snapshot()
	if snap.Connected {
		t.Fatalf("неудачная выборка должна опускать признак соединения")
	}
	if len(snap.Events) != 1 {
		t.Fatalf("при ошибке прежний снапшот должен сохраняться, получили %d событий", len(snap.Events))
	}
}

func TestStaleCompletionDiscardedAfterStop(t *testing.T) {
	api := &stubAPI{}
	c, sink := newTestController(api)
	c.Start()
	waitFor(t, func() bool { return c.Snapshot().Connected }, "первичная выборка")

	stale := c.currentGen()
	c.Stop()

	api.setEvents([]domain.Event{{ID: "late", Title: "Опоздавшее", Status: domain.EventStatusUpcoming}}, nil)
	before := sink.count()
	c.fetchEvents(stale)

	if len(c.Snapshot().Events) != 0 {
		t.Fatalf("завершение устаревшей выборки не должно менять снапшот")
	}
	if sink.count() != before {
		t.Fatalf("завершение устаревшей выборки не должно порождать уведомлений")
	}
}

func TestStartIdempotent(t *testing.T) {
	api := &stubAPI{settings: domain.DefaultRemoteSettings()}
	c, _ := newTestController(api)

	c.Start()
	c.Start()
	waitFor(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.settingsCalls >= 1
	}, "выборка настроек")
	time.Sleep(50 * time.Millisecond)

	api.mu.Lock()
	calls := api.settingsCalls
	api.mu.Unlock()
	if calls != 1 {
		t.Fatalf("повторный Start не должен запускать вторую первичную выборку, вызовов: %d", calls)
	}
	c.Stop()
	c.Stop()
}

func TestManualFetchWithPollingDisabled(t *testing.T) {
	api := &stubAPI{}
	c, _ := newTestController(api)
	c.Start()
	c.SetPollingInterval(0)

	api.setEvents([]domain.Event{{ID: "e1", Status: domain.EventStatusUpcoming}}, nil)
	c.RequestEvents()
	waitFor(t, func() bool { return len(c.Snapshot().Events) == 1 }, "ручная выборка событий")
	c.Stop()
}

func TestSettingsApplied(t *testing.T) {
	api := &stubAPI{settings: domain.RemoteSettings{
		EventPollingInterval:        60,
		RequireClanMembership:       false,
		ClanName:                    "Morytania",
		ShowNewsletterNotifications: false,
	}}
	c, _ := newTestController(api)

	c.fetchSettings(c.currentGen())

	snap := c.Snapshot()
	if snap.Settings.ClanName != "Morytania" || snap.Settings.EventPollingInterval != 60 {
		t.Fatalf("настройки не применились: %+v", snap.Settings)
	}
	c.HandleMembershipReading(domain.MembershipReading{Group: "Morytania"})
	if !c.Snapshot().InClan {
		t.Fatalf("смена целевого клана должна дойти до дебаунсера")
	}
}

func TestSignUpGuards(t *testing.T) {
	ctx := context.Background()
	api := &stubAPI{}
	c, _ := newTestController(api)

	if err := c.SignUp(ctx, "e1"); !errors.Is(err, ErrNoPlayer) {
		t.Fatalf("без игрока ожидали ErrNoPlayer, получили %v", err)
	}

	c.HandleLogin(ctx, "Гость")
	if err := c.SignUp(ctx, "e1"); !errors.Is(err, ErrNotInClan) {
		t.Fatalf("вне клана ожидали ErrNotInClan, получили %v", err)
	}

	c.HandleMembershipReading(domain.MembershipReading{Group: "Arceuus"})
	if err := c.SignUp(ctx, "e1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("без соединения ожидали ErrNotConnected, получили %v", err)
	}

	c.fetchEvents(c.currentGen())
	if err := c.SignUp(ctx, "e1"); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	api.mu.Lock()
	signups := append([]string(nil), api.signups...)
	api.mu.Unlock()
	if len(signups) != 1 || signups[0] != "e1" {
		t.Fatalf("запись должна дойти до сервера, получили %v", signups)
	}
}

func TestSignUpUnauthorizedUpdatesMachine(t *testing.T) {
	ctx := context.Background()
	api := &stubAPI{signupErr: &domain.AccessDeniedError{
		Decision: domain.AccessDecision{Found: true, State: domain.AuthRevoked, Reason: "отозван"},
	}}
	c, _ := newTestController(api)

	c.HandleLogin(ctx, "Гость")
	c.HandleMembershipReading(domain.MembershipReading{Group: "Arceuus"})
	c.fetchEvents(c.currentGen())

	err := c.SignUp(ctx, "e1")
	var denied *domain.AccessDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("ожидали AccessDeniedError, получили %v", err)
	}
	if c.Snapshot().AuthState != domain.AuthRevoked {
		t.Fatalf("ответ 401 должен дойти до машины авторизации, состояние %s", c.Snapshot().AuthState)
	}
}

func TestLoginCatchUpOncePerLogin(t *testing.T) {
	ctx := context.Background()
	api := &stubAPI{events: []domain.Event{{ID: "e1", Title: "Крепость", Status: domain.EventStatusUpcoming}}}
	c, sink := newTestController(api)
	c.fetchEvents(c.currentGen())

	c.HandleLogin(ctx, "Гость")
	waitFor(t, func() bool { return sink.count() >= 1 }, "догоняющее уведомление")
	first := sink.count()

	c.HandleLogin(ctx, "Гость")
	time.Sleep(50 * time.Millisecond)
	if sink.count() != first {
		t.Fatalf("повторный вход без выхода не должен дублировать уведомления")
	}

	c.HandleLogout()
	c.HandleLogin(ctx, "Гость")
	time.Sleep(50 * time.Millisecond)
	if sink.count() != first {
		t.Fatalf("событие уже объявлено в этой сессии, повтор недопустим")
	}
}

func TestSnapshotFeatureAccess(t *testing.T) {
	ctx := context.Background()
	api := &stubAPI{decision: domain.AccessDecision{Found: true, State: domain.AuthAccepted}}
	c, _ := newTestController(api)

	c.HandleLogin(ctx, "Гость")
	if err := c.RequestAccess(ctx); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	waitFor(t, func() bool { return c.Snapshot().AuthState == domain.AuthAccepted }, "подтверждение доступа")

	if c.Snapshot().HasFeatureAccess {
		t.Fatalf("при требовании членства доступ к функциям закрыт вне клана")
	}
	c.HandleMembershipReading(domain.MembershipReading{Group: "Arceuus"})
	if !c.Snapshot().HasFeatureAccess {
		t.Fatalf("ACCEPTED и членство в клане должны открывать функции")
	}
	c.Stop()
}
