package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"clan-sync-bot/internal/domain"
	"clan-sync-bot/internal/infra/metrics"
	"clan-sync-bot/internal/usecase/auth"
	"clan-sync-bot/internal/usecase/notify"
	"clan-sync-bot/internal/usecase/readstate"
)

// ErrNoPlayer возвращается, когда операция требует известного имени игрока.
var ErrNoPlayer = errors.New("имя игрока неизвестно")

// ErrNotInClan возвращается, когда запись требует членства в клане.
var ErrNotInClan = errors.New("игрок не состоит в целевом клане")

// ErrNotConnected возвращается, когда нет соединения с сервером событий.
var ErrNotConnected = errors.New("нет соединения с сервером событий")

// Config задаёт интервалы опроса контроллера.
type Config struct {
	PollIntervalSeconds int
	AuthIntervalSeconds int
	NewsletterLimit     int
}

// Snapshot — консолидированное состояние для внешних наблюдателей.
type Snapshot struct {
	Events           []domain.Event            `json:"events"`
	Newsletters      []domain.Newsletter       `json:"newsletters"`
	LatestNewsletter *domain.Newsletter        `json:"latest_newsletter,omitempty"`
	Settings         domain.RemoteSettings     `json:"settings"`
	Connected        bool                      `json:"connected"`
	InClan           bool                      `json:"in_clan"`
	PlayerName       string                    `json:"player_name,omitempty"`
	AuthState        domain.AuthorizationState `json:"auth_state"`
	AuthToken        string                    `json:"auth_token,omitempty"`
	AuthReason       string                    `json:"auth_reason,omitempty"`
	HasFeatureAccess bool                      `json:"has_feature_access"`
}

// Controller владеет каденцией опроса и разводит результаты выборок по
// компонентам: монитору соединения, машине авторизации, движку дедупликации.
// Всё изменяемое состояние защищено одним мьютексом; колбэки и доставка
// уведомлений выполняются вне его.
type Controller struct {
	mu  sync.Mutex
	log zerolog.Logger

	api    domain.EventsAPI
	roster domain.RosterAPI

	machine    *auth.Machine
	engine     *notify.Engine
	readState  *readstate.Store
	conn       *ConnectionMonitor
	membership *MembershipDebouncer
	sink       domain.IntentSink

	pollInterval    time.Duration
	authInterval    time.Duration
	newsletterLimit int

	events           []domain.Event
	newsletters      []domain.Newsletter
	latestNewsletter *domain.Newsletter
	settings         domain.RemoteSettings

	playerName    string
	loginNotified bool

	started  bool
	gen      uint64
	pollStop chan struct{}
	authStop chan struct{}
}

// NewController собирает контроллер синхронизации.
func NewController(
	cfg Config,
	api domain.EventsAPI,
	roster domain.RosterAPI,
	machine *auth.Machine,
	engine *notify.Engine,
	readState *readstate.Store,
	sink domain.IntentSink,
	logger zerolog.Logger,
) *Controller {
	settings := domain.DefaultRemoteSettings()
	c := &Controller{
		log:             logger,
		api:             api,
		roster:          roster,
		machine:         machine,
		engine:          engine,
		readState:       readState,
		sink:            sink,
		pollInterval:    time.Duration(cfg.PollIntervalSeconds) * time.Second,
		authInterval:    time.Duration(cfg.AuthIntervalSeconds) * time.Second,
		newsletterLimit: cfg.NewsletterLimit,
		settings:        settings,
	}
	if c.authInterval <= 0 {
		c.authInterval = 30 * time.Second
	}
	if c.newsletterLimit <= 0 {
		c.newsletterLimit = 10
	}
	c.conn = NewConnectionMonitor(func(connected bool) {
		metrics.SetConnected(connected)
		c.log.Info().Bool("connected", connected).Msg("sync: состояние соединения изменилось")
	})
	c.membership = NewMembershipDebouncer(settings.ClanName, func(inClan bool) {
		metrics.SetInClan(inClan)
		c.log.Info().Bool("in_clan", inClan).Msg("sync: членство в клане изменилось")
	})
	machine.SetOnAccepted(c.refreshNow)
	machine.SetOnRequested(c.startAuthPolling)
	return c
}

// Start запускает контроллер: настройки первыми (они могут поменять интервал),
// затем события, рассылки и немедленная проверка авторизации, после чего
// взводится периодический опрос. Повторный вызов — no-op.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	gen := c.gen
	limit := c.newsletterLimit
	c.armPollingLocked()
	c.mu.Unlock()

	go func() {
		c.fetchSettings(gen)
		c.fetchEvents(gen)
		c.fetchLatestNewsletter(gen)
		c.fetchNewsletters(gen, limit)
		c.checkAuthorization()
	}()
	c.log.Info().Dur("interval", c.pollIntervalSnapshot()).Msg("sync: контроллер запущен")
}

// Stop отменяет всю запланированную работу. Запросы в полёте не прерываются,
// но их завершения становятся no-op. Повторный вызов безопасен.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.gen++
	if c.pollStop != nil {
		close(c.pollStop)
		c.pollStop = nil
	}
	if c.authStop != nil {
		close(c.authStop)
		c.authStop = nil
	}
	c.mu.Unlock()
	c.log.Info().Msg("sync: контроллер остановлен")
}

// SetPollingInterval меняет период опроса. Ноль и меньше выключают
// периодический опрос, ручные выборки продолжают работать. Запросы в полёте
// не отменяются.
func (c *Controller) SetPollingInterval(seconds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	interval := time.Duration(seconds) * time.Second
	if interval == c.pollInterval {
		return
	}
	c.pollInterval = interval
	if c.started {
		c.armPollingLocked()
	}
}

func (c *Controller) pollIntervalSnapshot() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pollInterval
}

// armPollingLocked перевзводит периодический опрос. Вызывается под мьютексом.
func (c *Controller) armPollingLocked() {
	if c.pollStop != nil {
		close(c.pollStop)
		c.pollStop = nil
	}
	if c.pollInterval <= 0 {
		c.log.Debug().Msg("sync: периодический опрос выключен")
		return
	}
	stop := make(chan struct{})
	c.pollStop = stop
	go c.runPolling(c.pollInterval, stop)
}

func (c *Controller) runPolling(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.pollOnce()
		}
	}
}

// pollOnce запускает выборки одного тика. Выборки независимы и завершаются
// в произвольном порядке; тики не ждут друг друга.
func (c *Controller) pollOnce() {
	metrics.SyncTicksTotal.Inc()
	c.mu.Lock()
	gen := c.gen
	limit := c.newsletterLimit
	c.mu.Unlock()

	go c.fetchEvents(gen)
	go c.fetchLatestNewsletter(gen)
	go c.fetchNewsletters(gen, limit)
	go c.checkAuthorization()
}

func (c *Controller) currentGen() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// RequestEvents запускает разовую выборку событий.
func (c *Controller) RequestEvents() {
	go c.fetchEvents(c.currentGen())
}

// RequestLatestNewsletter запускает разовую выборку последнего выпуска.
func (c *Controller) RequestLatestNewsletter() {
	go c.fetchLatestNewsletter(c.currentGen())
}

// RequestNewsletters запускает разовую выборку списка выпусков.
func (c *Controller) RequestNewsletters(limit int) {
	if limit <= 0 {
		limit = c.newsletterLimit
	}
	go c.fetchNewsletters(c.currentGen(), limit)
}

// RequestSettings запускает разовую выборку серверных настроек.
func (c *Controller) RequestSettings() {
	go c.fetchSettings(c.currentGen())
}

// fetchEvents — единственная выборка, влияющая на классификацию соединения.
// При ошибке прежний снапшот сохраняется без изменений.
func (c *Controller) fetchEvents(gen uint64) {
	events, err := c.api.FetchEvents(context.Background())

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.mu.Unlock()
		c.log.Error().Err(err).Msg("sync: выборка событий не удалась")
		c.conn.RecordFailure()
		return
	}
	previous := c.events
	c.events = events
	c.mu.Unlock()

	c.conn.RecordSuccess()
	c.deliver(c.engine.ProcessEvents(previous, events))
	c.log.Debug().Int("count", len(events)).Msg("sync: события обновлены")
}

func (c *Controller) fetchLatestNewsletter(gen uint64) {
	latest, err := c.api.FetchLatestNewsletter(context.Background())
	if err != nil {
		c.log.Error().Err(err).Msg("sync: выборка последнего выпуска не удалась")
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.latestNewsletter = latest
	c.mu.Unlock()

	c.deliver(c.engine.ProcessLatestNewsletter(latest))
}

func (c *Controller) fetchNewsletters(gen uint64, limit int) {
	newsletters, err := c.api.FetchNewsletters(context.Background(), limit)
	if err != nil {
		c.log.Error().Err(err).Msg("sync: выборка списка выпусков не удалась")
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.newsletters = newsletters
	if len(newsletters) == 0 {
		c.latestNewsletter = nil
	} else {
		latest := newsletters[0]
		c.latestNewsletter = &latest
	}
	c.mu.Unlock()

	c.deliver(c.engine.ProcessNewsletterList(newsletters))
}

func (c *Controller) fetchSettings(gen uint64) {
	settings, err := c.api.FetchSettings(context.Background())
	if err != nil {
		// При недоступных настройках действуют значения по умолчанию.
		c.log.Error().Err(err).Msg("sync: выборка настроек не удалась")
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.settings = settings
	rearm := false
	newInterval := time.Duration(settings.EventPollingInterval) * time.Second
	if newInterval != c.pollInterval {
		c.pollInterval = newInterval
		rearm = c.started
	}
	if rearm {
		c.armPollingLocked()
	}
	c.mu.Unlock()

	c.membership.SetTarget(settings.ClanName)
	c.engine.SetNewslettersEnabled(settings.ShowNewsletterNotifications)
	c.log.Debug().
		Int("polling", settings.EventPollingInterval).
		Bool("require_clan", settings.RequireClanMembership).
		Str("clan", settings.ClanName).
		Msg("sync: настройки обновлены")
}

// checkAuthorization сверяет токен с сервером через машину авторизации.
// Машина переживает перезапуски контроллера, поэтому проверка поколения
// здесь не нужна.
func (c *Controller) checkAuthorization() {
	c.machine.CheckStatus(context.Background())
	if c.machine.State() == domain.AuthAccepted {
		c.stopAuthPolling()
	}
}

// refreshNow — сигнал от машины авторизации: доступ только что выдан,
// события и рассылки выбираются немедленно, не дожидаясь следующего тика.
func (c *Controller) refreshNow() {
	c.log.Debug().Msg("sync: доступ подтверждён, немедленное обновление")
	gen := c.currentGen()
	c.mu.Lock()
	limit := c.newsletterLimit
	c.mu.Unlock()
	go c.fetchEvents(gen)
	go c.fetchLatestNewsletter(gen)
	go c.fetchNewsletters(gen, limit)
}

// startAuthPolling взводит вспомогательный опрос статуса авторизации после
// отправки запроса доступа. Останавливается при переходе в ACCEPTED или Stop.
func (c *Controller) startAuthPolling() {
	c.mu.Lock()
	if c.authStop != nil {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	c.authStop = stop
	interval := c.authInterval
	c.mu.Unlock()

	c.log.Debug().Dur("interval", interval).Msg("sync: запущен опрос статуса авторизации")
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.checkAuthorization()
			}
		}
	}()
}

func (c *Controller) stopAuthPolling() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authStop != nil {
		close(c.authStop)
		c.authStop = nil
		c.log.Debug().Msg("sync: опрос статуса авторизации остановлен")
	}
}

// HandleMembershipReading принимает сырое наблюдение хоста о членстве.
func (c *Controller) HandleMembershipReading(reading domain.MembershipReading) {
	c.membership.Observe(reading)
}

// HandleLogin обрабатывает вход игрока: загружает профильное состояние,
// сверяет авторизацию и один раз за сессию входа шлёт догоняющие уведомления.
func (c *Controller) HandleLogin(ctx context.Context, playerName string) {
	if playerName == "" {
		return
	}
	c.mu.Lock()
	c.playerName = playerName
	events := append([]domain.Event(nil), c.events...)
	latest := c.latestNewsletter
	alreadyNotified := c.loginNotified
	c.loginNotified = true
	c.mu.Unlock()

	c.log.Debug().Str("player", playerName).Msg("sync: вход игрока")
	c.readState.Load(ctx, playerName)
	c.machine.LoadProfile(ctx, playerName)
	go c.checkAuthorization()

	if !alreadyNotified {
		c.deliver(c.engine.LoginCatchUp(events, latest))
	}
}

// HandleLogout обрабатывает выход игрока: профильное состояние сбрасывается
// и будет перечитано при следующем входе.
func (c *Controller) HandleLogout() {
	c.mu.Lock()
	c.playerName = ""
	c.loginNotified = false
	c.mu.Unlock()

	c.machine.Reset()
	c.membership.Reset()
	c.stopAuthPolling()
	c.log.Debug().Msg("sync: выход игрока")
}

// RequestAccess запрашивает доступ для текущего профиля.
func (c *Controller) RequestAccess(ctx context.Context) error {
	return c.machine.RequestAccess(ctx)
}

// SignUp записывает текущего игрока на событие и сразу обновляет список,
// чтобы состав участников был актуален.
func (c *Controller) SignUp(ctx context.Context, eventID string) error {
	c.mu.Lock()
	player := c.playerName
	requireClan := c.settings.RequireClanMembership
	c.mu.Unlock()

	if player == "" {
		return ErrNoPlayer
	}
	if requireClan && !c.membership.InClan() {
		return ErrNotInClan
	}
	if !c.conn.Connected() {
		return ErrNotConnected
	}

	c.readState.ClearNotInterested(ctx, eventID)

	if err := c.roster.SignUp(ctx, eventID, player); err != nil {
		var denied *domain.AccessDeniedError
		if errors.As(err, &denied) {
			c.machine.ApplyDecision(ctx, denied.Decision)
		}
		return err
	}
	c.RequestEvents()
	return nil
}

// CancelSignUp снимает текущего игрока с события.
func (c *Controller) CancelSignUp(ctx context.Context, eventID string) error {
	c.mu.Lock()
	player := c.playerName
	c.mu.Unlock()

	if player == "" {
		return ErrNoPlayer
	}
	if !c.conn.Connected() {
		return ErrNotConnected
	}

	if err := c.roster.CancelSignUp(ctx, eventID, player); err != nil {
		var denied *domain.AccessDeniedError
		if errors.As(err, &denied) {
			c.machine.ApplyDecision(ctx, denied.Decision)
		}
		return err
	}
	c.RequestEvents()
	return nil
}

// Snapshot возвращает консолидированное состояние для наблюдателей.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		Events:           append([]domain.Event(nil), c.events...),
		Newsletters:      append([]domain.Newsletter(nil), c.newsletters...),
		LatestNewsletter: c.latestNewsletter,
		Settings:         c.settings,
		PlayerName:       c.playerName,
	}
	requireClan := c.settings.RequireClanMembership
	c.mu.Unlock()

	snap.Connected = c.conn.Connected()
	snap.InClan = c.membership.InClan()
	snap.AuthState = c.machine.State()
	snap.AuthToken = c.machine.Token()
	snap.AuthReason = c.machine.Reason()
	snap.HasFeatureAccess = c.machine.HasAccess() && (!requireClan || snap.InClan)
	return snap
}

// deliver отправляет намерения во внешний сток. Ошибки доставки только
// логируются: худший исход — пользователь узнает о событии из панели.
func (c *Controller) deliver(intents []domain.NotificationIntent) {
	for _, intent := range intents {
		metrics.IncIntent(string(intent.Category))
		if c.sink == nil {
			continue
		}
		if err := c.sink.Deliver(context.Background(), intent); err != nil {
			c.log.Error().
				Err(err).
				Str("category", string(intent.Category)).
				Msg("sync: не удалось доставить уведомление")
		}
	}
}
