package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"clan-sync-bot/internal/adapters/api"
	"clan-sync-bot/internal/adapters/ccapi"
	notifysink "clan-sync-bot/internal/adapters/notify"
	"clan-sync-bot/internal/domain"
	"clan-sync-bot/internal/infra/config"
	httpinfra "clan-sync-bot/internal/infra/http"
	"clan-sync-bot/internal/infra/kv"
	applog "clan-sync-bot/internal/infra/log"
	"clan-sync-bot/internal/infra/metrics"
	"clan-sync-bot/internal/usecase/auth"
	"clan-sync-bot/internal/usecase/notify"
	"clan-sync-bot/internal/usecase/readstate"
	"clan-sync-bot/internal/usecase/syncer"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv, "syncd")

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	store := buildStore(cfg, logger)

	// Клиент и машина авторизации ссылаются друг на друга: клиент берёт
	// заголовки у машины, машина проверяет статус через клиента.
	var machine *auth.Machine
	client, err := ccapi.New(cfg.API.BaseURL, cfg.API.Key,
		ccapi.WithTimeout(cfg.API.Timeout),
		ccapi.WithCredentials(func() (string, string) {
			if machine == nil {
				return "", ""
			}
			return machine.Credentials()
		}),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("syncd: не удалось создать клиента API")
	}
	machine = auth.NewMachine(store, client, logger.With().Str("component", "auth").Logger())

	readState := readstate.NewStore(store, logger.With().Str("component", "readstate").Logger())

	engine := notify.NewEngine(readState, notify.Options{
		NewEvents:     cfg.Notify.NewEvents,
		StatusChanges: cfg.Notify.StatusChanges,
		Newsletters:   cfg.Notify.Newsletters,
		LoginCatchUp:  cfg.Notify.LoginCatchUp,
	})

	sink := buildSinks(cfg, logger)

	controller := syncer.NewController(
		syncer.Config{
			PollIntervalSeconds: cfg.Poll.IntervalSeconds,
			AuthIntervalSeconds: cfg.Poll.AuthIntervalSeconds,
			NewsletterLimit:     cfg.Poll.NewsletterLimit,
		},
		client,
		client,
		machine,
		engine,
		readState,
		sink,
		logger.With().Str("component", "sync").Logger(),
	)
	controller.Start()
	defer controller.Stop()

	server := httpinfra.NewServer(logger.With().Str("component", "http").Logger())
	handler := api.NewHandler(controller, readState, logger.With().Str("component", "api").Logger())
	handler.Register(server.Router)

	go func() {
		if err := server.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("syncd: HTTP сервер завершился с ошибкой")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("syncd: получен сигнал завершения")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("syncd: ошибка остановки HTTP сервера")
	}
}

// buildStore выбирает бэкенд профильного хранилища по конфигурации.
func buildStore(cfg config.AppConfig, logger zerolog.Logger) domain.ProfileStore {
	switch cfg.Storage.Backend {
	case "redis":
		if cfg.Storage.RedisAddr == "" {
			logger.Fatal().Msg("syncd: не указан адрес Redis (REDIS_ADDR)")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Msg("syncd: нет подключения к Redis")
		}
		return kv.NewRedis(client, "ccsync")
	case "postgres":
		if cfg.Storage.PGDSN == "" {
			logger.Fatal().Msg("syncd: не указан DSN Postgres (PG_DSN)")
		}
		pool, err := kv.ConnectPostgres(cfg.Storage.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("syncd: нет подключения к БД")
		}
		return kv.NewPostgres(pool)
	default:
		logger.Warn().Msg("syncd: используется хранилище в памяти, состояние не переживёт рестарт")
		return kv.NewMemory()
	}
}

// buildSinks собирает разветвитель стоков уведомлений из конфигурации.
// Без настроенных стоков уведомления остаются только в метриках и логах.
func buildSinks(cfg config.AppConfig, logger zerolog.Logger) domain.IntentSink {
	fanout := notifysink.NewFanout(logger.With().Str("component", "notify").Logger())

	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			logger.Fatal().Err(err).Msg("syncd: не удалось создать бота")
		}
		fanout.Add("telegram", notifysink.NewTelegramSink(
			botAPI,
			cfg.Telegram.ChatID,
			cfg.Notify.Prefix,
			logger.With().Str("component", "telegram_sink").Logger(),
		))
	}

	if cfg.AMQP.URL != "" {
		amqpSink, err := notifysink.NewAMQPSink(
			cfg.AMQP.URL,
			cfg.AMQP.Exchange,
			cfg.AMQP.RoutingKey,
			logger.With().Str("component", "amqp_sink").Logger(),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("syncd: не удалось подключиться к AMQP")
		}
		fanout.Add("amqp", amqpSink)
	}

	if fanout.Len() == 0 {
		logger.Warn().Msg("syncd: стоки уведомлений не настроены")
	}
	return fanout
}
