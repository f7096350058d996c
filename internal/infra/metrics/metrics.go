package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	SyncTicksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_ticks_total",
		Help: "Количество тиков периодического опроса",
	})
	ConnectionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "connection_state",
		Help: "Текущее состояние соединения с сервером событий (1 — на связи)",
	})
	ClanMembership = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clan_membership",
		Help: "Стабильный признак членства в клане после дебаунса (1 — в клане)",
	})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "status"})

	NotificationIntentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_intents_total",
		Help: "Количество сформированных намерений уведомлений",
	}, []string{"category"})

	IntentDeliveryErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "intent_delivery_errors_total",
		Help: "Ошибки доставки уведомлений по получателям",
	}, []string{"sink"})

	AuthTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_transitions_total",
		Help: "Переходы машины состояний авторизации",
	}, []string{"state"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		SyncTicksTotal,
		ConnectionState,
		ClanMembership,
		NetworkRequestDuration,
		NetworkRequestTotal,
		NotificationIntentsTotal,
		IntentDeliveryErrors,
		AuthTransitionsTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, status).Inc()
}

// SetConnected выставляет gauge состояния соединения.
func SetConnected(connected bool) {
	if connected {
		ConnectionState.Set(1)
	} else {
		ConnectionState.Set(0)
	}
}

// SetInClan выставляет gauge членства в клане.
func SetInClan(inClan bool) {
	if inClan {
		ClanMembership.Set(1)
	} else {
		ClanMembership.Set(0)
	}
}

// IncIntent увеличивает счётчик намерений по категории.
func IncIntent(category string) {
	NotificationIntentsTotal.WithLabelValues(category).Inc()
}

// IncAuthTransition фиксирует переход авторизации в новое состояние.
func IncAuthTransition(state string) {
	AuthTransitionsTotal.WithLabelValues(state).Inc()
}
