package notify

import (
	"context"

	"github.com/rs/zerolog"

	"clan-sync-bot/internal/domain"
	"clan-sync-bot/internal/infra/metrics"
)

// Fanout рассылает намерение по нескольким стокам. Ошибка одного стока не
// мешает остальным и не всплывает наружу: уведомления не критичны.
type Fanout struct {
	sinks []named
	log   zerolog.Logger
}

type named struct {
	name string
	sink domain.IntentSink
}

var _ domain.IntentSink = (*Fanout)(nil)

// NewFanout создаёт пустой разветвитель.
func NewFanout(log zerolog.Logger) *Fanout {
	return &Fanout{log: log}
}

// Add регистрирует сток под именем для метрик и логов.
func (f *Fanout) Add(name string, sink domain.IntentSink) {
	f.sinks = append(f.sinks, named{name: name, sink: sink})
}

// Len возвращает число зарегистрированных стоков.
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Deliver передаёт намерение каждому стоку по очереди.
func (f *Fanout) Deliver(ctx context.Context, intent domain.NotificationIntent) error {
	for _, s := range f.sinks {
		if err := s.sink.Deliver(ctx, intent); err != nil {
			metrics.IntentDeliveryErrors.WithLabelValues(s.name).Inc()
			f.log.Error().
				Err(err).
				Str("sink", s.name).
				Str("category", string(intent.Category)).
				Msg("notify: сток не принял уведомление")
		}
	}
	return nil
}
