package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"clan-sync-bot/internal/domain"
	"clan-sync-bot/internal/infra/metrics"
)

// TelegramSink доставляет намерения уведомлений в телеграм-чат.
type TelegramSink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	prefix string
	log    zerolog.Logger
}

var _ domain.IntentSink = (*TelegramSink)(nil)

// NewTelegramSink создаёт сток. prefix добавляется к каждому сообщению,
// чтобы уведомления можно было отличить в общем чате.
func NewTelegramSink(bot *tgbotapi.BotAPI, chatID int64, prefix string, log zerolog.Logger) *TelegramSink {
	return &TelegramSink{bot: bot, chatID: chatID, prefix: prefix, log: log}
}

// Deliver отправляет одно намерение как текстовое сообщение.
func (s *TelegramSink) Deliver(_ context.Context, intent domain.NotificationIntent) error {
	msg := tgbotapi.NewMessage(s.chatID, FormatIntent(s.prefix, intent))
	start := time.Now()
	_, err := s.bot.Send(msg)
	metrics.ObserveNetworkRequest("telegram_bot", "send_message", start, err)
	if err != nil {
		return fmt.Errorf("отправка в telegram: %w", err)
	}
	s.log.Debug().
		Str("category", string(intent.Category)).
		Str("chat_id", strconv.FormatInt(s.chatID, 10)).
		Msg("notify: уведомление отправлено в telegram")
	return nil
}

// FormatIntent собирает текст сообщения по категории намерения.
func FormatIntent(prefix string, intent domain.NotificationIntent) string {
	var body string
	switch intent.Category {
	case domain.IntentNewEvent:
		body = fmt.Sprintf("Новое событие: %s", intent.Subject)
	case domain.IntentNewEvents:
		body = fmt.Sprintf("Новых событий: %d", intent.Count)
	case domain.IntentEventStarting:
		body = fmt.Sprintf("Событие начинается: %s", intent.Subject)
	case domain.IntentEventEnded:
		body = fmt.Sprintf("Событие завершилось: %s", intent.Subject)
	case domain.IntentEventCancelled:
		body = fmt.Sprintf("Событие отменено: %s", intent.Subject)
	case domain.IntentNewNewsletter:
		body = fmt.Sprintf("Свежий выпуск рассылки: %s", intent.Subject)
	default:
		body = intent.Subject
	}
	if prefix == "" {
		return body
	}
	return fmt.Sprintf("[%s] %s", prefix, body)
}
