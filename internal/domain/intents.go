package domain

// IntentCategory классифицирует намерение уведомления.
type IntentCategory string

const (
	// IntentNewEvent — появилось одно новое предстоящее событие (Subject = название).
	IntentNewEvent IntentCategory = "new_event"
	// IntentNewEvents — несколько непросмотренных событий (Count = количество).
	IntentNewEvents IntentCategory = "new_events"
	// IntentEventStarting — событие перешло в статус ACTIVE.
	IntentEventStarting IntentCategory = "event_starting"
	// IntentEventEnded — событие перешло в статус COMPLETED.
	IntentEventEnded IntentCategory = "event_ended"
	// IntentEventCancelled — событие перешло в статус CANCELLED.
	IntentEventCancelled IntentCategory = "event_cancelled"
	// IntentNewNewsletter — появился новый выпуск рассылки.
	IntentNewNewsletter IntentCategory = "new_newsletter"
)

// NotificationIntent — абстрактное «сообщить пользователю X», без привязки
// к способу отображения. Движок дедупликации гарантирует отсутствие повторов.
type NotificationIntent struct {
	Category     IntentCategory `json:"category"`
	Subject      string         `json:"subject,omitempty"`
	EventID      string         `json:"event_id,omitempty"`
	NewsletterID int            `json:"newsletter_id,omitempty"`
	Count        int            `json:"count,omitempty"`
}
