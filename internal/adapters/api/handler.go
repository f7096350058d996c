package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	chi "github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"clan-sync-bot/internal/domain"
	"clan-sync-bot/internal/usecase/readstate"
	"clan-sync-bot/internal/usecase/syncer"
)

// Handler отдаёт управляющий API поверх контроллера синхронизации.
// Через него хост сообщает о входах, выходах и наблюдениях членства,
// а панель читает консолидированное состояние.
type Handler struct {
	controller *syncer.Controller
	readState  *readstate.Store
	log        zerolog.Logger
}

// NewHandler создаёт обработчик управляющего API.
func NewHandler(controller *syncer.Controller, readState *readstate.Store, log zerolog.Logger) *Handler {
	return &Handler{controller: controller, readState: readState, log: log}
}

// Register вешает маршруты на роутер.
func (h *Handler) Register(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/state", h.getState)
		r.Get("/events", h.getEvents)
		r.Get("/newsletters", h.getNewsletters)
		r.Get("/connection", h.getConnection)
		r.Get("/authorization", h.getAuthorization)

		r.Post("/refresh", h.postRefresh)
		r.Put("/polling-interval", h.putPollingInterval)

		r.Post("/host/login", h.postLogin)
		r.Post("/host/logout", h.postLogout)
		r.Post("/host/membership", h.postMembership)

		r.Post("/authorization/request", h.postAuthRequest)

		r.Post("/events/{id}/signup", h.postSignUp)
		r.Post("/events/{id}/unsignup", h.postCancelSignUp)
		r.Post("/events/{id}/seen", h.postEventSeen)
		r.Post("/events/seen-all", h.postAllEventsSeen)
		r.Post("/events/{id}/overlay-hidden", h.postToggleOverlay)
		r.Post("/events/{id}/not-interested", h.postNotInterested)
		r.Delete("/events/{id}/not-interested", h.deleteNotInterested)
		r.Post("/newsletters/{id}/seen", h.postNewsletterSeen)
	})
}

func (h *Handler) getState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

func (h *Handler) getEvents(w http.ResponseWriter, _ *http.Request) {
	snap := h.controller.Snapshot()
	type eventView struct {
		domain.Event
		Seen          bool `json:"seen"`
		OverlayHidden bool `json:"overlay_hidden"`
		NotInterested bool `json:"not_interested"`
	}
	views := make([]eventView, 0, len(snap.Events))
	for _, ev := range snap.Events {
		views = append(views, eventView{
			Event:         ev,
			Seen:          h.readState.IsEventSeen(ev.ID),
			OverlayHidden: h.readState.IsOverlayHidden(ev.ID),
			NotInterested: h.readState.IsNotInterested(ev.ID),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events":     views,
		"has_unseen": h.readState.HasUnseenEvents(snap.Events),
	})
}

func (h *Handler) getNewsletters(w http.ResponseWriter, _ *http.Request) {
	snap := h.controller.Snapshot()
	unread := false
	if snap.LatestNewsletter != nil {
		unread = h.readState.IsNewsletterUnread(snap.LatestNewsletter.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"newsletters":   snap.Newsletters,
		"latest":        snap.LatestNewsletter,
		"latest_unread": unread,
	})
}

func (h *Handler) getConnection(w http.ResponseWriter, _ *http.Request) {
	snap := h.controller.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"connected": snap.Connected,
		"in_clan":   snap.InClan,
	})
}

func (h *Handler) getAuthorization(w http.ResponseWriter, _ *http.Request) {
	snap := h.controller.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"state":              snap.AuthState,
		"token":              snap.AuthToken,
		"reason":             snap.AuthReason,
		"has_feature_access": snap.HasFeatureAccess,
	})
}

func (h *Handler) postRefresh(w http.ResponseWriter, _ *http.Request) {
	h.controller.RequestEvents()
	h.controller.RequestLatestNewsletter()
	h.controller.RequestNewsletters(0)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

func (h *Handler) putPollingInterval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Seconds int `json:"seconds"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "некорректное тело запроса")
		return
	}
	h.controller.SetPollingInterval(req.Seconds)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) postLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerName string `json:"player_name"`
	}
	if err := decodeBody(r, &req); err != nil || req.PlayerName == "" {
		writeError(w, http.StatusBadRequest, "player_name обязателен")
		return
	}
	h.controller.HandleLogin(r.Context(), req.PlayerName)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) postLogout(w http.ResponseWriter, _ *http.Request) {
	h.controller.HandleLogout()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) postMembership(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Absent bool   `json:"absent"`
		Group  string `json:"group"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "некорректное тело запроса")
		return
	}
	h.controller.HandleMembershipReading(domain.MembershipReading{Absent: req.Absent, Group: req.Group})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) postAuthRequest(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.RequestAccess(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("api: запрос доступа не удался")
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
}

func (h *Handler) postSignUp(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")
	if err := h.controller.SignUp(r.Context(), eventID); err != nil {
		h.writeSignupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) postCancelSignUp(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")
	if err := h.controller.CancelSignUp(r.Context(), eventID); err != nil {
		h.writeSignupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeSignupError(w http.ResponseWriter, err error) {
	var denied *domain.AccessDeniedError
	switch {
	case errors.As(err, &denied):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, syncer.ErrNoPlayer),
		errors.Is(err, syncer.ErrNotInClan),
		errors.Is(err, syncer.ErrNotConnected):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error().Err(err).Msg("api: операция записи не удалась")
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (h *Handler) postEventSeen(w http.ResponseWriter, r *http.Request) {
	h.readState.MarkEventSeen(r.Context(), chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) postAllEventsSeen(w http.ResponseWriter, r *http.Request) {
	snap := h.controller.Snapshot()
	h.readState.MarkAllEventsSeen(r.Context(), snap.Events)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) postToggleOverlay(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")
	h.readState.ToggleOverlayHidden(r.Context(), eventID)
	writeJSON(w, http.StatusOK, map[string]any{"overlay_hidden": h.readState.IsOverlayHidden(eventID)})
}

func (h *Handler) postNotInterested(w http.ResponseWriter, r *http.Request) {
	h.readState.MarkNotInterested(r.Context(), chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) deleteNotInterested(w http.ResponseWriter, r *http.Request) {
	h.readState.ClearNotInterested(r.Context(), chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) postNewsletterSeen(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "некорректный идентификатор выпуска")
		return
	}
	h.readState.MarkNewsletterSeen(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
