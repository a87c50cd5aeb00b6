package handlers

import (
	"net/http"
	"strconv"

	"cycletrader/internal/models"
)

// maxEventLimit ограничивает размер выборки журнала
const maxEventLimit = 500

// EventHandler обрабатывает HTTP запросы журнала событий.
//
// Endpoints:
// - GET /api/v1/events?limit=50 - последние события аккаунта
//
// Журнал включает открытия и закрытия циклов, исполнения уровней,
// срабатывания дневных лимитов и отклоненные команды.
type EventHandler struct {
	events    EventReader
	accountID string
}

// NewEventHandler создает новый EventHandler с внедрением зависимостей.
func NewEventHandler(events EventReader, accountID string) *EventHandler {
	return &EventHandler{
		events:    events,
		accountID: accountID,
	}
}

// GetEvents возвращает последние события аккаунта.
//
// GET /api/v1/events?limit=50
//
// limit по умолчанию 50, максимум 500.
func (h *EventHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		respondError(w, http.StatusInternalServerError, "event store not initialized", "")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			respondError(w, http.StatusBadRequest, "invalid limit", raw)
			return
		}
		limit = v
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	events, err := h.events.ListRecent(h.accountID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load events", err.Error())
		return
	}
	if events == nil {
		events = []*models.Event{}
	}
	respondJSON(w, http.StatusOK, events)
}
