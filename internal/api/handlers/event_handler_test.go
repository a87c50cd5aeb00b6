package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"cycletrader/internal/models"
)

// ============ EventHandler Tests ============

func TestEventHandler_GetEvents(t *testing.T) {
	t.Run("returns recent events", func(t *testing.T) {
		events := NewMockEventReader()
		events.SetEvents([]*models.Event{
			models.NewEvent("acc-1", "bot-1", models.EventCycleCreated, models.SeverityInfo, nil),
			models.NewEvent("acc-1", "bot-1", models.EventCycleClosed, models.SeverityInfo, nil),
		})
		handler := NewEventHandler(events, "acc-1")

		req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
		w := httptest.NewRecorder()
		handler.GetEvents(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var response []*models.Event
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(response) != 2 {
			t.Errorf("ожидалось 2 события, получено %d", len(response))
		}
		if events.LastLimit() != 50 {
			t.Errorf("ожидался limit по умолчанию 50, получен %d", events.LastLimit())
		}
	})

	t.Run("caps limit at maximum", func(t *testing.T) {
		events := NewMockEventReader()
		handler := NewEventHandler(events, "acc-1")

		req := httptest.NewRequest(http.MethodGet, "/api/v1/events?limit=10000", nil)
		w := httptest.NewRecorder()
		handler.GetEvents(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		if events.LastLimit() != maxEventLimit {
			t.Errorf("ожидался limit %d, получен %d", maxEventLimit, events.LastLimit())
		}
	})

	t.Run("rejects malformed limit", func(t *testing.T) {
		handler := NewEventHandler(NewMockEventReader(), "acc-1")

		req := httptest.NewRequest(http.MethodGet, "/api/v1/events?limit=-5", nil)
		w := httptest.NewRecorder()
		handler.GetEvents(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})

	t.Run("returns 500 on store error", func(t *testing.T) {
		events := NewMockEventReader()
		events.SetError(ErrMockDatabase)
		handler := NewEventHandler(events, "acc-1")

		req := httptest.NewRequest(http.MethodGet, "/api/v1/events", nil)
		w := httptest.NewRecorder()
		handler.GetEvents(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}
