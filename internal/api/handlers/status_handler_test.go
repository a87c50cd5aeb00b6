package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"cycletrader/internal/models"
)

// ============ StatusHandler Tests ============

func TestStatusHandler_GetStatus(t *testing.T) {
	t.Run("returns engine snapshot", func(t *testing.T) {
		handler := NewStatusHandler(NewMockStatus(), nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		w := httptest.NewRecorder()
		handler.GetStatus(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var response map[string]interface{}
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response["account_id"] != "acc-1" {
			t.Errorf("ожидался account_id acc-1, получено %v", response["account_id"])
		}
	})

	t.Run("returns 500 when engine is nil", func(t *testing.T) {
		handler := NewStatusHandler(nil, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
		w := httptest.NewRecorder()
		handler.GetStatus(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}

func TestStatusHandler_BotCommands(t *testing.T) {
	tests := []struct {
		name    string
		call    func(h *StatusHandler, w http.ResponseWriter, r *http.Request)
		message string
	}{
		{"stop", (*StatusHandler).StopBot, models.CmdStopBot},
		{"start", (*StatusHandler).StartBot, models.CmdStartBot},
		{"close all", (*StatusHandler).CloseAll, models.CmdCloseAllCycles},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := NewMockExecutor()
			handler := NewStatusHandler(NewMockStatus(), executor)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/bot/x", nil)
			w := httptest.NewRecorder()
			tt.call(handler, w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
			}
			executed := executor.Executed()
			if len(executed) != 1 || executed[0].Message != tt.message {
				t.Errorf("ожидалась команда %q, получено %+v", tt.message, executed)
			}
		})
	}

	t.Run("returns 500 when command fails", func(t *testing.T) {
		executor := NewMockExecutor()
		executor.SetError(ErrMockDatabase)
		handler := NewStatusHandler(NewMockStatus(), executor)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/bot/stop", nil)
		w := httptest.NewRecorder()
		handler.StopBot(w, req)

		if w.Code != http.StatusInternalServerError {
			t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}
	})
}
