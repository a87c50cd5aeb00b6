package handlers

import (
	"net/http"

	"cycletrader/internal/models"
)

// StatusHandler обрабатывает HTTP запросы состояния и управления ботом.
//
// Endpoints:
// - GET /api/v1/status - снимок состояния движка
// - POST /api/v1/bot/stop - остановить стратегию
// - POST /api/v1/bot/start - возобновить стратегию
// - POST /api/v1/bot/close-all - закрыть все активные циклы
//
// Управляющие запросы проходят через общий обработчик команд движка,
// так же как команды из очереди удаленной системы.
type StatusHandler struct {
	status   StatusSource
	executor CommandExecutor
}

// NewStatusHandler создает новый StatusHandler с внедрением зависимостей.
func NewStatusHandler(status StatusSource, executor CommandExecutor) *StatusHandler {
	return &StatusHandler{
		status:   status,
		executor: executor,
	}
}

// GetStatus возвращает снимок состояния движка.
//
// GET /api/v1/status
//
// Response 200 OK:
//
//	{
//	  "account_id": "acc-1",
//	  "bot_id": "bot-1",
//	  "strategy": "zone",
//	  "stopped": false,
//	  "halted": false,
//	  "daily_pnl": 12.50,
//	  "order_sync": {...},
//	  "cycle_sync": {...}
//	}
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		respondError(w, http.StatusInternalServerError, "engine not initialized", "")
		return
	}
	respondJSON(w, http.StatusOK, h.status.Status())
}

// StopBot останавливает стратегию. Открытые циклы остаются
// под сверкой, новые тики не обрабатываются.
//
// POST /api/v1/bot/stop
func (h *StatusHandler) StopBot(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, models.CmdStopBot)
}

// StartBot возобновляет стратегию после остановки.
//
// POST /api/v1/bot/start
func (h *StatusHandler) StartBot(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, models.CmdStartBot)
}

// CloseAll закрывает все активные циклы аккаунта.
//
// POST /api/v1/bot/close-all
func (h *StatusHandler) CloseAll(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, models.CmdCloseAllCycles)
}

func (h *StatusHandler) execute(w http.ResponseWriter, r *http.Request, message string) {
	if h.executor == nil {
		respondError(w, http.StatusInternalServerError, "command executor not initialized", "")
		return
	}

	cmd := models.Command{
		Message: message,
		Content: map[string]interface{}{"username": "api"},
	}
	if err := h.executor.Execute(r.Context(), cmd); err != nil {
		respondError(w, http.StatusInternalServerError, "command failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, SuccessResponse{Message: message + " accepted"})
}
