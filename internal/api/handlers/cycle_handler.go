package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"cycletrader/internal/models"
)

// CycleHandler обрабатывает HTTP запросы для торговых циклов.
//
// Endpoints:
// - GET /api/v1/cycles - активные циклы аккаунта
// - GET /api/v1/cycles?closed_since=24h - закрытые циклы за период
// - GET /api/v1/cycles/{id} - цикл со списком ордеров
// - GET /api/v1/cycles/{id}/orders - только ордера цикла
// - POST /api/v1/cycles/{id}/close - закрыть цикл командой оператора
type CycleHandler struct {
	cycles    CycleReader
	orders    OrderReader
	executor  CommandExecutor
	accountID string
}

// NewCycleHandler создает новый CycleHandler с внедрением зависимостей.
func NewCycleHandler(cycles CycleReader, orders OrderReader, executor CommandExecutor, accountID string) *CycleHandler {
	return &CycleHandler{
		cycles:    cycles,
		orders:    orders,
		executor:  executor,
		accountID: accountID,
	}
}

// GetCycles возвращает циклы аккаунта.
//
// GET /api/v1/cycles
// GET /api/v1/cycles?closed_since=24h
//
// Без параметров отдаются активные циклы. С параметром closed_since
// отдаются циклы, закрытые за указанный период (формат time.Duration).
func (h *CycleHandler) GetCycles(w http.ResponseWriter, r *http.Request) {
	if h.cycles == nil {
		respondError(w, http.StatusInternalServerError, "cycle store not initialized", "")
		return
	}

	var (
		cycles []*models.Cycle
		err    error
	)
	if raw := r.URL.Query().Get("closed_since"); raw != "" {
		period, perr := time.ParseDuration(raw)
		if perr != nil {
			respondError(w, http.StatusBadRequest, "invalid closed_since", perr.Error())
			return
		}
		cycles, err = h.cycles.GetClosedSince(h.accountID, time.Now().Add(-period))
	} else {
		cycles, err = h.cycles.GetActive(h.accountID)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load cycles", err.Error())
		return
	}

	// Пустой список возвращаем как [], а не null
	if cycles == nil {
		cycles = []*models.Cycle{}
	}
	respondJSON(w, http.StatusOK, cycles)
}

// GetCycle возвращает цикл вместе с его ордерами.
//
// GET /api/v1/cycles/{id}
//
// Response 200 OK:
//
//	{"cycle": {...}, "orders": [...]}
func (h *CycleHandler) GetCycle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cycleID(w, r)
	if !ok {
		return
	}

	cycle, err := h.cycles.GetByID(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "cycle not found", err.Error())
		return
	}

	orders, err := h.orders.GetByCycle(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load orders", err.Error())
		return
	}
	if orders == nil {
		orders = []*models.Order{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"cycle":  cycle,
		"orders": orders,
	})
}

// GetCycleOrders возвращает ордера цикла.
//
// GET /api/v1/cycles/{id}/orders
func (h *CycleHandler) GetCycleOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cycleID(w, r)
	if !ok {
		return
	}

	orders, err := h.orders.GetByCycle(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load orders", err.Error())
		return
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

// CloseCycle закрывает цикл командой оператора.
//
// POST /api/v1/cycles/{id}/close
//
// Закрытие идет через общий обработчик команд движка: все ордера
// цикла закрываются у брокера, цикл помечается закрытым оператором.
func (h *CycleHandler) CloseCycle(w http.ResponseWriter, r *http.Request) {
	if h.executor == nil {
		respondError(w, http.StatusInternalServerError, "command executor not initialized", "")
		return
	}

	id, ok := h.cycleID(w, r)
	if !ok {
		return
	}

	cmd := models.Command{
		Message: models.CmdCloseCycle,
		Content: map[string]interface{}{
			"cycle_id": float64(id),
			"username": "api",
		},
	}
	if err := h.executor.Execute(r.Context(), cmd); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to close cycle", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, SuccessResponse{Message: "cycle close requested"})
}

// GetOpenOrders возвращает все открытые ордера аккаунта.
//
// GET /api/v1/orders
func (h *CycleHandler) GetOpenOrders(w http.ResponseWriter, r *http.Request) {
	if h.orders == nil {
		respondError(w, http.StatusInternalServerError, "order store not initialized", "")
		return
	}

	orders, err := h.orders.GetOpen(h.accountID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load orders", err.Error())
		return
	}
	if orders == nil {
		orders = []*models.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

// cycleID извлекает и валидирует {id} из пути
func (h *CycleHandler) cycleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid cycle id", idStr)
		return 0, false
	}
	return id, true
}
