package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"cycletrader/internal/models"
)

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ============ Интерфейсы зависимостей handlers ============

// CycleReader читает циклы из хранилища
type CycleReader interface {
	GetActive(accountID string) ([]*models.Cycle, error)
	GetByID(id int64) (*models.Cycle, error)
	GetClosedSince(accountID string, since time.Time) ([]*models.Cycle, error)
}

// OrderReader читает ордера из хранилища
type OrderReader interface {
	GetByCycle(cycleID int64) ([]*models.Order, error)
	GetOpen(accountID string) ([]*models.Order, error)
}

// EventReader читает журнал событий
type EventReader interface {
	ListRecent(accountID string, limit int) ([]*models.Event, error)
}

// CommandExecutor выполняет команды оператора.
// Реализуется движком стратегии: HTTP API и очередь удаленной
// системы проходят через один и тот же обработчик команд.
type CommandExecutor interface {
	Execute(ctx context.Context, cmd models.Command) error
}

// StatusSource отдает снимок состояния движка
type StatusSource interface {
	Status() map[string]interface{}
	Stopped() bool
}

// ============ Общие helpers ответов ============

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message, details string) {
	respondJSON(w, status, ErrorResponse{Error: message, Details: details})
}
