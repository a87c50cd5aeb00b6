package websocket

import (
	"time"

	"cycletrader/internal/models"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeEvent - событие торгового ядра.
	// Отправляется на каждое событие журнала: открытие и закрытие
	// циклов, исполнение уровней, аварийные остановки.
	MessageTypeEvent MessageType = "event"

	// MessageTypeCycleUpdate - снимок состояния цикла.
	// Отправляется при изменении агрегатов или статуса цикла.
	MessageTypeCycleUpdate MessageType = "cycleUpdate"

	// MessageTypeStatusUpdate - снимок состояния движка стратегии.
	// Отправляется периодически вместе с пульсом.
	MessageTypeStatusUpdate MessageType = "statusUpdate"
)

// BaseMessage - базовая структура всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventMessage - сообщение о событии торгового ядра
type EventMessage struct {
	BaseMessage
	Data *EventData `json:"data"`
}

// EventData - данные события
type EventData struct {
	Type     string                 `json:"type"`
	Severity string                 `json:"severity"`
	CycleID  *int64                 `json:"cycle_id,omitempty"`
	Content  map[string]interface{} `json:"content,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// CycleUpdateMessage - сообщение со снимком цикла
type CycleUpdateMessage struct {
	BaseMessage
	CycleID int64            `json:"cycle_id"`
	Data    *CycleUpdateData `json:"data"`
}

// CycleUpdateData - данные снимка цикла
type CycleUpdateData struct {
	Symbol      string  `json:"symbol"`
	Type        string  `json:"cycle_type"`
	Status      string  `json:"status"`
	Direction   string  `json:"direction"`
	EntryPrice  float64 `json:"entry_price"`
	LowerBound  float64 `json:"lower_bound"`
	UpperBound  float64 `json:"upper_bound"`
	ZoneIndex   int     `json:"zone_index"`
	TotalProfit float64 `json:"total_profit"`
	TotalVolume float64 `json:"total_volume"`
	IsClosed    bool    `json:"is_closed"`

	LastUpdate time.Time `json:"last_update"`
}

// StatusUpdateMessage - сообщение со снимком состояния движка
type StatusUpdateMessage struct {
	BaseMessage
	Data map[string]interface{} `json:"data"`
}

// ============ Фабричные функции для создания сообщений ============

// NewEventMessage создает сообщение события
func NewEventMessage(event *models.Event) *EventMessage {
	return &EventMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeEvent,
			Timestamp: time.Now(),
		},
		Data: &EventData{
			Type:      event.Type,
			Severity:  event.Severity,
			CycleID:   event.CycleID,
			Content:   event.Content,
			CreatedAt: event.CreatedAt,
		},
	}
}

// NewCycleUpdateMessage создает сообщение снимка цикла
func NewCycleUpdateMessage(cycle *models.Cycle) *CycleUpdateMessage {
	return &CycleUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeCycleUpdate,
			Timestamp: time.Now(),
		},
		CycleID: cycle.ID,
		Data: &CycleUpdateData{
			Symbol:      cycle.Symbol,
			Type:        cycle.Type,
			Status:      cycle.Status,
			Direction:   cycle.Direction,
			EntryPrice:  cycle.EntryPrice,
			LowerBound:  cycle.LowerBound,
			UpperBound:  cycle.UpperBound,
			ZoneIndex:   cycle.ZoneIndex,
			TotalProfit: cycle.TotalProfit,
			TotalVolume: cycle.TotalVolume,
			IsClosed:    cycle.IsClosed,
			LastUpdate:  cycle.UpdatedAt,
		},
	}
}

// NewStatusUpdateMessage создает сообщение состояния движка
func NewStatusUpdateMessage(status map[string]interface{}) *StatusUpdateMessage {
	return &StatusUpdateMessage{
		BaseMessage: BaseMessage{
			Type:      MessageTypeStatusUpdate,
			Timestamp: time.Now(),
		},
		Data: status,
	}
}
