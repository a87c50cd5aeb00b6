package models

import "time"

// Event представляет запись журнала событий торговой системы.
// События пишутся в хранилище и транслируются подписчикам WebSocket.
type Event struct {
	ID        int64                  `json:"id" db:"id"`
	UUID      string                 `json:"uuid" db:"uuid"`
	AccountID string                 `json:"account_id" db:"account_id"`
	BotID     string                 `json:"bot_id" db:"bot_id"`
	CycleID   *int64                 `json:"cycle_id,omitempty" db:"cycle_id"`
	Type      string                 `json:"type" db:"type"`
	Severity  string                 `json:"severity" db:"severity"`
	Content   map[string]interface{} `json:"content" db:"content"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
}

// Типы событий
const (
	EventCycleCreated       = "CYCLE_CREATED"
	EventCycleUpdated       = "CYCLE_UPDATED"
	EventCycleClosed        = "CYCLE_CLOSED"
	EventCycleReopened      = "CYCLE_REOPENED"
	EventOrderCreated       = "ORDER_CREATED"
	EventOrderClosed        = "ORDER_CLOSED"
	EventHedgeLevelExecuted = "HEDGE_LEVEL_EXECUTED"
	EventDailyLimitReached  = "DAILY_LIMIT_REACHED"
	EventEmergencyClose     = "EMERGENCY_CLOSE"
	EventHighExposure       = "HIGH_EXPOSURE_WARNING"
	EventCommandRejected    = "COMMAND_REJECTED"
)

// Уровни важности события
const (
	SeverityInfo     = "info"
	SeverityWarn     = "warn"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// NewEvent создаёт событие с заполненными обязательными полями
func NewEvent(accountID, botID, eventType, severity string, content map[string]interface{}) *Event {
	if content == nil {
		content = map[string]interface{}{}
	}
	return &Event{
		AccountID: accountID,
		BotID:     botID,
		Type:      eventType,
		Severity:  severity,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// WithCycle привязывает событие к циклу
func (e *Event) WithCycle(cycleID int64) *Event {
	e.CycleID = &cycleID
	return e
}
