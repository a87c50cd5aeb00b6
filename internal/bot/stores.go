package bot

import (
	"time"

	"cycletrader/internal/models"
)

// Хранилища объявлены интерфейсами по месту использования:
// боевая реализация - internal/repository поверх Postgres,
// в тестах подставляются in-memory заглушки. Бэкенд можно
// заменить (например, на удалённое хранилище) без правки ядра.

// OrderStore - доступ к ордерам
type OrderStore interface {
	Create(order *models.Order) error
	GetByTicket(ticket int64) (*models.Order, error)
	GetByCycle(cycleID int64) ([]*models.Order, error)
	GetOpen(accountID string) ([]*models.Order, error)
	UpdateQuote(ticket int64, currentPrice, profit, swap, commission float64) error
	MarkClosed(ticket int64, finalProfit, swap, commission float64) error
	MarkFilled(ticket int64, openPrice float64) error
	Update(order *models.Order) error
}

// CycleStore - доступ к циклам
type CycleStore interface {
	Create(cycle *models.Cycle) error
	GetByID(id int64) (*models.Cycle, error)
	GetByRemoteID(remoteID string) (*models.Cycle, error)
	GetActive(accountID string) ([]*models.Cycle, error)
	GetClosedSince(accountID string, since time.Time) ([]*models.Cycle, error)
	Update(cycle *models.Cycle) error
	UpdateAggregates(id int64, totalProfit, totalVolume float64) error
	MarkClosed(id int64, closing models.ClosingMethod) error
	Reopen(id int64) error
	SetRemoteID(id int64, remoteID string) error
}

// EventSink принимает события торгового ядра.
// Реализации: репозиторий событий, WebSocket-хаб, их композиция.
type EventSink interface {
	Emit(event *models.Event)
}

// EventSinkFunc адаптер функции к EventSink
type EventSinkFunc func(event *models.Event)

// Emit реализует EventSink
func (f EventSinkFunc) Emit(event *models.Event) { f(event) }

// MultiSink рассылает событие нескольким приёмникам
type MultiSink []EventSink

// Emit реализует EventSink
func (m MultiSink) Emit(event *models.Event) {
	for _, sink := range m {
		sink.Emit(event)
	}
}
