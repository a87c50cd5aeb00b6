package models

import "time"

// Cycle представляет торговый цикл: группу ордеров, управляемую
// одним обработчиком стратегии как единое целое.
//
// Цикл существует одновременно в локальном хранилище и (опционально)
// в удалённой системе: RemoteID связывает обе копии. Локальная копия
// авторитетна по агрегатам, удалённая по факту существования цикла.
type Cycle struct {
	ID        int64  `json:"id" db:"id"`
	RemoteID  string `json:"remote_id" db:"remote_id"`
	AccountID string `json:"account_id" db:"account_id"`
	BotID     string `json:"bot_id" db:"bot_id"`
	Symbol    string `json:"symbol" db:"symbol"`

	Type      string `json:"type" db:"type"`     // BUY, SELL, BUY&SELL, HEDGE
	Status    string `json:"status" db:"status"` // см. константы статусов
	IsPending bool   `json:"is_pending" db:"is_pending"`
	IsClosed  bool   `json:"is_closed" db:"is_closed"`

	// Границы зоны и пороговые цены отложенных ордеров
	LowerBound     float64 `json:"lower_bound" db:"lower_bound"`
	UpperBound     float64 `json:"upper_bound" db:"upper_bound"`
	ThresholdUpper float64 `json:"threshold_upper" db:"threshold_upper"`
	ThresholdLower float64 `json:"threshold_lower" db:"threshold_lower"`
	ZoneIndex      int     `json:"zone_index" db:"zone_index"`
	LotIndex       int     `json:"lot_index" db:"lot_index"`

	EntryPrice  float64 `json:"entry_price" db:"entry_price"`
	Direction   string  `json:"direction" db:"direction"` // buy, sell
	TotalProfit float64 `json:"total_profit" db:"total_profit"`
	TotalVolume float64 `json:"total_volume" db:"total_volume"`

	// Списки тикетов по ролям. Тикет состоит ровно в одном списке.
	Initial     []int64 `json:"initial_orders" db:"initial_orders"`
	Hedge       []int64 `json:"hedge_orders" db:"hedge_orders"`
	Recovery    []int64 `json:"recovery_orders" db:"recovery_orders"`
	Pending     []int64 `json:"pending_orders" db:"pending_orders"`
	Threshold   []int64 `json:"threshold_orders" db:"threshold_orders"`
	MaxRecovery []int64 `json:"max_recovery_orders" db:"max_recovery_orders"`
	Closed      []int64 `json:"closed_orders" db:"closed_orders"`

	// Лестница уровней для мартингейл-цикла, хранится как JSONB
	HedgeLevels []HedgeLevel `json:"hedge_levels,omitempty" db:"hedge_levels"`

	ClosingMethod ClosingMethod `json:"closing_method" db:"closing_method"`
	OpenedBy      OpenedBy      `json:"opened_by" db:"opened_by"`

	ClosedAt  *time.Time `json:"closed_at,omitempty" db:"closed_at"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// Типы цикла
const (
	CycleTypeBuy     = "BUY"
	CycleTypeSell    = "SELL"
	CycleTypeBuySell = "BUY&SELL"
	CycleTypeHedge   = "HEDGE"
)

// Статусы цикла
const (
	StatusPending     = "pending"
	StatusInitial     = "initial"
	StatusHedge       = "hedge"
	StatusRecovery    = "recovery"
	StatusMaxRecovery = "max_recovery"
	StatusThreshold   = "threshold"
	StatusClosed      = "closed"
	StatusReopened    = "reopened"
)

// HedgeLevel описывает один уровень мартингейл-лестницы.
// После подготовки лестницы меняются только Activated и Ticket.
type HedgeLevel struct {
	Level        int     `json:"level"`
	TriggerPrice float64 `json:"trigger_price"`
	Side         string  `json:"side"`
	Volume       float64 `json:"volume"`
	Activated    bool    `json:"activated"`
	Ticket       int64   `json:"ticket,omitempty"`
}

// ClosingMethod фиксирует, кто и как закрыл цикл.
// Status="MetaTrader5" означает закрытие на стороне терминала
// (take profit, stop loss или ручное закрытие в терминале).
type ClosingMethod struct {
	Status   string `json:"status,omitempty"`   // MetaTrader5 при системном закрытии
	Username string `json:"username,omitempty"` // кто закрыл через команду
	Reason   string `json:"reason,omitempty"`
}

// OpenedBy фиксирует источник открытия цикла
type OpenedBy struct {
	Status   string `json:"status,omitempty"` // autotrade, command, recovery
	Username string `json:"username,omitempty"`
}

// roleLists возвращает указатели на все ролевые списки, кроме Closed
func (c *Cycle) roleLists() map[string]*[]int64 {
	return map[string]*[]int64{
		RoleInitial:     &c.Initial,
		RoleHedge:       &c.Hedge,
		RoleRecovery:    &c.Recovery,
		RolePending:     &c.Pending,
		RoleThreshold:   &c.Threshold,
		RoleMaxRecovery: &c.MaxRecovery,
	}
}

// AddOrder добавляет тикет в список роли, предварительно убрав его
// из всех остальных списков. Повторное добавление в ту же роль
// ничего не меняет.
func (c *Cycle) AddOrder(ticket int64, role string) {
	c.RemoveOrder(ticket)
	lists := c.roleLists()
	dst, ok := lists[role]
	if !ok {
		dst = &c.Initial
	}
	*dst = append(*dst, ticket)
}

// MoveToClosed переносит тикет из его ролевого списка в Closed.
// Тикет, которого нет ни в одном списке, просто добавляется в Closed.
func (c *Cycle) MoveToClosed(ticket int64) {
	c.RemoveOrder(ticket)
	if !containsTicket(c.Closed, ticket) {
		c.Closed = append(c.Closed, ticket)
	}
}

// RemoveOrder убирает тикет из всех ролевых списков, включая Closed
func (c *Cycle) RemoveOrder(ticket int64) {
	for _, list := range c.roleLists() {
		*list = removeTicket(*list, ticket)
	}
	c.Closed = removeTicket(c.Closed, ticket)
}

// AllTickets возвращает все тикеты цикла, открытые и закрытые
func (c *Cycle) AllTickets() []int64 {
	out := c.OpenTickets()
	out = append(out, c.Closed...)
	return out
}

// OpenTickets возвращает тикеты из всех ролевых списков, кроме Closed
func (c *Cycle) OpenTickets() []int64 {
	var out []int64
	out = append(out, c.Initial...)
	out = append(out, c.Hedge...)
	out = append(out, c.Recovery...)
	out = append(out, c.Pending...)
	out = append(out, c.Threshold...)
	out = append(out, c.MaxRecovery...)
	return out
}

// HasTicket сообщает, числится ли тикет в цикле в любой роли
func (c *Cycle) HasTicket(ticket int64) bool {
	if containsTicket(c.Closed, ticket) {
		return true
	}
	for _, list := range c.roleLists() {
		if containsTicket(*list, ticket) {
			return true
		}
	}
	return false
}

// RoleOf возвращает роль тикета внутри цикла, пустая строка если тикета нет
func (c *Cycle) RoleOf(ticket int64) string {
	for role, list := range c.roleLists() {
		if containsTicket(*list, ticket) {
			return role
		}
	}
	if containsTicket(c.Closed, ticket) {
		return "closed"
	}
	return ""
}

// IsFinished сообщает, находится ли цикл в терминальном состоянии
func (c *Cycle) IsFinished() bool {
	return c.Status == StatusClosed
}

func removeTicket(list []int64, ticket int64) []int64 {
	for i, t := range list {
		if t == ticket {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

func containsTicket(list []int64, ticket int64) bool {
	for _, t := range list {
		if t == ticket {
			return true
		}
	}
	return false
}

// TotalProfitOf считает полную прибыль цикла по набору его ордеров.
// Чистая функция: profit + swap + commission по каждому ордеру.
func TotalProfitOf(orders []*Order) float64 {
	var total float64
	for _, o := range orders {
		total += o.NetProfit()
	}
	return total
}
