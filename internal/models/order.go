package models

import "time"

// Order представляет одну сделку терминала (один тикет брокера).
//
// Жизненный цикл:
//   - создаётся стратегией сразу после успешного размещения ордера у брокера
//   - мутируется циклом синхронизации ордеров (profit/swap/commission, is_closed)
//     и циклом при явном закрытии
//   - никогда не удаляется: закрытые ордера остаются для учёта прибыли и аудита
type Order struct {
	ID           int64     `json:"id" db:"id"`
	Ticket       int64     `json:"ticket" db:"ticket"` // тикет брокера, уникален пока ордер открыт
	CycleID      int64     `json:"cycle_id" db:"cycle_id"`
	AccountID    string    `json:"account_id" db:"account_id"`
	Symbol       string    `json:"symbol" db:"symbol"`
	Side         string    `json:"side" db:"side"` // buy, sell
	Role         string    `json:"role" db:"role"` // initial, hedge, recovery, pending, threshold, max_recovery
	Volume       float64   `json:"volume" db:"volume"`
	OpenPrice    float64   `json:"open_price" db:"open_price"`
	CurrentPrice float64   `json:"current_price" db:"current_price"`
	StopLoss     float64   `json:"stop_loss" db:"stop_loss"`
	TakeProfit   float64   `json:"take_profit" db:"take_profit"`
	Profit       float64   `json:"profit" db:"profit"`
	Swap         float64   `json:"swap" db:"swap"`
	Commission   float64   `json:"commission" db:"commission"`
	Magic        int64     `json:"magic" db:"magic"`
	IsPending    bool      `json:"is_pending" db:"is_pending"`
	IsClosed     bool      `json:"is_closed" db:"is_closed"`
	Comment      string    `json:"comment,omitempty" db:"comment"`
	OpenedAt     time.Time `json:"opened_at" db:"opened_at"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Стороны ордера
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Роли ордера внутри цикла.
// Роль не меняется после создания, кроме перехода pending → initial
// в момент исполнения отложенного ордера.
const (
	RoleInitial     = "initial"
	RoleHedge       = "hedge"
	RoleRecovery    = "recovery"
	RolePending     = "pending"
	RoleThreshold   = "threshold"
	RoleMaxRecovery = "max_recovery"
)

// OppositeSide возвращает противоположную сторону
func OppositeSide(side string) string {
	if side == SideBuy {
		return SideSell
	}
	return SideBuy
}

// NetProfit возвращает полный вклад ордера в PNL цикла
func (o *Order) NetProfit() float64 {
	return o.Profit + o.Swap + o.Commission
}

// ApplySnapshot обновляет ордер данными свежего снимка брокера.
// Возвращает true, если хоть одно поле реально изменилось:
// цикл синхронизации пишет в БД только при изменениях.
func (o *Order) ApplySnapshot(price, profit, swap, commission float64) bool {
	changed := false
	if o.CurrentPrice != price {
		o.CurrentPrice = price
		changed = true
	}
	// порог в один цент отсекает шум котировок
	if abs(o.Profit-profit) >= 0.01 {
		o.Profit = profit
		changed = true
	}
	if abs(o.Swap-swap) >= 0.01 {
		o.Swap = swap
		changed = true
	}
	if abs(o.Commission-commission) >= 0.01 {
		o.Commission = commission
		changed = true
	}
	return changed
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// MarkFilled переводит отложенный ордер в исполненный.
// Единственный допустимый переход роли после создания.
func (o *Order) MarkFilled() {
	if !o.IsPending {
		return
	}
	o.IsPending = false
	if o.Role == RolePending {
		o.Role = RoleInitial
	}
}
