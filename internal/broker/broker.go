package broker

import (
	"context"
	"time"
)

// Broker определяет интерфейс торгового терминала.
// Терминал нетранзакционен и наблюдаем с задержкой: только что
// закрытый ордер может ещё присутствовать в снимке позиций.
type Broker interface {
	// Connect устанавливает соединение с терминалом
	Connect(ctx context.Context) error

	// Quote возвращает текущие bid/ask по символу
	Quote(ctx context.Context, symbol string) (*Quote, error)

	// Pip возвращает размер одного пипса символа (0.0001 для EURUSD)
	Pip(ctx context.Context, symbol string) (float64, error)

	// Рыночные ордера
	Buy(ctx context.Context, req OrderRequest) (*OrderResult, error)
	Sell(ctx context.Context, req OrderRequest) (*OrderResult, error)

	// Отложенные ордера (req.Price - цена срабатывания)
	BuyStop(ctx context.Context, req OrderRequest) (*OrderResult, error)
	SellStop(ctx context.Context, req OrderRequest) (*OrderResult, error)
	BuyLimit(ctx context.Context, req OrderRequest) (*OrderResult, error)
	SellLimit(ctx context.Context, req OrderRequest) (*OrderResult, error)

	// CloseOrder закрывает ордер по тикету
	CloseOrder(ctx context.Context, ticket int64) error

	// ModifyOrder изменяет SL/TP ордера
	ModifyOrder(ctx context.Context, ticket int64, stopLoss, takeProfit float64) error

	// ListPositions возвращает все открытые позиции аккаунта
	ListPositions(ctx context.Context) ([]Position, error)

	// ListPendingOrders возвращает все отложенные ордера аккаунта
	ListPendingOrders(ctx context.Context) ([]PendingOrder, error)

	// IsOrderClosed явно проверяет закрытость тикета.
	// Используется как вторая проверка при подозрении на закрытие:
	// отсутствие тикета в снимке ещё не означает закрытие.
	IsOrderClosed(ctx context.Context, ticket int64) (bool, error)

	// DealsForTicket возвращает сделки тикета из истории.
	// Итоговая прибыль закрытого ордера берётся отсюда.
	DealsForTicket(ctx context.Context, ticket int64) ([]Deal, error)

	// Close разрывает соединение с терминалом
	Close() error
}

// Quote текущие цены символа
type Quote struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Time   time.Time `json:"time"`
}

// OrderRequest параметры размещения ордера
type OrderRequest struct {
	Symbol     string  `json:"symbol"`
	Volume     float64 `json:"volume"`
	Price      float64 `json:"price,omitempty"` // только для отложенных
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	Slippage   int     `json:"slippage,omitempty"`
	Magic      int64   `json:"magic,omitempty"`
	Comment    string  `json:"comment,omitempty"`
}

// OrderResult результат размещения ордера
type OrderResult struct {
	Ticket int64   `json:"ticket"`
	Price  float64 `json:"price"`  // фактическая цена исполнения/установки
	Volume float64 `json:"volume"` // фактический объём
}

// Position открытая позиция терминала
type Position struct {
	Ticket       int64     `json:"ticket"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"` // buy, sell
	Volume       float64   `json:"volume"`
	OpenPrice    float64   `json:"open_price"`
	CurrentPrice float64   `json:"current_price"`
	StopLoss     float64   `json:"stop_loss"`
	TakeProfit   float64   `json:"take_profit"`
	Profit       float64   `json:"profit"`
	Swap         float64   `json:"swap"`
	Commission   float64   `json:"commission"`
	Magic        int64     `json:"magic"`
	Comment      string    `json:"comment"`
	OpenedAt     time.Time `json:"opened_at"`
}

// PendingOrder отложенный ордер терминала
type PendingOrder struct {
	Ticket     int64     `json:"ticket"`
	Symbol     string    `json:"symbol"`
	Type       string    `json:"type"` // buy_stop, sell_stop, buy_limit, sell_limit
	Volume     float64   `json:"volume"`
	Price      float64   `json:"price"` // цена срабатывания
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Magic      int64     `json:"magic"`
	Comment    string    `json:"comment"`
	PlacedAt   time.Time `json:"placed_at"`
}

// Side возвращает направление отложенного ордера без вида срабатывания
func (p *PendingOrder) Side() string {
	switch p.Type {
	case PendingBuyStop, PendingBuyLimit:
		return "buy"
	case PendingSellStop, PendingSellLimit:
		return "sell"
	default:
		return ""
	}
}

// Типы отложенных ордеров
const (
	PendingBuyStop   = "buy_stop"
	PendingSellStop  = "sell_stop"
	PendingBuyLimit  = "buy_limit"
	PendingSellLimit = "sell_limit"
)

// Deal одна сделка из истории терминала
type Deal struct {
	Ticket      int64     `json:"ticket"`       // тикет сделки
	OrderTicket int64     `json:"order_ticket"` // тикет ордера-родителя
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Volume      float64   `json:"volume"`
	Price       float64   `json:"price"`
	Profit      float64   `json:"profit"`
	Swap        float64   `json:"swap"`
	Commission  float64   `json:"commission"`
	Time        time.Time `json:"time"`
}

// BrokerError представляет ошибку терминала
type BrokerError struct {
	Op        string // операция (buy, close_order, ...)
	Code      string // код ошибки моста
	Message   string
	Original  error
	Transient bool // можно ли повторять операцию
}

func (e *BrokerError) Error() string {
	if e.Code != "" {
		return "broker: " + e.Op + ": [" + e.Code + "] " + e.Message
	}
	return "broker: " + e.Op + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *BrokerError) Unwrap() error {
	return e.Original
}

// Temporary сообщает retry-механизму, можно ли повторять операцию
func (e *BrokerError) Temporary() bool {
	return e.Transient
}
