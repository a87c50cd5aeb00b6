package broker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"cycletrader/pkg/ratelimit"
	"cycletrader/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GatewayConfig настройки подключения к мосту терминала
type GatewayConfig struct {
	BaseURL string // адрес моста, например http://127.0.0.1:5005
	Token   string // токен доступа моста
	Account string // логин торгового счёта

	// Лимит запросов к мосту
	Rate  float64 // запросов в секунду (default: 20)
	Burst float64 // burst (default: 40)

	HTTP HTTPClientConfig
}

// Gateway реализует Broker поверх JSON-моста торгового терминала.
// Все вызовы проходят через token bucket: циклы синхронизации
// не должны задавить мост запросами.
type Gateway struct {
	cfg     GatewayConfig
	client  *http.Client
	limiter *ratelimit.RateLimiter
	log     *utils.Logger
}

// NewGateway создаёт шлюз к мосту терминала
func NewGateway(cfg GatewayConfig, log *utils.Logger) *Gateway {
	if cfg.Rate <= 0 {
		cfg.Rate = 20
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Rate * 2
	}
	if log == nil {
		log = utils.GetGlobalLogger()
	}
	return &Gateway{
		cfg:     cfg,
		client:  NewHTTPClient(cfg.HTTP),
		limiter: ratelimit.NewRateLimiter(cfg.Rate, cfg.Burst),
		log:     log.WithComponent("broker_gateway"),
	}
}

// envelope стандартный ответ моста
type envelope struct {
	Success bool                `json:"success"`
	Error   *envelopeError      `json:"error,omitempty"`
	Data    jsoniter.RawMessage `json:"data,omitempty"`
}

type envelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// transientCodes коды ошибок моста, после которых операцию можно повторять
var transientCodes = map[string]bool{
	"TIMEOUT":       true,
	"BUSY":          true,
	"REQUOTE":       true,
	"NO_CONNECTION": true,
	"TRADE_CONTEXT": true,
	"PRICE_CHANGED": true,
}

// call выполняет один запрос к мосту и раскрывает envelope.
// out может быть nil, если данные ответа не нужны.
func (g *Gateway) call(ctx context.Context, op, path string, payload interface{}, out interface{}) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return &BrokerError{Op: op, Message: "rate limit wait cancelled", Original: err, Transient: true}
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return &BrokerError{Op: op, Message: "marshal request", Original: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, body)
	if err != nil {
		return &BrokerError{Op: op, Message: "build request", Original: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.Token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		// Сетевые ошибки временные: мост мог перезапуститься
		return &BrokerError{Op: op, Message: "request failed", Original: err, Transient: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return &BrokerError{Op: op, Message: "read response", Original: err, Transient: true}
	}

	if resp.StatusCode >= 500 {
		return &BrokerError{Op: op, Code: fmt.Sprintf("HTTP_%d", resp.StatusCode), Message: string(raw), Transient: true}
	}
	if resp.StatusCode != http.StatusOK {
		return &BrokerError{Op: op, Code: fmt.Sprintf("HTTP_%d", resp.StatusCode), Message: string(raw)}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &BrokerError{Op: op, Message: "decode envelope", Original: err}
	}

	if !env.Success {
		be := &BrokerError{Op: op, Message: "bridge rejected request"}
		if env.Error != nil {
			be.Code = env.Error.Code
			be.Message = env.Error.Message
			be.Transient = transientCodes[env.Error.Code]
		}
		return be
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &BrokerError{Op: op, Message: "decode data", Original: err}
		}
	}
	return nil
}

// Connect устанавливает сессию с терминалом
func (g *Gateway) Connect(ctx context.Context) error {
	err := g.call(ctx, "connect", "/api/v1/connect", map[string]string{"account": g.cfg.Account}, nil)
	if err != nil {
		return err
	}
	g.log.Info("connected to terminal bridge", utils.String("base_url", g.cfg.BaseURL))
	return nil
}

// Quote возвращает текущие bid/ask
func (g *Gateway) Quote(ctx context.Context, symbol string) (*Quote, error) {
	var q Quote
	if err := g.call(ctx, "quote", "/api/v1/quote", map[string]string{"symbol": symbol}, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// Pip возвращает размер пипса символа
func (g *Gateway) Pip(ctx context.Context, symbol string) (float64, error) {
	var info struct {
		Pip float64 `json:"pip"`
	}
	if err := g.call(ctx, "pip", "/api/v1/symbol_info", map[string]string{"symbol": symbol}, &info); err != nil {
		return 0, err
	}
	if info.Pip <= 0 {
		return 0, &BrokerError{Op: "pip", Message: fmt.Sprintf("bridge returned non-positive pip for %s", symbol)}
	}
	return info.Pip, nil
}

// openOrder размещает ордер указанного типа
func (g *Gateway) openOrder(ctx context.Context, orderType string, req OrderRequest) (*OrderResult, error) {
	payload := struct {
		Type string `json:"type"`
		OrderRequest
	}{Type: orderType, OrderRequest: req}

	var res OrderResult
	if err := g.call(ctx, orderType, "/api/v1/order/open", payload, &res); err != nil {
		return nil, err
	}
	if res.Ticket == 0 {
		return nil, &BrokerError{Op: orderType, Message: "bridge returned zero ticket"}
	}
	g.log.Info("order placed",
		utils.String("type", orderType),
		utils.Ticket(res.Ticket),
		utils.Symbol(req.Symbol),
		utils.Volume(res.Volume),
		utils.Price(res.Price))
	return &res, nil
}

func (g *Gateway) Buy(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	return g.openOrder(ctx, "buy", req)
}

func (g *Gateway) Sell(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	return g.openOrder(ctx, "sell", req)
}

func (g *Gateway) BuyStop(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	return g.openOrder(ctx, PendingBuyStop, req)
}

func (g *Gateway) SellStop(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	return g.openOrder(ctx, PendingSellStop, req)
}

func (g *Gateway) BuyLimit(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	return g.openOrder(ctx, PendingBuyLimit, req)
}

func (g *Gateway) SellLimit(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	return g.openOrder(ctx, PendingSellLimit, req)
}

// CloseOrder закрывает ордер по тикету
func (g *Gateway) CloseOrder(ctx context.Context, ticket int64) error {
	err := g.call(ctx, "close_order", "/api/v1/order/close", map[string]int64{"ticket": ticket}, nil)
	if err != nil {
		return err
	}
	g.log.Info("order closed", utils.Ticket(ticket))
	return nil
}

// ModifyOrder изменяет SL/TP ордера
func (g *Gateway) ModifyOrder(ctx context.Context, ticket int64, stopLoss, takeProfit float64) error {
	payload := map[string]interface{}{
		"ticket":      ticket,
		"stop_loss":   stopLoss,
		"take_profit": takeProfit,
	}
	return g.call(ctx, "modify_order", "/api/v1/order/modify", payload, nil)
}

// ListPositions возвращает открытые позиции
func (g *Gateway) ListPositions(ctx context.Context) ([]Position, error) {
	var positions []Position
	if err := g.call(ctx, "list_positions", "/api/v1/positions", nil, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// ListPendingOrders возвращает отложенные ордера
func (g *Gateway) ListPendingOrders(ctx context.Context) ([]PendingOrder, error) {
	var pendings []PendingOrder
	if err := g.call(ctx, "list_pending_orders", "/api/v1/pending_orders", nil, &pendings); err != nil {
		return nil, err
	}
	return pendings, nil
}

// IsOrderClosed явно проверяет закрытость тикета
func (g *Gateway) IsOrderClosed(ctx context.Context, ticket int64) (bool, error) {
	var res struct {
		Closed bool `json:"closed"`
	}
	if err := g.call(ctx, "is_order_closed", "/api/v1/order/is_closed", map[string]int64{"ticket": ticket}, &res); err != nil {
		return false, err
	}
	return res.Closed, nil
}

// DealsForTicket возвращает сделки тикета из истории терминала
func (g *Gateway) DealsForTicket(ctx context.Context, ticket int64) ([]Deal, error) {
	var deals []Deal
	if err := g.call(ctx, "deals_for_ticket", "/api/v1/deals", map[string]int64{"ticket": ticket}, &deals); err != nil {
		return nil, err
	}
	return deals, nil
}

// Close закрывает idle соединения с мостом
func (g *Gateway) Close() error {
	if transport, ok := g.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
