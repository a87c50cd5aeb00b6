package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"cycletrader/internal/models"
	"cycletrader/pkg/circuit"
	"cycletrader/pkg/retry"
	"cycletrader/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ClientConfig настройки клиента удалённого зеркала
type ClientConfig struct {
	BaseURL string
	Token   string
	Account string

	Timeout time.Duration // таймаут одного запроса (default: 10s)

	// Ретраи сетевых ошибок (default: retry.NetworkConfig)
	Retry retry.Config

	// Порог и выдержка предохранителя
	BreakerThreshold int           // default: 5
	BreakerCooldown  time.Duration // default: 30s
}

// Client - HTTP-клиент удалённой системы. Через него циклы
// зеркалируются наружу и забирается очередь команд оператора.
//
// Каждый вызов повторяется по NetworkConfig и проходит через
// предохранитель: когда удалённая система лежит, зеркалирование
// отключается целиком вместо лавины таймаутов на каждом тике.
type Client struct {
	cfg     ClientConfig
	client  *http.Client
	breaker *circuit.Breaker
	log     *utils.Logger
}

// NewClient создаёт клиента удалённого зеркала
func NewClient(cfg ClientConfig, log *utils.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = retry.NetworkConfig()
	}
	// Постоянные ошибки (4xx, битый JSON) повторять бессмысленно
	cfg.Retry.RetryIf = retry.IsRetryable
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	if log == nil {
		log = utils.GetGlobalLogger()
	}
	log = log.WithComponent("remote_client")

	breaker := circuit.NewBreaker(circuit.Config{
		Threshold: cfg.BreakerThreshold,
		Cooldown:  cfg.BreakerCooldown,
		OnStateChange: func(from, to circuit.State) {
			log.Warn("remote circuit state changed",
				utils.String("from", from.String()),
				utils.String("to", to.String()))
		},
	})

	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		log:     log,
	}
}

// BreakerState возвращает текущее состояние предохранителя
func (c *Client) BreakerState() circuit.State {
	return c.breaker.State()
}

// ============================================================
// Типы протокола
// ============================================================

// CyclePayload - снимок цикла, отправляемый зеркалу.
// Агрегаты авторитетны локально, зеркало их только отображает.
type CyclePayload struct {
	Account       string               `json:"account"`
	BotID         string               `json:"bot"`
	Symbol        string               `json:"symbol"`
	Type          string               `json:"cycle_type"`
	Status        string               `json:"status"`
	IsPending     bool                 `json:"is_pending"`
	IsClosed      bool                 `json:"is_closed"`
	LowerBound    float64              `json:"lower_bound"`
	UpperBound    float64              `json:"upper_bound"`
	ZoneIndex     int                  `json:"zone_index"`
	LotIndex      int                  `json:"lot_idx"`
	EntryPrice    float64              `json:"entry_price"`
	TotalProfit   float64              `json:"total_profit"`
	TotalVolume   float64              `json:"total_volume"`
	Orders        CycleOrders          `json:"orders"`
	ClosingMethod models.ClosingMethod `json:"closing_method"`
	OpenedBy      models.OpenedBy      `json:"opened_by"`
}

// CycleOrders ролевые списки тикетов в формате зеркала
type CycleOrders struct {
	Initial     []int64 `json:"initial"`
	Hedge       []int64 `json:"hedges"`
	Recovery    []int64 `json:"recovery"`
	Pending     []int64 `json:"pending"`
	Threshold   []int64 `json:"threshold"`
	MaxRecovery []int64 `json:"max_recovery"`
	Closed      []int64 `json:"closed"`
}

// PayloadFor собирает снимок цикла для отправки зеркалу
func PayloadFor(cycle *models.Cycle) CyclePayload {
	return CyclePayload{
		Account:     cycle.AccountID,
		BotID:       cycle.BotID,
		Symbol:      cycle.Symbol,
		Type:        cycle.Type,
		Status:      cycle.Status,
		IsPending:   cycle.IsPending,
		IsClosed:    cycle.IsClosed,
		LowerBound:  cycle.LowerBound,
		UpperBound:  cycle.UpperBound,
		ZoneIndex:   cycle.ZoneIndex,
		LotIndex:    cycle.LotIndex,
		EntryPrice:  cycle.EntryPrice,
		TotalProfit: cycle.TotalProfit,
		TotalVolume: cycle.TotalVolume,
		Orders: CycleOrders{
			Initial:     cycle.Initial,
			Hedge:       cycle.Hedge,
			Recovery:    cycle.Recovery,
			Pending:     cycle.Pending,
			Threshold:   cycle.Threshold,
			MaxRecovery: cycle.MaxRecovery,
			Closed:      cycle.Closed,
		},
		ClosingMethod: cycle.ClosingMethod,
		OpenedBy:      cycle.OpenedBy,
	}
}

// RemoteCycle - активный цикл со стороны зеркала.
// Зеркало авторитетно по факту существования цикла.
type RemoteCycle struct {
	ID       string      `json:"id"`
	Account  string      `json:"account"`
	BotID    string      `json:"bot"`
	Symbol   string      `json:"symbol"`
	Type     string      `json:"cycle_type"`
	Status   string      `json:"status"`
	IsClosed bool        `json:"is_closed"`
	Orders   CycleOrders `json:"orders"`
}

// RemoteCommand команда оператора из очереди зеркала
type RemoteCommand struct {
	ID      int64                  `json:"id"`
	Account string                 `json:"account"`
	BotID   string                 `json:"bot"`
	Message string                 `json:"message"`
	Content map[string]interface{} `json:"content"`
}

// Command переводит команду во внутреннее представление
func (rc RemoteCommand) Command() models.Command {
	return models.Command{
		ID:        rc.ID,
		AccountID: rc.Account,
		BotID:     rc.BotID,
		Message:   rc.Message,
		Content:   rc.Content,
	}
}

// ============================================================
// Операции
// ============================================================

// CreateCycle создаёт цикл на зеркале и возвращает его удалённый ID
func (c *Client) CreateCycle(ctx context.Context, payload CyclePayload) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.call(ctx, "create_cycle", http.MethodPost, "/api/cycles", payload, &out)
	if err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("create_cycle: empty remote id")
	}
	return out.ID, nil
}

// UpdateCycle перезаписывает состояние цикла на зеркале
func (c *Client) UpdateCycle(ctx context.Context, remoteID string, payload CyclePayload) error {
	if remoteID == "" {
		return fmt.Errorf("update_cycle: empty remote id")
	}
	return c.call(ctx, "update_cycle", http.MethodPut, "/api/cycles/"+remoteID, payload, nil)
}

// ListActiveCycles возвращает активные циклы аккаунта по версии зеркала
func (c *Client) ListActiveCycles(ctx context.Context, account string) ([]RemoteCycle, error) {
	var out []RemoteCycle
	path := "/api/cycles?account=" + account + "&active=true"
	if err := c.call(ctx, "list_active_cycles", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListCommands забирает необработанные команды оператора
func (c *Client) ListCommands(ctx context.Context, account string) ([]RemoteCommand, error) {
	var out []RemoteCommand
	path := "/api/commands?account=" + account
	if err := c.call(ctx, "list_commands", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AckCommand подтверждает обработку команды
func (c *Client) AckCommand(ctx context.Context, id int64) error {
	return c.call(ctx, "ack_command", http.MethodPost, fmt.Sprintf("/api/commands/%d/ack", id), nil, nil)
}

// ============================================================
// Транспорт
// ============================================================

// call выполняет один запрос к зеркалу: предохранитель снаружи,
// ретраи внутри. Потеря связи с зеркалом не фатальна для стратегии,
// поэтому 5xx и сетевые ошибки помечаются временными.
func (c *Client) call(ctx context.Context, op, method, path string, payload, out interface{}) error {
	return c.breaker.Do(func() error {
		return retry.Do(ctx, func() error {
			return c.doRequest(ctx, op, method, path, payload, out)
		}, c.cfg.Retry)
	})
}

func (c *Client) doRequest(ctx context.Context, op, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return retry.Permanent(fmt.Errorf("%s: marshal request: %w", op, err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return retry.Permanent(fmt.Errorf("%s: build request: %w", op, err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return retry.Temporary(fmt.Errorf("%s: %w", op, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return retry.Temporary(fmt.Errorf("%s: read response: %w", op, err))
	}

	c.log.Debug("remote request",
		utils.String("op", op),
		utils.Int("status", resp.StatusCode),
		utils.Latency(float64(time.Since(start).Milliseconds())))

	switch {
	case resp.StatusCode >= 500:
		return retry.Temporary(fmt.Errorf("%s: remote status %d", op, resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests:
		return retry.Temporary(fmt.Errorf("%s: remote throttled", op))
	case resp.StatusCode >= 400:
		return retry.Permanent(fmt.Errorf("%s: remote status %d: %s", op, resp.StatusCode, string(data)))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return retry.Permanent(fmt.Errorf("%s: decode response: %w", op, err))
		}
	}
	return nil
}
