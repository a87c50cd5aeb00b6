package models

// Command представляет команду оператора из удалённого ящика команд.
// Команды обрабатываются строго по одной, каждая подтверждается (ack)
// независимо от результата: неисполнимая команда отбрасывается с событием.
type Command struct {
	ID        int64                  `json:"id"`
	AccountID string                 `json:"account_id"`
	BotID     string                 `json:"bot_id"`
	Message   string                 `json:"message"`
	Content   map[string]interface{} `json:"content"`
}

// Сообщения команд
const (
	CmdOpenOrder          = "open_order"
	CmdCloseCycle         = "close_cycle"
	CmdCloseOrder         = "close_order"
	CmdUpdateOrderConfigs = "update_order_configs"
	CmdCloseAllCycles     = "close_all_cycles"
	CmdCloseAllPending    = "close_all_pending_orders"
	CmdClosePendingOrder  = "close_pending_order"
	CmdStopBot            = "stop_bot"
	CmdStartBot           = "start_bot"
)

// Str извлекает строковое поле из Content
func (c *Command) Str(key string) string {
	v, _ := c.Content[key].(string)
	return v
}

// Float извлекает числовое поле из Content.
// JSON-числа приходят как float64, целые тикеты тоже.
func (c *Command) Float(key string) (float64, bool) {
	v, ok := c.Content[key].(float64)
	return v, ok
}

// Ticket извлекает тикет ордера из Content
func (c *Command) Ticket(key string) (int64, bool) {
	v, ok := c.Float(key)
	return int64(v), ok
}
