package repository

import (
	"database/sql"
	"errors"
	"time"

	"cycletrader/internal/models"
)

// Ошибки репозитория ордеров
var (
	ErrOrderNotFound = errors.New("order not found")
)

// OrderRepository - работа с таблицей orders
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository создает новый экземпляр репозитория
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, ticket, cycle_id, account_id, symbol, side, role, volume,
		open_price, current_price, stop_loss, take_profit, profit, swap, commission,
		magic, is_pending, is_closed, comment, opened_at, created_at, updated_at`

// Create создает запись об ордере
func (r *OrderRepository) Create(order *models.Order) error {
	query := `
		INSERT INTO orders (ticket, cycle_id, account_id, symbol, side, role, volume,
			open_price, current_price, stop_loss, take_profit, profit, swap, commission,
			magic, is_pending, is_closed, comment, opened_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING id`

	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now
	if order.OpenedAt.IsZero() {
		order.OpenedAt = now
	}

	err := r.db.QueryRow(
		query,
		order.Ticket,
		order.CycleID,
		order.AccountID,
		order.Symbol,
		order.Side,
		order.Role,
		order.Volume,
		order.OpenPrice,
		order.CurrentPrice,
		order.StopLoss,
		order.TakeProfit,
		order.Profit,
		order.Swap,
		order.Commission,
		order.Magic,
		order.IsPending,
		order.IsClosed,
		order.Comment,
		order.OpenedAt,
		order.CreatedAt,
		order.UpdatedAt,
	).Scan(&order.ID)

	if err != nil {
		return err
	}

	return nil
}

// scanOrder читает ордер из строки результата
func scanOrder(row interface{ Scan(...interface{}) error }) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.ID,
		&order.Ticket,
		&order.CycleID,
		&order.AccountID,
		&order.Symbol,
		&order.Side,
		&order.Role,
		&order.Volume,
		&order.OpenPrice,
		&order.CurrentPrice,
		&order.StopLoss,
		&order.TakeProfit,
		&order.Profit,
		&order.Swap,
		&order.Commission,
		&order.Magic,
		&order.IsPending,
		&order.IsClosed,
		&order.Comment,
		&order.OpenedAt,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// GetByTicket возвращает ордер по тикету брокера
func (r *OrderRepository) GetByTicket(ticket int64) (*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ticket = $1`

	order, err := scanOrder(r.db.QueryRow(query, ticket))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// GetByCycle возвращает все ордера цикла
func (r *OrderRepository) GetByCycle(cycleID int64) ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE cycle_id = $1
		ORDER BY opened_at ASC`

	return r.queryOrders(query, cycleID)
}

// GetOpen возвращает все открытые ордера аккаунта.
// Открытый = не закрытый, отложенные включаются.
func (r *OrderRepository) GetOpen(accountID string) ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE account_id = $1 AND is_closed = false
		ORDER BY opened_at ASC`

	return r.queryOrders(query, accountID)
}

func (r *OrderRepository) queryOrders(query string, args ...interface{}) ([]*models.Order, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

// UpdateQuote обновляет котировочные поля ордера.
// Вызывается циклом синхронизации при изменении прибыли.
func (r *OrderRepository) UpdateQuote(ticket int64, currentPrice, profit, swap, commission float64) error {
	query := `
		UPDATE orders
		SET current_price = $2, profit = $3, swap = $4, commission = $5, updated_at = $6
		WHERE ticket = $1`

	result, err := r.db.Exec(query, ticket, currentPrice, profit, swap, commission, time.Now())
	if err != nil {
		return err
	}
	return requireAffected(result, ErrOrderNotFound)
}

// MarkClosed помечает ордер закрытым с итоговой прибылью из истории сделок
func (r *OrderRepository) MarkClosed(ticket int64, finalProfit, swap, commission float64) error {
	query := `
		UPDATE orders
		SET is_closed = true, is_pending = false, profit = $2, swap = $3, commission = $4, updated_at = $5
		WHERE ticket = $1`

	result, err := r.db.Exec(query, ticket, finalProfit, swap, commission, time.Now())
	if err != nil {
		return err
	}
	return requireAffected(result, ErrOrderNotFound)
}

// MarkFilled переводит отложенный ордер в рыночный (pending -> initial)
func (r *OrderRepository) MarkFilled(ticket int64, openPrice float64) error {
	query := `
		UPDATE orders
		SET is_pending = false,
			role = CASE WHEN role = 'pending' THEN 'initial' ELSE role END,
			open_price = $2,
			updated_at = $3
		WHERE ticket = $1 AND is_pending = true`

	result, err := r.db.Exec(query, ticket, openPrice, time.Now())
	if err != nil {
		return err
	}
	return requireAffected(result, ErrOrderNotFound)
}

// Update перезаписывает изменяемые поля ордера целиком
func (r *OrderRepository) Update(order *models.Order) error {
	query := `
		UPDATE orders
		SET cycle_id = $2, role = $3, volume = $4, open_price = $5, current_price = $6,
			stop_loss = $7, take_profit = $8, profit = $9, swap = $10, commission = $11,
			is_pending = $12, is_closed = $13, comment = $14, updated_at = $15
		WHERE ticket = $1`

	order.UpdatedAt = time.Now()

	result, err := r.db.Exec(
		query,
		order.Ticket,
		order.CycleID,
		order.Role,
		order.Volume,
		order.OpenPrice,
		order.CurrentPrice,
		order.StopLoss,
		order.TakeProfit,
		order.Profit,
		order.Swap,
		order.Commission,
		order.IsPending,
		order.IsClosed,
		order.Comment,
		order.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrOrderNotFound)
}

// requireAffected возвращает notFound если UPDATE не затронул ни одной строки
func requireAffected(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
