package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"

	"cycletrader/internal/models"
)

// Ошибки репозитория циклов
var (
	ErrCycleNotFound = errors.New("cycle not found")
)

// CycleRepository - работа с таблицей cycles.
// Ролевые списки тикетов хранятся массивами Postgres,
// лестница уровней и атрибуция закрытия - JSONB.
type CycleRepository struct {
	db *sql.DB
}

// NewCycleRepository создает новый экземпляр репозитория
func NewCycleRepository(db *sql.DB) *CycleRepository {
	return &CycleRepository{db: db}
}

const cycleColumns = `id, remote_id, account_id, bot_id, symbol, type, status,
		is_pending, is_closed, lower_bound, upper_bound, threshold_upper, threshold_lower,
		zone_index, lot_index, entry_price, direction, total_profit, total_volume,
		initial_orders, hedge_orders, recovery_orders, pending_orders, threshold_orders,
		max_recovery_orders, closed_orders, hedge_levels, closing_method, opened_by,
		closed_at, created_at, updated_at`

// Create создает запись о цикле
func (r *CycleRepository) Create(cycle *models.Cycle) error {
	query := `
		INSERT INTO cycles (remote_id, account_id, bot_id, symbol, type, status,
			is_pending, is_closed, lower_bound, upper_bound, threshold_upper, threshold_lower,
			zone_index, lot_index, entry_price, direction, total_profit, total_volume,
			initial_orders, hedge_orders, recovery_orders, pending_orders, threshold_orders,
			max_recovery_orders, closed_orders, hedge_levels, closing_method, opened_by,
			closed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)
		RETURNING id`

	now := time.Now()
	cycle.CreatedAt = now
	cycle.UpdatedAt = now

	levels, err := json.Marshal(cycle.HedgeLevels)
	if err != nil {
		return err
	}
	closing, err := json.Marshal(cycle.ClosingMethod)
	if err != nil {
		return err
	}
	opened, err := json.Marshal(cycle.OpenedBy)
	if err != nil {
		return err
	}

	err = r.db.QueryRow(
		query,
		cycle.RemoteID,
		cycle.AccountID,
		cycle.BotID,
		cycle.Symbol,
		cycle.Type,
		cycle.Status,
		cycle.IsPending,
		cycle.IsClosed,
		cycle.LowerBound,
		cycle.UpperBound,
		cycle.ThresholdUpper,
		cycle.ThresholdLower,
		cycle.ZoneIndex,
		cycle.LotIndex,
		cycle.EntryPrice,
		cycle.Direction,
		cycle.TotalProfit,
		cycle.TotalVolume,
		pq.Array(cycle.Initial),
		pq.Array(cycle.Hedge),
		pq.Array(cycle.Recovery),
		pq.Array(cycle.Pending),
		pq.Array(cycle.Threshold),
		pq.Array(cycle.MaxRecovery),
		pq.Array(cycle.Closed),
		levels,
		closing,
		opened,
		cycle.ClosedAt,
		cycle.CreatedAt,
		cycle.UpdatedAt,
	).Scan(&cycle.ID)

	if err != nil {
		return err
	}

	return nil
}

// scanCycle читает цикл из строки результата
func scanCycle(row interface{ Scan(...interface{}) error }) (*models.Cycle, error) {
	cycle := &models.Cycle{}
	var levels, closing, opened []byte

	err := row.Scan(
		&cycle.ID,
		&cycle.RemoteID,
		&cycle.AccountID,
		&cycle.BotID,
		&cycle.Symbol,
		&cycle.Type,
		&cycle.Status,
		&cycle.IsPending,
		&cycle.IsClosed,
		&cycle.LowerBound,
		&cycle.UpperBound,
		&cycle.ThresholdUpper,
		&cycle.ThresholdLower,
		&cycle.ZoneIndex,
		&cycle.LotIndex,
		&cycle.EntryPrice,
		&cycle.Direction,
		&cycle.TotalProfit,
		&cycle.TotalVolume,
		(*pq.Int64Array)(&cycle.Initial),
		(*pq.Int64Array)(&cycle.Hedge),
		(*pq.Int64Array)(&cycle.Recovery),
		(*pq.Int64Array)(&cycle.Pending),
		(*pq.Int64Array)(&cycle.Threshold),
		(*pq.Int64Array)(&cycle.MaxRecovery),
		(*pq.Int64Array)(&cycle.Closed),
		&levels,
		&closing,
		&opened,
		&cycle.ClosedAt,
		&cycle.CreatedAt,
		&cycle.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(levels) > 0 {
		if err := json.Unmarshal(levels, &cycle.HedgeLevels); err != nil {
			return nil, err
		}
	}
	if len(closing) > 0 {
		if err := json.Unmarshal(closing, &cycle.ClosingMethod); err != nil {
			return nil, err
		}
	}
	if len(opened) > 0 {
		if err := json.Unmarshal(opened, &cycle.OpenedBy); err != nil {
			return nil, err
		}
	}

	return cycle, nil
}

// GetByID возвращает цикл по локальному ID
func (r *CycleRepository) GetByID(id int64) (*models.Cycle, error) {
	query := `
		SELECT ` + cycleColumns + `
		FROM cycles
		WHERE id = $1`

	cycle, err := scanCycle(r.db.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCycleNotFound
		}
		return nil, err
	}
	return cycle, nil
}

// GetByRemoteID возвращает цикл по идентификатору удалённого зеркала
func (r *CycleRepository) GetByRemoteID(remoteID string) (*models.Cycle, error) {
	query := `
		SELECT ` + cycleColumns + `
		FROM cycles
		WHERE remote_id = $1`

	cycle, err := scanCycle(r.db.QueryRow(query, remoteID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCycleNotFound
		}
		return nil, err
	}
	return cycle, nil
}

// GetActive возвращает незакрытые циклы аккаунта
func (r *CycleRepository) GetActive(accountID string) ([]*models.Cycle, error) {
	query := `
		SELECT ` + cycleColumns + `
		FROM cycles
		WHERE account_id = $1 AND is_closed = false
		ORDER BY created_at ASC`

	return r.queryCycles(query, accountID)
}

// GetClosedSince возвращает циклы, закрытые после указанного момента.
// Используется самовосстановлением ложно закрытых циклов.
func (r *CycleRepository) GetClosedSince(accountID string, since time.Time) ([]*models.Cycle, error) {
	query := `
		SELECT ` + cycleColumns + `
		FROM cycles
		WHERE account_id = $1 AND is_closed = true AND closed_at >= $2
		ORDER BY closed_at DESC`

	return r.queryCycles(query, accountID, since)
}

func (r *CycleRepository) queryCycles(query string, args ...interface{}) ([]*models.Cycle, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []*models.Cycle
	for rows.Next() {
		cycle, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, cycle)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return cycles, nil
}

// Update перезаписывает изменяемые поля цикла целиком
func (r *CycleRepository) Update(cycle *models.Cycle) error {
	query := `
		UPDATE cycles
		SET status = $2, is_pending = $3, is_closed = $4,
			lower_bound = $5, upper_bound = $6, threshold_upper = $7, threshold_lower = $8,
			zone_index = $9, lot_index = $10, entry_price = $11, direction = $12,
			total_profit = $13, total_volume = $14,
			initial_orders = $15, hedge_orders = $16, recovery_orders = $17,
			pending_orders = $18, threshold_orders = $19, max_recovery_orders = $20,
			closed_orders = $21, hedge_levels = $22, closing_method = $23, opened_by = $24,
			closed_at = $25, updated_at = $26
		WHERE id = $1`

	cycle.UpdatedAt = time.Now()

	levels, err := json.Marshal(cycle.HedgeLevels)
	if err != nil {
		return err
	}
	closing, err := json.Marshal(cycle.ClosingMethod)
	if err != nil {
		return err
	}
	opened, err := json.Marshal(cycle.OpenedBy)
	if err != nil {
		return err
	}

	result, err := r.db.Exec(
		query,
		cycle.ID,
		cycle.Status,
		cycle.IsPending,
		cycle.IsClosed,
		cycle.LowerBound,
		cycle.UpperBound,
		cycle.ThresholdUpper,
		cycle.ThresholdLower,
		cycle.ZoneIndex,
		cycle.LotIndex,
		cycle.EntryPrice,
		cycle.Direction,
		cycle.TotalProfit,
		cycle.TotalVolume,
		pq.Array(cycle.Initial),
		pq.Array(cycle.Hedge),
		pq.Array(cycle.Recovery),
		pq.Array(cycle.Pending),
		pq.Array(cycle.Threshold),
		pq.Array(cycle.MaxRecovery),
		pq.Array(cycle.Closed),
		levels,
		closing,
		opened,
		cycle.ClosedAt,
		cycle.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return requireAffected(result, ErrCycleNotFound)
}

// UpdateAggregates обновляет только вычисляемые агрегаты.
// Вызывается на каждом тике, поэтому пишет минимум полей.
func (r *CycleRepository) UpdateAggregates(id int64, totalProfit, totalVolume float64) error {
	query := `
		UPDATE cycles
		SET total_profit = $2, total_volume = $3, updated_at = $4
		WHERE id = $1`

	result, err := r.db.Exec(query, id, totalProfit, totalVolume, time.Now())
	if err != nil {
		return err
	}
	return requireAffected(result, ErrCycleNotFound)
}

// MarkClosed помечает цикл закрытым с атрибуцией закрытия
func (r *CycleRepository) MarkClosed(id int64, closing models.ClosingMethod) error {
	query := `
		UPDATE cycles
		SET is_closed = true, is_pending = false, status = $2, closing_method = $3,
			closed_at = $4, updated_at = $4
		WHERE id = $1`

	data, err := json.Marshal(closing)
	if err != nil {
		return err
	}

	result, err := r.db.Exec(query, id, models.StatusClosed, data, time.Now())
	if err != nil {
		return err
	}
	return requireAffected(result, ErrCycleNotFound)
}

// Reopen возвращает ложно закрытый цикл в работу со статусом reopened
func (r *CycleRepository) Reopen(id int64) error {
	query := `
		UPDATE cycles
		SET is_closed = false, status = $2, closing_method = '{}', closed_at = NULL, updated_at = $3
		WHERE id = $1 AND is_closed = true`

	result, err := r.db.Exec(query, id, models.StatusReopened, time.Now())
	if err != nil {
		return err
	}
	return requireAffected(result, ErrCycleNotFound)
}

// SetRemoteID связывает локальный цикл с удалённым зеркалом
func (r *CycleRepository) SetRemoteID(id int64, remoteID string) error {
	query := `
		UPDATE cycles
		SET remote_id = $2, updated_at = $3
		WHERE id = $1`

	result, err := r.db.Exec(query, id, remoteID, time.Now())
	if err != nil {
		return err
	}
	return requireAffected(result, ErrCycleNotFound)
}
