package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"cycletrader/internal/models"
)

// EventRepository - работа с таблицей events (append-only журнал)
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository создает новый экземпляр репозитория
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create добавляет событие в журнал
func (r *EventRepository) Create(event *models.Event) error {
	query := `
		INSERT INTO events (uuid, account_id, bot_id, cycle_id, type, severity, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	content, err := json.Marshal(event.Content)
	if err != nil {
		return err
	}

	return r.db.QueryRow(
		query,
		event.UUID,
		event.AccountID,
		event.BotID,
		event.CycleID,
		event.Type,
		event.Severity,
		content,
		event.CreatedAt,
	).Scan(&event.ID)
}

// ListRecent возвращает последние события аккаунта, новые первыми
func (r *EventRepository) ListRecent(accountID string, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, uuid, account_id, bot_id, cycle_id, type, severity, content, created_at
		FROM events
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.Query(query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		event := &models.Event{}
		var content []byte

		err := rows.Scan(
			&event.ID,
			&event.UUID,
			&event.AccountID,
			&event.BotID,
			&event.CycleID,
			&event.Type,
			&event.Severity,
			&content,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		if len(content) > 0 {
			if err := json.Unmarshal(content, &event.Content); err != nil {
				return nil, err
			}
		}

		events = append(events, event)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}
