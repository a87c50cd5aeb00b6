package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"cycletrader/internal/models"
)

// ErrMockDatabase общая ошибка хранилища для тестов
var ErrMockDatabase = errors.New("mock database error")

// ============ MockCycleReader ============

type MockCycleReader struct {
	mu     sync.Mutex
	active []*models.Cycle
	closed []*models.Cycle
	byID   map[int64]*models.Cycle
	err    error
}

func NewMockCycleReader() *MockCycleReader {
	return &MockCycleReader{byID: make(map[int64]*models.Cycle)}
}

func (m *MockCycleReader) SetActive(cycles []*models.Cycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = cycles
	for _, c := range cycles {
		m.byID[c.ID] = c
	}
}

func (m *MockCycleReader) SetClosed(cycles []*models.Cycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = cycles
	for _, c := range cycles {
		m.byID[c.ID] = c
	}
}

func (m *MockCycleReader) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockCycleReader) GetActive(accountID string) ([]*models.Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.active, nil
}

func (m *MockCycleReader) GetByID(id int64) (*models.Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.byID[id]
	if !ok {
		return nil, errors.New("cycle not found")
	}
	return c, nil
}

func (m *MockCycleReader) GetClosedSince(accountID string, since time.Time) ([]*models.Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.closed, nil
}

// ============ MockOrderReader ============

type MockOrderReader struct {
	mu      sync.Mutex
	byCycle map[int64][]*models.Order
	open    []*models.Order
	err     error
}

func NewMockOrderReader() *MockOrderReader {
	return &MockOrderReader{byCycle: make(map[int64][]*models.Order)}
}

func (m *MockOrderReader) SetCycleOrders(cycleID int64, orders []*models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byCycle[cycleID] = orders
}

func (m *MockOrderReader) SetOpen(orders []*models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = orders
}

func (m *MockOrderReader) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockOrderReader) GetByCycle(cycleID int64) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.byCycle[cycleID], nil
}

func (m *MockOrderReader) GetOpen(accountID string) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.open, nil
}

// ============ MockEventReader ============

type MockEventReader struct {
	mu        sync.Mutex
	events    []*models.Event
	lastLimit int
	err       error
}

func NewMockEventReader() *MockEventReader {
	return &MockEventReader{}
}

func (m *MockEventReader) SetEvents(events []*models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = events
}

func (m *MockEventReader) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockEventReader) LastLimit() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastLimit
}

func (m *MockEventReader) ListRecent(accountID string, limit int) ([]*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	if m.err != nil {
		return nil, m.err
	}
	return m.events, nil
}

// ============ MockExecutor ============

type MockExecutor struct {
	mu       sync.Mutex
	executed []models.Command
	err      error
}

func NewMockExecutor() *MockExecutor {
	return &MockExecutor{}
}

func (m *MockExecutor) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockExecutor) Executed() []models.Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Command(nil), m.executed...)
}

func (m *MockExecutor) Execute(ctx context.Context, cmd models.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.executed = append(m.executed, cmd)
	return nil
}

// ============ MockStatus ============

type MockStatus struct {
	status  map[string]interface{}
	stopped bool
}

func NewMockStatus() *MockStatus {
	return &MockStatus{status: map[string]interface{}{
		"account_id": "acc-1",
		"strategy":   "zone",
		"stopped":    false,
	}}
}

func (m *MockStatus) Status() map[string]interface{} { return m.status }
func (m *MockStatus) Stopped() bool                  { return m.stopped }
