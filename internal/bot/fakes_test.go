package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cycletrader/internal/broker"
	"cycletrader/internal/models"
	"cycletrader/internal/remote"
)

// ============================================================
// Заглушка брокера
// ============================================================

type placedOrder struct {
	ticket int64
	kind   string // buy, sell, buy_stop, sell_stop, buy_limit, sell_limit
	req    broker.OrderRequest
	price  float64
}

type fakeBroker struct {
	pip       float64
	quote     broker.Quote
	fillPrice float64 // цена исполнения рыночных ордеров

	nextTicket int64
	placed     []placedOrder
	closeCalls []int64

	positions []broker.Position
	pendings  []broker.PendingOrder
	closedMap map[int64]bool
	deals     map[int64][]broker.Deal

	placeErr     error
	closeErr     error
	isClosedErr  error
	dealsErr     error
	positionsErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		pip:        0.0001,
		fillPrice:  1.1000,
		nextTicket: 1000,
		closedMap:  map[int64]bool{},
		deals:      map[int64][]broker.Deal{},
	}
}

func (b *fakeBroker) Connect(ctx context.Context) error { return nil }
func (b *fakeBroker) Close() error                      { return nil }

func (b *fakeBroker) Quote(ctx context.Context, symbol string) (*broker.Quote, error) {
	q := b.quote
	q.Symbol = symbol
	return &q, nil
}

func (b *fakeBroker) Pip(ctx context.Context, symbol string) (float64, error) {
	return b.pip, nil
}

func (b *fakeBroker) place(kind string, req broker.OrderRequest) (*broker.OrderResult, error) {
	if b.placeErr != nil {
		return nil, b.placeErr
	}
	b.nextTicket++
	price := b.fillPrice
	if req.Price > 0 {
		price = req.Price
	}
	b.placed = append(b.placed, placedOrder{ticket: b.nextTicket, kind: kind, req: req, price: price})
	return &broker.OrderResult{Ticket: b.nextTicket, Price: price, Volume: req.Volume}, nil
}

func (b *fakeBroker) Buy(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	return b.place("buy", req)
}
func (b *fakeBroker) Sell(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	return b.place("sell", req)
}
func (b *fakeBroker) BuyStop(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	return b.place("buy_stop", req)
}
func (b *fakeBroker) SellStop(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	return b.place("sell_stop", req)
}
func (b *fakeBroker) BuyLimit(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	return b.place("buy_limit", req)
}
func (b *fakeBroker) SellLimit(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	return b.place("sell_limit", req)
}

func (b *fakeBroker) CloseOrder(ctx context.Context, ticket int64) error {
	if b.closeErr != nil {
		return b.closeErr
	}
	b.closeCalls = append(b.closeCalls, ticket)
	return nil
}

func (b *fakeBroker) ModifyOrder(ctx context.Context, ticket int64, stopLoss, takeProfit float64) error {
	return nil
}

func (b *fakeBroker) ListPositions(ctx context.Context) ([]broker.Position, error) {
	if b.positionsErr != nil {
		return nil, b.positionsErr
	}
	return b.positions, nil
}

func (b *fakeBroker) ListPendingOrders(ctx context.Context) ([]broker.PendingOrder, error) {
	return b.pendings, nil
}

func (b *fakeBroker) IsOrderClosed(ctx context.Context, ticket int64) (bool, error) {
	if b.isClosedErr != nil {
		return false, b.isClosedErr
	}
	return b.closedMap[ticket], nil
}

func (b *fakeBroker) DealsForTicket(ctx context.Context, ticket int64) ([]broker.Deal, error) {
	if b.dealsErr != nil {
		return nil, b.dealsErr
	}
	return b.deals[ticket], nil
}

// lastPlaced возвращает последний размещённый ордер
func (b *fakeBroker) lastPlaced() placedOrder {
	return b.placed[len(b.placed)-1]
}

// ============================================================
// In-memory хранилища
// ============================================================

var errNotFound = errors.New("not found")

type memOrderStore struct {
	orders map[int64]*models.Order
	seq    []int64
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{orders: map[int64]*models.Order{}}
}

func (s *memOrderStore) Create(order *models.Order) error {
	if order.ID == 0 {
		order.ID = int64(len(s.seq) + 1)
	}
	s.orders[order.Ticket] = order
	s.seq = append(s.seq, order.Ticket)
	return nil
}

func (s *memOrderStore) GetByTicket(ticket int64) (*models.Order, error) {
	o, ok := s.orders[ticket]
	if !ok {
		return nil, errNotFound
	}
	return o, nil
}

func (s *memOrderStore) GetByCycle(cycleID int64) ([]*models.Order, error) {
	var out []*models.Order
	for _, ticket := range s.seq {
		if o := s.orders[ticket]; o != nil && o.CycleID == cycleID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOrderStore) GetOpen(accountID string) ([]*models.Order, error) {
	var out []*models.Order
	for _, ticket := range s.seq {
		if o := s.orders[ticket]; o != nil && !o.IsClosed {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOrderStore) UpdateQuote(ticket int64, currentPrice, profit, swap, commission float64) error {
	o, ok := s.orders[ticket]
	if !ok {
		return errNotFound
	}
	o.CurrentPrice = currentPrice
	o.Profit = profit
	o.Swap = swap
	o.Commission = commission
	return nil
}

func (s *memOrderStore) MarkClosed(ticket int64, finalProfit, swap, commission float64) error {
	o, ok := s.orders[ticket]
	if !ok {
		return errNotFound
	}
	o.IsClosed = true
	o.IsPending = false
	o.Profit = finalProfit
	o.Swap = swap
	o.Commission = commission
	return nil
}

func (s *memOrderStore) MarkFilled(ticket int64, openPrice float64) error {
	o, ok := s.orders[ticket]
	if !ok {
		return errNotFound
	}
	o.MarkFilled()
	o.OpenPrice = openPrice
	return nil
}

func (s *memOrderStore) Update(order *models.Order) error {
	s.orders[order.Ticket] = order
	return nil
}

type memCycleStore struct {
	cycles  map[int64]*models.Cycle
	nextID  int64
	updates int
}

func newMemCycleStore() *memCycleStore {
	return &memCycleStore{cycles: map[int64]*models.Cycle{}}
}

func (s *memCycleStore) Create(cycle *models.Cycle) error {
	s.nextID++
	cycle.ID = s.nextID
	cycle.CreatedAt = time.Now()
	s.cycles[cycle.ID] = cycle
	return nil
}

func (s *memCycleStore) GetByID(id int64) (*models.Cycle, error) {
	c, ok := s.cycles[id]
	if !ok {
		return nil, errNotFound
	}
	return c, nil
}

func (s *memCycleStore) GetByRemoteID(remoteID string) (*models.Cycle, error) {
	for _, c := range s.cycles {
		if c.RemoteID == remoteID {
			return c, nil
		}
	}
	return nil, errNotFound
}

func (s *memCycleStore) GetActive(accountID string) ([]*models.Cycle, error) {
	var out []*models.Cycle
	for id := int64(1); id <= s.nextID; id++ {
		if c, ok := s.cycles[id]; ok && !c.IsClosed {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memCycleStore) GetClosedSince(accountID string, since time.Time) ([]*models.Cycle, error) {
	var out []*models.Cycle
	for id := int64(1); id <= s.nextID; id++ {
		c, ok := s.cycles[id]
		if !ok || !c.IsClosed {
			continue
		}
		if c.ClosedAt != nil && c.ClosedAt.Before(since) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *memCycleStore) Update(cycle *models.Cycle) error {
	s.updates++
	s.cycles[cycle.ID] = cycle
	return nil
}

func (s *memCycleStore) UpdateAggregates(id int64, totalProfit, totalVolume float64) error {
	c, ok := s.cycles[id]
	if !ok {
		return errNotFound
	}
	c.TotalProfit = totalProfit
	c.TotalVolume = totalVolume
	return nil
}

func (s *memCycleStore) MarkClosed(id int64, closing models.ClosingMethod) error {
	c, ok := s.cycles[id]
	if !ok {
		return errNotFound
	}
	now := time.Now()
	c.IsClosed = true
	c.Status = models.StatusClosed
	c.ClosingMethod = closing
	c.ClosedAt = &now
	return nil
}

func (s *memCycleStore) Reopen(id int64) error {
	c, ok := s.cycles[id]
	if !ok {
		return errNotFound
	}
	c.IsClosed = false
	c.Status = models.StatusReopened
	c.ClosedAt = nil
	c.ClosingMethod = models.ClosingMethod{}
	return nil
}

func (s *memCycleStore) SetRemoteID(id int64, remoteID string) error {
	c, ok := s.cycles[id]
	if !ok {
		return errNotFound
	}
	c.RemoteID = remoteID
	return nil
}

// ============================================================
// Приёмник событий и заглушки зеркала
// ============================================================

type captureSink struct {
	events []*models.Event
}

func (s *captureSink) Emit(event *models.Event) {
	s.events = append(s.events, event)
}

func (s *captureSink) has(eventType string) bool {
	for _, e := range s.events {
		if e.Type == eventType {
			return true
		}
	}
	return false
}

type fakeMirror struct {
	remoteCycles []remote.RemoteCycle
	created      []remote.CyclePayload
	updated      map[string]remote.CyclePayload
	nextID       int
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{updated: map[string]remote.CyclePayload{}}
}

func (m *fakeMirror) CreateCycle(ctx context.Context, payload remote.CyclePayload) (string, error) {
	m.nextID++
	m.created = append(m.created, payload)
	return fmt.Sprintf("rc-%d", m.nextID), nil
}

func (m *fakeMirror) UpdateCycle(ctx context.Context, remoteID string, payload remote.CyclePayload) error {
	m.updated[remoteID] = payload
	return nil
}

func (m *fakeMirror) ListActiveCycles(ctx context.Context, account string) ([]remote.RemoteCycle, error) {
	return m.remoteCycles, nil
}

type fakeCommands struct {
	inbox []remote.RemoteCommand
	acked []int64
}

func (f *fakeCommands) ListCommands(ctx context.Context, account string) ([]remote.RemoteCommand, error) {
	out := f.inbox
	f.inbox = nil
	return out, nil
}

func (f *fakeCommands) AckCommand(ctx context.Context, id int64) error {
	f.acked = append(f.acked, id)
	return nil
}
