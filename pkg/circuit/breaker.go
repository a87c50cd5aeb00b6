package circuit

import (
	"errors"
	"sync"
	"time"
)

// Breaker - circuit breaker для защиты от каскадных сбоев внешних систем
//
// Три состояния:
//   - closed: запросы проходят, ошибки считаются
//   - open: запросы отклоняются сразу, внешняя система не трогается
//   - half-open: после паузы пропускается пробный запрос
//
// Переходы:
//   - closed -> open: достигнут порог подряд идущих ошибок
//   - open -> half-open: истекла пауза Cooldown
//   - half-open -> closed: пробный запрос успешен
//   - half-open -> open: пробный запрос неудачен
//
// Использование:
//
//	br := circuit.NewBreaker(circuit.Config{Threshold: 5, Cooldown: 30 * time.Second})
//	err := br.Do(func() error {
//	    return remote.UpdateCycle(...)
//	})
//	if errors.Is(err, circuit.ErrOpen) { ... }

// State состояние breaker'а
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String возвращает имя состояния
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen возвращается когда breaker открыт и запрос отклонён без выполнения
var ErrOpen = errors.New("circuit breaker is open")

// Config конфигурация breaker'а
type Config struct {
	// Threshold - количество подряд идущих ошибок для открытия
	// По умолчанию: 5
	Threshold int

	// Cooldown - пауза перед переходом в half-open
	// По умолчанию: 30s
	Cooldown time.Duration

	// OnStateChange - callback при смене состояния (для логирования)
	OnStateChange func(from, to State)
}

// Breaker реализует circuit breaker. Потокобезопасен.
type Breaker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	now      func() time.Time // подменяется в тестах
}

// NewBreaker создаёт breaker в закрытом состоянии
func NewBreaker(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Do выполняет операцию под защитой breaker'а.
// В открытом состоянии возвращает ErrOpen не вызывая операцию.
func (b *Breaker) Do(operation func() error) error {
	if !b.allow() {
		return ErrOpen
	}

	err := operation()
	b.record(err)
	return err
}

// State возвращает текущее состояние с учётом истёкшего Cooldown
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state
}

// Failures возвращает счётчик подряд идущих ошибок
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset принудительно закрывает breaker и сбрасывает счётчик
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.failures = 0
}

// allow решает, пропускать ли запрос
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state != StateOpen
}

// record учитывает результат операции
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		// Успех закрывает breaker из любого состояния
		if b.state != StateClosed {
			b.transition(StateClosed)
		}
		b.failures = 0
		return
	}

	b.failures++

	switch b.state {
	case StateHalfOpen:
		// Пробный запрос провалился, открываемся заново
		b.openedAt = b.now()
		b.transition(StateOpen)
	case StateClosed:
		if b.failures >= b.cfg.Threshold {
			b.openedAt = b.now()
			b.transition(StateOpen)
		}
	}
}

// refresh переводит open -> half-open после Cooldown
// ВАЖНО: вызывается под lock'ом
func (b *Breaker) refresh() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.transition(StateHalfOpen)
	}
}

// transition меняет состояние и дёргает callback
// ВАЖНО: вызывается под lock'ом
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnStateChange != nil {
		// callback без lock'а не нужен: смены состояний редки,
		// а вызывающие только логируют
		b.cfg.OnStateChange(from, to)
	}
}
