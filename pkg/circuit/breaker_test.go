package circuit

import (
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	br := NewBreaker(Config{Threshold: threshold, Cooldown: cooldown})
	current := time.Now()
	br.now = func() time.Time { return current }
	return br, &current
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	br, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		if err := br.Do(func() error { return errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("попытка %d: ожидалась errBoom, получено %v", i, err)
		}
	}

	if br.State() != StateOpen {
		t.Errorf("после %d ошибок состояние = %v, ожидалось open", 3, br.State())
	}

	// Открытый breaker отклоняет запросы без вызова операции
	called := false
	err := br.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("ожидалась ErrOpen, получено %v", err)
	}
	if called {
		t.Error("операция не должна вызываться в открытом состоянии")
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	br, _ := newTestBreaker(3, time.Minute)

	br.Do(func() error { return errBoom })
	br.Do(func() error { return errBoom })
	br.Do(func() error { return nil })

	if br.Failures() != 0 {
		t.Errorf("успех должен сбросить счётчик, Failures = %d", br.Failures())
	}
	if br.State() != StateClosed {
		t.Errorf("состояние = %v, ожидалось closed", br.State())
	}
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	br, current := newTestBreaker(1, 30*time.Second)

	br.Do(func() error { return errBoom })
	if br.State() != StateOpen {
		t.Fatalf("состояние = %v, ожидалось open", br.State())
	}

	// До истечения паузы остаёмся открытыми
	*current = current.Add(29 * time.Second)
	if br.State() != StateOpen {
		t.Errorf("до истечения Cooldown состояние = %v, ожидалось open", br.State())
	}

	// После паузы переходим в half-open
	*current = current.Add(2 * time.Second)
	if br.State() != StateHalfOpen {
		t.Errorf("после Cooldown состояние = %v, ожидалось half-open", br.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	t.Run("успешная проба закрывает", func(t *testing.T) {
		br, current := newTestBreaker(1, time.Second)
		br.Do(func() error { return errBoom })
		*current = current.Add(2 * time.Second)

		if err := br.Do(func() error { return nil }); err != nil {
			t.Fatalf("проба должна пройти: %v", err)
		}
		if br.State() != StateClosed {
			t.Errorf("состояние = %v, ожидалось closed", br.State())
		}
	})

	t.Run("неудачная проба открывает заново", func(t *testing.T) {
		br, current := newTestBreaker(1, time.Second)
		br.Do(func() error { return errBoom })
		*current = current.Add(2 * time.Second)

		br.Do(func() error { return errBoom })
		if br.State() != StateOpen {
			t.Errorf("состояние = %v, ожидалось open", br.State())
		}
	})
}

func TestBreaker_Reset(t *testing.T) {
	br, _ := newTestBreaker(1, time.Minute)
	br.Do(func() error { return errBoom })

	br.Reset()

	if br.State() != StateClosed {
		t.Errorf("после Reset состояние = %v, ожидалось closed", br.State())
	}
	if br.Failures() != 0 {
		t.Errorf("после Reset счётчик = %d, ожидался 0", br.Failures())
	}
}

func TestBreaker_OnStateChange(t *testing.T) {
	var transitions []string
	br := NewBreaker(Config{
		Threshold: 1,
		Cooldown:  time.Second,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	current := time.Now()
	br.now = func() time.Time { return current }

	br.Do(func() error { return errBoom })
	current = current.Add(2 * time.Second)
	br.Do(func() error { return nil })

	expected := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(expected) {
		t.Fatalf("переходы = %v, ожидалось %v", transitions, expected)
	}
	for i := range expected {
		if transitions[i] != expected[i] {
			t.Errorf("переход %d = %q, ожидался %q", i, transitions[i], expected[i])
		}
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.expected)
		}
	}
}
