package exchange

import (
	"errors"
	"testing"
	"time"
)

func newTestBreaker(threshold int, window, timeout time.Duration) (*CircuitBreaker, *time.Time) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(threshold, window, timeout, nil)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestBreakerOpensExactlyAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != CircuitClosed {
		t.Fatalf("state = %v после 2 ошибок при пороге 3, ожидалось closed", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %v после 3 ошибок при пороге 3, ожидалось open", cb.State())
	}
}

func TestBreakerRollingWindowExpiresErrors(t *testing.T) {
	cb, now := newTestBreaker(3, time.Minute, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()

	// Старые ошибки выпадают из окна, третья не открывает breaker
	*now = now.Add(2 * time.Minute)
	cb.RecordFailure()
	if cb.State() != CircuitClosed {
		t.Errorf("state = %v, ожидалось closed после истечения окна", cb.State())
	}
}

func TestBreakerFailsFastWhileOpen(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute, time.Minute)

	cb.RecordFailure()
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() = %v, ожидался ErrCircuitOpen", err)
	}

	// До истечения таймаута breaker не переходит в half_open
	*now = now.Add(59 * time.Second)
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() = %v до таймаута, ожидался ErrCircuitOpen", err)
	}
}

func TestBreakerHalfOpenAfterTimeout(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute, time.Minute)

	cb.RecordFailure()
	*now = now.Add(time.Minute + time.Second)

	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() = %v после таймаута, ожидался пробный вызов", err)
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("state = %v, ожидалось half_open", cb.State())
	}

	// Только один пробный вызов за раз
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("второй Allow() = %v в half_open, ожидался ErrCircuitOpen", err)
	}
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute, time.Minute)

	cb.RecordFailure()
	*now = now.Add(2 * time.Minute)
	if err := cb.Allow(); err != nil {
		t.Fatal(err)
	}

	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Fatalf("state = %v после успешного пробного вызова, ожидалось closed", cb.State())
	}

	// Счетчик ошибок сброшен: одна новая ошибка снова открывает
	// breaker только при пороге 1
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() = %v после закрытия, ожидался nil", err)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute, time.Minute)

	cb.RecordFailure()
	*now = now.Add(2 * time.Minute)
	if err := cb.Allow(); err != nil {
		t.Fatal(err)
	}

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %v после неудачного пробного вызова, ожидалось open", cb.State())
	}

	// Таймер перезапущен: переход в half_open считается от повторного
	// открытия
	*now = now.Add(59 * time.Second)
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() = %v, таймер должен был перезапуститься", err)
	}
	*now = now.Add(2 * time.Second)
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() = %v после перезапущенного таймаута, ожидался nil", err)
	}
}

func TestBreakerCancelTrialReopens(t *testing.T) {
	cb, now := newTestBreaker(1, time.Minute, time.Minute)

	cb.RecordFailure()
	*now = now.Add(2 * time.Minute)
	if err := cb.Allow(); err != nil {
		t.Fatal(err)
	}

	// Пробный вызов прерван до ответа биржи: breaker размыкается
	// заново и не остается в half_open с занятым пробным слотом
	cb.CancelTrial()
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %v после прерванного пробного вызова, ожидалось open", cb.State())
	}

	*now = now.Add(2 * time.Minute)
	if err := cb.Allow(); err != nil {
		t.Errorf("Allow() = %v после таймаута, новый пробный вызов должен разрешаться", err)
	}
}

func TestBreakerCancelTrialNoopWhenClosed(t *testing.T) {
	cb, _ := newTestBreaker(3, time.Minute, time.Minute)

	cb.RecordFailure()
	cb.CancelTrial()
	if cb.State() != CircuitClosed {
		t.Errorf("state = %v, CancelTrial не должен менять закрытый breaker", cb.State())
	}
}

func TestBreakerTransitionCallback(t *testing.T) {
	var transitions []string
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, time.Minute, time.Minute, func(from, to CircuitState) {
		transitions = append(transitions, string(from)+">"+string(to))
	})
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	now = now.Add(2 * time.Minute)
	if err := cb.Allow(); err != nil {
		t.Fatal(err)
	}
	cb.RecordSuccess()

	want := []string{"closed>open", "open>half_open", "half_open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("переходы = %v, ожидалось %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("переход %d = %q, ожидалось %q", i, transitions[i], want[i])
		}
	}
}
