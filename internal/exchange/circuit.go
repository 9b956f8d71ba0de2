package exchange

import (
	"sync"
	"time"
)

// CircuitState состояние circuit breaker
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker отключает вызовы к бирже после серии ошибок в
// скользящем окне. В состоянии open все вызовы завершаются сразу,
// после таймаута допускается один пробный вызов (half_open).
type CircuitBreaker struct {
	mu sync.Mutex

	threshold int
	window    time.Duration
	timeout   time.Duration

	state         CircuitState
	errorTimes    []time.Time
	openedAt      time.Time
	trialInFlight bool

	// подменяется в тестах
	now func() time.Time

	onTransition func(from, to CircuitState)
}

// NewCircuitBreaker создает новый circuit breaker
func NewCircuitBreaker(threshold int, window, timeout time.Duration, onTransition func(from, to CircuitState)) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:    threshold,
		window:       window,
		timeout:      timeout,
		state:        CircuitClosed,
		now:          time.Now,
		onTransition: onTransition,
	}
}

// Allow проверяет, можно ли выполнить вызов. Возвращает
// ErrCircuitOpen, если вызовы приостановлены.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) >= cb.timeout {
			cb.setState(CircuitHalfOpen)
			cb.trialInFlight = true
			return nil
		}
		return ErrCircuitOpen
	case CircuitHalfOpen:
		// Один пробный вызов за раз
		if cb.trialInFlight {
			return ErrCircuitOpen
		}
		cb.trialInFlight = true
		return nil
	}
	return nil
}

// RecordSuccess фиксирует успешный вызов
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.setState(CircuitClosed)
		cb.errorTimes = nil
		cb.trialInFlight = false
	}
}

// CancelTrial освобождает пробный вызов, прерванный до ответа биржи
// (например, отменой контекста). В half_open breaker размыкается
// заново с перезапуском таймера, в остальных состояниях ничего не
// меняется.
func (cb *CircuitBreaker) CancelTrial() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.setState(CircuitOpen)
		cb.openedAt = cb.now()
		cb.trialInFlight = false
	}
}

// RecordFailure фиксирует неуспешный вызов
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()

	switch cb.state {
	case CircuitHalfOpen:
		// Пробный вызов не удался: размыкаемся заново, таймер с нуля
		cb.setState(CircuitOpen)
		cb.openedAt = now
		cb.trialInFlight = false
	case CircuitClosed:
		cb.errorTimes = append(cb.errorTimes, now)
		cb.prune(now)
		if len(cb.errorTimes) >= cb.threshold {
			cb.setState(CircuitOpen)
			cb.openedAt = now
			cb.errorTimes = nil
		}
	}
}

// State возвращает текущее состояние
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// prune выбрасывает ошибки старше скользящего окна
func (cb *CircuitBreaker) prune(now time.Time) {
	cutoff := now.Add(-cb.window)
	i := 0
	for ; i < len(cb.errorTimes); i++ {
		if cb.errorTimes[i].After(cutoff) {
			break
		}
	}
	cb.errorTimes = cb.errorTimes[i:]
}

func (cb *CircuitBreaker) setState(state CircuitState) {
	if cb.state == state {
		return
	}
	from := cb.state
	cb.state = state
	if cb.onTransition != nil {
		cb.onTransition(from, state)
	}
}
