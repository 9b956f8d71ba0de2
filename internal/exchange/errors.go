package exchange

import (
	"context"
	"errors"

	"github.com/adshao/go-binance/v2/common"
)

// Ошибки шлюза и классификация ошибок биржи
var (
	// ErrCircuitOpen все вызовы к бирже приостановлены
	ErrCircuitOpen = errors.New("circuit breaker разомкнут")
	// ErrInsufficientBalance на счете недостаточно средств
	ErrInsufficientBalance = errors.New("недостаточно средств на балансе")
)

const binanceInsufficientBalance = -2010

// IsRetryable транзиентная ли ошибка: сетевые сбои повторяем,
// отказы биржи и отмену контекста — нет
func IsRetryable(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return true
}

// IsInsufficientBalance распознает отказ биржи из-за нехватки средств
func IsInsufficientBalance(err error) bool {
	if errors.Is(err, ErrInsufficientBalance) {
		return true
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == binanceInsufficientBalance
	}
	return false
}
