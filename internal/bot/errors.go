package bot

import "errors"

// Ошибки ядра
//
// Таксономия:
//   - структурный отказ биржи: *exchange.RejectionError (exchange.IsRejection), не повторяется
//   - временная ошибка биржи/хранилища: повторяется с backoff, исчерпание бюджета
//     превращается в ErrReconciliationRequired
//   - нарушение инварианта OCO: ErrInvariantViolation, только отчёт, без компенсирующих сделок
//   - недоступное хранилище: ErrStoreUnavailable, запись откладывается
var (
	ErrReconciliationRequired = errors.New("reconciliation required")
	ErrInvariantViolation     = errors.New("oco invariant violation")
	ErrStoreUnavailable       = errors.New("position store unavailable")

	ErrLegFilled        = errors.New("protective leg filled during cancellation")
	ErrPairNotFound     = errors.New("oco pair not found")
	ErrNoLegs           = errors.New("no protective legs to place")
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionExists   = errors.New("open position already exists for symbol and side")
	ErrPositionNotOpen  = errors.New("position is not open")
	ErrNoQuantity       = errors.New("position size is not configured")
	ErrDuplicateSignal  = errors.New("duplicate signal")
	ErrIntakeFull       = errors.New("signal intake queue is full")
	ErrIntakeStopped    = errors.New("signal intake is stopped")
)
