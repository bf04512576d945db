package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidGrid        = errors.New("invalid grid configuration")
	ErrLevelNotReady      = errors.New("grid level not ready for order")
	ErrInvalidQuantity    = errors.New("invalid order quantity")
	ErrInsufficientFunds  = errors.New("insufficient fiat balance")
	ErrInsufficientCrypto = errors.New("insufficient crypto balance")
	ErrOrderRejected      = errors.New("order rejected by exchange")
	ErrCancelFailed       = errors.New("order cancellation failed")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRateLimited        = errors.New("rate limited")
	ErrWSDisconnect       = errors.New("websocket disconnected")
	ErrDataUnavailable    = errors.New("market data unavailable")
)
