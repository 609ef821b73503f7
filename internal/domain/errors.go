package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidOrder        = errors.New("invalid order parameters")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPersist             = errors.New("state persistence failed")
	ErrStreamClosed        = errors.New("price stream closed")
	ErrReconnectExhausted  = errors.New("reconnect attempts exhausted")
	ErrLockHeld            = errors.New("lock already held")
	ErrNoCredentials       = errors.New("no usable credentials")
)
