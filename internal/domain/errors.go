package domain

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInvalidState          = errors.New("invalid pool state")
	ErrDuplicateParticipant  = errors.New("duplicate participant")
	ErrInvalidParticipant    = errors.New("invalid participant")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrBadSignature          = errors.New("bad signature")
	ErrRateLimited           = errors.New("rate limited")
	ErrLockHeld              = errors.New("lock already held")
	ErrConfigMismatch        = errors.New("registry config mismatch")
	ErrStaleWrite            = errors.New("stale write")
	ErrReplayed              = errors.New("request replayed")
)
