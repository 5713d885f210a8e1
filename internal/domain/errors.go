package domain

import "errors"

var (
	ErrNoMatchingTier = errors.New("no matching tier")
	ErrDuplicateEvent = errors.New("duplicate trade event")
	ErrInvalidOrder   = errors.New("invalid order parameters")
	ErrSigningFailed  = errors.New("signing failed")
	ErrWSDisconnect   = errors.New("websocket disconnected")
	ErrNotFound       = errors.New("not found")
)
