package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidOrder     = errors.New("invalid order parameters")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrWSDisconnect     = errors.New("websocket disconnected")
	ErrNotConnected     = errors.New("not connected")
	ErrMalformedMessage = errors.New("malformed message")
	ErrStreamClosed     = errors.New("stream closed")
	ErrClosed           = errors.New("closed")
	ErrLockHeld         = errors.New("lock already held")
)
