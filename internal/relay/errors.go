package relay

import "errors"

// Errors
var (
	ErrAlreadyStarted = errors.New("relay server already started")
	ErrStopped        = errors.New("relay server stopped")
	ErrNotRunning     = errors.New("relay server not running")
	ErrUnknownClient  = errors.New("unknown client")
)
