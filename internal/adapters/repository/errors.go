package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound      = errors.New("no evaluation stored for platform")
	ErrClosed        = errors.New("store closed")
	ErrUnknownDriver = errors.New("unknown store driver")
)
