package session

import "errors"

var (
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("ingestion pipeline is closed")

	ErrSessionRequired = errors.New("session id is required")
)
