package service

import (
	"errors"

	"github.com/okian/etude/internal/adapters/repository"
)

// Sentinel error kinds for this package.
var (
	ErrNotStarted     = errors.New("service not started")
	ErrInvalidRequest = errors.New("invalid request")
	ErrBackpressure   = errors.New("practice queue is full")
	// ErrNotFound is the repository's not-found error, re-exported for the HTTP layer.
	ErrNotFound = repository.ErrNotFound
)
