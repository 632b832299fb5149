package repository

import "errors"

// Sentinel kinds for repository errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidLimit = errors.New("invalid limit")
	ErrOpen         = errors.New("open database failed")
	ErrMigrate      = errors.New("database migration failed")
	ErrCorrupt      = errors.New("stored record is corrupt")
)
