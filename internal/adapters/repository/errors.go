package repository

import "errors"

// Sentinel kinds for standings errors.
var (
	ErrNotFound     = errors.New("entry has no standing")
	ErrInvalidLimit = errors.New("invalid standings limit")
	ErrEmptySession = errors.New("session id must not be empty")
)
