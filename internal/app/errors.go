package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrNotStarted   = errors.New("service not started")
	ErrNotComplete  = errors.New("ranking not complete")
	ErrInvalidQuery = errors.New("invalid query")
	ErrBackpressure = errors.New("standings queue is full")
	ErrNoCatalog    = errors.New("service needs a catalog")
)
