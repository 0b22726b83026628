package catalog

import "errors"

// Sentinel kinds for catalog errors.
var (
	ErrUnknownDriver = errors.New("unknown catalog driver")
	ErrNoEntries     = errors.New("no entries match the query")
	ErrFixture       = errors.New("invalid catalog fixture")
)
