// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"strings"
)

// Item is a single contest entry that can be ranked.
// Identity is ID; the remaining fields are display data.
type Item struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Artist  string `json:"artist,omitempty"`
	Country string `json:"country"` // owning group key
	Year    int    `json:"year,omitempty"`
}

// ShowMode selects which show of an edition a ranking covers.
// Values follow the catalog's show types.
type ShowMode int

const (
	ModeAll        ShowMode = 0
	ModeSemiFinal1 ShowMode = 1
	ModeSemiFinal2 ShowMode = 2
	ModeGrandFinal ShowMode = 3
)

// String returns the label used in logs and API payloads.
func (m ShowMode) String() string {
	switch m {
	case ModeAll:
		return "all"
	case ModeSemiFinal1:
		return "semi-final-1"
	case ModeSemiFinal2:
		return "semi-final-2"
	case ModeGrandFinal:
		return "grand-final"
	default:
		return "unknown"
	}
}

// Valid reports whether m is one of the known modes.
func (m ShowMode) Valid() bool {
	return m >= ModeAll && m <= ModeGrandFinal
}

// IsSemiFinal reports whether m names a semi-final show.
func (m ShowMode) IsSemiFinal() bool {
	return m == ModeSemiFinal1 || m == ModeSemiFinal2
}

// BracketID identifies a semi-final bracket within an edition.
type BracketID = ShowMode

// SemiFinals lists the brackets that feed the grand final.
var SemiFinals = []BracketID{ModeSemiFinal1, ModeSemiFinal2}

// Query selects the items of a ranking session. Either Edition is set
// (optionally narrowed by ShowType) or a StartYear..EndYear range is given
// (optionally narrowed by Country or Group).
type Query struct {
	Edition   int      `json:"edition,omitempty"`
	ShowType  ShowMode `json:"show_type,omitempty"`
	StartYear int      `json:"start_year,omitempty"`
	EndYear   int      `json:"end_year,omitempty"`
	Country   string   `json:"country,omitempty"`
	Group     string   `json:"group,omitempty"`
}

// Query validation errors.
var (
	ErrEmptyQuery      = errors.New("query needs an edition or a year range")
	ErrMixedQuery      = errors.New("query cannot combine an edition with a year range")
	ErrInvalidShow     = errors.New("unknown show type")
	ErrInvalidRange    = errors.New("start year must not be after end year")
	ErrCountryAndGroup = errors.New("query cannot filter by both country and group")
)

// SingleEdition reports whether the query targets one edition.
func (q Query) SingleEdition() bool { return q.Edition > 0 }

// Validate checks the query shape.
func (q Query) Validate() error {
	hasRange := q.StartYear > 0 || q.EndYear > 0
	switch {
	case q.Edition <= 0 && !hasRange:
		return ErrEmptyQuery
	case q.Edition > 0 && hasRange:
		return ErrMixedQuery
	case !q.ShowType.Valid():
		return ErrInvalidShow
	case hasRange && (q.StartYear <= 0 || q.EndYear <= 0 || q.StartYear > q.EndYear):
		return ErrInvalidRange
	case strings.TrimSpace(q.Country) != "" && strings.TrimSpace(q.Group) != "":
		return ErrCountryAndGroup
	}
	return nil
}

// Mode returns the show mode used for qualification. Range queries have no
// single show, so they report ModeAll and callers skip classification.
func (q Query) Mode() ShowMode {
	if !q.SingleEdition() {
		return ModeAll
	}
	return q.ShowType
}
