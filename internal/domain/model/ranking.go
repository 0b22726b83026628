package model

// Placement is one row of a finished personal ranking.
type Placement struct {
	Place  int  `json:"place"`
	Item   Item `json:"item"`
	Points int  `json:"points"`
	// Qualified is set for single-edition rankings only.
	Qualified *bool `json:"qualified,omitempty"`
}

// Ranking is the final ordering of a complete session.
type Ranking struct {
	SessionID  string      `json:"session_id"`
	Query      Query       `json:"query"`
	Mode       string      `json:"mode"`
	Decisions  int         `json:"decisions"`
	Placements []Placement `json:"placements"`
}
