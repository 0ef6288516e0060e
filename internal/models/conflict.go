package models

import "time"

// ConflictType classifies why candidates were grouped together
type ConflictType string

const (
	ConflictDuplicateContent ConflictType = "duplicate_content"
	ConflictDivergentState   ConflictType = "divergent_state"
)

// ResolutionStatus tracks whether a winner was chosen
type ResolutionStatus string

const (
	ResolutionPending  ResolutionStatus = "pending"
	ResolutionResolved ResolutionStatus = "resolved"
)

// Conflict holds platform-origin variants of logically equivalent content
type Conflict struct {
	ID         string           `json:"id"`
	Type       ConflictType     `json:"type"`
	Candidates []Entity         `json:"candidates"`
	Status     ResolutionStatus `json:"status"`
	Winner     *Entity          `json:"winner,omitempty"`
	DetectedAt time.Time        `json:"detectedAt"`
	ResolvedAt *time.Time       `json:"resolvedAt,omitempty"`
}

// MarkResolved stores the winner on the conflict
func (c *Conflict) MarkResolved(winner Entity, at time.Time) {
	w := winner.Clone()
	c.Winner = &w
	c.Status = ResolutionResolved
	c.ResolvedAt = &at
}

// Candidate returns the candidate with the given guid
func (c Conflict) Candidate(guid string) (Entity, bool) {
	for _, e := range c.Candidates {
		if e.GUID == guid {
			return e, true
		}
	}
	return Entity{}, false
}

// SyncStats are the counters of one sync pass. Reset every pass.
type SyncStats struct {
	Processed int       `json:"processed"`
	Synced    int       `json:"synced"`
	Conflicts int       `json:"conflicts"`
	Errors    int       `json:"errors"`
	LastSync  time.Time `json:"lastSync"`
}
