package domain

import "time"

// Segment is a named customer group with its population count for one batch
// run. Boundaries are population-relative quantiles, so assignments are
// recomputed per run and may shift even for unchanged customers.
type Segment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Population  int    `json:"population"`
}

// SegmentMigration records a customer moving between segments across runs.
type SegmentMigration struct {
	CustomerID        string    `json:"customer_id"`
	PreviousSegmentID string    `json:"previous_segment_id"`
	NewSegmentID      string    `json:"new_segment_id"`
	OccurredAt        time.Time `json:"occurred_at"`
}
