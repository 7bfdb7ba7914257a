package domain

import "fmt"

// Cohort groups customers acquired in the same calendar month and tracks the
// fraction still active at each elapsed period offset. Rebuilt per analysis
// run; read-only output.
type Cohort struct {
	// Period is the acquisition month key in "2006-01" form (UTC).
	Period string `json:"period"`

	// Size is the number of customers acquired in the period.
	Size int `json:"size"`

	// Retention[k] is the fraction of the cohort still active k periods
	// after acquisition. Retention[0] is always 1.0.
	Retention []float64 `json:"retention"`
}

// CheckMonotonic verifies the retention curve never increases. A violation
// indicates a data integrity bug, not valid business behavior.
func (c *Cohort) CheckMonotonic() error {
	for i := 1; i < len(c.Retention); i++ {
		if c.Retention[i] > c.Retention[i-1] {
			return fmt.Errorf("cohort %s retention increases at offset %d: %f > %f",
				c.Period, i, c.Retention[i], c.Retention[i-1])
		}
	}
	return nil
}
