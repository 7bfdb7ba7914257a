package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Transaction is a single customer purchase event as delivered by the
// ingestion boundary. Records are assumed deduplicated upstream.
type Transaction struct {
	CustomerID string    `json:"customer_id"`
	Timestamp  time.Time `json:"timestamp"`
	Amount     float64   `json:"amount"`
}

// Validate checks the record-level invariants. A failing transaction is
// rejected individually and never aborts a whole batch.
func (t *Transaction) Validate() error {
	if t.CustomerID == "" {
		return NewDataError("customer_id", "cannot be empty")
	}

	if t.Timestamp.IsZero() {
		return NewDataError("timestamp", "cannot be zero")
	}

	if math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) {
		return NewDataError("amount", fmt.Sprintf("must be finite, got: %f", t.Amount))
	}

	if t.Amount < 0 {
		return NewDataError("amount", fmt.Sprintf("must be non-negative, got: %f", t.Amount))
	}

	return nil
}

// CustomerProfile holds one customer's ordered transaction history plus the
// feature vector derived from it. The feature builder is the only writer;
// once a profile enters a scoring run it is treated as immutable.
type CustomerProfile struct {
	CustomerID   string        `json:"customer_id"`
	Transactions []Transaction `json:"transactions"`
	FirstSeen    time.Time     `json:"first_seen"`
	LastSeen     time.Time     `json:"last_seen"`
	Features     FeatureVector `json:"features"`
}

// SortTransactions orders the history chronologically and refreshes the
// first/last seen bounds.
func (p *CustomerProfile) SortTransactions() {
	sort.Slice(p.Transactions, func(i, j int) bool {
		return p.Transactions[i].Timestamp.Before(p.Transactions[j].Timestamp)
	})

	if len(p.Transactions) > 0 {
		p.FirstSeen = p.Transactions[0].Timestamp
		p.LastSeen = p.Transactions[len(p.Transactions)-1].Timestamp
	}
}

// FeatureVector is the typed feature schema every model consumes. The schema
// is declared, not inferred: the registry rejects artifacts trained against
// a different schema at registration time.
type FeatureVector struct {
	RecencyDays           float64 `json:"recency_days"`
	FrequencyCount        float64 `json:"frequency_count"`
	MonetaryAvg           float64 `json:"monetary_avg"`
	MonetaryTotal         float64 `json:"monetary_total"`
	TenureDays            float64 `json:"tenure_days"`
	InterpurchaseMeanDays float64 `json:"interpurchase_mean_days"`
	AmountTrend           float64 `json:"amount_trend"`

	// ColdStart marks a customer with no transaction history. Downstream
	// models must apply population-prior fallback instead of individual
	// posterior updates.
	ColdStart bool `json:"cold_start"`
}

// FeatureSchema is the ordered list of feature names the builder emits.
// Artifacts record the schema they were trained against.
var FeatureSchema = []string{
	"recency_days",
	"frequency_count",
	"monetary_avg",
	"monetary_total",
	"tenure_days",
	"interpurchase_mean_days",
	"amount_trend",
}

// Values returns the numeric features in schema order.
func (fv *FeatureVector) Values() []float64 {
	return []float64{
		fv.RecencyDays,
		fv.FrequencyCount,
		fv.MonetaryAvg,
		fv.MonetaryTotal,
		fv.TenureDays,
		fv.InterpurchaseMeanDays,
		fv.AmountTrend,
	}
}

// Validate enforces the feature invariants: all values finite,
// frequency and recency non-negative.
func (fv *FeatureVector) Validate() error {
	for i, v := range fv.Values() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("feature %s must be finite, got: %f", FeatureSchema[i], v)
		}
	}

	if fv.FrequencyCount < 0 {
		return fmt.Errorf("frequency_count must be non-negative, got: %f", fv.FrequencyCount)
	}

	if fv.RecencyDays < 0 {
		return fmt.Errorf("recency_days must be non-negative, got: %f", fv.RecencyDays)
	}

	return nil
}

// LabeledOutcome pairs a customer's features with a historical churn label
// (churned within the training horizon). Used to train the churn classifier.
type LabeledOutcome struct {
	CustomerID string        `json:"customer_id"`
	Features   FeatureVector `json:"features"`
	Churned    bool          `json:"churned"`
}
