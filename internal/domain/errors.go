package domain

import (
	"fmt"
	"strings"
	"time"
)

// SchemaError reports malformed input: required transaction fields are
// missing or unusable. Fatal for the whole batch, never retried.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("transaction schema invalid: missing fields [%s]", strings.Join(e.Missing, ", "))
}

// InsufficientHistoryError marks a customer with no transactions before the
// cutoff. Recoverable: callers skip the customer and continue the batch.
type InsufficientHistoryError struct {
	CustomerID string
	Cutoff     time.Time
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("customer %s has no transactions at or before cutoff %s",
		e.CustomerID, e.Cutoff.Format(time.RFC3339))
}

// FeatureMismatchError reports that a feature vector does not match the
// feature set a trained artifact was fit on. Fatal for that scoring call.
type FeatureMismatchError struct {
	Missing       []string
	Extra         []string
	OrderMismatch bool
}

func (e *FeatureMismatchError) Error() string {
	if e.OrderMismatch && len(e.Missing) == 0 && len(e.Extra) == 0 {
		return "feature order does not match the artifact's bound feature list"
	}
	return fmt.Sprintf("feature set does not match artifact: missing [%s], extra [%s]",
		strings.Join(e.Missing, ", "), strings.Join(e.Extra, ", "))
}

// UndefinedMetricError marks an evaluation metric that is undefined for the
// given fold (e.g. ROC-AUC on a single-class fold). Recorded, not fatal.
type UndefinedMetricError struct {
	Metric string
	Reason string
}

func (e *UndefinedMetricError) Error() string {
	return fmt.Sprintf("metric %s undefined: %s", e.Metric, e.Reason)
}

// TrainingDivergenceError reports a base learner that failed to converge or
// produced non-finite outputs. Fatal for that learner only; the ensemble
// decides whether to proceed with the survivors.
type TrainingDivergenceError struct {
	Learner string
	Reason  string
}

func (e *TrainingDivergenceError) Error() string {
	return fmt.Sprintf("learner %s diverged: %s", e.Learner, e.Reason)
}
