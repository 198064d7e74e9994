package resilience

import (
	"time"
)

// ItemFailure records one candidate listing that failed mid-scan. A scan
// completes partially rather than aborting on per-item errors; failures are
// collected for the scan report.
type ItemFailure struct {
	ItemID    string    `json:"item_id"`
	Phase     string    `json:"phase,omitempty"` // "fetch", "score", "persist"
	Error     string    `json:"error"`
	ErrorType string    `json:"error_type"` // "transient" or "permanent"
	FailedAt  time.Time `json:"failed_at"`
}

// NewItemFailure builds a failure record from an error, classifying it.
func NewItemFailure(itemID, phase string, err error, at time.Time) ItemFailure {
	return ItemFailure{
		ItemID:    itemID,
		Phase:     phase,
		Error:     err.Error(),
		ErrorType: ClassifyError(err),
		FailedAt:  at,
	}
}

// ClassifyError categorizes an error as "transient" or "permanent".
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}
