package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewRuleID generates a UUID v7 for a new rule.
func NewRuleID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to UUID v4 if v7 generation fails
		return uuid.New().String()
	}
	return id.String()
}

// PrepareReplace readies rules for a whole-channel replace: ChannelID is
// forced to channelID, missing IDs are generated and timestamps are stamped
// with now. Each row is validated, and duplicate orders or IDs within the
// set are rejected. The input slice is not modified.
func PrepareReplace(channelID string, rules []Rule, now time.Time) ([]Rule, error) {
	out := make([]Rule, len(rules))
	orders := make(map[int]bool, len(rules))
	ids := make(map[string]bool, len(rules))
	for i, r := range rules {
		r.ChannelID = channelID
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if orders[r.Order] {
			return nil, &ValidationError{Field: "order", Reason: fmt.Sprintf("duplicate order %d", r.Order)}
		}
		orders[r.Order] = true
		if r.ID == "" {
			r.ID = NewRuleID()
		}
		if ids[r.ID] {
			return nil, &ValidationError{Field: "id", Reason: fmt.Sprintf("duplicate id %s", r.ID)}
		}
		ids[r.ID] = true
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		r.UpdatedAt = now
		out[i] = r
	}
	return out, nil
}
