package models

import (
	"errors"
	"time"
)

var (
	ErrInvalidActivationID = errors.New("invalid activation ID")
	ErrInvalidRuleID       = errors.New("invalid rule ID")
	ErrInvalidTimestamp    = errors.New("invalid timestamp")
)

// Activation records one fired rule for external consumers
type Activation struct {
	ID        string                 `json:"id"`
	Container string                 `json:"container"`
	RuleID    string                 `json:"rule_id"`
	RuleName  string                 `json:"rule_name"`
	Token     string                 `json:"token,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Finished  bool                   `json:"finished"`
	Payload   string                 `json:"payload,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Validate validates an Activation
func (a *Activation) Validate() error {
	if a.ID == "" {
		return ErrInvalidActivationID
	}
	if a.RuleID == "" {
		return ErrInvalidRuleID
	}
	if a.Timestamp.IsZero() {
		return ErrInvalidTimestamp
	}
	return nil
}
