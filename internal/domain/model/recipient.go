package model

import "errors"

// Recipient is a resolved audience member. Attributes carry the raw profile
// the segment filter matched against; templates render from the same map.
type Recipient struct {
	ID         string         `json:"id"`
	Address    string         `json:"address"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Validate checks the fields delivery depends on.
func (r *Recipient) Validate() error {
	if r.ID == "" {
		return errors.New("recipient id is required")
	}
	if r.Address == "" {
		return errors.New("recipient address is required")
	}
	return nil
}

// Suppression records an address removed from all future outreach, typically
// after a permanent delivery failure or an unsubscribe.
type Suppression struct {
	RecipientID string `json:"recipient_id" db:"recipient_id"`
	Address     string `json:"address"      db:"address"`
	Reason      string `json:"reason"       db:"reason"`
}
