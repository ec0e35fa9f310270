package model

import "time"

// Adjustment is one change to an item's current quantity.
type Adjustment struct {
	ID               int64     `json:"id"`
	ItemID           int64     `json:"item_id"`
	CountID          *int64    `json:"count_id,omitempty"`
	PreviousQuantity int       `json:"previous_quantity"`
	NewQuantity      int       `json:"new_quantity"`
	Delta            int       `json:"delta"`
	Reason           string    `json:"reason,omitempty"`
	AdjustedBy       *int64    `json:"adjusted_by,omitempty"`
	AdjustedAt       time.Time `json:"adjusted_at"`

	// Joined fields (not always populated).
	ItemName       string `json:"item_name,omitempty"`
	AdjustedByName string `json:"adjusted_by_name,omitempty"`
}

// Adjustment reasons written by the system.
const (
	ReasonCountApproved = "count approved"
	ReasonManual        = "manual adjustment"
)
