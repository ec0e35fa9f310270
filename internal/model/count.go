package model

import (
	"fmt"
	"strings"
	"time"
)

// Status is the approval state of a count.
type Status string

// Count statuses. DRAFT is initial, APPROVED and REJECTED are terminal.
const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusDraft, StatusSubmitted, StatusApproved, StatusRejected}

// ParseStatus accepts a status name in any letter case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusDraft, StatusSubmitted, StatusApproved, StatusRejected:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrValidation, s)
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// DateLayout is the wire and storage format of count dates.
const DateLayout = "2006-01-02"

// Count is one inventory-counting session.
type Count struct {
	ID              int64       `json:"id"`
	CountDate       string      `json:"count_date"`
	Status          Status      `json:"status"`
	CreatedBy       int64       `json:"created_by"`
	Notes           string      `json:"notes,omitempty"`
	RejectionReason string      `json:"rejection_reason,omitempty"`
	SubmittedAt     *time.Time  `json:"submitted_at,omitempty"`
	ReviewedAt      *time.Time  `json:"reviewed_at,omitempty"`
	ReviewedBy      *int64      `json:"reviewed_by,omitempty"`
	Items           []CountItem `json:"items,omitempty"`
	Version         int         `json:"version"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`

	// Joined fields (not always populated).
	CreatedByName  string `json:"created_by_name,omitempty"`
	ReviewedByName string `json:"reviewed_by_name,omitempty"`

	// Summary fields, computed from Items.
	ItemCount        int `json:"item_count"`
	TotalDiscrepancy int `json:"total_discrepancy"`
}

// CountItem is one line of a count. Lines are keyed by ItemID within a count.
type CountItem struct {
	ID               int64     `json:"id"`
	CountID          int64     `json:"count_id"`
	ItemID           int64     `json:"item_id"`
	ExpectedQuantity int       `json:"expected_quantity"`
	ActualQuantity   int       `json:"actual_quantity"`
	Discrepancy      int       `json:"discrepancy"`
	Significant      bool      `json:"has_significant_discrepancy"`
	Notes            string    `json:"notes,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	// Joined fields (not always populated).
	ItemName      string `json:"item_name,omitempty"`
	UnitOfMeasure string `json:"unit_of_measure,omitempty"`
}

// Actor is the authenticated user performing an operation.
type Actor struct {
	UserID int64
	Role   string
}

// CountFilter narrows count listings. Zero values mean no filter.
type CountFilter struct {
	Status    Status
	Search    string
	From      string
	To        string
	CreatedBy int64
	Limit     int
	Offset    int
}

// CountStats aggregates counts for dashboards.
type CountStats struct {
	Total            int            `json:"total_counts"`
	ByStatus         map[Status]int `json:"by_status"`
	Pending          int            `json:"pending_counts"`
	Approved         int            `json:"approved_counts"`
	TotalDiscrepancy int            `json:"total_discrepancy"`
}

// DiscrepancyLine is a count line joined with its count and item, used by
// reports and dashboards.
type DiscrepancyLine struct {
	CountID          int64   `json:"count_id"`
	CountDate        string  `json:"date"`
	ItemID           int64   `json:"item_id"`
	ItemName         string  `json:"item_name"`
	ExpectedQuantity int     `json:"expected"`
	ActualQuantity   int     `json:"actual"`
	Discrepancy      int     `json:"discrepancy"`
	VariancePercent  float64 `json:"variance_percentage"`
}

// CountLineInput is a requested count line. A nil ExpectedQuantity takes the
// item's par level.
type CountLineInput struct {
	ItemID           int64  `json:"item_id"`
	ExpectedQuantity *int   `json:"expected_quantity,omitempty"`
	ActualQuantity   int    `json:"actual_quantity"`
	Notes            string `json:"notes,omitempty"`
}

// CountInput is a request to create a count.
type CountInput struct {
	CountDate string           `json:"count_date"`
	Notes     string           `json:"notes"`
	Items     []CountLineInput `json:"items"`
}

// ItemDiscrepancies groups the discrepancy lines of one item.
type ItemDiscrepancies struct {
	ItemID        int64             `json:"item_id"`
	ItemName      string            `json:"item_name"`
	Discrepancies []DiscrepancyLine `json:"discrepancies"`
}
