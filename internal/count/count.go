// Package count implements the count lifecycle: the status state machine,
// the rules for editing count lines, and the discrepancy arithmetic.
//
// Every operation takes the current count and returns a new one; the input is
// never modified, so a failed operation leaves the caller's value unchanged.
package count

import (
	"fmt"
	"strings"
	"time"

	"github.com/erazemk/popis/internal/model"
)

// Action is a lifecycle request against a count.
type Action string

// Lifecycle actions.
const (
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Next returns the status reached by applying action to a count in status from.
func Next(from model.Status, action Action) (model.Status, error) {
	switch from {
	case model.StatusDraft:
		switch action {
		case ActionSubmit:
			return model.StatusSubmitted, nil
		}
	case model.StatusSubmitted:
		switch action {
		case ActionApprove:
			return model.StatusApproved, nil
		case ActionReject:
			return model.StatusRejected, nil
		}
	case model.StatusApproved, model.StatusRejected:
	default:
		return "", fmt.Errorf("%w: unknown status %q", model.ErrInvalidTransition, from)
	}
	return "", fmt.Errorf("%w: cannot %s a %s count", model.ErrInvalidTransition, action, from)
}

// Discrepancy returns actual minus expected: positive is a surplus, negative a shortage.
func Discrepancy(line model.CountItem) int {
	return line.ActualQuantity - line.ExpectedQuantity
}

// TotalDiscrepancy sums the absolute per-line discrepancies, so a +5 and a -5
// line report 10.
func TotalDiscrepancy(lines []model.CountItem) int {
	total := 0
	for _, line := range lines {
		total += abs(Discrepancy(line))
	}
	return total
}

// Significant reports whether a line is off by more than 10% of its expected
// quantity. With nothing expected, any counted stock is significant.
func Significant(line model.CountItem) bool {
	if line.ExpectedQuantity == 0 {
		return line.ActualQuantity > 0
	}
	return abs(Discrepancy(line))*10 > line.ExpectedQuantity
}

// VariancePercent returns |discrepancy| as a percentage of the expected quantity.
func VariancePercent(line model.CountItem) float64 {
	if line.ExpectedQuantity == 0 {
		if line.ActualQuantity == 0 {
			return 0
		}
		return 100
	}
	return float64(abs(Discrepancy(line))) * 100 / float64(line.ExpectedQuantity)
}

// Summarize recomputes every derived field of c in place.
func Summarize(c *model.Count) {
	for i := range c.Items {
		c.Items[i].Discrepancy = Discrepancy(c.Items[i])
		c.Items[i].Significant = Significant(c.Items[i])
	}
	c.ItemCount = len(c.Items)
	c.TotalDiscrepancy = TotalDiscrepancy(c.Items)
}

// New assembles a draft count owned by actor. An empty date means today.
func New(actor model.Actor, date, notes string, lines []model.CountItem, now time.Time) (*model.Count, error) {
	if actor.UserID <= 0 {
		return nil, fmt.Errorf("%w: count must have a creator", model.ErrValidation)
	}
	if date == "" {
		date = now.Format(model.DateLayout)
	}
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: count_date must be YYYY-MM-DD", model.ErrValidation)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: count needs at least one item", model.ErrValidation)
	}

	c := &model.Count{
		CountDate: date,
		Status:    model.StatusDraft,
		CreatedBy: actor.UserID,
		Notes:     strings.TrimSpace(notes),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, line := range lines {
		if err := appendLine(c, line, now); err != nil {
			return nil, err
		}
	}
	Summarize(c)
	return c, nil
}

// AddItem appends a line to a draft count.
func AddItem(c *model.Count, actor model.Actor, line model.CountItem, now time.Time) (*model.Count, error) {
	if err := CheckEditable(c, actor); err != nil {
		return nil, err
	}
	next := clone(c)
	if err := appendLine(next, line, now); err != nil {
		return nil, err
	}
	touch(next, now)
	return next, nil
}

// LineUpdate holds the optional changes to a count line.
type LineUpdate struct {
	ActualQuantity *int
	Notes          *string
}

// UpdateItem changes the actual quantity or notes of the line for itemID.
func UpdateItem(c *model.Count, actor model.Actor, itemID int64, upd LineUpdate, now time.Time) (*model.Count, error) {
	if err := CheckEditable(c, actor); err != nil {
		return nil, err
	}
	i := lineIndex(c, itemID)
	if i < 0 {
		return nil, fmt.Errorf("%w: item %d is not in count", model.ErrNotFound, itemID)
	}
	if upd.ActualQuantity != nil && *upd.ActualQuantity < 0 {
		return nil, fmt.Errorf("%w: actual_quantity must not be negative", model.ErrValidation)
	}

	next := clone(c)
	line := &next.Items[i]
	if upd.ActualQuantity != nil {
		line.ActualQuantity = *upd.ActualQuantity
	}
	if upd.Notes != nil {
		line.Notes = strings.TrimSpace(*upd.Notes)
	}
	line.UpdatedAt = now
	touch(next, now)
	return next, nil
}

// RemoveItem drops the line for itemID from a draft count.
func RemoveItem(c *model.Count, actor model.Actor, itemID int64, now time.Time) (*model.Count, error) {
	if err := CheckEditable(c, actor); err != nil {
		return nil, err
	}
	i := lineIndex(c, itemID)
	if i < 0 {
		return nil, fmt.Errorf("%w: item %d is not in count", model.ErrNotFound, itemID)
	}

	next := clone(c)
	next.Items = append(next.Items[:i], next.Items[i+1:]...)
	touch(next, now)
	return next, nil
}

// Submit moves a draft count to review. Non-empty notes replace the count's notes.
func Submit(c *model.Count, actor model.Actor, notes string, now time.Time) (*model.Count, error) {
	status, err := Next(c.Status, ActionSubmit)
	if err != nil {
		return nil, err
	}
	if !isAuthor(c, actor) {
		return nil, fmt.Errorf("%w: only the author can submit this count", model.ErrForbidden)
	}
	if len(c.Items) == 0 {
		return nil, fmt.Errorf("%w: cannot submit an empty count", model.ErrValidation)
	}

	next := clone(c)
	next.Status = status
	next.SubmittedAt = &now
	if n := strings.TrimSpace(notes); n != "" {
		next.Notes = n
	}
	touch(next, now)
	return next, nil
}

// Approve accepts a submitted count.
func Approve(c *model.Count, actor model.Actor, now time.Time) (*model.Count, error) {
	status, err := Next(c.Status, ActionApprove)
	if err != nil {
		return nil, err
	}
	if !model.CanReview(actor.Role) {
		return nil, fmt.Errorf("%w: approving counts requires manager role", model.ErrForbidden)
	}

	next := clone(c)
	next.Status = status
	review(next, actor, now)
	return next, nil
}

// Reject sends a submitted count back with a reason. The count stays rejected.
func Reject(c *model.Count, actor model.Actor, reason string, now time.Time) (*model.Count, error) {
	status, err := Next(c.Status, ActionReject)
	if err != nil {
		return nil, err
	}
	if !model.CanReview(actor.Role) {
		return nil, fmt.Errorf("%w: rejecting counts requires manager role", model.ErrForbidden)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason required", model.ErrValidation)
	}

	next := clone(c)
	next.Status = status
	next.RejectionReason = reason
	review(next, actor, now)
	return next, nil
}

// CheckDelete reports whether actor may delete c. Only drafts can be deleted;
// everything else is kept for audit.
func CheckDelete(c *model.Count, actor model.Actor) error {
	if c.Status != model.StatusDraft {
		return fmt.Errorf("%w: only draft counts can be deleted, count is %s", model.ErrInvalidTransition, c.Status)
	}
	if !isAuthor(c, actor) {
		return fmt.Errorf("%w: only the author can delete this count", model.ErrForbidden)
	}
	return nil
}

// CanView reports whether actor may read c. Staff only see their own counts.
func CanView(c *model.Count, actor model.Actor) bool {
	return c.CreatedBy == actor.UserID || model.CanReview(actor.Role)
}

// CheckEditable reports whether actor may change the lines of c.
func CheckEditable(c *model.Count, actor model.Actor) error {
	if c.Status != model.StatusDraft {
		return fmt.Errorf("%w: items of a %s count are read-only", model.ErrInvalidTransition, c.Status)
	}
	if !isAuthor(c, actor) {
		return fmt.Errorf("%w: only the author can modify this count", model.ErrForbidden)
	}
	return nil
}

// isAuthor is true for the creator and for admins acting on their behalf.
func isAuthor(c *model.Count, actor model.Actor) bool {
	return c.CreatedBy == actor.UserID || actor.Role == model.RoleAdmin
}

func appendLine(c *model.Count, line model.CountItem, now time.Time) error {
	if line.ItemID <= 0 {
		return fmt.Errorf("%w: item_id required", model.ErrValidation)
	}
	if line.ExpectedQuantity < 0 || line.ActualQuantity < 0 {
		return fmt.Errorf("%w: quantities must not be negative", model.ErrValidation)
	}
	if lineIndex(c, line.ItemID) >= 0 {
		return fmt.Errorf("%w: item %d is already in count", model.ErrValidation, line.ItemID)
	}

	line.ID = 0
	line.CountID = c.ID
	line.Notes = strings.TrimSpace(line.Notes)
	line.CreatedAt = now
	line.UpdatedAt = now
	c.Items = append(c.Items, line)
	return nil
}

func lineIndex(c *model.Count, itemID int64) int {
	for i, line := range c.Items {
		if line.ItemID == itemID {
			return i
		}
	}
	return -1
}

func review(c *model.Count, actor model.Actor, now time.Time) {
	reviewer := actor.UserID
	c.ReviewedBy = &reviewer
	c.ReviewedAt = &now
	touch(c, now)
}

func touch(c *model.Count, now time.Time) {
	c.UpdatedAt = now
	Summarize(c)
}

func clone(c *model.Count) *model.Count {
	next := *c
	next.Items = append([]model.CountItem(nil), c.Items...)
	return &next
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
