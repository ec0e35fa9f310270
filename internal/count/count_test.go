package count

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/popis/internal/model"
)

var (
	author   = model.Actor{UserID: 1, Role: model.RoleStaff}
	stranger = model.Actor{UserID: 2, Role: model.RoleStaff}
	manager  = model.Actor{UserID: 3, Role: model.RoleManager}
	admin    = model.Actor{UserID: 4, Role: model.RoleAdmin}

	now = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
)

func line(itemID int64, expected, actual int) model.CountItem {
	return model.CountItem{ItemID: itemID, ExpectedQuantity: expected, ActualQuantity: actual}
}

func newDraft(t *testing.T, lines ...model.CountItem) *model.Count {
	t.Helper()
	c, err := New(author, "2026-03-14", "weekly", lines, now)
	require.NoError(t, err)
	return c
}

func submitted(t *testing.T) *model.Count {
	t.Helper()
	c, err := Submit(newDraft(t, line(1, 100, 95)), author, "", now)
	require.NoError(t, err)
	return c
}

func TestNext(t *testing.T) {
	tests := []struct {
		from   model.Status
		action Action
		want   model.Status
		ok     bool
	}{
		{model.StatusDraft, ActionSubmit, model.StatusSubmitted, true},
		{model.StatusDraft, ActionApprove, "", false},
		{model.StatusDraft, ActionReject, "", false},
		{model.StatusSubmitted, ActionSubmit, "", false},
		{model.StatusSubmitted, ActionApprove, model.StatusApproved, true},
		{model.StatusSubmitted, ActionReject, model.StatusRejected, true},
		{model.StatusApproved, ActionSubmit, "", false},
		{model.StatusApproved, ActionApprove, "", false},
		{model.StatusApproved, ActionReject, "", false},
		{model.StatusRejected, ActionSubmit, "", false},
		{model.StatusRejected, ActionApprove, "", false},
		{model.StatusRejected, ActionReject, "", false},
		{"bogus", ActionSubmit, "", false},
	}

	for _, tt := range tests {
		got, err := Next(tt.from, tt.action)
		if tt.ok {
			require.NoError(t, err, "%s + %s", tt.from, tt.action)
			assert.Equal(t, tt.want, got)
		} else {
			assert.ErrorIs(t, err, model.ErrInvalidTransition, "%s + %s", tt.from, tt.action)
		}
	}
}

func TestNewComputesDiscrepancies(t *testing.T) {
	c := newDraft(t, line(1, 100, 95))

	assert.Equal(t, model.StatusDraft, c.Status)
	require.Len(t, c.Items, 1)
	assert.Equal(t, -5, c.Items[0].Discrepancy)
	assert.Equal(t, 5, c.TotalDiscrepancy)
	assert.Equal(t, 1, c.ItemCount)
}

func TestTotalDiscrepancyUsesAbsoluteValues(t *testing.T) {
	c := newDraft(t, line(1, 100, 95), line(2, 50, 55))

	assert.Equal(t, -5, c.Items[0].Discrepancy)
	assert.Equal(t, 5, c.Items[1].Discrepancy)
	assert.Equal(t, 10, c.TotalDiscrepancy)
	assert.Equal(t, 0, TotalDiscrepancy(nil))
}

func TestNewValidation(t *testing.T) {
	_, err := New(author, "2026-03-14", "", nil, now)
	assert.ErrorIs(t, err, model.ErrValidation, "empty item list")

	_, err = New(author, "2026-03-14", "", []model.CountItem{line(1, -1, 0)}, now)
	assert.ErrorIs(t, err, model.ErrValidation, "negative expected")

	_, err = New(author, "2026-03-14", "", []model.CountItem{line(1, 1, -1)}, now)
	assert.ErrorIs(t, err, model.ErrValidation, "negative actual")

	_, err = New(author, "14.3.2026", "", []model.CountItem{line(1, 1, 1)}, now)
	assert.ErrorIs(t, err, model.ErrValidation, "bad date")

	_, err = New(author, "", "", []model.CountItem{line(1, 1, 1), line(1, 2, 2)}, now)
	assert.ErrorIs(t, err, model.ErrValidation, "duplicate item")
}

func TestNewDefaultsDateToToday(t *testing.T) {
	c, err := New(author, "", "", []model.CountItem{line(1, 1, 1)}, now)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-14", c.CountDate)
}

func TestDraftEditing(t *testing.T) {
	c := newDraft(t, line(1, 10, 10))

	c2, err := AddItem(c, author, line(2, 4, 7), now)
	require.NoError(t, err)
	assert.Len(t, c2.Items, 2)
	assert.Len(t, c.Items, 1, "input must not change")
	assert.Equal(t, 3, c2.TotalDiscrepancy)

	qty := 6
	c3, err := UpdateItem(c2, author, 1, LineUpdate{ActualQuantity: &qty}, now)
	require.NoError(t, err)
	assert.Equal(t, -4, c3.Items[0].Discrepancy)
	assert.Equal(t, 10, c2.Items[0].ActualQuantity, "input must not change")

	c4, err := RemoveItem(c3, author, 2, now)
	require.NoError(t, err)
	assert.Len(t, c4.Items, 1)
	assert.Equal(t, 4, c4.TotalDiscrepancy)

	_, err = RemoveItem(c4, author, 99, now)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = AddItem(c4, stranger, line(5, 1, 1), now)
	assert.ErrorIs(t, err, model.ErrForbidden)

	_, err = AddItem(c4, admin, line(5, 1, 1), now)
	assert.NoError(t, err, "admins may edit on the author's behalf")
}

func TestSubmittedItemsAreReadOnly(t *testing.T) {
	c := submitted(t)
	qty := 1

	_, err := AddItem(c, author, line(9, 1, 1), now)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	_, err = UpdateItem(c, author, 1, LineUpdate{ActualQuantity: &qty}, now)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	_, err = RemoveItem(c, author, 1, now)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestSubmitTwiceFails(t *testing.T) {
	c := submitted(t)

	assert.Equal(t, model.StatusSubmitted, c.Status)
	require.NotNil(t, c.SubmittedAt)
	assert.Equal(t, now, *c.SubmittedAt)

	_, err := Submit(c, author, "", now.Add(time.Hour))
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.Equal(t, now, *c.SubmittedAt)
}

func TestSubmitEmptyCount(t *testing.T) {
	c := newDraft(t, line(1, 1, 1))
	c, err := RemoveItem(c, author, 1, now)
	require.NoError(t, err)

	_, err = Submit(c, author, "", now)
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, model.StatusDraft, c.Status)
}

func TestSubmitByStranger(t *testing.T) {
	_, err := Submit(newDraft(t, line(1, 1, 1)), stranger, "", now)
	assert.ErrorIs(t, err, model.ErrForbidden)
}

func TestApprove(t *testing.T) {
	c := submitted(t)

	_, err := Approve(c, author, now)
	assert.ErrorIs(t, err, model.ErrForbidden)

	approved, err := Approve(c, manager, now)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, approved.Status)
	require.NotNil(t, approved.ReviewedBy)
	assert.Equal(t, manager.UserID, *approved.ReviewedBy)
	assert.NotNil(t, approved.ReviewedAt)
	assert.Empty(t, approved.RejectionReason)

	again, err := Approve(approved, manager, now)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.Nil(t, again)
	assert.Equal(t, model.StatusApproved, approved.Status)
}

func TestApproveDraftFails(t *testing.T) {
	_, err := Approve(newDraft(t, line(1, 1, 1)), manager, now)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestReject(t *testing.T) {
	c := submitted(t)

	_, err := Reject(c, manager, "   ", now)
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, model.StatusSubmitted, c.Status)
	assert.Nil(t, c.ReviewedAt)

	_, err = Reject(c, author, "Discrepancies found", now)
	assert.ErrorIs(t, err, model.ErrForbidden)

	rejected, err := Reject(c, manager, "Discrepancies found", now)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, rejected.Status)
	assert.Equal(t, "Discrepancies found", rejected.RejectionReason)
	assert.NotNil(t, rejected.ReviewedAt)

	_, err = Approve(rejected, manager, now)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	_, err = Submit(rejected, author, "", now)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestCheckDelete(t *testing.T) {
	draft := newDraft(t, line(1, 1, 1))
	assert.NoError(t, CheckDelete(draft, author))
	assert.ErrorIs(t, CheckDelete(draft, stranger), model.ErrForbidden)

	assert.ErrorIs(t, CheckDelete(submitted(t), author), model.ErrInvalidTransition)
}

func TestCanView(t *testing.T) {
	c := newDraft(t, line(1, 1, 1))
	assert.True(t, CanView(c, author))
	assert.True(t, CanView(c, manager))
	assert.False(t, CanView(c, stranger))
}

func TestSignificant(t *testing.T) {
	tests := []struct {
		expected, actual int
		want             bool
	}{
		{100, 95, false},
		{100, 90, false},
		{100, 89, true},
		{100, 111, true},
		{0, 0, false},
		{0, 1, true},
		{5, 4, true},
	}
	for _, tt := range tests {
		got := Significant(line(1, tt.expected, tt.actual))
		assert.Equal(t, tt.want, got, "expected=%d actual=%d", tt.expected, tt.actual)
	}
}

func TestVariancePercent(t *testing.T) {
	assert.InDelta(t, 5.0, VariancePercent(line(1, 100, 95)), 1e-9)
	assert.InDelta(t, 0.0, VariancePercent(line(1, 0, 0)), 1e-9)
	assert.InDelta(t, 100.0, VariancePercent(line(1, 0, 3)), 1e-9)
}
