package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/popis/internal/db"
	"github.com/erazemk/popis/internal/model"
	"github.com/erazemk/popis/internal/store"
)

const (
	testJWTSecret = "test-secret"
	testPassword  = "password"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

type testServer struct {
	*httptest.Server
	db    *sql.DB
	flour *model.Item
	sugar *model.Item
}

func setupTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	database := db.NewTestDB(t)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	for _, u := range []struct{ name, role string }{
		{"admin", model.RoleAdmin},
		{"mia", model.RoleManager},
		{"ana", model.RoleStaff},
		{"bor", model.RoleStaff},
	} {
		_, err := store.CreateUser(ctx, database, u.name, string(hash), u.role)
		require.NoError(t, err)
	}

	flour, err := store.CreateItem(ctx, database, model.ItemInput{
		Name: "Flour", Category: model.CategoryDryGoods, UnitOfMeasure: "kg", ParLevel: 100, CurrentQuantity: 90,
	}, nil)
	require.NoError(t, err)
	sugar, err := store.CreateItem(ctx, database, model.ItemInput{
		Name: "Sugar", Category: model.CategoryDryGoods, UnitOfMeasure: "kg", ParLevel: 50, CurrentQuantity: 50,
	}, nil)
	require.NoError(t, err)

	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	server := httptest.NewServer(NewRouter(database, testJWTSecret, opts))
	t.Cleanup(server.Close)

	return &testServer{Server: server, db: database, flour: flour, sugar: sugar}
}

func (s *testServer) login(t *testing.T, username string) string {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": username, "password": testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode, "login as %s", username)

	var body loginResponse
	decode(t, resp, &body)
	require.NotEmpty(t, body.Token)
	return body.Token
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

func (s *testServer) createCount(t *testing.T, token string, lines ...model.CountLineInput) *model.Count {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/counts", token, model.CountInput{Items: lines})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var c model.Count
	decode(t, resp, &c)
	return &c
}

func intPtr(n int) *int { return &n }

func TestLogin(t *testing.T) {
	s := setupTestServer(t, Options{})

	resp := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "nobody", "password": testPassword})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token := s.login(t, "mia")
	resp = s.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var me model.User
	decode(t, resp, &me)
	assert.Equal(t, "mia", me.Username)
	assert.Equal(t, model.RoleManager, me.Role)
}

func TestLoginRateLimited(t *testing.T) {
	s := setupTestServer(t, Options{LoginRate: 0.001, LoginBurst: 2})

	creds := map[string]string{"username": "admin", "password": "wrong"}
	for i := 0; i < 2; i++ {
		resp := s.do(t, http.MethodPost, "/api/auth/login", "", creds)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp := s.do(t, http.MethodPost, "/api/auth/login", "", creds)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestLogoutRevokesToken(t *testing.T) {
	s := setupTestServer(t, Options{})
	token := s.login(t, "ana")

	resp := s.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A fresh login still works.
	resp = s.do(t, http.MethodGet, "/api/auth/me", s.login(t, "ana"), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMissingToken(t *testing.T) {
	s := setupTestServer(t, Options{})

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/counts", "", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/counts", "garbage", nil).StatusCode)
}

func TestChangePassword(t *testing.T) {
	s := setupTestServer(t, Options{})
	token := s.login(t, "ana")

	resp := s.do(t, http.MethodPut, "/api/auth/password", token, changePasswordRequest{
		CurrentPassword: testPassword, NewPassword: "short",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPut, "/api/auth/password", token, changePasswordRequest{
		CurrentPassword: "wrong-password", NewPassword: "a-much-better-one",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = s.do(t, http.MethodPut, "/api/auth/password", token, changePasswordRequest{
		CurrentPassword: testPassword, NewPassword: "a-much-better-one",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "ana", "password": "a-much-better-one"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCountLifecycle(t *testing.T) {
	s := setupTestServer(t, Options{})
	staff, manager := s.login(t, "ana"), s.login(t, "mia")

	c := s.createCount(t, staff,
		model.CountLineInput{ItemID: s.flour.ID, ActualQuantity: 95},
		model.CountLineInput{ItemID: s.sugar.ID, ExpectedQuantity: intPtr(40), ActualQuantity: 44, Notes: "open bag"},
	)
	assert.Equal(t, model.StatusDraft, c.Status)
	assert.Equal(t, testNow.Format(model.DateLayout), c.CountDate)
	require.Len(t, c.Items, 2)
	assert.Equal(t, -5, c.Items[0].Discrepancy)
	assert.Equal(t, 4, c.Items[1].Discrepancy)
	assert.False(t, c.Items[0].Significant)
	assert.Equal(t, 9, c.TotalDiscrepancy)

	path := fmt.Sprintf("/api/counts/%d", c.ID)

	// Draft editing.
	resp := s.do(t, http.MethodPut, fmt.Sprintf("%s/items/%d", path, s.flour.ID), staff, updateLineRequest{ActualQuantity: intPtr(70)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, c)
	assert.Equal(t, -30, c.Items[0].Discrepancy)
	assert.True(t, c.Items[0].Significant)

	// Reviewing a draft is a state error, staff reviewing is a permission error.
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, path+"/approve", manager, nil).StatusCode)

	resp = s.do(t, http.MethodPost, path+"/submit", staff, submitRequest{Notes: "end of day"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, c)
	assert.Equal(t, model.StatusSubmitted, c.Status)
	assert.Equal(t, "end of day", c.Notes)
	require.NotNil(t, c.SubmittedAt)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, path+"/approve", staff, nil).StatusCode)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, path+"/submit", staff, nil).StatusCode)
	assert.Equal(t, http.StatusConflict,
		s.do(t, http.MethodPut, fmt.Sprintf("%s/items/%d", path, s.flour.ID), staff, updateLineRequest{ActualQuantity: intPtr(1)}).StatusCode)

	resp = s.do(t, http.MethodPost, path+"/approve", manager, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, c)
	assert.Equal(t, model.StatusApproved, c.Status)
	assert.Equal(t, "mia", c.ReviewedByName)

	// Approval applied the counted quantities.
	flour, err := store.GetItem(context.Background(), s.db, s.flour.ID)
	require.NoError(t, err)
	assert.Equal(t, 70, flour.CurrentQuantity)

	resp = s.do(t, http.MethodGet, fmt.Sprintf("/api/items/%d/history", s.flour.ID), manager, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var history []model.Adjustment
	decode(t, resp, &history)
	require.Len(t, history, 1)
	assert.Equal(t, -20, history[0].Delta)
	assert.Equal(t, model.ReasonCountApproved, history[0].Reason)

	// Terminal.
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, path+"/reject", manager, rejectRequest{Reason: "late"}).StatusCode)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, path+"/approve", manager, nil).StatusCode)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodDelete, path, staff, nil).StatusCode)
}

func TestApproveWithoutStock(t *testing.T) {
	s := setupTestServer(t, Options{})
	staff, manager := s.login(t, "ana"), s.login(t, "mia")

	c := s.createCount(t, staff, model.CountLineInput{ItemID: s.flour.ID, ActualQuantity: 10})
	path := fmt.Sprintf("/api/counts/%d", c.ID)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, path+"/submit", staff, nil).StatusCode)

	no := false
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, path+"/approve", manager, approveRequest{ApplyToStock: &no}).StatusCode)

	flour, err := store.GetItem(context.Background(), s.db, s.flour.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, flour.CurrentQuantity)
}

func TestRejectCount(t *testing.T) {
	s := setupTestServer(t, Options{})
	staff, manager := s.login(t, "ana"), s.login(t, "mia")

	c := s.createCount(t, staff, model.CountLineInput{ItemID: s.flour.ID, ActualQuantity: 10})
	path := fmt.Sprintf("/api/counts/%d", c.ID)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, path+"/submit", staff, nil).StatusCode)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, path+"/reject", manager, rejectRequest{Reason: "  "}).StatusCode)

	resp := s.do(t, http.MethodPost, path+"/reject", manager, rejectRequest{Reason: "recount the back shelf"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, c)
	assert.Equal(t, model.StatusRejected, c.Status)
	assert.Equal(t, "recount the back shelf", c.RejectionReason)

	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, path+"/approve", manager, nil).StatusCode)
}

func TestCreateCountValidation(t *testing.T) {
	s := setupTestServer(t, Options{})
	staff := s.login(t, "ana")

	tests := []struct {
		name string
		body any
	}{
		{"no items", model.CountInput{}},
		{"negative quantity", model.CountInput{Items: []model.CountLineInput{{ItemID: s.flour.ID, ActualQuantity: -1}}}},
		{"bad date", model.CountInput{CountDate: "14.3.2026", Items: []model.CountLineInput{{ItemID: s.flour.ID}}}},
		{"not json", "]["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, http.MethodPost, "/api/counts", staff, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestCountWithUnknownItem(t *testing.T) {
	s := setupTestServer(t, Options{})
	staff := s.login(t, "ana")

	resp := s.do(t, http.MethodPost, "/api/counts", staff,
		model.CountInput{Items: []model.CountLineInput{{ItemID: 9999, ActualQuantity: 1}}})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	c := s.createCount(t, staff, model.CountLineInput{ItemID: s.flour.ID, ActualQuantity: 1})
	resp = s.do(t, http.MethodPost, fmt.Sprintf("/api/counts/%d/items", c.ID), staff,
		model.CountLineInput{ItemID: 9999, ActualQuantity: 1})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStaffSeeOwnCountsOnly(t *testing.T) {
	s := setupTestServer(t, Options{})
	ana, bor, manager := s.login(t, "ana"), s.login(t, "bor"), s.login(t, "mia")

	mine := s.createCount(t, ana, model.CountLineInput{ItemID: s.flour.ID, ActualQuantity: 1})
	s.createCount(t, bor, model.CountLineInput{ItemID: s.sugar.ID, ActualQuantity: 2})

	var counts []model.Count
	resp := s.do(t, http.MethodGet, "/api/counts", ana, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &counts)
	require.Len(t, counts, 1)
	assert.Equal(t, mine.ID, counts[0].ID)

	resp = s.do(t, http.MethodGet, "/api/counts", manager, nil)
	decode(t, resp, &counts)
	assert.Len(t, counts, 2)

	path := fmt.Sprintf("/api/counts/%d", mine.ID)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, path, bor, nil).StatusCode)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodDelete, path, bor, nil).StatusCode)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, path, manager, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/counts/9999", manager, nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/counts/abc", manager, nil).StatusCode)

	var stats model.CountStats
	decode(t, s.do(t, http.MethodGet, "/api/counts/stats", bor, nil), &stats)
	assert.Equal(t, 1, stats.Total)
	decode(t, s.do(t, http.MethodGet, "/api/counts/stats", manager, nil), &stats)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.ByStatus[model.StatusDraft])

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, path+"/submit", ana, nil).StatusCode)
	for _, action := range []string{"/submit", "/approve"} {
		assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, path+action, bor, nil).StatusCode, action)
	}
	assert.Equal(t, http.StatusForbidden,
		s.do(t, http.MethodPost, path+"/reject", bor, rejectRequest{Reason: "no"}).StatusCode)
	assert.Equal(t, http.StatusForbidden,
		s.do(t, http.MethodPost, path+"/items", bor, model.CountLineInput{ItemID: s.sugar.ID, ActualQuantity: 1}).StatusCode)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, path+"/submit", ana, nil).StatusCode)
}

func TestListCountsQuery(t *testing.T) {
	s := setupTestServer(t, Options{})
	manager := s.login(t, "mia")

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/counts?status=lost", manager, nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/counts?from=yesterday", manager, nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/counts?limit=-1", manager, nil).StatusCode)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/counts?status=DRAFT&limit=10&offset=0", manager, nil).StatusCode)
}

func TestDeleteDraft(t *testing.T) {
	s := setupTestServer(t, Options{})
	staff := s.login(t, "ana")

	c := s.createCount(t, staff, model.CountLineInput{ItemID: s.flour.ID, ActualQuantity: 1})
	path := fmt.Sprintf("/api/counts/%d", c.ID)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, path, staff, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, path, staff, nil).StatusCode)
}

func TestCountLineEndpoints(t *testing.T) {
	s := setupTestServer(t, Options{})
	staff := s.login(t, "ana")

	c := s.createCount(t, staff, model.CountLineInput{ItemID: s.flour.ID, ActualQuantity: 1})
	path := fmt.Sprintf("/api/counts/%d", c.ID)

	resp := s.do(t, http.MethodPost, path+"/items", staff, model.CountLineInput{ItemID: s.sugar.ID, ActualQuantity: 47})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, c)
	require.Len(t, c.Items, 2)
	assert.Equal(t, 50, c.Items[1].ExpectedQuantity)

	// The same item cannot be counted twice.
	resp = s.do(t, http.MethodPost, path+"/items", staff, model.CountLineInput{ItemID: s.sugar.ID, ActualQuantity: 1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodDelete, fmt.Sprintf("%s/items/%d", path, s.flour.ID), staff, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, c)
	require.Len(t, c.Items, 1)
	assert.Equal(t, s.sugar.ID, c.Items[0].ItemID)

	resp = s.do(t, http.MethodDelete, fmt.Sprintf("%s/items/%d", path, s.flour.ID), staff, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExportCounts(t *testing.T) {
	s := setupTestServer(t, Options{})
	staff, manager := s.login(t, "ana"), s.login(t, "mia")
	s.createCount(t, staff,
		model.CountLineInput{ItemID: s.flour.ID, ActualQuantity: 95},
		model.CountLineInput{ItemID: s.sugar.ID, ActualQuantity: 53},
	)

	resp := s.do(t, http.MethodGet, "/api/counts/export?format=csv", manager, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")
	records, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, exportHeader, records[0])
	assert.Equal(t, []string{"2026-03-14", "draft", "ana", "2", "8"}, records[1][1:6])

	resp = s.do(t, http.MethodGet, "/api/counts/export?format=xlsx", manager, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Total discrepancy", rows[0][5])
	assert.Equal(t, "8", rows[1][5])

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/counts/export?format=pdf", manager, nil).StatusCode)
}

func TestDashboard(t *testing.T) {
	s := setupTestServer(t, Options{})
	staff, manager := s.login(t, "ana"), s.login(t, "mia")

	c := s.createCount(t, staff, model.CountLineInput{ItemID: s.flour.ID, ActualQuantity: 60})
	var staffView staffDashboard
	decode(t, s.do(t, http.MethodGet, "/api/dashboard", staff, nil), &staffView)
	require.Len(t, staffView.ActiveCounts, 1)
	assert.Equal(t, c.ID, staffView.ActiveCounts[0].ID)
	assert.Len(t, staffView.RecentCounts, 1)

	path := fmt.Sprintf("/api/counts/%d", c.ID)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, path+"/submit", staff, nil).StatusCode)

	var pending managerDashboard
	decode(t, s.do(t, http.MethodGet, "/api/dashboard", manager, nil), &pending)
	assert.Equal(t, 2, pending.TotalItems)
	assert.Equal(t, 1, pending.LowStockCount)
	assert.Equal(t, 1, pending.PendingApprovals)
	assert.Empty(t, pending.TopDiscrepancies)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, path+"/approve", manager, nil).StatusCode)

	var approved managerDashboard
	decode(t, s.do(t, http.MethodGet, "/api/dashboard", manager, nil), &approved)
	assert.Equal(t, 0, approved.PendingApprovals)
	require.Len(t, approved.TopDiscrepancies, 1)
	assert.Equal(t, -40, approved.TopDiscrepancies[0].Discrepancy)
	assert.Len(t, approved.RecentCounts, 1)
}

func TestReports(t *testing.T) {
	s := setupTestServer(t, Options{})
	staff, manager := s.login(t, "ana"), s.login(t, "mia")

	c := s.createCount(t, staff,
		model.CountLineInput{ItemID: s.flour.ID, ActualQuantity: 60},
		model.CountLineInput{ItemID: s.sugar.ID, ActualQuantity: 49},
	)
	path := fmt.Sprintf("/api/counts/%d", c.ID)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, path+"/submit", staff, nil).StatusCode)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, path+"/approve", manager, nil).StatusCode)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/reports/counts?from=2026-03-01", staff, nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/reports/counts", manager, nil).StatusCode)

	var counts []model.Count
	decode(t, s.do(t, http.MethodGet, "/api/reports/counts?from=2026-03-01&to=2026-03-31", manager, nil), &counts)
	assert.Len(t, counts, 1)

	var report []model.ItemDiscrepancies
	decode(t, s.do(t, http.MethodGet, "/api/reports/discrepancies?from=2026-03-01", manager, nil), &report)
	require.Len(t, report, 1)
	assert.Equal(t, "Flour", report[0].ItemName)
	require.Len(t, report[0].Discrepancies, 1)
	assert.Equal(t, 40.0, report[0].Discrepancies[0].VariancePercent)

	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodGet, "/api/reports/discrepancies?from=2026-03-01&min_variance=0", manager, nil).StatusCode)
}

func TestItemsAPI(t *testing.T) {
	s := setupTestServer(t, Options{})
	staff, manager := s.login(t, "ana"), s.login(t, "mia")

	input := model.ItemInput{Name: "Milk", Category: model.CategoryDairy, UnitOfMeasure: "l", ParLevel: 20, CurrentQuantity: 5}
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/items", staff, input).StatusCode)

	resp := s.do(t, http.MethodPost, "/api/items", manager, input)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var milk model.Item
	decode(t, resp, &milk)
	assert.True(t, milk.LowStock)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/items", manager, input).StatusCode)

	var items []model.Item
	decode(t, s.do(t, http.MethodGet, "/api/items?category=Dairy", staff, nil), &items)
	require.Len(t, items, 1)
	decode(t, s.do(t, http.MethodGet, "/api/items/low-stock", staff, nil), &items)
	assert.Len(t, items, 2)
	decode(t, s.do(t, http.MethodGet, "/api/items?q=sug", staff, nil), &items)
	require.Len(t, items, 1)
	assert.Equal(t, "Sugar", items[0].Name)

	path := fmt.Sprintf("/api/items/%d", milk.ID)
	resp = s.do(t, http.MethodPost, path+"/adjust", manager, adjustRequest{Quantity: intPtr(20), Reason: "delivery"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var adjusted adjustResponse
	decode(t, resp, &adjusted)
	assert.Equal(t, 20, adjusted.Item.CurrentQuantity)
	assert.False(t, adjusted.Item.LowStock)
	require.NotNil(t, adjusted.Adjustment)
	assert.Equal(t, 15, adjusted.Adjustment.Delta)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, path+"/adjust", manager, adjustRequest{}).StatusCode)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, path+"/adjust", staff, adjustRequest{Quantity: intPtr(1)}).StatusCode)

	input.Name = "Whole milk"
	resp = s.do(t, http.MethodPut, path, manager, input)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &milk)
	assert.Equal(t, "Whole milk", milk.Name)
	assert.Equal(t, 20, milk.CurrentQuantity, "update must not touch stock")

	require.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, path, manager, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, path, manager, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/items/9999", staff, nil).StatusCode)
}

func TestLowStockThresholdSetting(t *testing.T) {
	s := setupTestServer(t, Options{LowStockThreshold: 0})
	admin, staff := s.login(t, "admin"), s.login(t, "ana")

	var items []model.Item
	decode(t, s.do(t, http.MethodGet, "/api/items/low-stock", staff, nil), &items)
	assert.Len(t, items, 1)

	assert.Equal(t, http.StatusForbidden,
		s.do(t, http.MethodPut, "/api/settings", staff, updateSettingsRequest{LowStockThreshold: intPtr(10)}).StatusCode)
	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPut, "/api/settings", admin, updateSettingsRequest{LowStockThreshold: intPtr(-1)}).StatusCode)

	resp := s.do(t, http.MethodPut, "/api/settings", admin, updateSettingsRequest{LowStockThreshold: intPtr(10)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var settings settingsResponse
	decode(t, resp, &settings)
	assert.Equal(t, 10, settings.LowStockThreshold)

	// Flour is 10 below par, which is no longer more than the threshold.
	decode(t, s.do(t, http.MethodGet, "/api/items/low-stock", staff, nil), &items)
	assert.Empty(t, items)
}

func TestItemImage(t *testing.T) {
	s := setupTestServer(t, Options{})
	manager := s.login(t, "mia")
	path := fmt.Sprintf("/api/items/%d/image", s.flour.ID)

	img := image.NewRGBA(image.Rect(0, 0, 1200, 600))
	for x := 0; x < 1200; x++ {
		img.Set(x, x%600, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	upload := func(data []byte) *http.Response {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile("image", "flour.png")
		require.NoError(t, err)
		part.Write(data)
		require.NoError(t, mw.Close())

		req, err := http.NewRequest(http.MethodPut, s.URL+path, &body)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+manager)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, path, manager, nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, upload([]byte("not an image")).StatusCode)
	require.Equal(t, http.StatusOK, upload(buf.Bytes()).StatusCode)

	resp := s.do(t, http.MethodGet, path, manager, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	photo, _, err := image.DecodeConfig(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 1024, photo.Width)

	resp = s.do(t, http.MethodGet, path+"?size=thumb", manager, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	thumb, _, err := image.DecodeConfig(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 160, thumb.Width)
	assert.Equal(t, 80, thumb.Height)
}

func TestUsersAPI(t *testing.T) {
	s := setupTestServer(t, Options{})
	admin, manager := s.login(t, "admin"), s.login(t, "mia")

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/users", manager, nil).StatusCode)

	resp := s.do(t, http.MethodPost, "/api/users", admin, createUserRequest{Username: "eva", Password: "long-enough", Role: model.RoleStaff})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var eva model.User
	decode(t, resp, &eva)

	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPost, "/api/users", admin, createUserRequest{Username: "eva", Password: "long-enough", Role: model.RoleStaff}).StatusCode)
	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPost, "/api/users", admin, createUserRequest{Username: "ivo", Password: "long-enough", Role: "counter"}).StatusCode)
	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPost, "/api/users", admin, createUserRequest{Username: "ivo", Password: "short", Role: model.RoleStaff}).StatusCode)

	path := fmt.Sprintf("/api/users/%d", eva.ID)
	resp = s.do(t, http.MethodPut, path, admin, updateUserRequest{Role: model.RoleManager})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &eva)
	assert.Equal(t, model.RoleManager, eva.Role)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, path+"/password", admin, resetPasswordRequest{Password: "another-one"}).StatusCode)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, path, admin, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, path, admin, nil).StatusCode)

	// The only admin can neither delete nor demote themselves.
	adminUser, err := store.GetUserByUsername(context.Background(), s.db, "admin")
	require.NoError(t, err)
	self := fmt.Sprintf("/api/users/%d", adminUser.ID)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodDelete, self, admin, nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, self, admin, updateUserRequest{Role: model.RoleStaff}).StatusCode)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", model.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: nope", model.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("%w: gone", model.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", fmt.Errorf("%w: late", model.ErrInvalidTransition)), http.StatusConflict},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorStatus(tt.err), "%v", tt.err)
	}
}
