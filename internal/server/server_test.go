package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/cymtrack/internal/config"
	"github.com/dukerupert/cymtrack/internal/database"
	"github.com/dukerupert/cymtrack/internal/middleware"
)

const testAdminPassword = "s3cret"

func setupTestServer(t *testing.T) http.Handler {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		Env:              config.EnvDevelopment,
		AdminPassword:    testAdminPassword,
		Location:         time.UTC,
		ReminderInterval: time.Hour,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(db, cfg, logger)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv.Router()
}

type reqOpt func(*http.Request)

func asMember(name string) reqOpt {
	return func(r *http.Request) { r.Header.Set(middleware.MemberHeader, name) }
}

func withCookie(c *http.Cookie) reqOpt {
	return func(r *http.Request) { r.AddCookie(c) }
}

func do(t *testing.T, h http.Handler, method, path string, body any, opts ...reqOpt) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "192.0.2.1:1234"
	for _, o := range opts {
		o(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

type periodView struct {
	MemberName   string            `json:"member_name"`
	DaysInMonth  int               `json:"days_in_month"`
	Devotions    map[string]bool   `json:"devotions"`
	Meetings     map[string][]int  `json:"meetings"`
	Notes        map[string]string `json:"meeting_notes"`
	EditableDays []int             `json:"editable_days"`
	CanSubmit    map[string]bool   `json:"can_submit"`
	Lock         struct {
		MidLocked bool `json:"mid_locked"`
		EndLocked bool `json:"end_locked"`
	} `json:"lock"`
}

type listView struct {
	Stats struct {
		Total           int `json:"total"`
		AvgDevotion     int `json:"avg_devotion"`
		HighestDevotion int `json:"highest_devotion"`
	} `json:"stats"`
	Submissions []struct {
		ID             int64           `json:"id"`
		MemberName     string          `json:"member_name"`
		SubmissionType string          `json:"submission_type"`
		DevotionCount  int             `json:"devotion_count"`
		Status         string          `json:"status"`
		MeetingCounts  map[string]*int `json:"meeting_counts"`
	} `json:"submissions"`
}

func loginAdmin(t *testing.T, h http.Handler) *http.Cookie {
	t.Helper()
	rec := do(t, h, "POST", "/api/admin/login", map[string]string{"password": testAdminPassword})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.AdminCookieName {
			return c
		}
	}
	t.Fatal("login did not set admin cookie")
	return nil
}

func TestHealth(t *testing.T) {
	h := setupTestServer(t)
	rec := do(t, h, "GET", "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("missing request id header")
	}
}

func TestJoin(t *testing.T) {
	h := setupTestServer(t)

	rec := do(t, h, "POST", "/api/join", map[string]string{"name": "  Juan dela Cruz "})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var member *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == middleware.MemberCookieName {
			member = c
		}
	}
	if member == nil {
		t.Fatal("join did not set member cookie")
	}

	rec = do(t, h, "GET", "/api/me", nil, withCookie(member))
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d", rec.Code)
	}
	me := decode[map[string]any](t, rec)
	if me["member_name"] != "Juan dela Cruz" {
		t.Errorf("member_name = %v", me["member_name"])
	}

	rec = do(t, h, "POST", "/api/join", map[string]string{"name": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank name status = %d, want 400", rec.Code)
	}
}

func TestMemberRoutesRequireName(t *testing.T) {
	h := setupTestServer(t)
	rec := do(t, h, "GET", "/api/me/periods/2026/3", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestGetPeriodValidation(t *testing.T) {
	h := setupTestServer(t)
	for _, path := range []string{
		"/api/me/periods/1999/3",
		"/api/me/periods/2026/13",
		"/api/me/periods/2026/0",
		"/api/me/periods/abc/3",
	} {
		rec := do(t, h, "GET", path, nil, asMember("Alice"))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rec.Code)
		}
	}
}

func TestGetPeriodEmpty(t *testing.T) {
	h := setupTestServer(t)
	rec := do(t, h, "GET", "/api/me/periods/2024/2", nil, asMember("Alice"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	v := decode[periodView](t, rec)
	if v.DaysInMonth != 29 {
		t.Errorf("days_in_month = %d, want 29", v.DaysInMonth)
	}
	if len(v.EditableDays) != 29 {
		t.Errorf("editable days = %d, want 29", len(v.EditableDays))
	}
	if !v.CanSubmit["mid"] || !v.CanSubmit["end"] {
		t.Errorf("can_submit = %v, want both", v.CanSubmit)
	}
	if len(v.Meetings) != 7 {
		t.Errorf("meetings = %d keys, want 7", len(v.Meetings))
	}
}

func TestSubmitLifecycle(t *testing.T) {
	h := setupTestServer(t)
	path := "/api/me/periods/2026/3/submit"

	// Mid checkpoint keeps only the first half.
	rec := do(t, h, "POST", path, map[string]any{
		"type":      "mid",
		"devotions": map[string]bool{"1": true, "2": true, "20": true},
	}, asMember("Alice"))
	if rec.Code != http.StatusOK {
		t.Fatalf("mid status = %d, body %s", rec.Code, rec.Body.String())
	}
	v := decode[periodView](t, rec)
	if !v.Lock.MidLocked || v.Lock.EndLocked {
		t.Errorf("lock = %+v, want mid only", v.Lock)
	}
	if !v.Devotions["1"] || !v.Devotions["2"] || v.Devotions["20"] {
		t.Errorf("devotions = %v, want days 1 and 2", v.Devotions)
	}
	if len(v.EditableDays) != 16 || v.EditableDays[0] != 16 {
		t.Errorf("editable days = %v, want 16..31", v.EditableDays)
	}
	if v.CanSubmit["mid"] || !v.CanSubmit["end"] {
		t.Errorf("can_submit = %v", v.CanSubmit)
	}

	// Mid is frozen, case-insensitively.
	rec = do(t, h, "POST", path, map[string]any{"type": "mid"}, asMember("ALICE"))
	if rec.Code != http.StatusConflict {
		t.Errorf("second mid status = %d, want 409", rec.Code)
	}

	// End checkpoint: edits to locked days are ignored.
	rec = do(t, h, "POST", path, map[string]any{
		"type":          "end",
		"devotions":     map[string]bool{"1": false, "16": true, "40": true},
		"meetings":      map[string][]int{"cell_group": {1, 2, 1}, "bogus": {1}},
		"meeting_notes": map[string]string{"cell_group": "Bob, Carol\nDave"},
	}, asMember("Alice"))
	if rec.Code != http.StatusOK {
		t.Fatalf("end status = %d, body %s", rec.Code, rec.Body.String())
	}
	v = decode[periodView](t, rec)
	if !v.Lock.EndLocked {
		t.Error("end not locked after submit")
	}
	if !v.Devotions["1"] || !v.Devotions["16"] {
		t.Errorf("devotions = %v, want 1 kept and 16 added", v.Devotions)
	}
	if _, ok := v.Devotions["40"]; ok {
		t.Error("day 40 accepted")
	}
	if got := v.Meetings["cell_group"]; len(got) != 5 || got[0] != 1 || got[1] != 2 || got[2] != 1 {
		t.Errorf("cell_group = %v", got)
	}
	if len(v.EditableDays) != 0 {
		t.Errorf("editable days after end = %v, want none", v.EditableDays)
	}

	rec = do(t, h, "POST", path, map[string]any{"type": "end"}, asMember("Alice"))
	if rec.Code != http.StatusConflict {
		t.Errorf("second end status = %d, want 409", rec.Code)
	}

	admin := loginAdmin(t, h)
	rec = do(t, h, "GET", "/api/admin/submissions?year=2026&month=3", nil, withCookie(admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	list := decode[listView](t, rec)
	if list.Stats.Total != 2 || list.Stats.HighestDevotion != 3 || list.Stats.AvgDevotion != 3 {
		t.Errorf("stats = %+v, want total 2 highest 3 avg 3", list.Stats)
	}
	counts := map[string]int{}
	for _, s := range list.Submissions {
		counts[s.SubmissionType] = s.DevotionCount
		if s.SubmissionType == "mid" && s.MeetingCounts["cell_group"] != nil {
			t.Error("mid record has meeting counts")
		}
		if s.SubmissionType == "end" {
			if c := s.MeetingCounts["cell_group"]; c == nil || *c != 2 {
				t.Errorf("end cell_group count = %v, want 2", c)
			}
		}
	}
	if counts["mid"] != 2 || counts["end"] != 3 {
		t.Errorf("devotion counts = %v, want mid 2 end 3", counts)
	}

	rec = do(t, h, "GET", "/api/admin/export.csv?year=2026&month=3&type=end", nil, withCookie(admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "cym_report_2026_3_active.csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	lines := strings.Split(rec.Body.String(), "\n")
	if len(lines) != 2 {
		t.Fatalf("export lines = %d, want header + 1: %q", len(lines), rec.Body.String())
	}
	if !strings.HasPrefix(lines[0], "Name,Status,Type,Devotion Count,w12_discipleship Count") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "Alice,active,end,3,") || !strings.Contains(lines[1], ",2,Bob; Carol Dave,") {
		t.Errorf("row = %q", lines[1])
	}
}

func TestSubmitEndWithoutMidLocksWholeMonth(t *testing.T) {
	h := setupTestServer(t)
	path := "/api/me/periods/2026/4/submit"

	rec := do(t, h, "POST", path, map[string]any{
		"type":      "end",
		"devotions": map[string]bool{"3": true},
	}, asMember("Bob"))
	if rec.Code != http.StatusOK {
		t.Fatalf("end status = %d", rec.Code)
	}

	rec = do(t, h, "POST", path, map[string]any{"type": "mid"}, asMember("Bob"))
	if rec.Code != http.StatusConflict {
		t.Errorf("mid after end status = %d, want 409", rec.Code)
	}
}

func TestSubmitBadRequests(t *testing.T) {
	h := setupTestServer(t)
	path := "/api/me/periods/2026/3/submit"

	rec := do(t, h, "POST", path, map[string]any{"type": "final"}, asMember("Alice"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad type status = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest("POST", path, strings.NewReader("{not json"))
	req.Header.Set(middleware.MemberHeader, "Alice")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad JSON status = %d, want 400", w.Code)
	}
}

func TestAdminLogin(t *testing.T) {
	h := setupTestServer(t)

	rec := do(t, h, "POST", "/api/admin/login", map[string]string{"password": "wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d, want 401", rec.Code)
	}

	rec = do(t, h, "GET", "/api/admin/submissions?year=2026&month=3", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no cookie status = %d, want 401", rec.Code)
	}

	admin := loginAdmin(t, h)
	rec = do(t, h, "GET", "/api/admin/session", nil, withCookie(admin))
	if rec.Code != http.StatusOK {
		t.Errorf("session status = %d", rec.Code)
	}

	rec = do(t, h, "POST", "/api/admin/logout", nil, withCookie(admin))
	if rec.Code != http.StatusNoContent {
		t.Errorf("logout status = %d, want 204", rec.Code)
	}
	rec = do(t, h, "GET", "/api/admin/session", nil, withCookie(admin))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("session after logout status = %d, want 401", rec.Code)
	}
}

func TestAdminLoginRateLimited(t *testing.T) {
	h := setupTestServer(t)

	var last int
	for i := 0; i < loginRateLimit+1; i++ {
		last = do(t, h, "POST", "/api/admin/login", map[string]string{"password": "nope"}).Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("status after %d attempts = %d, want 429", loginRateLimit+1, last)
	}
}

func TestAdminArchiveRestoreDelete(t *testing.T) {
	h := setupTestServer(t)
	for i, name := range []string{"Alice", "Bob"} {
		rec := do(t, h, "POST", "/api/me/periods/2026/3/submit", map[string]any{
			"type":      "mid",
			"devotions": map[string]bool{"1": true, "2": i == 1},
		}, asMember(name))
		if rec.Code != http.StatusOK {
			t.Fatalf("submit %s: %d", name, rec.Code)
		}
	}
	admin := loginAdmin(t, h)

	list := decode[listView](t, do(t, h, "GET", "/api/admin/submissions?year=2026&month=3", nil, withCookie(admin)))
	if len(list.Submissions) != 2 {
		t.Fatalf("submissions = %d, want 2", len(list.Submissions))
	}
	var bobID int64
	for _, s := range list.Submissions {
		if s.MemberName == "Bob" {
			bobID = s.ID
		}
	}

	rec := do(t, h, "POST", fmt.Sprintf("/api/admin/submissions/%d/archive", bobID), nil, withCookie(admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("archive status = %d", rec.Code)
	}

	active := decode[listView](t, do(t, h, "GET", "/api/admin/submissions?year=2026&month=3", nil, withCookie(admin)))
	if len(active.Submissions) != 1 || active.Stats.Total != 1 || active.Stats.HighestDevotion != 1 {
		t.Errorf("active view = %+v, want only Alice", active)
	}
	archived := decode[listView](t, do(t, h, "GET", "/api/admin/submissions?year=2026&month=3&archived=true", nil, withCookie(admin)))
	if len(archived.Submissions) != 1 || archived.Submissions[0].Status != "archived" {
		t.Errorf("archived view = %+v", archived.Submissions)
	}
	if archived.Stats.Total != 1 {
		t.Errorf("archived view stats total = %d, want active-only 1", archived.Stats.Total)
	}

	rec = do(t, h, "POST", fmt.Sprintf("/api/admin/submissions/%d/restore", bobID), nil, withCookie(admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("restore status = %d", rec.Code)
	}

	rec = do(t, h, "GET", fmt.Sprintf("/api/admin/submissions/%d", bobID), nil, withCookie(admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("detail status = %d", rec.Code)
	}
	detail := decode[map[string]any](t, rec)
	if detail["days_in_month"] != float64(31) {
		t.Errorf("detail days_in_month = %v", detail["days_in_month"])
	}

	rec = do(t, h, "DELETE", fmt.Sprintf("/api/admin/submissions/%d", bobID), nil, withCookie(admin))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = do(t, h, "GET", fmt.Sprintf("/api/admin/submissions/%d", bobID), nil, withCookie(admin))
	if rec.Code != http.StatusNotFound {
		t.Errorf("detail after delete status = %d, want 404", rec.Code)
	}
	rec = do(t, h, "POST", "/api/admin/submissions/999/archive", nil, withCookie(admin))
	if rec.Code != http.StatusNotFound {
		t.Errorf("archive unknown status = %d, want 404", rec.Code)
	}

	// Deleting the record reopens Bob's mid checkpoint.
	rec = do(t, h, "POST", "/api/me/periods/2026/3/submit", map[string]any{"type": "mid"}, asMember("Bob"))
	if rec.Code != http.StatusOK {
		t.Errorf("resubmit after delete status = %d, want 200", rec.Code)
	}
}

func TestAdminListValidation(t *testing.T) {
	h := setupTestServer(t)
	admin := loginAdmin(t, h)

	for _, q := range []string{"year=2026", "year=2026&month=3&type=weekly", "year=2026&month=3&archived=maybe"} {
		rec := do(t, h, "GET", "/api/admin/submissions?"+q, nil, withCookie(admin))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestReportsNotConfigured(t *testing.T) {
	h := setupTestServer(t)
	admin := loginAdmin(t, h)

	rec := do(t, h, "POST", "/api/admin/reports", map[string]any{"year": 2026, "month": 3}, withCookie(admin))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("publish status = %d, want 503", rec.Code)
	}

	rec = do(t, h, "GET", "/api/admin/reports", nil, withCookie(admin))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["configured"] != false {
		t.Errorf("configured = %v, want false", body["configured"])
	}
}

func TestPushRoutes(t *testing.T) {
	h := setupTestServer(t)

	rec := do(t, h, "GET", "/api/push/vapid-key", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("vapid key status = %d, want 404 when disabled", rec.Code)
	}

	sub := map[string]string{"endpoint": "https://push.example.com/a", "p256dh": "k", "auth": "a"}
	rec = do(t, h, "POST", "/api/me/push", sub, asMember("Alice"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("subscribe status = %d, body %s", rec.Code, rec.Body.String())
	}

	list := decode[[]map[string]any](t, do(t, h, "GET", "/api/me/push", nil, asMember("alice")))
	if len(list) != 1 {
		t.Errorf("subscriptions = %d, want 1", len(list))
	}

	rec = do(t, h, "DELETE", "/api/me/push", map[string]string{"endpoint": "https://push.example.com/a"}, asMember("Alice"))
	if rec.Code != http.StatusNoContent {
		t.Errorf("unsubscribe status = %d, want 204", rec.Code)
	}

	rec = do(t, h, "POST", "/api/me/push", map[string]string{"endpoint": "http://insecure", "p256dh": "k", "auth": "a"}, asMember("Alice"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("insecure endpoint status = %d, want 400", rec.Code)
	}
}
