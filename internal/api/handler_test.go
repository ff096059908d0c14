package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/flagsink/flagsink/internal/model"
	"github.com/flagsink/flagsink/internal/roster"
	"github.com/flagsink/flagsink/internal/round"
	"github.com/flagsink/flagsink/internal/state"
	"github.com/flagsink/flagsink/internal/stats"
)

func newTestServer(t *testing.T, adminToken string) (*Server, *state.CaptureRepo) {
	t.Helper()
	db, err := state.OpenDB(filepath.Join(t.TempDir(), "captures.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := state.MigrateCapturesDB(db); err != nil {
		t.Fatal(err)
	}
	repo := state.NewCaptureRepo(db)

	ros, err := roster.New(roster.File{
		Teams:    []model.Team{{ID: 1, Name: "alpha", Subnet: "10.0.1.0/24"}, {ID: 2, Name: "bravo", Subnet: "10.0.2.0/24"}},
		Services: []model.Service{{ID: 1, Name: "notes", FlagVariants: 1}},
	}, 24, 64)
	if err != nil {
		t.Fatal(err)
	}

	srv := NewServer(0, adminToken, repo, stats.NewCollector(""), round.NewStaticSource(17), ros)
	return srv, repo
}

func doRequest(t *testing.T, srv *Server, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	srv, _ := newTestServer(t, "sekrit")
	if rec := doRequest(t, srv, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}

func TestAPIRequiresAdminToken(t *testing.T) {
	srv, _ := newTestServer(t, "sekrit")

	if rec := doRequest(t, srv, "/api/v1/round", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", rec.Code)
	}
	if rec := doRequest(t, srv, "/api/v1/round", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d", rec.Code)
	}

	rec := doRequest(t, srv, "/api/v1/round", "sekrit")
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d", rec.Code)
	}
	var body map[string]uint32
	decodeBody(t, rec, &body)
	if body["round"] != 17 {
		t.Fatalf("round = %d, want 17", body["round"])
	}
}

func TestAPIOpenWithoutToken(t *testing.T) {
	srv, _ := newTestServer(t, "")
	if rec := doRequest(t, srv, "/api/v1/stats", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListCapturesWithFilters(t *testing.T) {
	srv, repo := newTestServer(t, "")
	keys := []model.CaptureKey{
		{ServiceID: 1, RoundID: 5, OwnerID: 2, VariantIdx: 0, AttackerID: 1},
		{ServiceID: 1, RoundID: 5, OwnerID: 1, VariantIdx: 0, AttackerID: 2},
		{ServiceID: 1, RoundID: 6, OwnerID: 2, VariantIdx: 0, AttackerID: 1},
	}
	if _, err := repo.InsertBatch(keys, 1000); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(t, srv, "/api/v1/captures?attacker_id=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var page PageResponse[captureView]
	decodeBody(t, rec, &page)
	if len(page.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(page.Items))
	}
	for _, item := range page.Items {
		if item.AttackerID != 1 {
			t.Fatalf("filter leaked attacker %d", item.AttackerID)
		}
	}

	if rec := doRequest(t, srv, "/api/v1/captures?round_id=banana", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad filter status = %d", rec.Code)
	}

	rec = doRequest(t, srv, "/api/v1/captures/count", "")
	var count map[string]int64
	decodeBody(t, rec, &count)
	if count["count"] != 3 {
		t.Fatalf("count = %d, want 3", count["count"])
	}
}

func TestFirstBlood(t *testing.T) {
	srv, repo := newTestServer(t, "")
	first := model.CaptureKey{ServiceID: 1, RoundID: 5, OwnerID: 2, VariantIdx: 0, AttackerID: 9}
	later := model.CaptureKey{ServiceID: 1, RoundID: 5, OwnerID: 2, VariantIdx: 0, AttackerID: 3}
	if _, err := repo.InsertBatch([]model.CaptureKey{first}, 1000); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.InsertBatch([]model.CaptureKey{later}, 2000); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(t, srv, "/api/v1/captures/first-blood?service_id=1&round_id=5&owner_id=2&variant_idx=0", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var view captureView
	decodeBody(t, rec, &view)
	if view.AttackerID != 9 {
		t.Fatalf("first blood attacker = %d, want 9", view.AttackerID)
	}

	if rec := doRequest(t, srv, "/api/v1/captures/first-blood?service_id=1&round_id=99&owner_id=2&variant_idx=0", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("uncaptured flag status = %d", rec.Code)
	}
	if rec := doRequest(t, srv, "/api/v1/captures/first-blood?service_id=1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing params status = %d", rec.Code)
	}
}

func TestRosterEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := doRequest(t, srv, "/api/v1/roster", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body rosterResponse
	decodeBody(t, rec, &body)
	if len(body.Teams) != 2 || len(body.Services) != 1 {
		t.Fatalf("roster = %d teams / %d services", len(body.Teams), len(body.Services))
	}
	if body.Teams[0].ID != 1 || body.Teams[1].ID != 2 {
		t.Fatalf("teams not sorted by id: %+v", body.Teams)
	}
}
