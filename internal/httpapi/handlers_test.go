package httpapi

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"horse.fit/stipend/internal/discovery"
	"horse.fit/stipend/internal/match"
	"horse.fit/stipend/internal/matcher"
	"horse.fit/stipend/internal/store"
	"horse.fit/stipend/internal/uploadstate"
)

type fakeStorage struct {
	jobsByUUID    map[string]store.DiscoveryJob
	matches       map[string][]store.MatchRow
	opportunities map[int64]store.OpportunityRow
	profiles      map[string]*store.ProfileRow
}

func newStorageFake() *fakeStorage {
	return &fakeStorage{
		jobsByUUID:    map[string]store.DiscoveryJob{},
		matches:       map[string][]store.MatchRow{},
		opportunities: map[int64]store.OpportunityRow{},
		profiles:      map[string]*store.ProfileRow{},
	}
}

func (f *fakeStorage) GetJobByUUID(_ context.Context, jobUUID string) (store.DiscoveryJob, bool, error) {
	job, ok := f.jobsByUUID[jobUUID]
	return job, ok, nil
}

func (f *fakeStorage) ListMatchesForUser(_ context.Context, userID string, _ int) ([]store.MatchRow, error) {
	return f.matches[userID], nil
}

func (f *fakeStorage) GetOpportunity(_ context.Context, id int64) (store.OpportunityRow, bool, error) {
	opp, ok := f.opportunities[id]
	return opp, ok, nil
}

func (f *fakeStorage) GetUserProfile(_ context.Context, userID string) (*store.ProfileRow, error) {
	row, ok := f.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("get user profile user_id=%s: %w", userID, sql.ErrNoRows)
	}
	return row, nil
}

type fakeDiscovery struct {
	prepared  []discovery.RunRequest
	executed  chan discovery.RunRequest
	nextJobID int64
}

func newDiscoveryFake() *fakeDiscovery {
	return &fakeDiscovery{executed: make(chan discovery.RunRequest, 4)}
}

func (f *fakeDiscovery) Prepare(_ context.Context, req discovery.RunRequest) (store.DiscoveryJob, error) {
	f.prepared = append(f.prepared, req)
	f.nextJobID++
	return store.DiscoveryJob{
		JobID:  f.nextJobID,
		UUID:   fmt.Sprintf("00000000-0000-0000-0000-%012d", f.nextJobID),
		Kind:   req.Kind,
		Query:  req.Query,
		Status: store.JobStatusPending,
	}, nil
}

func (f *fakeDiscovery) Execute(_ context.Context, _ store.DiscoveryJob, req discovery.RunRequest) (discovery.RunResult, error) {
	f.executed <- req
	return discovery.RunResult{}, nil
}

type fakeMatcher struct {
	result matcher.UserResult
	err    error
	kinds  []match.Kind
}

func (f *fakeMatcher) RunForUser(_ context.Context, userID string, kind match.Kind) (matcher.UserResult, error) {
	f.kinds = append(f.kinds, kind)
	if f.err != nil {
		return matcher.UserResult{}, f.err
	}
	result := f.result
	result.UserID = userID
	return result, nil
}

func newTestServer(storage *fakeStorage, disc *fakeDiscovery, m *fakeMatcher) *Server {
	return NewServer(storage, disc, m, uploadstate.NewMemoryStore(15*time.Minute), zerolog.Nop(), Options{})
}

func newRequestContext(method, path, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decodeJSend(t *testing.T, rec *httptest.ResponseRecorder) jsendResponse {
	t.Helper()
	var resp jsendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestHandleCreateDiscoveryRun_General(t *testing.T) {
	t.Parallel()

	disc := newDiscoveryFake()
	s := newTestServer(newStorageFake(), disc, &fakeMatcher{})

	c, rec := newRequestContext(http.MethodPost, "/api/v1/discovery/runs", `{"kind":"general","query":"nursing scholarships"}`)
	if err := s.handleCreateDiscoveryRun(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	resp := decodeJSend(t, rec)
	if resp.Status != "success" {
		t.Fatalf("jsend status = %q", resp.Status)
	}
	data := resp.Data.(map[string]any)
	if data["job_uuid"] == "" {
		t.Fatal("missing job uuid")
	}
	if data["status"] != "pending" {
		t.Fatalf("job status = %v", data["status"])
	}

	select {
	case req := <-disc.executed:
		if !strings.Contains(req.Query, "nursing scholarships") {
			t.Fatalf("executed query = %q", req.Query)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run was not executed")
	}
}

func TestHandleCreateDiscoveryRun_GeneralRequiresQuery(t *testing.T) {
	t.Parallel()

	s := newTestServer(newStorageFake(), newDiscoveryFake(), &fakeMatcher{})
	c, rec := newRequestContext(http.MethodPost, "/api/v1/discovery/runs", `{"kind":"general"}`)
	if err := s.handleCreateDiscoveryRun(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleCreateDiscoveryRun_ProfileScopedBuildsQuery(t *testing.T) {
	t.Parallel()

	storage := newStorageFake()
	storage.profiles["u1"] = &store.ProfileRow{
		Profile: match.Profile{
			UserID:                 "u1",
			EducationLevel:         "undergraduate",
			IntendedEducationLevel: "masters",
			Discipline:             "physics",
		},
	}
	disc := newDiscoveryFake()
	s := newTestServer(storage, disc, &fakeMatcher{})

	c, rec := newRequestContext(http.MethodPost, "/api/v1/discovery/runs", `{"kind":"profile-scoped","user_id":"u1"}`)
	if err := s.handleCreateDiscoveryRun(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	if len(disc.prepared) != 1 {
		t.Fatalf("prepared runs = %d", len(disc.prepared))
	}
	if !strings.Contains(disc.prepared[0].Query, "physics") {
		t.Fatalf("profile query = %q", disc.prepared[0].Query)
	}
}

func TestHandleCreateDiscoveryRun_ProfileScopedUnknownUser(t *testing.T) {
	t.Parallel()

	s := newTestServer(newStorageFake(), newDiscoveryFake(), &fakeMatcher{})
	c, rec := newRequestContext(http.MethodPost, "/api/v1/discovery/runs", `{"kind":"profile-scoped","user_id":"ghost"}`)
	if err := s.handleCreateDiscoveryRun(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleGetDiscoveryRun(t *testing.T) {
	t.Parallel()

	storage := newStorageFake()
	jobUUID := "d4b8a1f0-0000-4000-8000-000000000001"
	storage.jobsByUUID[jobUUID] = store.DiscoveryJob{
		JobID:       5,
		UUID:        jobUUID,
		Kind:        store.JobKindGeneral,
		Query:       "grants",
		Status:      store.JobStatusCompleted,
		ResultCount: 12,
	}
	s := newTestServer(storage, newDiscoveryFake(), &fakeMatcher{})

	c, rec := newRequestContext(http.MethodGet, "/api/v1/discovery/runs/"+jobUUID, "")
	c.SetParamNames("job_uuid")
	c.SetParamValues(jobUUID)
	if err := s.handleGetDiscoveryRun(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data := decodeJSend(t, rec).Data.(map[string]any)
	if data["status"] != "completed" || data["result_count"] != float64(12) {
		t.Fatalf("data = %v", data)
	}
}

func TestHandleGetDiscoveryRun_BadUUID(t *testing.T) {
	t.Parallel()

	s := newTestServer(newStorageFake(), newDiscoveryFake(), &fakeMatcher{})
	c, rec := newRequestContext(http.MethodGet, "/api/v1/discovery/runs/nope", "")
	c.SetParamNames("job_uuid")
	c.SetParamValues("nope")
	if err := s.handleGetDiscoveryRun(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleListUserMatches(t *testing.T) {
	t.Parallel()

	storage := newStorageFake()
	storage.matches["u1"] = []store.MatchRow{
		{UserID: "u1", OpportunityID: 9, MatchScore: 72.5, MatchKind: "user-search", Reasoning: "semantic similarity 80/100"},
	}
	storage.opportunities[9] = store.OpportunityRow{
		OpportunityID:  9,
		Title:          "Horizon Fellowship",
		Provider:       "Horizon Trust",
		Deadline:       "2026-12-01",
		ApplicationURL: "https://horizon.example.org/apply",
	}
	s := newTestServer(storage, newDiscoveryFake(), &fakeMatcher{})

	c, rec := newRequestContext(http.MethodGet, "/api/v1/users/u1/matches", "")
	c.SetParamNames("user_id")
	c.SetParamValues("u1")
	if err := s.handleListUserMatches(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	data := decodeJSend(t, rec).Data.(map[string]any)
	items := data["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %d", len(items))
	}
	item := items[0].(map[string]any)
	if item["title"] != "Horizon Fellowship" || item["match_score"] != 72.5 {
		t.Fatalf("item = %v", item)
	}
}

func TestHandleRunUserMatches(t *testing.T) {
	t.Parallel()

	m := &fakeMatcher{result: matcher.UserResult{Scored: 4, Persisted: 2}}
	s := newTestServer(newStorageFake(), newDiscoveryFake(), m)

	c, rec := newRequestContext(http.MethodPost, "/api/v1/users/u1/matches/run", `{}`)
	c.SetParamNames("user_id")
	c.SetParamValues("u1")
	if err := s.handleRunUserMatches(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(m.kinds) != 1 || m.kinds[0] != match.KindUserSearch {
		t.Fatalf("kinds = %v, want default user-search", m.kinds)
	}
	data := decodeJSend(t, rec).Data.(map[string]any)
	if data["persisted"] != float64(2) {
		t.Fatalf("data = %v", data)
	}
}

func TestUploadHandshake(t *testing.T) {
	t.Parallel()

	s := newTestServer(newStorageFake(), newDiscoveryFake(), &fakeMatcher{})

	c, rec := newRequestContext(http.MethodPost, "/api/v1/uploads", `{"user_id":"u1","purpose":"transcript","filename":"transcript.pdf"}`)
	if err := s.handleCreateUpload(c); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d", rec.Code)
	}
	token := decodeJSend(t, rec).Data.(map[string]any)["upload_token"].(string)

	c, rec = newRequestContext(http.MethodPost, "/api/v1/uploads/confirm", fmt.Sprintf(`{"token":%q}`, token))
	if err := s.handleConfirmUpload(c); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status = %d", rec.Code)
	}
	data := decodeJSend(t, rec).Data.(map[string]any)
	if data["filename"] != "transcript.pdf" {
		t.Fatalf("data = %v", data)
	}

	// Confirming again must fail: handles are single-use.
	c, rec = newRequestContext(http.MethodPost, "/api/v1/uploads/confirm", fmt.Sprintf(`{"token":%q}`, token))
	if err := s.handleConfirmUpload(c); err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second confirm status = %d, want 404", rec.Code)
	}
}
