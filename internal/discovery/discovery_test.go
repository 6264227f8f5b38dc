package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/stipend/internal/clients"
	"horse.fit/stipend/internal/extract"
	"horse.fit/stipend/internal/store"
	"horse.fit/stipend/schema"
)

type fakeStorage struct {
	mu        sync.Mutex
	nextJobID int64
	nextOppID int64
	jobs      map[int64]store.JobStatus
	results   map[int64]int
	failures  map[int64]string
	knownURLs map[string]bool
	inserted  []store.OpportunityDraft
	insertErr error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		jobs:      map[int64]store.JobStatus{},
		results:   map[int64]int{},
		failures:  map[int64]string{},
		knownURLs: map[string]bool{},
	}
}

func (f *fakeStorage) CreateJob(_ context.Context, kind store.JobKind, userID *string, query string) (store.DiscoveryJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextJobID++
	f.jobs[f.nextJobID] = store.JobStatusPending
	return store.DiscoveryJob{JobID: f.nextJobID, Kind: kind, UserID: userID, Query: query, Status: store.JobStatusPending}, nil
}

func (f *fakeStorage) MarkJobRunning(_ context.Context, jobID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID] = store.JobStatusRunning
	return nil
}

func (f *fakeStorage) MarkJobCompleted(_ context.Context, jobID int64, resultCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID] = store.JobStatusCompleted
	f.results[jobID] = resultCount
	return nil
}

func (f *fakeStorage) MarkJobFailed(_ context.Context, jobID int64, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID] = store.JobStatusFailed
	f.failures[jobID] = cause.Error()
	return nil
}

func (f *fakeStorage) HasOpportunityWithURL(_ context.Context, applicationURL string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.knownURLs[applicationURL], nil
}

func (f *fakeStorage) InsertOpportunity(_ context.Context, draft store.OpportunityDraft) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.nextOppID++
	f.inserted = append(f.inserted, draft)
	return f.nextOppID, nil
}

func (f *fakeStorage) PartitionDuplicates(_ context.Context, ids []int64) ([]int64, []int64, error) {
	return ids, nil, nil
}

// fakeExtraction plays both the submit client and the awaiter: Submit keys
// the URL set, Await replays the scripted payload for that key.
type fakeExtraction struct {
	mu          sync.Mutex
	payloads    map[string]json.RawMessage
	failures    map[string]error
	submissions [][]string
}

func urlKey(urls []string) string { return strings.Join(urls, "|") }

func (f *fakeExtraction) Submit(_ context.Context, urls []string, _ string, _ json.RawMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions = append(f.submissions, urls)
	key := urlKey(urls)
	if _, ok := f.payloads[key]; !ok {
		if _, ok := f.failures[key]; !ok {
			return "", fmt.Errorf("no script for %s", key)
		}
	}
	return key, nil
}

func (f *fakeExtraction) Poll(_ context.Context, jobID string) (clients.PollResponse, error) {
	return clients.PollResponse{}, fmt.Errorf("unexpected poll for %s", jobID)
}

func (f *fakeExtraction) Await(_ context.Context, jobID string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failures[jobID]; ok {
		return nil, err
	}
	return f.payloads[jobID], nil
}

type fakeSearch struct {
	results  []clients.SearchResult
	err      error
	gotLimit int
}

func (f *fakeSearch) Search(_ context.Context, _ string, limit int, _ string) ([]clients.SearchResult, error) {
	f.gotLimit = limit
	return f.results, f.err
}

func itemJSON(title, appURL string) string {
	return fmt.Sprintf(`{"title":%q,"provider":"Trust","description":"Supports students.","deadline":"2026-12-01","application_url":%q}`, title, appURL)
}

func searchResults(urls ...string) []clients.SearchResult {
	results := make([]clients.SearchResult, 0, len(urls))
	for _, u := range urls {
		results = append(results, clients.SearchResult{URL: u})
	}
	return results
}

func newTestService(storage Storage, search clients.SearchClient, extraction *fakeExtraction, opts Options) *Service {
	opts.Sleep = func(context.Context, time.Duration) error { return nil }
	return New(storage, search, extraction, extraction, nil, nil, opts, zerolog.Nop())
}

func TestRunHappyPath(t *testing.T) {
	t.Parallel()

	urls := []string{
		"https://a.example.org/award",
		"https://b.example.org/award",
		"https://c.example.org/award",
	}
	payload := json.RawMessage("[" + strings.Join([]string{
		itemJSON("Award A", urls[0]),
		itemJSON("Award B", urls[1]),
		itemJSON("Award C", urls[2]),
	}, ",") + "]")

	storage := newFakeStorage()
	extraction := &fakeExtraction{payloads: map[string]json.RawMessage{urlKey(urls): payload}}
	svc := newTestService(storage, &fakeSearch{results: searchResults(urls...)}, extraction, Options{BatchSize: 10})

	result, err := svc.Run(context.Background(), RunRequest{Kind: store.JobKindGeneral, Query: "scholarships"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Inserted != 3 {
		t.Fatalf("inserted = %d, want 3", result.Inserted)
	}
	if storage.jobs[result.Job.JobID] != store.JobStatusCompleted {
		t.Fatalf("job status = %s", storage.jobs[result.Job.JobID])
	}
	if storage.results[result.Job.JobID] != 3 {
		t.Fatalf("recorded result count = %d", storage.results[result.Job.JobID])
	}
	if len(extraction.submissions) != 1 {
		t.Fatalf("submissions = %d, want 1", len(extraction.submissions))
	}
}

func TestRunFailsWhenSearchErrors(t *testing.T) {
	t.Parallel()

	storage := newFakeStorage()
	svc := newTestService(storage, &fakeSearch{err: errors.New("search down")}, &fakeExtraction{}, Options{})

	_, err := svc.Run(context.Background(), RunRequest{Kind: store.JobKindGeneral, Query: "grants"})
	if err == nil {
		t.Fatal("expected error")
	}
	if storage.jobs[1] != store.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", storage.jobs[1])
	}
	if !strings.Contains(storage.failures[1], "search phase") {
		t.Fatalf("failure message = %q", storage.failures[1])
	}
}

func TestRunFailsWhenSearchReturnsNothing(t *testing.T) {
	t.Parallel()

	storage := newFakeStorage()
	svc := newTestService(storage, &fakeSearch{}, &fakeExtraction{}, Options{})

	_, err := svc.Run(context.Background(), RunRequest{Kind: store.JobKindGeneral, Query: "grants"})
	if err == nil {
		t.Fatal("expected error for empty search result")
	}
	if storage.jobs[1] != store.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", storage.jobs[1])
	}
}

func TestRunCompletesWhenAllCandidatesKnown(t *testing.T) {
	t.Parallel()

	storage := newFakeStorage()
	storage.knownURLs["https://known.example.org"] = true
	svc := newTestService(storage, &fakeSearch{results: searchResults("https://known.example.org")}, &fakeExtraction{}, Options{})

	result, err := svc.Run(context.Background(), RunRequest{Kind: store.JobKindGeneral, Query: "grants"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Inserted != 0 {
		t.Fatalf("inserted = %d, want 0", result.Inserted)
	}
	if storage.jobs[result.Job.JobID] != store.JobStatusCompleted {
		t.Fatalf("job status = %s, want completed", storage.jobs[result.Job.JobID])
	}
}

func TestRunUsesPerKindSearchLimit(t *testing.T) {
	t.Parallel()

	url := "https://a.example.org/award"
	payload := json.RawMessage("[" + itemJSON("Award A", url) + "]")

	for _, tc := range []struct {
		kind      store.JobKind
		wantLimit int
	}{
		{store.JobKindGeneral, 50},
		{store.JobKindProfileScoped, 30},
	} {
		storage := newFakeStorage()
		search := &fakeSearch{results: searchResults(url)}
		extraction := &fakeExtraction{payloads: map[string]json.RawMessage{urlKey([]string{url}): payload}}
		svc := newTestService(storage, search, extraction, Options{BatchSize: 10, SearchLimitGeneral: 50, SearchLimitProfile: 30})

		if _, err := svc.Run(context.Background(), RunRequest{Kind: tc.kind, Query: "grants"}); err != nil {
			t.Fatalf("Run(%s): %v", tc.kind, err)
		}
		if search.gotLimit != tc.wantLimit {
			t.Fatalf("kind %s searched with limit %d, want %d", tc.kind, search.gotLimit, tc.wantLimit)
		}
	}
}

func TestRunBatchShortfallTriggersPerURLFallback(t *testing.T) {
	t.Parallel()

	urls := make([]string, 10)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://site%d.example.org/award", i)
	}

	// Batch extraction finds only 6 of 10; every per-URL fallback finds 1.
	batchItems := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		batchItems = append(batchItems, itemJSON(fmt.Sprintf("Award %d", i), urls[i]))
	}
	payloads := map[string]json.RawMessage{
		urlKey(urls): json.RawMessage("[" + strings.Join(batchItems, ",") + "]"),
	}
	for i, u := range urls {
		payloads[urlKey([]string{u})] = json.RawMessage("[" + itemJSON(fmt.Sprintf("Solo %d", i), u) + "]")
	}

	storage := newFakeStorage()
	extraction := &fakeExtraction{payloads: payloads}
	svc := newTestService(storage, &fakeSearch{results: searchResults(urls...)}, extraction, Options{BatchSize: 10})

	result, err := svc.Run(context.Background(), RunRequest{Kind: store.JobKindGeneral, Query: "grants"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Inserted != 10 {
		t.Fatalf("inserted = %d, want 10 after fallback merge", result.Inserted)
	}
	// The per-URL pass extracted 10 > 6, so its records win URL collisions.
	titles := map[string]bool{}
	for _, draft := range storage.inserted {
		titles[draft.Title] = true
	}
	if !titles["Solo 0"] || !titles["Solo 7"] {
		t.Fatalf("merge kept wrong records: %v", titles)
	}
	if titles["Award 0"] {
		t.Fatal("degraded batch result survived although the per-url pass extracted more")
	}
	if len(extraction.submissions) != 11 {
		t.Fatalf("submissions = %d, want 1 batch + 10 fallbacks", len(extraction.submissions))
	}
}

func TestRunBatchWinsWhenFallbackExtractsLess(t *testing.T) {
	t.Parallel()

	urls := make([]string, 10)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://site%d.example.org/award", i)
	}

	// Batch extraction finds 6 of 10; the per-URL pass fails for the first
	// five URLs and finds 5 total, so the batch keeps precedence.
	batchItems := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		batchItems = append(batchItems, itemJSON(fmt.Sprintf("Award %d", i), urls[i]))
	}
	payloads := map[string]json.RawMessage{
		urlKey(urls): json.RawMessage("[" + strings.Join(batchItems, ",") + "]"),
	}
	failures := map[string]error{}
	for i, u := range urls {
		if i < 5 {
			failures[urlKey([]string{u})] = errors.New("page unreachable")
			continue
		}
		payloads[urlKey([]string{u})] = json.RawMessage("[" + itemJSON(fmt.Sprintf("Solo %d", i), u) + "]")
	}

	storage := newFakeStorage()
	extraction := &fakeExtraction{payloads: payloads, failures: failures}
	svc := newTestService(storage, &fakeSearch{results: searchResults(urls...)}, extraction, Options{BatchSize: 10})

	result, err := svc.Run(context.Background(), RunRequest{Kind: store.JobKindGeneral, Query: "grants"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Inserted != 10 {
		t.Fatalf("inserted = %d, want 10 after fallback merge", result.Inserted)
	}
	titles := map[string]bool{}
	for _, draft := range storage.inserted {
		titles[draft.Title] = true
	}
	if !titles["Award 5"] || !titles["Solo 9"] {
		t.Fatalf("merge kept wrong records: %v", titles)
	}
	if titles["Solo 5"] {
		t.Fatal("weaker per-url pass overwrote a batch result")
	}
}

func TestRunSurvivesBatchFailure(t *testing.T) {
	t.Parallel()

	urls := []string{"https://a.example.org/award", "https://b.example.org/award"}
	payloads := map[string]json.RawMessage{
		urlKey([]string{urls[0]}): json.RawMessage("[" + itemJSON("Solo A", urls[0]) + "]"),
		urlKey([]string{urls[1]}): json.RawMessage("[" + itemJSON("Solo B", urls[1]) + "]"),
	}
	extraction := &fakeExtraction{
		payloads: payloads,
		failures: map[string]error{urlKey(urls): errors.New("merged payload rejected")},
	}
	storage := newFakeStorage()
	svc := newTestService(storage, &fakeSearch{results: searchResults(urls...)}, extraction, Options{BatchSize: 10})

	result, err := svc.Run(context.Background(), RunRequest{Kind: store.JobKindGeneral, Query: "grants"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Inserted != 2 {
		t.Fatalf("inserted = %d, want 2 from fallback", result.Inserted)
	}
}

func TestNormalizeItemDefaults(t *testing.T) {
	t.Parallel()

	item := &schema.OpportunityItem{}
	draft, ok := normalizeItem(item, "https://www.fund.example.org/award", store.SourceKindGeneralSearch)
	if !ok {
		t.Fatal("item with fallback url should be accepted")
	}
	if draft.Provider != "fund.example.org" {
		t.Fatalf("provider = %q", draft.Provider)
	}
	if draft.Title != "Funding opportunity at fund.example.org" {
		t.Fatalf("title = %q", draft.Title)
	}
	if !strings.Contains(draft.Description, "fund.example.org") {
		t.Fatalf("description = %q", draft.Description)
	}
	if _, err := time.Parse("2006-01-02", draft.Deadline); err != nil {
		t.Fatalf("synthetic deadline %q not a date: %v", draft.Deadline, err)
	}
}

func TestNormalizeItemDescriptionFallbackOrder(t *testing.T) {
	t.Parallel()

	eligibility := "Open to final-year students."
	process := "Apply online."
	appURL := "https://fund.example.org/a"

	item := &schema.OpportunityItem{ApplicationURL: &appURL, Eligibility: &eligibility, ApplicationProcess: &process}
	draft, _ := normalizeItem(item, "", store.SourceKindGeneralSearch)
	if draft.Description != eligibility {
		t.Fatalf("description = %q, want eligibility text", draft.Description)
	}

	item = &schema.OpportunityItem{ApplicationURL: &appURL, ApplicationProcess: &process}
	draft, _ = normalizeItem(item, "", store.SourceKindGeneralSearch)
	if draft.Description != process {
		t.Fatalf("description = %q, want application process text", draft.Description)
	}
}

func TestNormalizeItemRejectsMissingURL(t *testing.T) {
	t.Parallel()

	if _, ok := normalizeItem(&schema.OpportunityItem{Title: "Award"}, "", store.SourceKindGeneralSearch); ok {
		t.Fatal("item without any url should be rejected")
	}
}

func TestBatchURLs(t *testing.T) {
	t.Parallel()

	urls := []string{"a", "b", "c", "d", "e"}
	batches := batchURLs(urls, 2)
	if len(batches) != 3 {
		t.Fatalf("batches = %d", len(batches))
	}
	if len(batches[2]) != 1 || batches[2][0] != "e" {
		t.Fatalf("last batch = %v", batches[2])
	}
}

func TestFilterCandidatesDropsInvalidAndKnown(t *testing.T) {
	t.Parallel()

	storage := newFakeStorage()
	storage.knownURLs["https://known.example.org"] = true
	svc := newTestService(storage, &fakeSearch{}, &fakeExtraction{}, Options{})

	results := []clients.SearchResult{
		{URL: "https://fresh.example.org"},
		{URL: "https://fresh.example.org"},
		{URL: "ftp://bad.example.org"},
		{URL: "not a url at all %"},
		{URL: "https://known.example.org"},
		{URL: ""},
	}
	candidates, err := svc.filterCandidates(context.Background(), results)
	if err != nil {
		t.Fatalf("filterCandidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0] != "https://fresh.example.org" {
		t.Fatalf("candidates = %v", candidates)
	}
}

func TestSingleObjectPolicyDiscardRecoversViaFallback(t *testing.T) {
	t.Parallel()

	urls := []string{"https://a.example.org/award", "https://b.example.org/award"}
	merged := json.RawMessage(`{"title":"Merged","provider":"Trust","description":"d","deadline":"2026-12-01"}`)
	payloads := map[string]json.RawMessage{
		urlKey(urls):              merged,
		urlKey([]string{urls[0]}): json.RawMessage("[" + itemJSON("Solo A", urls[0]) + "]"),
		urlKey([]string{urls[1]}): json.RawMessage("[" + itemJSON("Solo B", urls[1]) + "]"),
	}
	storage := newFakeStorage()
	extraction := &fakeExtraction{payloads: payloads}
	svc := newTestService(storage, &fakeSearch{results: searchResults(urls...)}, extraction, Options{
		BatchSize:          10,
		SingleObjectPolicy: extract.SingleObjectDiscard,
	})

	result, err := svc.Run(context.Background(), RunRequest{Kind: store.JobKindGeneral, Query: "grants"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Inserted != 2 {
		t.Fatalf("inserted = %d, want 2 from per-url fallback", result.Inserted)
	}
	for _, draft := range storage.inserted {
		if draft.Title == "Merged" {
			t.Fatal("discard policy still inserted the merged object")
		}
	}
}
