// Package discovery orchestrates a search-and-extract run: query the
// search capability, batch candidate URLs through asynchronous extraction,
// normalize the results, and persist them as opportunities.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/stipend/internal/clients"
	"horse.fit/stipend/internal/deadline"
	"horse.fit/stipend/internal/extract"
	"horse.fit/stipend/internal/globaltime"
	"horse.fit/stipend/internal/store"
	"horse.fit/stipend/schema"
)

// extractionPrompt instructs the capability what to pull from each page.
const extractionPrompt = "Extract every scholarship, fellowship, or grant listed on the page as a structured record: title, provider, description, deadline, award amount, eligibility requirements, required documents, essay prompts, contact info, region, and application URL."

// Storage is the persistence surface a run needs.
type Storage interface {
	CreateJob(ctx context.Context, kind store.JobKind, userID *string, query string) (store.DiscoveryJob, error)
	MarkJobRunning(ctx context.Context, jobID int64) error
	MarkJobCompleted(ctx context.Context, jobID int64, resultCount int) error
	MarkJobFailed(ctx context.Context, jobID int64, cause error) error
	HasOpportunityWithURL(ctx context.Context, applicationURL string) (bool, error)
	InsertOpportunity(ctx context.Context, draft store.OpportunityDraft) (int64, error)
	PartitionDuplicates(ctx context.Context, ids []int64) (unique []int64, duplicates []int64, err error)
}

// Awaiter blocks until an extraction job reaches a terminal state.
type Awaiter interface {
	Await(ctx context.Context, jobID string) (json.RawMessage, error)
}

// Embedder computes a vector for a freshly inserted opportunity.
type Embedder interface {
	EmbedOpportunity(ctx context.Context, opportunityID int64, embeddingText string) error
}

// ImageResolver finds preview images for a batch of pages.
type ImageResolver interface {
	ResolveAll(ctx context.Context, pageURLs []string) map[string]string
}

// Options tunes a run. Zero values fall back to defaults.
type Options struct {
	BatchSize          int
	BatchDelay         time.Duration
	SearchLimitGeneral int
	SearchLimitProfile int
	SingleObjectPolicy extract.SingleObjectPolicy
	Sleep              extract.SleepFunc
}

// RunRequest describes one discovery run.
type RunRequest struct {
	Kind   store.JobKind
	UserID *string
	Query  string
	Scope  string
}

// RunResult reports what a completed run produced.
type RunResult struct {
	Job        store.DiscoveryJob
	Candidates int
	Inserted   int
	Duplicates int
}

type Service struct {
	storage   Storage
	search    clients.SearchClient
	extractor clients.ExtractClient
	awaiter   Awaiter
	images    ImageResolver
	embedder  Embedder
	opts      Options
	logger    zerolog.Logger
}

func New(
	storage Storage,
	search clients.SearchClient,
	extractor clients.ExtractClient,
	awaiter Awaiter,
	images ImageResolver,
	embedder Embedder,
	opts Options,
	logger zerolog.Logger,
) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.SearchLimitGeneral <= 0 {
		opts.SearchLimitGeneral = 50
	}
	if opts.SearchLimitProfile <= 0 {
		opts.SearchLimitProfile = 30
	}
	if opts.SingleObjectPolicy == "" {
		opts.SingleObjectPolicy = extract.SingleObjectAsItem
	}
	if opts.Sleep == nil {
		opts.Sleep = func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		}
	}
	return &Service{
		storage:   storage,
		search:    search,
		extractor: extractor,
		awaiter:   awaiter,
		images:    images,
		embedder:  embedder,
		opts:      opts,
		logger:    logger.With().Str("component", "discovery").Logger(),
	}
}

// Run executes a full discovery run. The job row transitions pending ->
// running -> completed/failed; a failed or empty search fails the run, a
// result set of only already-known URLs completes with zero insertions, and
// per-batch extraction trouble degrades to per-URL fallbacks.
func (s *Service) Run(ctx context.Context, req RunRequest) (RunResult, error) {
	job, err := s.Prepare(ctx, req)
	if err != nil {
		return RunResult{}, err
	}
	return s.Execute(ctx, job, req)
}

// Prepare records the pending job row. Callers that execute asynchronously
// use the returned job to report the run's identity up front.
func (s *Service) Prepare(ctx context.Context, req RunRequest) (store.DiscoveryJob, error) {
	return s.storage.CreateJob(ctx, req.Kind, req.UserID, req.Query)
}

// Execute drives a prepared job to a terminal state.
func (s *Service) Execute(ctx context.Context, job store.DiscoveryJob, req RunRequest) (RunResult, error) {
	logger := s.logger.With().Int64("job_id", job.JobID).Str("kind", string(req.Kind)).Logger()

	if err := s.storage.MarkJobRunning(ctx, job.JobID); err != nil {
		return RunResult{Job: job}, err
	}

	result, err := s.runSearchAndExtract(ctx, logger, req)
	if err != nil {
		if failErr := s.storage.MarkJobFailed(ctx, job.JobID, err); failErr != nil {
			logger.Error().Err(failErr).Msg("marking job failed did not apply")
		}
		return RunResult{Job: job}, err
	}

	if err := s.storage.MarkJobCompleted(ctx, job.JobID, result.Inserted); err != nil {
		return RunResult{Job: job}, err
	}
	result.Job = job

	logger.Info().
		Int("candidates", result.Candidates).
		Int("inserted", result.Inserted).
		Int("duplicates", result.Duplicates).
		Msg("discovery run completed")
	return result, nil
}

func (s *Service) runSearchAndExtract(ctx context.Context, logger zerolog.Logger, req RunRequest) (RunResult, error) {
	results, err := s.search.Search(ctx, req.Query, s.searchLimitFor(req.Kind), req.Scope)
	if err != nil {
		return RunResult{}, fmt.Errorf("search phase: %w", err)
	}
	if len(results) == 0 {
		return RunResult{}, fmt.Errorf("search returned no results for query %q", req.Query)
	}

	candidates, err := s.filterCandidates(ctx, results)
	if err != nil {
		return RunResult{}, err
	}
	if len(candidates) == 0 {
		logger.Info().Int("results", len(results)).Msg("every search result already known, nothing to extract")
		return RunResult{}, nil
	}

	sourceKind := sourceKindFor(req.Kind)
	var insertedIDs []int64
	seenURLs := make(map[string]struct{}, len(candidates))

	batches := batchURLs(candidates, s.opts.BatchSize)
	for i, batch := range batches {
		if i > 0 && s.opts.BatchDelay > 0 {
			if err := s.opts.Sleep(ctx, s.opts.BatchDelay); err != nil {
				return RunResult{}, err
			}
		}

		drafts := s.extractBatch(ctx, logger, batch, sourceKind)
		if len(drafts) == 0 {
			continue
		}

		s.attachImages(ctx, drafts)

		for _, draft := range drafts {
			if _, dup := seenURLs[draft.ApplicationURL]; dup {
				continue
			}
			seenURLs[draft.ApplicationURL] = struct{}{}

			id, err := s.storage.InsertOpportunity(ctx, draft)
			if err != nil {
				logger.Error().Err(err).Str("url", draft.ApplicationURL).Msg("insert failed, skipping record")
				continue
			}
			insertedIDs = append(insertedIDs, id)
			s.embedAsync(ctx, logger, id, store.BuildEmbeddingText(draft))
		}
	}

	_, duplicates, err := s.storage.PartitionDuplicates(ctx, insertedIDs)
	if err != nil {
		logger.Warn().Err(err).Msg("duplicate partition failed, reporting raw counts")
		duplicates = nil
	}

	return RunResult{
		Candidates: len(candidates),
		Inserted:   len(insertedIDs),
		Duplicates: len(duplicates),
	}, nil
}

// extractBatch submits one URL batch, awaits the result, and degrades to
// per-URL extraction on failure or shortfall. A fallback pass that extracts
// more items than the batch did wins URL collisions; otherwise the batch
// records are kept and per-URL results fill the gaps.
func (s *Service) extractBatch(ctx context.Context, logger zerolog.Logger, batch []string, sourceKind store.SourceKind) []store.OpportunityDraft {
	batchDrafts, err := s.extractURLs(ctx, batch, sourceKind)
	if err != nil {
		logger.Warn().Err(err).Int("batch_size", len(batch)).Msg("batch extraction failed, falling back to per-url extraction")
		batchDrafts = nil
	}
	if len(batchDrafts) >= len(batch) {
		return batchDrafts
	}

	logger.Info().
		Int("batch_size", len(batch)).
		Int("batch_items", len(batchDrafts)).
		Msg("batch shortfall, running per-url fallback")

	var individual []store.OpportunityDraft
	for _, pageURL := range batch {
		drafts, err := s.extractURLs(ctx, []string{pageURL}, sourceKind)
		if err != nil {
			logger.Warn().Err(err).Str("url", pageURL).Msg("per-url extraction failed")
			continue
		}
		individual = append(individual, drafts...)
	}

	if len(individual) > len(batchDrafts) {
		return mergeDrafts(individual, batchDrafts)
	}
	return mergeDrafts(batchDrafts, individual)
}

// extractURLs runs one submit/poll/decode/normalize cycle over a URL set.
func (s *Service) extractURLs(ctx context.Context, urls []string, sourceKind store.SourceKind) ([]store.OpportunityDraft, error) {
	jobID, err := s.extractor.Submit(ctx, urls, extractionPrompt, schema.SubmitSchemaJSON())
	if err != nil {
		return nil, fmt.Errorf("submit extraction: %w", err)
	}

	payload, err := s.awaiter.Await(ctx, jobID)
	if err != nil {
		return nil, err
	}

	items, err := extract.DecodeItems(payload, s.opts.SingleObjectPolicy, s.logger)
	if err != nil {
		return nil, fmt.Errorf("decode extraction payload: %w", err)
	}

	fallbackURL := ""
	if len(urls) == 1 {
		fallbackURL = urls[0]
	}

	drafts := make([]store.OpportunityDraft, 0, len(items))
	for _, raw := range items {
		item, err := schema.ValidateOpportunityItem(raw)
		if err != nil {
			item, err = schema.DecodeOpportunityItemLenient(raw)
			if err != nil {
				s.logger.Warn().Err(err).Msg("undecodable extraction item, skipping")
				continue
			}
		}
		draft, ok := normalizeItem(item, fallbackURL, sourceKind)
		if !ok {
			continue
		}
		drafts = append(drafts, draft)
	}
	return drafts, nil
}

func (s *Service) attachImages(ctx context.Context, drafts []store.OpportunityDraft) {
	if s.images == nil {
		return
	}
	urls := make([]string, 0, len(drafts))
	for _, draft := range drafts {
		if draft.ImageURL == nil {
			urls = append(urls, draft.ApplicationURL)
		}
	}
	if len(urls) == 0 {
		return
	}

	images := s.images.ResolveAll(ctx, urls)
	for i := range drafts {
		if drafts[i].ImageURL != nil {
			continue
		}
		if image, ok := images[drafts[i].ApplicationURL]; ok {
			drafts[i].ImageURL = &image
		}
	}
}

// embedAsync computes the vector off the run's critical path. The run's
// cancellation is deliberately detached so a finished run does not abandon
// in-flight embeddings.
func (s *Service) embedAsync(ctx context.Context, logger zerolog.Logger, opportunityID int64, embeddingText string) {
	if s.embedder == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	go func() {
		embedCtx, cancel := context.WithTimeout(detached, time.Minute)
		defer cancel()
		if err := s.embedder.EmbedOpportunity(embedCtx, opportunityID, embeddingText); err != nil {
			logger.Error().Err(err).Int64("opportunity_id", opportunityID).Msg("post-insert embedding failed")
		}
	}()
}

// filterCandidates drops malformed, repeated, and already-known URLs while
// preserving search ranking order.
func (s *Service) filterCandidates(ctx context.Context, results []clients.SearchResult) ([]string, error) {
	seen := make(map[string]struct{}, len(results))
	candidates := make([]string, 0, len(results))
	for _, result := range results {
		candidate := strings.TrimSpace(result.URL)
		if candidate == "" {
			continue
		}
		parsed, err := url.Parse(candidate)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			continue
		}
		if _, dup := seen[candidate]; dup {
			continue
		}
		seen[candidate] = struct{}{}

		known, err := s.storage.HasOpportunityWithURL(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("check known url: %w", err)
		}
		if known {
			continue
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

// normalizeItem repairs a decoded item into an insertable draft. Records
// with no resolvable application URL are rejected; everything else is
// defaulted rather than dropped.
func normalizeItem(item *schema.OpportunityItem, fallbackURL string, sourceKind store.SourceKind) (store.OpportunityDraft, bool) {
	applicationURL := ""
	if item.ApplicationURL != nil {
		applicationURL = strings.TrimSpace(*item.ApplicationURL)
	}
	if applicationURL == "" {
		applicationURL = fallbackURL
	}
	if applicationURL == "" {
		return store.OpportunityDraft{}, false
	}

	host := hostnameOf(applicationURL)

	provider := strings.TrimSpace(item.Provider)
	if provider == "" {
		provider = host
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = "Funding opportunity at " + host
	}

	description := strings.TrimSpace(item.Description)
	if description == "" && item.Eligibility != nil {
		description = strings.TrimSpace(*item.Eligibility)
	}
	if description == "" && item.ApplicationProcess != nil {
		description = strings.TrimSpace(*item.ApplicationProcess)
	}
	if description == "" {
		description = fmt.Sprintf("Funding opportunity listed by %s.", provider)
	}

	return store.OpportunityDraft{
		Title:             title,
		Provider:          provider,
		Description:       description,
		Requirements:      item.Requirements,
		RequiredDocuments: item.RequiredDocuments,
		EssayPrompts:      item.EssayPrompts,
		Deadline:          deadline.Normalize(item.Deadline, applicationURL, globaltime.UTC()),
		AwardAmount:       item.AwardAmount,
		Region:            item.Region,
		ContactInfo:       item.ContactInfo,
		ApplicationURL:    applicationURL,
		SourceKind:        sourceKind,
	}, true
}

// mergeDrafts combines two extraction passes, deduplicating by application
// URL with the preferred slice winning collisions.
func mergeDrafts(preferred, secondary []store.OpportunityDraft) []store.OpportunityDraft {
	merged := make([]store.OpportunityDraft, 0, len(preferred)+len(secondary))
	seen := make(map[string]struct{}, len(preferred)+len(secondary))
	for _, draft := range preferred {
		if _, dup := seen[draft.ApplicationURL]; dup {
			continue
		}
		seen[draft.ApplicationURL] = struct{}{}
		merged = append(merged, draft)
	}
	for _, draft := range secondary {
		if _, dup := seen[draft.ApplicationURL]; dup {
			continue
		}
		seen[draft.ApplicationURL] = struct{}{}
		merged = append(merged, draft)
	}
	return merged
}

func batchURLs(urls []string, size int) [][]string {
	batches := make([][]string, 0, (len(urls)+size-1)/size)
	for start := 0; start < len(urls); start += size {
		end := start + size
		if end > len(urls) {
			end = len(urls)
		}
		batches = append(batches, urls[start:end])
	}
	return batches
}

func hostnameOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return rawURL
	}
	return strings.TrimPrefix(parsed.Hostname(), "www.")
}

func sourceKindFor(kind store.JobKind) store.SourceKind {
	if kind == store.JobKindProfileScoped {
		return store.SourceKindProfileSearch
	}
	return store.SourceKindGeneralSearch
}

// searchLimitFor picks the result budget matching the run kind: profile
// runs search narrower than free-text ones.
func (s *Service) searchLimitFor(kind store.JobKind) int {
	if kind == store.JobKindProfileScoped {
		return s.opts.SearchLimitProfile
	}
	return s.opts.SearchLimitGeneral
}
