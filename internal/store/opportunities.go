package store

import (
	"context"
	"fmt"
	"strings"

	"horse.fit/stipend/internal/db"
	"horse.fit/stipend/internal/globaltime"
)

// Field caps applied on insert.
const (
	MaxDescriptionChars  = 2000
	MaxRequirements      = 10
	MaxRequiredDocuments = 10
	MaxEssayPrompts      = 5
)

type SourceKind string

const (
	SourceKindGeneralSearch SourceKind = "general-search"
	SourceKindProfileSearch SourceKind = "profile-search"
	SourceKindCrawl         SourceKind = "crawl"
)

// OpportunityDraft is a normalized record ready for insertion.
type OpportunityDraft struct {
	Title             string
	Provider          string
	Description       string
	Requirements      []string
	RequiredDocuments []string
	EssayPrompts      []string
	Deadline          string
	AwardAmount       *string
	Region            *string
	ContactInfo       *string
	ImageURL          *string
	ApplicationURL    string
	SourceKind        SourceKind
}

// OpportunityRow is the stored projection read back for matching and APIs.
type OpportunityRow struct {
	OpportunityID  int64
	UUID           string
	Title          string
	Provider       string
	Description    string
	Requirements   []string
	Deadline       string
	Region         *string
	ApplicationURL string
	Tags           []string
}

// BuildEmbeddingText synthesizes the canonical text blob an embedding is
// later computed from, stored alongside the vector for reproducibility.
func BuildEmbeddingText(draft OpportunityDraft) string {
	parts := []string{draft.Title, draft.Provider, draft.Description}
	if len(draft.Requirements) > 0 {
		parts = append(parts, strings.Join(draft.Requirements, ". "))
	}
	if draft.Region != nil && strings.TrimSpace(*draft.Region) != "" {
		parts = append(parts, *draft.Region)
	}

	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return strings.Join(cleaned, "\n")
}

// DedupKey derives the advisory deduplication key for an opportunity.
func DedupKey(title, provider string) string {
	return strings.ToLower(strings.TrimSpace(title)) + "-" + strings.ToLower(strings.TrimSpace(provider))
}

// InsertOpportunity applies field caps, synthesizes the embedding text, and
// inserts the record. No uniqueness is enforced on write; dedup is an
// explicit advisory utility.
func (s *Store) InsertOpportunity(ctx context.Context, draft OpportunityDraft) (int64, error) {
	draft.Description = truncateRunes(strings.TrimSpace(draft.Description), MaxDescriptionChars)
	draft.Requirements = capList(draft.Requirements, MaxRequirements)
	draft.RequiredDocuments = capList(draft.RequiredDocuments, MaxRequiredDocuments)
	draft.EssayPrompts = capList(draft.EssayPrompts, MaxEssayPrompts)

	requirementsJSON, err := marshalStringList(draft.Requirements)
	if err != nil {
		return 0, err
	}
	documentsJSON, err := marshalStringList(draft.RequiredDocuments)
	if err != nil {
		return 0, err
	}
	promptsJSON, err := marshalStringList(draft.EssayPrompts)
	if err != nil {
		return 0, err
	}

	const q = `
INSERT INTO fund.opportunities (
	title,
	provider,
	description,
	requirements,
	required_documents,
	essay_prompts,
	deadline,
	award_amount,
	region,
	contact_info,
	image_url,
	application_url,
	tags,
	source_kind,
	embedding_text,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4::jsonb, $5::jsonb, $6::jsonb, $7, $8, $9, $10, $11, $12, '[]'::jsonb, $13, $14, $15, $15)
RETURNING opportunity_id
`
	var opportunityID int64
	err = s.pool.QueryRow(
		ctx,
		q,
		strings.TrimSpace(draft.Title),
		strings.TrimSpace(draft.Provider),
		draft.Description,
		requirementsJSON,
		documentsJSON,
		promptsJSON,
		draft.Deadline,
		nullableString(draft.AwardAmount),
		nullableString(draft.Region),
		nullableString(draft.ContactInfo),
		nullableString(draft.ImageURL),
		strings.TrimSpace(draft.ApplicationURL),
		string(draft.SourceKind),
		BuildEmbeddingText(draft),
		globaltime.UTC(),
	).Scan(&opportunityID)
	if err != nil {
		return 0, fmt.Errorf("insert opportunity url=%s: %w", draft.ApplicationURL, err)
	}
	return opportunityID, nil
}

// PartitionDuplicates splits candidate IDs into first-seen uniques and
// duplicates, keyed by the advisory dedup key. Order of ids decides which
// copy counts as the original.
func (s *Store) PartitionDuplicates(ctx context.Context, ids []int64) (unique []int64, duplicates []int64, err error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}

	keys := make(map[int64]string, len(ids))
	const q = `
SELECT opportunity_id, title, provider
FROM fund.opportunities
WHERE opportunity_id = ANY($1)
`
	rows, err := s.pool.Query(ctx, q, int64Array(ids))
	if err != nil {
		return nil, nil, fmt.Errorf("query dedup candidates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var title, provider string
		if err := rows.Scan(&id, &title, &provider); err != nil {
			return nil, nil, fmt.Errorf("scan dedup candidate: %w", err)
		}
		keys[id] = DedupKey(title, provider)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate dedup candidates: %w", err)
	}

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		key, ok := keys[id]
		if !ok {
			continue
		}
		if _, dup := seen[key]; dup {
			duplicates = append(duplicates, id)
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, id)
	}
	return unique, duplicates, nil
}

// HasOpportunityWithURL reports whether any row already carries the
// application URL. Used by the batch extractor's merge step.
func (s *Store) HasOpportunityWithURL(ctx context.Context, applicationURL string) (bool, error) {
	const q = `
SELECT opportunity_id
FROM fund.opportunities
WHERE application_url = $1
LIMIT 1
`
	var id int64
	err := s.pool.QueryRow(ctx, q, applicationURL).Scan(&id)
	if err != nil {
		if db.IsNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("lookup opportunity url=%s: %w", applicationURL, err)
	}
	return true, nil
}

// ListRecentOpportunities returns the newest rows for keyword matching.
func (s *Store) ListRecentOpportunities(ctx context.Context, limit int) ([]OpportunityRow, error) {
	const q = `
SELECT opportunity_id, opportunity_uuid, title, provider, description, requirements, deadline, region, application_url, tags
FROM fund.opportunities
ORDER BY opportunity_id DESC
LIMIT $1
`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent opportunities: %w", err)
	}
	defer rows.Close()

	return scanOpportunityRows(rows)
}

// GetOpportunity fetches one row by ID.
func (s *Store) GetOpportunity(ctx context.Context, opportunityID int64) (OpportunityRow, bool, error) {
	const q = `
SELECT opportunity_id, opportunity_uuid, title, provider, description, requirements, deadline, region, application_url, tags
FROM fund.opportunities
WHERE opportunity_id = $1
`
	rows, err := s.pool.Query(ctx, q, opportunityID)
	if err != nil {
		return OpportunityRow{}, false, fmt.Errorf("query opportunity id=%d: %w", opportunityID, err)
	}
	defer rows.Close()

	scanned, err := scanOpportunityRows(rows)
	if err != nil {
		return OpportunityRow{}, false, err
	}
	if len(scanned) == 0 {
		return OpportunityRow{}, false, nil
	}
	return scanned[0], true, nil
}

// AppendOpportunityTag adds a tag to the shared tag list if absent. This is
// the legacy match-writer path.
func (s *Store) AppendOpportunityTag(ctx context.Context, opportunityID int64, tag string) error {
	const q = `
UPDATE fund.opportunities
SET tags = tags || to_jsonb($2::text), updated_at = $3
WHERE opportunity_id = $1
  AND NOT tags @> to_jsonb($2::text)
`
	if _, err := s.pool.Exec(ctx, q, opportunityID, tag, globaltime.UTC()); err != nil {
		return fmt.Errorf("append tag opportunity_id=%d: %w", opportunityID, err)
	}
	return nil
}

func scanOpportunityRows(rows *db.Rows) ([]OpportunityRow, error) {
	var out []OpportunityRow
	for rows.Next() {
		var row OpportunityRow
		var requirementsRaw, tagsRaw []byte
		if err := rows.Scan(
			&row.OpportunityID,
			&row.UUID,
			&row.Title,
			&row.Provider,
			&row.Description,
			&requirementsRaw,
			&row.Deadline,
			&row.Region,
			&row.ApplicationURL,
			&tagsRaw,
		); err != nil {
			return nil, fmt.Errorf("scan opportunity row: %w", err)
		}

		requirements, err := unmarshalStringList(requirementsRaw)
		if err != nil {
			return nil, err
		}
		tags, err := unmarshalStringList(tagsRaw)
		if err != nil {
			return nil, err
		}
		row.Requirements = requirements
		row.Tags = tags
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate opportunity rows: %w", err)
	}
	return out, nil
}

func int64Array(ids []int64) []int64 {
	out := make([]int64, len(ids))
	copy(out, ids)
	return out
}
