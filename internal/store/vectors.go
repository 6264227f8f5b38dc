package store

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"horse.fit/stipend/internal/globaltime"
)

// EmbeddingDimensions is fixed system-wide; every capability and column
// agrees on it.
const EmbeddingDimensions = 1536

// ToVectorLiteral renders a float vector as a pgvector text literal,
// validating dimension and finiteness.
func ToVectorLiteral(values []float64) (string, error) {
	if len(values) != EmbeddingDimensions {
		return "", fmt.Errorf("expected %d dimensions, got %d", EmbeddingDimensions, len(values))
	}

	var builder strings.Builder
	builder.Grow(len(values) * 8)
	builder.WriteByte('[')
	for i, value := range values {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return "", fmt.Errorf("vector has non-finite value at index %d", i)
		}
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(value, 'f', -1, 64))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}

// EmbeddingTarget is a row awaiting an embedding.
type EmbeddingTarget struct {
	ID            int64
	EmbeddingText string
}

// SelectOpportunitiesMissingEmbedding returns up to limit rows without a
// vector, oldest first.
func (s *Store) SelectOpportunitiesMissingEmbedding(ctx context.Context, limit int) ([]EmbeddingTarget, error) {
	const q = `
SELECT opportunity_id, embedding_text
FROM fund.opportunities
WHERE embedding IS NULL
ORDER BY opportunity_id
LIMIT $1
`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("select opportunities missing embedding: %w", err)
	}
	defer rows.Close()

	targets := make([]EmbeddingTarget, 0, limit)
	for rows.Next() {
		var t EmbeddingTarget
		if err := rows.Scan(&t.ID, &t.EmbeddingText); err != nil {
			return nil, fmt.Errorf("scan embedding target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embedding targets: %w", err)
	}
	return targets, nil
}

// SetOpportunityEmbedding persists vector and source text. Idempotent
// overwrite: running the pass more than once converges on the same state.
func (s *Store) SetOpportunityEmbedding(ctx context.Context, opportunityID int64, vectorLiteral, sourceText string) error {
	const q = `
UPDATE fund.opportunities
SET embedding = $2::vector, embedding_text = $3, updated_at = $4
WHERE opportunity_id = $1
`
	tag, err := s.pool.Exec(ctx, q, opportunityID, vectorLiteral, sourceText, globaltime.UTC())
	if err != nil {
		return fmt.Errorf("set opportunity embedding id=%d: %w", opportunityID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("opportunity id=%d not found", opportunityID)
	}
	return nil
}

// CountOpportunitiesMissingEmbedding supports the batch pass's reporting.
func (s *Store) CountOpportunitiesMissingEmbedding(ctx context.Context) (int64, error) {
	const q = `
SELECT COUNT(*)
FROM fund.opportunities
WHERE embedding IS NULL
`
	var count int64
	if err := s.pool.QueryRow(ctx, q).Scan(&count); err != nil {
		return 0, fmt.Errorf("count opportunities missing embedding: %w", err)
	}
	return count, nil
}

// SemanticHit is one nearest-neighbor result from the vector index.
type SemanticHit struct {
	OpportunityID int64
	Similarity    float64
}

// SemanticSearchOpportunities runs cosine nearest-neighbor search over the
// opportunity embedding index.
func (s *Store) SemanticSearchOpportunities(ctx context.Context, vectorLiteral string, limit int) ([]SemanticHit, error) {
	const q = `
SELECT
	opportunity_id,
	(1 - (embedding <=> $1::vector))::DOUBLE PRECISION AS similarity
FROM fund.opportunities
WHERE embedding IS NOT NULL
ORDER BY embedding <=> $1::vector ASC
LIMIT $2
`
	rows, err := s.pool.Query(ctx, q, vectorLiteral, limit)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	defer rows.Close()

	hits := make([]SemanticHit, 0, limit)
	for rows.Next() {
		var hit SemanticHit
		if err := rows.Scan(&hit.OpportunityID, &hit.Similarity); err != nil {
			return nil, fmt.Errorf("scan semantic hit: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate semantic hits: %w", err)
	}
	return hits, nil
}
