package store

import (
	"context"
	"fmt"
	"time"

	"horse.fit/stipend/internal/db"
	"horse.fit/stipend/internal/globaltime"
	"horse.fit/stipend/internal/match"
)

// MatchRow maps one fund.user_opportunity_matches row.
type MatchRow struct {
	MatchID            int64
	MatchUUID          string
	UserID             string
	OpportunityID      int64
	MatchScore         float64
	MatchKind          string
	Reasoning          string
	EligibilityFactors []string
	MatchedAt          time.Time
}

// MatchUpsert is one candidate write into the per-user match table.
type MatchUpsert struct {
	UserID             string
	OpportunityID      int64
	Score              float64
	Kind               match.Kind
	Reasoning          string
	EligibilityFactors []string
}

// UpsertMatch writes a match, applying the kind-priority overwrite rule
// against any existing row for the same (user, opportunity) pair. Returns
// true when the table changed. Read and write run in one transaction so two
// concurrent passes cannot interleave a stale decision.
func (s *Store) UpsertMatch(ctx context.Context, upsert MatchUpsert) (bool, error) {
	if !match.ValidKind(upsert.Kind) {
		return false, fmt.Errorf("invalid match kind %q", upsert.Kind)
	}

	factorsJSON, err := marshalStringList(upsert.EligibilityFactors)
	if err != nil {
		return false, fmt.Errorf("encode eligibility factors: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin match upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	const selectQ = `
SELECT match_score, match_kind
FROM fund.user_opportunity_matches
WHERE user_id = $1 AND opportunity_id = $2
FOR UPDATE
`
	var (
		existingScore float64
		existingKind  string
	)
	err = tx.QueryRow(ctx, selectQ, upsert.UserID, upsert.OpportunityID).Scan(&existingScore, &existingKind)
	switch {
	case db.IsNoRows(err):
		const insertQ = `
INSERT INTO fund.user_opportunity_matches
	(user_id, opportunity_id, match_score, match_kind, reasoning, eligibility_factors, matched_at)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
`
		if _, err := tx.Exec(ctx, insertQ,
			upsert.UserID,
			upsert.OpportunityID,
			upsert.Score,
			string(upsert.Kind),
			upsert.Reasoning,
			factorsJSON,
			globaltime.UTC(),
		); err != nil {
			return false, fmt.Errorf("insert match user_id=%s opportunity_id=%d: %w", upsert.UserID, upsert.OpportunityID, err)
		}
	case err != nil:
		return false, fmt.Errorf("read existing match user_id=%s opportunity_id=%d: %w", upsert.UserID, upsert.OpportunityID, err)
	default:
		if !match.ShouldOverwrite(existingScore, match.Kind(existingKind), upsert.Score, upsert.Kind) {
			return false, nil
		}
		const updateQ = `
UPDATE fund.user_opportunity_matches
SET match_score = $3, match_kind = $4, reasoning = $5, eligibility_factors = $6::jsonb, matched_at = $7
WHERE user_id = $1 AND opportunity_id = $2
`
		if _, err := tx.Exec(ctx, updateQ,
			upsert.UserID,
			upsert.OpportunityID,
			upsert.Score,
			string(upsert.Kind),
			upsert.Reasoning,
			factorsJSON,
			globaltime.UTC(),
		); err != nil {
			return false, fmt.Errorf("update match user_id=%s opportunity_id=%d: %w", upsert.UserID, upsert.OpportunityID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit match upsert: %w", err)
	}
	return true, nil
}

// GetMatch fetches the live row for one (user, opportunity) pair.
func (s *Store) GetMatch(ctx context.Context, userID string, opportunityID int64) (*MatchRow, error) {
	const q = `
SELECT match_id, match_uuid, user_id, opportunity_id, match_score, match_kind, reasoning, eligibility_factors, matched_at
FROM fund.user_opportunity_matches
WHERE user_id = $1 AND opportunity_id = $2
`
	row := s.pool.QueryRow(ctx, q, userID, opportunityID)
	m, err := scanMatchRow(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("get match user_id=%s opportunity_id=%d: %w", userID, opportunityID, err)
	}
	return m, nil
}

// ListMatchesForUser returns the user's matches ordered by score descending.
func (s *Store) ListMatchesForUser(ctx context.Context, userID string, limit int) ([]MatchRow, error) {
	const q = `
SELECT match_id, match_uuid, user_id, opportunity_id, match_score, match_kind, reasoning, eligibility_factors, matched_at
FROM fund.user_opportunity_matches
WHERE user_id = $1
ORDER BY match_score DESC, opportunity_id
LIMIT $2
`
	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list matches user_id=%s: %w", userID, err)
	}
	defer rows.Close()

	matches := make([]MatchRow, 0, limit)
	for rows.Next() {
		m, err := scanMatchRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan match row: %w", err)
		}
		matches = append(matches, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return matches, nil
}

func scanMatchRow(scan func(dest ...any) error) (*MatchRow, error) {
	var (
		m           MatchRow
		factorsJSON []byte
	)
	if err := scan(
		&m.MatchID,
		&m.MatchUUID,
		&m.UserID,
		&m.OpportunityID,
		&m.MatchScore,
		&m.MatchKind,
		&m.Reasoning,
		&factorsJSON,
		&m.MatchedAt,
	); err != nil {
		return nil, err
	}
	factors, err := unmarshalStringList(factorsJSON)
	if err != nil {
		return nil, err
	}
	m.EligibilityFactors = factors
	return &m, nil
}
