// Package matcher runs the hybrid matching pass: semantic
// nearest-neighbor search fused with keyword rule scores, persisted per
// user through the kind-priority merge rule.
package matcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/stipend/internal/match"
	"horse.fit/stipend/internal/store"
)

// legacyMatchTag is appended to matched opportunities when the old
// tag-based delivery path is still enabled.
const legacyMatchTag = "for-you"

// Storage is the persistence surface a matching pass needs.
type Storage interface {
	GetUserProfile(ctx context.Context, userID string) (*store.ProfileRow, error)
	ListUserIDsWithProfiles(ctx context.Context) ([]string, error)
	SemanticSearchOpportunities(ctx context.Context, vectorLiteral string, limit int) ([]store.SemanticHit, error)
	ListRecentOpportunities(ctx context.Context, limit int) ([]store.OpportunityRow, error)
	UpsertMatch(ctx context.Context, upsert store.MatchUpsert) (bool, error)
	AppendOpportunityTag(ctx context.Context, opportunityID int64, tag string) error
}

// Options tunes a matching pass.
type Options struct {
	ScoreThreshold float64
	CandidateLimit int
	// LegacyTagMatches additionally appends the delivery tag to matched
	// opportunities, mirroring the pre-table delivery path. Off unless the
	// deployment still reads tags.
	LegacyTagMatches bool
}

// UserResult summarizes one user's pass.
type UserResult struct {
	UserID    string
	Scored    int
	Persisted int
}

// RunSummary aggregates a multi-user pass.
type RunSummary struct {
	Users     int
	Failed    int
	Persisted int
}

type Service struct {
	storage Storage
	opts    Options
	logger  zerolog.Logger
}

func New(storage Storage, opts Options, logger zerolog.Logger) *Service {
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = 200
	}
	return &Service{
		storage: storage,
		opts:    opts,
		logger:  logger.With().Str("component", "matcher").Logger(),
	}
}

// RunForUser scores candidate opportunities against one user and persists
// every hybrid score at or above the threshold. A profile without an
// embedding degrades to keyword-only scoring.
func (s *Service) RunForUser(ctx context.Context, userID string, kind match.Kind) (UserResult, error) {
	if !match.ValidKind(kind) {
		return UserResult{}, fmt.Errorf("invalid match kind %q", kind)
	}

	row, err := s.storage.GetUserProfile(ctx, userID)
	if err != nil {
		return UserResult{}, err
	}

	candidates, err := s.storage.ListRecentOpportunities(ctx, s.opts.CandidateLimit)
	if err != nil {
		return UserResult{}, err
	}

	views := make([]match.OpportunityView, 0, len(candidates))
	for _, opp := range candidates {
		views = append(views, opportunityView(opp))
	}
	keyword := match.KeywordScores(row.Profile, views)

	semantic := map[int64]float64{}
	if row.EmbeddingLiteral != nil {
		hits, err := s.storage.SemanticSearchOpportunities(ctx, *row.EmbeddingLiteral, s.opts.CandidateLimit)
		if err != nil {
			return UserResult{}, err
		}
		for _, hit := range hits {
			semantic[hit.OpportunityID] = clamp01(hit.Similarity)
		}
	} else {
		s.logger.Warn().Str("user_id", userID).Msg("profile has no embedding, keyword-only pass")
	}

	hybrid := match.CombineHybrid(semantic, keyword)

	result := UserResult{UserID: userID, Scored: len(hybrid)}
	for _, m := range hybrid {
		if m.Score < s.opts.ScoreThreshold {
			continue
		}
		written, err := s.storage.UpsertMatch(ctx, store.MatchUpsert{
			UserID:             userID,
			OpportunityID:      m.OpportunityID,
			Score:              m.Score,
			Kind:               kind,
			Reasoning:          reasoning(m),
			EligibilityFactors: m.Reasons,
		})
		if err != nil {
			return result, err
		}
		if !written {
			continue
		}
		result.Persisted++

		if s.opts.LegacyTagMatches {
			if err := s.storage.AppendOpportunityTag(ctx, m.OpportunityID, legacyMatchTag); err != nil {
				s.logger.Warn().Err(err).Int64("opportunity_id", m.OpportunityID).Msg("legacy tag append failed")
			}
		}
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("kind", string(kind)).
		Int("scored", result.Scored).
		Int("persisted", result.Persisted).
		Msg("matching pass finished")
	return result, nil
}

// RunForAllUsers runs the pass for every profiled user. One user's failure
// does not abort the rest.
func (s *Service) RunForAllUsers(ctx context.Context, kind match.Kind) (RunSummary, error) {
	userIDs, err := s.storage.ListUserIDsWithProfiles(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	summary := RunSummary{Users: len(userIDs)}
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		result, err := s.RunForUser(ctx, userID, kind)
		if err != nil {
			summary.Failed++
			s.logger.Error().Err(err).Str("user_id", userID).Msg("user matching pass failed")
			continue
		}
		summary.Persisted += result.Persisted
	}
	return summary, nil
}

// reasoning builds the human-readable explanation stored with a match.
func reasoning(m match.HybridMatch) string {
	parts := make([]string, 0, 2)
	if m.Semantic > 0 {
		parts = append(parts, fmt.Sprintf("semantic similarity %.0f/100", m.Semantic))
	}
	if m.Keyword > 0 {
		parts = append(parts, fmt.Sprintf("keyword rules %.0f: %s", m.Keyword, strings.Join(m.Reasons, "; ")))
	}
	return strings.Join(parts, " | ")
}

func opportunityView(opp store.OpportunityRow) match.OpportunityView {
	region := ""
	if opp.Region != nil {
		region = *opp.Region
	}
	return match.OpportunityView{
		OpportunityID: opp.OpportunityID,
		Title:         opp.Title,
		Description:   opp.Description,
		Requirements:  opp.Requirements,
		Region:        region,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
