// Package embedder computes and persists vectors for opportunities and
// user profiles through the external embedding capability.
package embedder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/stipend/internal/clients"
	"horse.fit/stipend/internal/store"
)

// Storage is the persistence surface the embedder needs.
type Storage interface {
	SelectOpportunitiesMissingEmbedding(ctx context.Context, limit int) ([]store.EmbeddingTarget, error)
	SetOpportunityEmbedding(ctx context.Context, opportunityID int64, vectorLiteral, sourceText string) error
	CountOpportunitiesMissingEmbedding(ctx context.Context) (int64, error)
	GetUserProfile(ctx context.Context, userID string) (*store.ProfileRow, error)
	SetUserProfileEmbedding(ctx context.Context, userID, vectorLiteral, sourceText string) error
}

// Result summarizes one batch pass.
type Result struct {
	Processed int
	Embedded  int
	Failed    int
	Remaining int64
}

type Service struct {
	storage   Storage
	embedding clients.EmbeddingClient
	callDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	logger    zerolog.Logger
}

func New(storage Storage, embedding clients.EmbeddingClient, callDelay time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		storage:   storage,
		embedding: embedding,
		callDelay: callDelay,
		sleep:     sleepWithContext,
		logger:    logger.With().Str("component", "embedder").Logger(),
	}
}

// EmbedText runs one embedding call and renders the pgvector literal.
// Empty input is rejected before the network call.
func (s *Service) EmbedText(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("embedding text is empty")
	}
	vector, err := s.embedding.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("embed text: %w", err)
	}
	literal, err := store.ToVectorLiteral(vector)
	if err != nil {
		return "", fmt.Errorf("render vector: %w", err)
	}
	return literal, nil
}

// EmbedOpportunity computes and persists one opportunity's vector.
func (s *Service) EmbedOpportunity(ctx context.Context, opportunityID int64, embeddingText string) error {
	literal, err := s.EmbedText(ctx, embeddingText)
	if err != nil {
		return fmt.Errorf("opportunity id=%d: %w", opportunityID, err)
	}
	if err := s.storage.SetOpportunityEmbedding(ctx, opportunityID, literal, embeddingText); err != nil {
		return err
	}
	s.logger.Debug().Int64("opportunity_id", opportunityID).Msg("opportunity embedded")
	return nil
}

// EmbedUserProfile recomputes and persists one user's profile vector. A
// profile with no text content is left untouched.
func (s *Service) EmbedUserProfile(ctx context.Context, userID string) error {
	row, err := s.storage.GetUserProfile(ctx, userID)
	if err != nil {
		return err
	}

	text := store.BuildProfileEmbeddingText(row.Profile)
	if text == "" {
		s.logger.Warn().Str("user_id", userID).Msg("profile has no embeddable content, skipping")
		return nil
	}
	if row.EmbeddingLiteral != nil && row.EmbeddingText == text {
		return nil
	}

	literal, err := s.EmbedText(ctx, text)
	if err != nil {
		return fmt.Errorf("user profile user_id=%s: %w", userID, err)
	}
	return s.storage.SetUserProfileEmbedding(ctx, userID, literal, text)
}

// EmbedPendingOpportunities embeds up to limit opportunities missing a
// vector, pacing calls by the configured delay. Per-item failures are
// counted and logged, not fatal to the pass.
func (s *Service) EmbedPendingOpportunities(ctx context.Context, limit int) (Result, error) {
	targets, err := s.storage.SelectOpportunitiesMissingEmbedding(ctx, limit)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for i, target := range targets {
		if i > 0 && s.callDelay > 0 {
			if err := s.sleep(ctx, s.callDelay); err != nil {
				return result, err
			}
		}
		result.Processed++
		if err := s.EmbedOpportunity(ctx, target.ID, target.EmbeddingText); err != nil {
			result.Failed++
			s.logger.Error().Err(err).Int64("opportunity_id", target.ID).Msg("embedding failed")
			continue
		}
		result.Embedded++
	}

	remaining, err := s.storage.CountOpportunitiesMissingEmbedding(ctx)
	if err != nil {
		return result, err
	}
	result.Remaining = remaining

	s.logger.Info().
		Int("processed", result.Processed).
		Int("embedded", result.Embedded).
		Int("failed", result.Failed).
		Int64("remaining", result.Remaining).
		Msg("embedding pass finished")
	return result, nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
