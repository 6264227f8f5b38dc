package store

import (
	"context"
	"fmt"
	"strings"

	"horse.fit/stipend/internal/globaltime"
	"horse.fit/stipend/internal/match"
)

// ProfileRow is the stored projection of a user profile, including the
// optional persisted embedding literal.
type ProfileRow struct {
	Profile          match.Profile
	EmbeddingLiteral *string
	EmbeddingText    string
}

// GetUserProfile loads the matcher projection for one user. IsNoRows on the
// returned error distinguishes a missing profile.
func (s *Store) GetUserProfile(ctx context.Context, userID string) (*ProfileRow, error) {
	const q = `
SELECT
	user_id,
	education_level,
	intended_education_level,
	legacy_education_level,
	discipline,
	academic_interests,
	nationality,
	embedding::text,
	embedding_text
FROM fund.user_profiles
WHERE user_id = $1
`
	var (
		row                        ProfileRow
		educationLevel             *string
		intendedLevel, legacyLevel *string
		discipline, nationality    *string
		interestsJSON              []byte
	)
	err := s.pool.QueryRow(ctx, q, userID).Scan(
		&row.Profile.UserID,
		&educationLevel,
		&intendedLevel,
		&legacyLevel,
		&discipline,
		&interestsJSON,
		&nationality,
		&row.EmbeddingLiteral,
		&row.EmbeddingText,
	)
	if err != nil {
		return nil, fmt.Errorf("get user profile user_id=%s: %w", userID, err)
	}

	row.Profile.EducationLevel = derefString(educationLevel)
	row.Profile.IntendedEducationLevel = derefString(intendedLevel)
	row.Profile.LegacyEducationLevel = derefString(legacyLevel)
	row.Profile.Discipline = derefString(discipline)
	row.Profile.Nationality = derefString(nationality)

	interests, err := unmarshalStringList(interestsJSON)
	if err != nil {
		return nil, fmt.Errorf("decode academic interests user_id=%s: %w", userID, err)
	}
	row.Profile.AcademicInterests = interests
	return &row, nil
}

// ListUserIDsWithProfiles returns every user the daily pass should match.
func (s *Store) ListUserIDsWithProfiles(ctx context.Context) ([]string, error) {
	const q = `
SELECT user_id
FROM fund.user_profiles
ORDER BY user_id
`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list user profiles: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		userIDs = append(userIDs, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user ids: %w", err)
	}
	return userIDs, nil
}

// SetUserProfileEmbedding persists a profile vector and its source text.
func (s *Store) SetUserProfileEmbedding(ctx context.Context, userID, vectorLiteral, sourceText string) error {
	const q = `
UPDATE fund.user_profiles
SET embedding = $2::vector, embedding_text = $3, updated_at = $4
WHERE user_id = $1
`
	tag, err := s.pool.Exec(ctx, q, userID, vectorLiteral, sourceText, globaltime.UTC())
	if err != nil {
		return fmt.Errorf("set user profile embedding user_id=%s: %w", userID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("user profile user_id=%s not found", userID)
	}
	return nil
}

// BuildProfileEmbeddingText flattens a profile into the text sent to the
// embedding capability. Empty fields are skipped so the text stays stable
// for sparse profiles.
func BuildProfileEmbeddingText(profile match.Profile) string {
	parts := make([]string, 0, 6)
	appendPart := func(label, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		parts = append(parts, label+": "+value)
	}
	appendPart("education level", profile.EducationLevel)
	appendPart("intended education level", profile.IntendedEducationLevel)
	appendPart("discipline", profile.Discipline)
	appendPart("academic interests", strings.Join(profile.AcademicInterests, ", "))
	appendPart("nationality", profile.Nationality)
	return strings.Join(parts, "\n")
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
