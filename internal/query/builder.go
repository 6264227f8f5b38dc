// Package query builds weighted search strings for the discovery pipeline.
// Building is pure: the same profile or free-text input always yields the
// same query string.
package query

import (
	"strings"
)

const (
	baseTerms    = "scholarship OR fellowship OR grant"
	domainFilter = "(site:.edu OR site:.gov OR site:.org)"

	maxInterestTerms = 3
)

// Profile is the projection of a user profile the builder consumes.
type Profile struct {
	EducationLevel         string
	IntendedEducationLevel string
	Discipline             string
	AcademicInterests      []string
	Nationality            string
}

// Education-level synonym groups. A "highschool" current level maps to the
// undergraduate group for search purposes only: the searcher is looking for
// what comes next, not for their current stage.
var educationSynonyms = map[string][]string{
	"highschool":    {"undergraduate", "bachelors", "college"},
	"undergraduate": {"undergraduate", "bachelors", "college"},
	"bachelors":     {"undergraduate", "bachelors", "college"},
	"masters":       {"masters", "graduate", "postgraduate"},
	"graduate":      {"masters", "graduate", "postgraduate"},
	"phd":           {"phd", "doctoral", "doctorate"},
	"doctorate":     {"phd", "doctoral", "doctorate"},
}

// BuildProfileQuery assembles the search string for a profile-scoped
// discovery run.
func BuildProfileQuery(profile Profile) string {
	parts := []string{baseTerms}

	current := normalizeLevel(profile.EducationLevel)
	intended := normalizeLevel(profile.IntendedEducationLevel)

	currentGroup := synonymGroup(current)
	if currentGroup != "" {
		parts = append(parts, currentGroup)
	}
	if intended != "" && intended != current {
		if intendedGroup := synonymGroup(intended); intendedGroup != "" && intendedGroup != currentGroup {
			parts = append(parts, intendedGroup)
		}
	}

	if interests := interestClause(profile.AcademicInterests); interests != "" {
		parts = append(parts, interests)
	}

	if discipline := strings.TrimSpace(profile.Discipline); discipline != "" {
		parts = append(parts, discipline)
	}
	if nationality := strings.TrimSpace(profile.Nationality); nationality != "" {
		parts = append(parts, nationality)
	}

	parts = append(parts, domainFilter)
	return strings.Join(parts, " ")
}

// BuildFreeTextQuery wraps a user-supplied query with the base terms and
// domain filter used for every discovery run.
func BuildFreeTextQuery(text string) string {
	trimmed := strings.Join(strings.Fields(text), " ")
	if trimmed == "" {
		return strings.Join([]string{baseTerms, domainFilter}, " ")
	}
	return strings.Join([]string{trimmed, domainFilter}, " ")
}

func normalizeLevel(level string) string {
	return strings.ToLower(strings.Join(strings.Fields(level), ""))
}

func synonymGroup(level string) string {
	synonyms, ok := educationSynonyms[level]
	if !ok {
		if level == "" {
			return ""
		}
		return "(" + level + ")"
	}
	return "(" + strings.Join(synonyms, " OR ") + ")"
}

func interestClause(interests []string) string {
	terms := make([]string, 0, maxInterestTerms)
	for _, interest := range interests {
		trimmed := strings.TrimSpace(interest)
		if trimmed == "" {
			continue
		}
		terms = append(terms, trimmed)
		if len(terms) == maxInterestTerms {
			break
		}
	}
	if len(terms) == 0 {
		return ""
	}
	return "(" + strings.Join(terms, " OR ") + ")"
}
