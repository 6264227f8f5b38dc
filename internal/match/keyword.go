package match

import (
	"fmt"
	"sort"
	"strings"
)

// Additive keyword rule weights. Education levels are evaluated in
// intended -> current -> legacy priority and counted once.
const (
	scoreIntendedLevel = 35
	scoreCurrentLevel  = 25
	scoreLegacyLevel   = 20
	scoreDiscipline    = 20
	scorePerInterest   = 10
	scoreRegion        = 15
)

// Profile is the matcher's view of a user.
type Profile struct {
	UserID                 string
	EducationLevel         string
	IntendedEducationLevel string
	LegacyEducationLevel   string
	Discipline             string
	AcademicInterests      []string
	Nationality            string
}

// OpportunityView is the matcher's view of an opportunity.
type OpportunityView struct {
	OpportunityID int64
	Title         string
	Description   string
	Requirements  []string
	Region        string
}

// KeywordMatch is a rule-based score for one (profile, opportunity) pair.
// Reasons double as the eligibility factors persisted with the match.
type KeywordMatch struct {
	OpportunityID int64
	Score         float64
	Reasons       []string
}

// KeywordScores applies the rule set to every opportunity and returns only
// positive scores, sorted descending.
func KeywordScores(profile Profile, opportunities []OpportunityView) []KeywordMatch {
	matches := make([]KeywordMatch, 0, len(opportunities))
	for _, opp := range opportunities {
		score, reasons := keywordScore(profile, opp)
		if score <= 0 {
			continue
		}
		matches = append(matches, KeywordMatch{
			OpportunityID: opp.OpportunityID,
			Score:         score,
			Reasons:       reasons,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}

func keywordScore(profile Profile, opp OpportunityView) (float64, []string) {
	requirements := strings.ToLower(strings.Join(opp.Requirements, " "))
	description := strings.ToLower(opp.Description)
	region := strings.ToLower(opp.Region)

	var score float64
	var reasons []string

	if level := strings.ToLower(strings.TrimSpace(profile.IntendedEducationLevel)); level != "" && strings.Contains(requirements, level) {
		score += scoreIntendedLevel
		reasons = append(reasons, fmt.Sprintf("requirements mention intended level %q", level))
	} else if level := strings.ToLower(strings.TrimSpace(profile.EducationLevel)); level != "" && strings.Contains(requirements, level) {
		score += scoreCurrentLevel
		reasons = append(reasons, fmt.Sprintf("requirements mention current level %q", level))
	} else if level := strings.ToLower(strings.TrimSpace(profile.LegacyEducationLevel)); level != "" && strings.Contains(requirements, level) {
		score += scoreLegacyLevel
		reasons = append(reasons, fmt.Sprintf("requirements mention level %q", level))
	}

	if discipline := strings.ToLower(strings.TrimSpace(profile.Discipline)); discipline != "" && strings.Contains(requirements, discipline) {
		score += scoreDiscipline
		reasons = append(reasons, fmt.Sprintf("requirements mention discipline %q", discipline))
	}

	for _, interest := range profile.AcademicInterests {
		term := strings.ToLower(strings.TrimSpace(interest))
		if term == "" {
			continue
		}
		if strings.Contains(description, term) {
			score += scorePerInterest
			reasons = append(reasons, fmt.Sprintf("description mentions interest %q", term))
		}
	}

	if nationality := strings.ToLower(strings.TrimSpace(profile.Nationality)); nationality != "" && strings.Contains(region, nationality) {
		score += scoreRegion
		reasons = append(reasons, fmt.Sprintf("region covers %q", nationality))
	}

	return score, reasons
}
