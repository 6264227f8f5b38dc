package match

import (
	"sort"
)

const (
	semanticWeight = 0.7
	keywordWeight  = 0.3
)

// HybridMatch combines a semantic and a keyword score for one opportunity.
type HybridMatch struct {
	OpportunityID int64
	Score         float64
	Semantic      float64
	Keyword       float64
	Reasons       []string
}

// CombineHybrid fuses semantic similarities (0..1, scaled to 0..100) with
// keyword matches (native scale). A side with no match contributes 0.
// Only positive totals are kept, sorted descending.
func CombineHybrid(semantic map[int64]float64, keyword []KeywordMatch) []HybridMatch {
	keywordByID := make(map[int64]KeywordMatch, len(keyword))
	for _, m := range keyword {
		keywordByID[m.OpportunityID] = m
	}

	seen := make(map[int64]struct{}, len(semantic)+len(keyword))
	combined := make([]HybridMatch, 0, len(semantic)+len(keyword))

	appendMatch := func(id int64) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}

		semanticScore := semantic[id] * 100
		kw := keywordByID[id]

		total := semanticScore*semanticWeight + kw.Score*keywordWeight
		if total <= 0 {
			return
		}
		combined = append(combined, HybridMatch{
			OpportunityID: id,
			Score:         total,
			Semantic:      semanticScore,
			Keyword:       kw.Score,
			Reasons:       kw.Reasons,
		})
	}

	for id := range semantic {
		appendMatch(id)
	}
	for _, m := range keyword {
		appendMatch(m.OpportunityID)
	}

	sort.SliceStable(combined, func(i, j int) bool {
		if combined[i].Score != combined[j].Score {
			return combined[i].Score > combined[j].Score
		}
		return combined[i].OpportunityID < combined[j].OpportunityID
	})
	return combined
}
