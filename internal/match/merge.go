package match

// Kind is the provenance of a user-opportunity match, used as a tie-break
// priority when repeated matching passes touch the same row.
type Kind string

const (
	KindDailyAutomated Kind = "daily-automated"
	KindUserSearch     Kind = "user-search"
	KindManual         Kind = "manual"
)

// ValidKind reports whether k is a known match kind.
func ValidKind(k Kind) bool {
	switch k {
	case KindDailyAutomated, KindUserSearch, KindManual:
		return true
	}
	return false
}

// ShouldOverwrite decides whether a new match replaces an existing row for
// the same (user, opportunity). Priority order is
// user-search > daily-automated > manual, and a higher score always wins
// regardless of kind.
func ShouldOverwrite(existingScore float64, existingKind Kind, newScore float64, newKind Kind) bool {
	if newScore > existingScore {
		return true
	}
	if newKind == KindUserSearch && existingKind != KindUserSearch {
		return true
	}
	if newKind == KindDailyAutomated && existingKind == KindManual {
		return true
	}
	return false
}
