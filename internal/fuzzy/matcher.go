// Package fuzzy finds the catalog entry that best matches a requested
// track and artist when names are spelled differently across services.
package fuzzy

const (
	DefaultMinScore        = 40.0
	DefaultMaxCombinations = 10
)

// Result is one entry returned by an external catalog search.
type Result struct {
	ID     string
	Track  string
	Artist string
}

// Matcher scores catalog results against a requested track.
type Matcher struct {
	MinScore        float64
	MaxCombinations int
}

// NewMatcher returns a Matcher, falling back to defaults for zero values.
func NewMatcher(minScore float64, maxCombinations int) *Matcher {
	if minScore <= 0 {
		minScore = DefaultMinScore
	}
	if maxCombinations <= 0 {
		maxCombinations = DefaultMaxCombinations
	}
	return &Matcher{MinScore: minScore, MaxCombinations: maxCombinations}
}

// Combinations returns the capped search candidates for track and artist.
func (m *Matcher) Combinations(track, artist string) []Candidate {
	return Combinations(track, artist, m.MaxCombinations)
}

// BestMatch returns the highest scoring result. The first result wins ties.
// ok is false when nothing reaches the configured minimum score.
func (m *Matcher) BestMatch(track, artist string, results []Result) (best Result, score float64, ok bool) {
	score = -1
	for _, r := range results {
		s := Score(track, artist, r.Track, r.Artist)
		if s > score {
			best, score = r, s
		}
	}
	if score < m.MinScore {
		return Result{}, max(score, 0), false
	}
	return best, score, true
}
