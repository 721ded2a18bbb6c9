package fuzzy

import (
	"regexp"
	"strings"
)

var (
	trailingParen   = regexp.MustCompile(`\s*\([^()]*\)\s*$`)
	trailingBracket = regexp.MustCompile(`\s*[\(\[][^\(\)\[\]]*[\)\]]\s*$`)
	featClause      = regexp.MustCompile(`(?i)\s+(featuring|feat\.?|ft\.?|with)\s+.*$`)
	collabX         = regexp.MustCompile(`(?i)\s+x\s+.*$`)
	collabAmp       = regexp.MustCompile(`\s*&.*$`)
	collabComma     = regexp.MustCompile(`\s*,.*$`)
	versionSuffix   = regexp.MustCompile(`(?i)\s+-\s+.*\b(remix|live|remaster(ed)?|edit|version)\b.*$`)
	featParen       = regexp.MustCompile(`(?i)\s*[\(\[](feat\.?|ft\.?|featuring)\s+[^\)\]]*[\)\]]`)
)

// ArtistAlternatives returns spellings of artist to widen a catalog search.
// The unmodified name is always first.
func ArtistAlternatives(artist string) []string {
	alts := newOrderedSet(artist)
	alts.add(trailingParen.ReplaceAllString(artist, ""))
	alts.add(featClause.ReplaceAllString(artist, ""))
	alts.add(collabX.ReplaceAllString(artist, ""))
	alts.add(collabAmp.ReplaceAllString(artist, ""))
	alts.add(collabComma.ReplaceAllString(artist, ""))
	if fields := strings.Fields(artist); len(fields) > 0 && len(fields[0]) > 2 {
		alts.add(fields[0])
	}
	return alts.items
}

// TrackAlternatives returns spellings of track with release decorations removed.
// The unmodified title is always first and the cumulative clean-up is last.
func TrackAlternatives(track string) []string {
	alts := newOrderedSet(track)
	alts.add(trailingBracket.ReplaceAllString(track, ""))
	alts.add(versionSuffix.ReplaceAllString(track, ""))
	alts.add(featParen.ReplaceAllString(track, ""))
	alts.add(DeepCleanTrack(track))
	return alts.items
}

// DeepCleanTrack applies every track clean-up pattern cumulatively.
func DeepCleanTrack(track string) string {
	s := featParen.ReplaceAllString(track, "")
	s = versionSuffix.ReplaceAllString(s, "")
	for {
		next := trailingBracket.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = next
	}
	return strings.TrimSpace(s)
}

func cleanArtist(artist string) string {
	s := trailingParen.ReplaceAllString(artist, "")
	s = featClause.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Candidate is one (track, artist) spelling to query the lyric provider with.
type Candidate struct {
	Track  string
	Artist string
}

// Combinations returns the track-major cartesian product of the alternatives,
// capped at limit entries.
func Combinations(track, artist string, limit int) []Candidate {
	tracks := TrackAlternatives(track)
	artists := ArtistAlternatives(artist)

	out := make([]Candidate, 0, min(limit, len(tracks)*len(artists)))
	for _, t := range tracks {
		for _, a := range artists {
			if len(out) >= limit {
				return out
			}
			out = append(out, Candidate{Track: t, Artist: a})
		}
	}
	return out
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet(first string) *orderedSet {
	s := &orderedSet{seen: make(map[string]struct{})}
	s.seen[first] = struct{}{}
	s.items = append(s.items, first)
	return s
}

func (s *orderedSet) add(v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}
