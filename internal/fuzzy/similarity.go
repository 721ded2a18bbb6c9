package fuzzy

import (
	"strings"
	"unicode/utf8"
)

const (
	trackWeight  = 0.6
	artistWeight = 0.4
)

// Similarity scores two free-text names from 0 to 100.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 100
	}
	if na == "" || nb == "" {
		return 0
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 80
	}

	maxLen := max(utf8.RuneCountInString(na), utf8.RuneCountInString(nb))
	dist := Levenshtein(na, nb)
	return 100 * (1 - float64(dist)/float64(maxLen))
}

// Combine weights track similarity above artist similarity.
func Combine(trackSimilarity, artistSimilarity float64) float64 {
	return trackWeight*trackSimilarity + artistWeight*artistSimilarity
}

// Score rates a catalog result against the requested track and artist.
func Score(wantTrack, wantArtist, gotTrack, gotArtist string) float64 {
	return Combine(Similarity(wantTrack, gotTrack), Similarity(wantArtist, gotArtist))
}
