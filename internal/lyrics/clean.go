package lyrics

import (
	"regexp"
	"strings"
)

var (
	disclaimerRe = regexp.MustCompile(`(?s)\*{4,}.*?\*{4,}.*$`)
	ellipsisRe   = regexp.MustCompile(`^(\.{3,}|…)$`)
)

// Clean removes the provider's trailing disclaimer block and ellipsis lines.
func Clean(raw string) string {
	text := disclaimerRe.ReplaceAllString(raw, "")

	lines := strings.Split(strings.TrimRight(text, " \t\r\n"), "\n")
	for len(lines) > 0 {
		last := strings.TrimSpace(lines[len(lines)-1])
		if last != "" && !ellipsisRe.MatchString(last) {
			break
		}
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
