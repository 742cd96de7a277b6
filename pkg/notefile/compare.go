package notefile

import (
	"slices"
	"strings"
)

// Normalize removes whitespace and line-ending differences that editors
// introduce without the user changing anything.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// NormalizeTags trims labels, drops empty ones and returns them as a sorted
// set.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Equivalent reports whether two documents carry the same logical content:
// title, body and tags after normalization. Header timestamps are ignored.
func Equivalent(a, b Document) bool {
	return strings.TrimSpace(a.Header.Title) == strings.TrimSpace(b.Header.Title) &&
		Normalize(a.Body) == Normalize(b.Body) &&
		slices.Equal(NormalizeTags(a.Header.Tags), NormalizeTags(b.Header.Tags))
}

// Identical reports whether two documents carry exactly the same title,
// body and tags.
func Identical(a, b Document) bool {
	return a.Header.Title == b.Header.Title &&
		a.Body == b.Body &&
		slices.Equal(a.Header.Tags, b.Header.Tags)
}

// WordCount counts whitespace-separated words in body.
func WordCount(body string) int {
	return len(strings.Fields(body))
}
