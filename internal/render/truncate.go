package render

import (
	"strings"

	"golang.org/x/text/width"
)

// Ellipsis marks truncated text.
const Ellipsis = "…"

// DisplayWidth returns the number of terminal columns s occupies. East Asian
// wide and fullwidth runes take two columns.
func DisplayWidth(s string) int {
	n := 0
	for _, r := range s {
		n += runeWidth(r)
	}
	return n
}

// Truncate shortens s to at most maxWidth columns, replacing the cut with an
// ellipsis. A non-positive maxWidth disables truncation.
func Truncate(s string, maxWidth int) string {
	if maxWidth <= 0 || DisplayWidth(s) <= maxWidth {
		return s
	}

	var b strings.Builder
	used := 0
	for _, r := range s {
		w := runeWidth(r)
		if used+w > maxWidth-1 {
			break
		}
		b.WriteRune(r)
		used += w
	}
	return strings.TrimRight(b.String(), " ") + Ellipsis
}

// Pad right-pads s with spaces to n columns.
func Pad(s string, n int) string {
	if w := DisplayWidth(s); w < n {
		return s + strings.Repeat(" ", n-w)
	}
	return s
}

func runeWidth(r rune) int {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return 2
	default:
		return 1
	}
}
