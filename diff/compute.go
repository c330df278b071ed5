// Package diff computes and applies compact edit descriptions between two
// versions of a text document.
//
// A diff is a single replace operation covering the span between the
// longest common prefix and the longest common suffix of the two strings.
// Editors send small, localized edits at high frequency, so a multi-hunk
// diff buys nothing here. Offsets are byte offsets into UTF-8 content and
// never fall inside an encoded character.
package diff

import "unicode/utf8"

// Compute returns the operations that transform old into new. The result is
// nil when the strings are equal, otherwise a single replace operation.
func Compute(old, new string) []Operation {
	if old == new {
		return nil
	}

	p := commonPrefix(old, new)
	s := commonSuffix(old[p:], new[p:])

	return []Operation{NewReplace(p, len(old)-s, new[p:len(new)-s])}
}

func commonPrefix(a, b string) int {
	n := min(len(a), len(b))
	p := 0
	for p < n && a[p] == b[p] {
		p++
	}
	// Back off to the start of a character shared by both strings.
	for p > 0 && ((p < len(a) && !utf8.RuneStart(a[p])) || (p < len(b) && !utf8.RuneStart(b[p]))) {
		p--
	}
	return p
}

// commonSuffix only sees the regions after the prefix, so the two spans can
// never overlap.
func commonSuffix(a, b string) int {
	n := min(len(a), len(b))
	s := 0
	for s < n && a[len(a)-1-s] == b[len(b)-1-s] {
		s++
	}
	for s > 0 && !utf8.RuneStart(a[len(a)-s]) {
		s--
	}
	return s
}
