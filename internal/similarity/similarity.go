// Package similarity decides whether two mail subjects belong to the same
// conversation despite reply markers, truncation or minor drift.
package similarity

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// Threshold is the normalized edit-distance cutoff under which two
// subjects are considered the same conversation.
const Threshold = 0.25

// Similar reports whether s1 and s2 are close enough to be the same
// conversation subject. One leading "Re:"/"Fw:" marker is stripped from
// each side, then equality, normalized Levenshtein distance and a prefix
// fallback are tried in that order.
func Similar(s1, s2 string) bool {
	s1 = stripMarker(s1)
	s2 = stripMarker(s2)

	if s1 == s2 {
		return true
	}
	// An empty subject matches nothing but another empty subject; without
	// this guard the prefix fallback would accept every string.
	if s1 == "" || s2 == "" {
		return false
	}

	if normalizedDistance(s1, s2) <= Threshold {
		return true
	}

	return strings.HasPrefix(s1, s2) || strings.HasPrefix(s2, s1)
}

// stripMarker removes a single leading reply or forward marker.
// Stripping is deliberately non-recursive: "Re: Re: x" keeps one marker,
// matching how subject drift accumulates across clients.
func stripMarker(s string) string {
	if len(s) >= 3 {
		prefix := strings.ToLower(s[:3])
		if prefix == "re:" || prefix == "fw:" {
			return s[3:]
		}
	}
	return s
}

// normalizedDistance returns the Levenshtein distance between a and b
// divided by the longer length. Both inputs must be non-empty.
func normalizedDistance(a, b string) float64 {
	la := len([]rune(a))
	lb := len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	d := levenshtein.ComputeDistance(a, b)
	return float64(d) / float64(longest)
}
