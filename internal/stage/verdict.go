// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stage

import (
	"strings"

	"github.com/pdiddy/consequence-pipeline/pkg/types"
)

// FilterVerdict is the parsed content filter answer.
type FilterVerdict int

const (
	VerdictUnknown FilterVerdict = iota
	VerdictYes
	VerdictNo
)

// ParseFilterAnswer reads a free-text yes/no answer. A leading "yes" or
// "no" decides; otherwise any "yes" in the text counts as yes.
func ParseFilterAnswer(answer string) FilterVerdict {
	a := strings.ToLower(strings.TrimSpace(answer))
	if a == "" {
		return VerdictUnknown
	}
	if fields := strings.Fields(a); len(fields) > 0 {
		switch strings.Trim(fields[0], ".,!:;\"'*") {
		case "yes":
			return VerdictYes
		case "no":
			return VerdictNo
		}
	}
	if strings.Contains(a, "yes") {
		return VerdictYes
	}
	return VerdictNo
}

// ParseAspect maps a free-text answer onto the closed aspect set. An exact
// match wins; otherwise the aspect named earliest in the answer is taken,
// first by full name and then by either half of a paired name.
func ParseAspect(answer string) (types.Aspect, bool) {
	a := strings.ToLower(strings.Trim(strings.TrimSpace(answer), ".\"'*"))
	if a == "" {
		return "", false
	}

	for _, asp := range types.Aspects() {
		if a == strings.ToLower(string(asp)) {
			return asp, true
		}
	}

	if asp, ok := earliest(a, func(asp types.Aspect) []string {
		return []string{strings.ToLower(string(asp))}
	}); ok {
		return asp, true
	}

	return earliest(a, func(asp types.Aspect) []string {
		var parts []string
		for _, p := range strings.Split(strings.ToLower(string(asp)), "&") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		return parts
	})
}

func earliest(answer string, names func(types.Aspect) []string) (types.Aspect, bool) {
	best, bestPos := types.Aspect(""), -1
	for _, asp := range types.Aspects() {
		for _, n := range names(asp) {
			pos := strings.Index(answer, n)
			if pos >= 0 && (bestPos < 0 || pos < bestPos) {
				best, bestPos = asp, pos
			}
		}
	}
	return best, bestPos >= 0
}
