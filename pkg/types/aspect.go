// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "strings"

// Aspect is the aspect of life a consequence affects. The set is closed.
type Aspect string

const (
	AspectHealth      Aspect = "Health & Well-being"
	AspectSecurity    Aspect = "Security & Privacy"
	AspectEquality    Aspect = "Equality & Justice"
	AspectUserExp     Aspect = "User Experience"
	AspectEconomy     Aspect = "Economy"
	AspectInformation Aspect = "Access to Information & Discourse"
	AspectEnvironment Aspect = "Environment & Sustainability"
	AspectPolitics    Aspect = "Politics"
	AspectPower       Aspect = "Power Dynamics"
	AspectSocialNorms Aspect = "Social Norms & Relationship"
)

// Aspects returns the closed set in prompt order.
func Aspects() []Aspect {
	return []Aspect{
		AspectHealth, AspectSecurity, AspectEquality, AspectUserExp, AspectEconomy,
		AspectInformation, AspectEnvironment, AspectPolitics, AspectPower, AspectSocialNorms,
	}
}

// Valid reports whether a is a member of the set.
func (a Aspect) Valid() bool {
	for _, known := range Aspects() {
		if a == known {
			return true
		}
	}
	return false
}

// AspectList renders the set as a comma-separated list for prompts.
func AspectList() string {
	names := make([]string, 0, len(Aspects()))
	for _, a := range Aspects() {
		names = append(names, string(a))
	}
	return strings.Join(names, ", ")
}
