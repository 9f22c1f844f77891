package model

import "strings"

// Phase is the coarse state of a chat session.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseQueued  Phase = "queued"
	PhaseMatched Phase = "matched"
)

// Filter selects which partners the matchmaker may pair us with.
type Filter string

const (
	FilterAny    Filter = "any"
	FilterMale   Filter = "male"
	FilterFemale Filter = "female"
)

var validFilters = []string{string(FilterAny), string(FilterMale), string(FilterFemale)}

func ValidFilters() []string {
	return append([]string(nil), validFilters...)
}

// ParseFilter normalizes s; an empty string means FilterAny.
func ParseFilter(s string) (Filter, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FilterAny, true
	}
	for _, v := range validFilters {
		if s == v {
			return Filter(s), true
		}
	}
	return "", false
}

type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)
