package shadow

import (
	"strings"
)

// Status is the candidate status bitmask.
type Status uint8

const (
	StatusCandidate Status = 1 << iota
	StatusInactive
	StatusJail
	StatusMargin
	StatusValidator
)

// CanDelegate holds only for a plain candidate, validator or not.
func (s Status) CanDelegate() bool {
	return s == StatusCandidate || s == StatusCandidate|StatusValidator
}

// Available reports whether the candidate may be elected.
func (s Status) Available() bool {
	return s&StatusCandidate != 0 && s&(StatusInactive|StatusJail|StatusMargin) == 0
}

func (s Status) Has(bit Status) bool {
	return s&bit != 0
}

func (s Status) String() string {
	if s == 0 {
		return "none"
	}
	var parts []string
	for _, bit := range []struct {
		flag Status
		name string
	}{
		{StatusCandidate, "candidate"},
		{StatusInactive, "inactive"},
		{StatusJail, "jail"},
		{StatusMargin, "margin"},
		{StatusValidator, "validator"},
	} {
		if s&bit.flag != 0 {
			parts = append(parts, bit.name)
		}
	}
	return strings.Join(parts, "|")
}
