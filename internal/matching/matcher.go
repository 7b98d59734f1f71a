// Package matching decides whether a record already exists on the other
// platform and carries the correlation marker embedded in free text.
package matching

import (
	"strings"

	"golang.org/x/text/cases"
)

// Candidate is an existing record that a probe may match.
type Candidate struct {
	ID    string
	Name  string
	Email string
}

// Probe describes the record being synchronized.
type Probe struct {
	Name  string
	Email string
}

// Matcher finds an existing candidate for a probe.
type Matcher interface {
	Match(probe Probe, candidates []Candidate) (Candidate, bool)
}

// Exact matches on normalized email when both sides carry one, or on
// normalized full name. The first matching candidate wins.
type Exact struct{}

// Match implements Matcher.
func (Exact) Match(probe Probe, candidates []Candidate) (Candidate, bool) {
	email := NormalizeEmail(probe.Email)
	name := NormalizeName(probe.Name)
	if email == "" && name == "" {
		return Candidate{}, false
	}
	for _, candidate := range candidates {
		if email != "" && email == NormalizeEmail(candidate.Email) {
			return candidate, true
		}
		if name != "" && name == NormalizeName(candidate.Name) {
			return candidate, true
		}
	}
	return Candidate{}, false
}

// NormalizeEmail trims and case-folds an email address.
func NormalizeEmail(email string) string {
	return fold(strings.TrimSpace(email))
}

// NormalizeName trims, collapses inner whitespace and case-folds a name.
func NormalizeName(name string) string {
	return fold(strings.Join(strings.Fields(name), " "))
}

// FullName joins first and last name, skipping empty parts.
func FullName(first, last string) string {
	return strings.Join(strings.Fields(first+" "+last), " ")
}

func fold(value string) string {
	if value == "" {
		return ""
	}
	return cases.Fold().String(value)
}
