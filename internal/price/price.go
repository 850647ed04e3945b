// Package price extracts numeric amounts from free-text listing prices and
// applies budget ceilings to them.
package price

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

// UnknownPolicy decides how a listing whose price cannot be parsed is
// treated by a budget filter.
type UnknownPolicy string

const (
	// IncludeUnknown keeps listings with no parseable price.
	IncludeUnknown UnknownPolicy = "include"
	// ExcludeUnknown drops listings with no parseable price.
	ExcludeUnknown UnknownPolicy = "exclude"
)

// ParsePolicy converts a config value to an UnknownPolicy. Empty means
// IncludeUnknown.
func ParsePolicy(s string) (UnknownPolicy, error) {
	switch UnknownPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", IncludeUnknown:
		return IncludeUnknown, nil
	case ExcludeUnknown:
		return ExcludeUnknown, nil
	}
	return "", eris.Errorf("price: unknown policy %q", s)
}

// Parse returns the first integer amount in text. Groups of three digits
// separated by a single space, dot or comma belong to the same amount, so
// "1 500 kr" and "12.500 kr" parse as 1500 and 12500. Amounts too large
// for an int saturate at math.MaxInt. The bool is false when text holds no
// digits.
func Parse(text string) (int, bool) {
	// NFKC folds no-break and narrow no-break spaces into plain spaces.
	rs := []rune(norm.NFKC.String(text))

	start := -1
	for i, r := range rs {
		if isDigit(r) {
			start = i
			break
		}
	}
	if start < 0 {
		return 0, false
	}

	var b strings.Builder
	i := start
	for i < len(rs) && isDigit(rs[i]) {
		b.WriteRune(rs[i])
		i++
	}
	for i < len(rs) && isGroupSeparator(rs[i]) && threeDigits(rs, i+1) {
		b.WriteString(string(rs[i+1 : i+4]))
		i += 4
	}

	n, err := strconv.Atoi(b.String())
	if err != nil {
		// Only digits were collected, so the amount overflowed.
		return math.MaxInt, true
	}
	return n, true
}

// WithinBudget reports whether a listing priced as text passes a ceiling of
// maxBudget (inclusive). A nil maxBudget lets everything through. Unparseable
// prices follow policy.
func WithinBudget(text string, maxBudget *int, policy UnknownPolicy) bool {
	if maxBudget == nil {
		return true
	}
	n, ok := Parse(text)
	if !ok {
		return policy != ExcludeUnknown
	}
	return n <= *maxBudget
}

func isGroupSeparator(r rune) bool {
	return r == ' ' || r == '.' || r == ','
}

// threeDigits reports whether rs[i:i+3] are digits not followed by a fourth.
func threeDigits(rs []rune, i int) bool {
	if i+3 > len(rs) {
		return false
	}
	for _, r := range rs[i : i+3] {
		if !isDigit(r) {
			return false
		}
	}
	return i+3 == len(rs) || !isDigit(rs[i+3])
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
