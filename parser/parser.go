// Package parser normalises the text the dashboard renders into numbers.
//
// Every function is total: malformed or empty input yields 0, never an error.
package parser

import (
	"math"
	"strconv"
	"strings"
)

// ParseCurrency parses "$1,234.56" style text. Currency symbols, thousands
// separators and surrounding whitespace are ignored.
func ParseCurrency(s string) float64 {
	return parseFloatPrefix(strip(s, "$", ","))
}

// ParseInteger parses "1,234" style text. Only the leading integer part is
// used, so "12.7" is 12 and "12 items" is 12.
func ParseInteger(s string) int {
	s = strip(s, ",")
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}

// ParsePercentage parses "3.45%" style text into 3.45.
func ParsePercentage(s string) float64 {
	return parseFloatPrefix(strip(s, "%", ","))
}

// RevenuePerClick divides revenue by clicks, or returns 0 when there were
// no clicks.
func RevenuePerClick(revenue float64, clicks int) float64 {
	if clicks <= 0 {
		return 0
	}
	return revenue / float64(clicks)
}

func strip(s string, cutset ...string) string {
	for _, c := range cutset {
		s = strings.ReplaceAll(s, c, "")
	}
	return strings.TrimSpace(s)
}

// parseFloatPrefix parses the longest leading decimal number in s.
func parseFloatPrefix(s string) float64 {
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	sawDigit, sawDot := false, false
	for ; end < len(s); end++ {
		c := s[end]
		if c >= '0' && c <= '9' {
			sawDigit = true
			continue
		}
		if c == '.' && !sawDot {
			sawDot = true
			continue
		}
		break
	}
	if !sawDigit {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(s[:end], "."), 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}
