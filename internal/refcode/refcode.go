// Package refcode implements matching of human-entered reference codes.
//
// Field operators type crate and tree reference numbers by hand, and the
// same physical label can be entered as "42", "042", or "00042" depending
// on who reads it. Every lookup by human code in the engine goes through
// this package so the matching rules exist in exactly one place.
package refcode

import (
	"strconv"
	"strings"
)

// MaxWidth is the widest zero-padded form a numeric reference code can
// take on printed labels.
const MaxWidth = 6

// Normalize returns the canonical form of a human-entered code: trimmed
// and with leading zeros stripped. An all-zero code normalizes to "0".
func Normalize(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}

	stripped := strings.TrimLeft(code, "0")
	if stripped == "" {
		// "000" is still a real code, keep a single zero
		return "0"
	}
	return stripped
}

// Candidates returns the lookup candidates for a human-entered code, in
// priority order:
//  1. the literal string as typed
//  2. the string with leading zeros stripped
//  3. if the stripped string parses as a non-negative integer, that
//     integer re-padded to each width from its natural width up to
//     MaxWidth digits
//
// Duplicates are removed while preserving order. Callers try each
// candidate against an index and take the first hit.
func Candidates(code string) []string {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	add := func(c string) {
		if c == "" || seen[c] {
			return
		}
		seen[c] = true
		out = append(out, c)
	}

	add(code)

	stripped := Normalize(code)
	add(stripped)

	n, err := strconv.Atoi(stripped)
	if err != nil || n < 0 {
		return out
	}

	natural := len(strconv.Itoa(n))
	for width := natural; width <= MaxWidth; width++ {
		add(padLeft(strconv.Itoa(n), width))
	}

	return out
}

// Equal reports whether two human-entered codes refer to the same
// reference once leading zeros are stripped.
func Equal(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return na == nb && a == b
	}
	return na == nb
}

func padLeft(s string, width int) string {
	for len(s) < width {
		s = "0" + s
	}
	return s
}
