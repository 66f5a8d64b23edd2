// Package fundcode validates and normalizes mutual-fund codes.
//
// Codes are the 6-digit identifiers used by the mainland fund registry and
// by the estimate feed, e.g. "161725" or "000001".
package fundcode

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// codeRegex matches a 6-digit fund code.
var codeRegex = regexp.MustCompile(`^[0-9]{6}$`)

// ErrInvalidCode is returned for anything that is not a 6-digit code.
var ErrInvalidCode = errors.New("fundcode: invalid fund code")

// Parse trims surrounding whitespace and an optional exchange prefix
// ("sh", "sz", "of") and validates what remains.
func Parse(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	lower := strings.ToLower(code)
	for _, prefix := range []string{"sh", "sz", "of"} {
		if strings.HasPrefix(lower, prefix) {
			code = code[len(prefix):]
			break
		}
	}

	if !codeRegex.MatchString(code) {
		return "", fmt.Errorf("%w: %q (expected 6 digits)", ErrInvalidCode, raw)
	}
	return code, nil
}
