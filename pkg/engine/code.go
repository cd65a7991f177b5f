package engine

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// codeAlphabet omits characters that are easy to confuse (0/O, 1/I).
// Its length divides 256, so byte sampling is unbiased.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// DefaultCodeLength is the confirmation code length when none is configured.
const DefaultCodeLength = 6

var upper = cases.Upper(language.Und)

// newCode returns a random confirmation code of n characters.
func newCode(n int) (string, error) {
	if n <= 0 {
		n = DefaultCodeLength
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate confirmation code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// normalizeCode trims and upper-cases a code typed by a user.
func normalizeCode(code string) string {
	return upper.String(strings.TrimSpace(code))
}

// codesMatch compares a submitted code with the stored one in constant time.
func codesMatch(stored, submitted string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(normalizeCode(submitted))) == 1
}
