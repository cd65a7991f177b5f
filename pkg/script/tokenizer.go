package script

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenize splits one script line into raw tokens.
//
// A span wrapped in matching single or double quotes becomes one token with
// the quotes removed and inner whitespace kept. Quotes are recognised where a
// token begins and directly after the first '=' of a key=value token, so
// name="Big Lounge" yields the token `name=Big Lounge`. A quote without a
// closing partner on the same line is an ordinary character.
func Tokenize(line string) []string {
	var tokens []string

	i := 0
	for i < len(line) {
		r, size := utf8.DecodeRuneInString(line[i:])
		if unicode.IsSpace(r) {
			i += size
			continue
		}

		if isQuote(line[i]) {
			if end := strings.IndexByte(line[i+1:], line[i]); end >= 0 {
				tokens = append(tokens, line[i+1:i+1+end])
				i += end + 2
				continue
			}
		}

		token, next := scanBare(line, i)
		tokens = append(tokens, token)
		i = next
	}

	return tokens
}

// scanBare reads a whitespace-delimited token starting at start. If the
// token's first '=' is followed by a closed quoted span, the span is folded
// into the token's value.
func scanBare(line string, start int) (string, int) {
	sawEquals := false

	i := start
	for i < len(line) {
		r, size := utf8.DecodeRuneInString(line[i:])
		if unicode.IsSpace(r) {
			break
		}

		if r == '=' && !sawEquals {
			sawEquals = true
			if i > start && i+1 < len(line) && isQuote(line[i+1]) {
				q := line[i+1]
				if end := strings.IndexByte(line[i+2:], q); end >= 0 {
					value := line[i+2 : i+2+end]
					return line[start:i+1] + value, i + 2 + end + 1
				}
			}
		}

		i += size
	}

	return line[start:i], i
}

func isQuote(b byte) bool {
	return b == '"' || b == '\''
}
