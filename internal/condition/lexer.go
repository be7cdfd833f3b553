// Package condition parses and evaluates {{ ... }} predicates against
// stage-output context.
package condition

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent // bare word: true, false, or the head of a reference path
	tokDot
	tokLParen
	tokRParen
	tokNot      // !
	tokAnd      // &&
	tokOr       // ||
	tokEq       // ==
	tokNeq      // !=
	tokLt       // <
	tokLte      // <=
	tokGt       // >
	tokGte      // >=
	tokPlus     // +
	tokMinus    // -
	tokStar     // *
	tokSlash    // /
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// stripDelimiters removes a surrounding {{ }} pair, if present.
func stripDelimiters(expr string) string {
	s := strings.TrimSpace(expr)
	if strings.HasPrefix(s, "{{") && strings.HasSuffix(s, "}}") {
		s = strings.TrimSpace(s[2 : len(s)-2])
	}
	return s
}

func lex(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		c := rune(input[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
		case c == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
		case c == '.':
			tokens = append(tokens, token{tokDot, ".", i})
			i++
		case c == '+':
			tokens = append(tokens, token{tokPlus, "+", i})
			i++
		case c == '-':
			tokens = append(tokens, token{tokMinus, "-", i})
			i++
		case c == '*':
			tokens = append(tokens, token{tokStar, "*", i})
			i++
		case c == '/':
			tokens = append(tokens, token{tokSlash, "/", i})
			i++
		case c == '!':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{tokNeq, "!=", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokNot, "!", i})
				i++
			}
		case c == '=':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{tokEq, "==", i})
				i += 2
			} else {
				return nil, fmt.Errorf("unexpected '=' at %d (did you mean '==')", i)
			}
		case c == '<':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{tokLte, "<=", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokLt, "<", i})
				i++
			}
		case c == '>':
			if i+1 < len(input) && input[i+1] == '=' {
				tokens = append(tokens, token{tokGte, ">=", i})
				i += 2
			} else {
				tokens = append(tokens, token{tokGt, ">", i})
				i++
			}
		case c == '&':
			if i+1 < len(input) && input[i+1] == '&' {
				tokens = append(tokens, token{tokAnd, "&&", i})
				i += 2
			} else {
				return nil, fmt.Errorf("unexpected '&' at %d (did you mean '&&')", i)
			}
		case c == '|':
			if i+1 < len(input) && input[i+1] == '|' {
				tokens = append(tokens, token{tokOr, "||", i})
				i += 2
			} else {
				return nil, fmt.Errorf("unexpected '|' at %d (did you mean '||')", i)
			}
		case c == '\'' || c == '"':
			quote := byte(c)
			j := i + 1
			for j < len(input) && input[j] != quote {
				j++
			}
			if j >= len(input) {
				return nil, fmt.Errorf("unterminated string at %d", i)
			}
			tokens = append(tokens, token{tokString, input[i+1 : j], i})
			i = j + 1
		case unicode.IsDigit(c):
			j := i
			for j < len(input) && (unicode.IsDigit(rune(input[j])) || input[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokNumber, input[i:j], i})
			i = j
		case unicode.IsLetter(c) || c == '_':
			j := i
			for j < len(input) && (unicode.IsLetter(rune(input[j])) || unicode.IsDigit(rune(input[j])) || input[j] == '_' || input[j] == '-') {
				j++
			}
			tokens = append(tokens, token{tokIdent, input[i:j], i})
			i = j
		default:
			return nil, fmt.Errorf("unexpected character %q at %d", c, i)
		}
	}
	tokens = append(tokens, token{tokEOF, "", len(input)})
	return tokens, nil
}
