package conditions

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenPath
	tokenString
	tokenNumber
	tokenTrue
	tokenFalse
	tokenNull
	tokenAnd
	tokenOr
	tokenNot
	tokenLParen
	tokenRParen
	tokenEq
	tokenNeq
	tokenGt
	tokenGte
	tokenLt
	tokenLte
	tokenContains
)

type token struct {
	kind  tokenKind
	text  string
	value string
	pos   int
}

func tokenize(input string) ([]token, error) {
	var tokens []token

	runes := []rune(input)

	for pos := 0; pos < len(runes); {
		r := runes[pos]

		switch {
		case unicode.IsSpace(r):
			pos++
		case r == '(':
			tokens = append(tokens, token{kind: tokenLParen, text: "(", pos: pos})
			pos++
		case r == ')':
			tokens = append(tokens, token{kind: tokenRParen, text: ")", pos: pos})
			pos++
		case r == '&' || r == '|':
			if pos+1 >= len(runes) || runes[pos+1] != r {
				return nil, fmt.Errorf("unexpected %q at position %d", r, pos)
			}

			kind := tokenAnd
			if r == '|' {
				kind = tokenOr
			}

			tokens = append(tokens, token{kind: kind, text: string([]rune{r, r}), pos: pos})
			pos += 2
		case r == '!' || r == '=' || r == '>' || r == '<':
			next := rune(0)
			if pos+1 < len(runes) {
				next = runes[pos+1]
			}

			tok, width, err := operator(r, next, pos)
			if err != nil {
				return nil, err
			}

			tokens = append(tokens, tok)
			pos += width
		case r == '"' || r == '\'':
			value, end, err := readString(runes, pos)
			if err != nil {
				return nil, err
			}

			tokens = append(tokens, token{kind: tokenString, text: string(runes[pos:end]), value: value, pos: pos})
			pos = end
		case unicode.IsDigit(r) || (r == '-' && pos+1 < len(runes) && unicode.IsDigit(runes[pos+1])):
			end := pos + 1
			for end < len(runes) && (unicode.IsDigit(runes[end]) || runes[end] == '.') {
				end++
			}

			text := string(runes[pos:end])
			tokens = append(tokens, token{kind: tokenNumber, text: text, value: text, pos: pos})
			pos = end
		case isIdentStart(r):
			end := pos + 1
			for end < len(runes) && isIdentPart(runes[end]) {
				end++
			}

			text := string(runes[pos:end])
			tokens = append(tokens, keyword(text, pos))
			pos = end
		default:
			return nil, fmt.Errorf("unexpected %q at position %d", r, pos)
		}
	}

	return append(tokens, token{kind: tokenEOF, pos: len(runes)}), nil
}

func operator(r, next rune, pos int) (token, int, error) {
	switch {
	case r == '!' && next == '=':
		return token{kind: tokenNeq, text: "!=", pos: pos}, 2, nil
	case r == '!':
		return token{kind: tokenNot, text: "!", pos: pos}, 1, nil
	case r == '=' && next == '=':
		return token{kind: tokenEq, text: "==", pos: pos}, 2, nil
	case r == '>' && next == '=':
		return token{kind: tokenGte, text: ">=", pos: pos}, 2, nil
	case r == '>':
		return token{kind: tokenGt, text: ">", pos: pos}, 1, nil
	case r == '<' && next == '=':
		return token{kind: tokenLte, text: "<=", pos: pos}, 2, nil
	case r == '<':
		return token{kind: tokenLt, text: "<", pos: pos}, 1, nil
	default:
		return token{}, 0, fmt.Errorf("unexpected %q at position %d, use == for equality", r, pos)
	}
}

func readString(runes []rune, start int) (string, int, error) {
	quote := runes[start]

	var builder strings.Builder

	for pos := start + 1; pos < len(runes); pos++ {
		switch runes[pos] {
		case '\\':
			if pos+1 < len(runes) {
				pos++
				builder.WriteRune(runes[pos])
			}
		case quote:
			return builder.String(), pos + 1, nil
		default:
			builder.WriteRune(runes[pos])
		}
	}

	return "", 0, fmt.Errorf("unterminated string starting at position %d", start)
}

func keyword(text string, pos int) token {
	switch text {
	case "true":
		return token{kind: tokenTrue, text: text, pos: pos}
	case "false":
		return token{kind: tokenFalse, text: text, pos: pos}
	case "null":
		return token{kind: tokenNull, text: text, pos: pos}
	case "contains":
		return token{kind: tokenContains, text: text, pos: pos}
	default:
		return token{kind: tokenPath, text: text, value: text, pos: pos}
	}
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_' || r == '$'
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r) || r == '.' || r == '-'
}
