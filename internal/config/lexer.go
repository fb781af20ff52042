package config

import (
	"fmt"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokLBrace
	tokRBrace
	tokComment
	tokInvalid
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokIdent:
		return "identifier"
	case tokNumber:
		return "number"
	case tokString:
		return "string"
	case tokLBrace:
		return "'{'"
	case tokRBrace:
		return "'}'"
	case tokComment:
		return "comment"
	default:
		return "invalid token"
	}
}

type token struct {
	kind tokenKind
	text string
	pos  position
}

type position struct {
	line int
	col  int
}

func (p position) String() string {
	return fmt.Sprintf("%d:%d", p.line, p.col)
}

// lexer produces tokens from configuration text. It never fails: byte
// sequences it cannot interpret become tokInvalid tokens, which the parser
// rejects with positional context.
type lexer struct {
	src  string
	i    int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{
		src:  src,
		i:    0,
		line: 1,
		col:  1,
	}
}

func (l *lexer) nextToken() token {
	for {
		if l.i >= len(l.src) {
			return token{kind: tokEOF, pos: position{line: l.line, col: l.col}}
		}

		r, size := utf8.DecodeRuneInString(l.src[l.i:])
		if r == utf8.RuneError && size == 1 {
			pos := position{line: l.line, col: l.col}
			l.consumeRune(r, size)
			return token{kind: tokInvalid, text: "invalid utf-8", pos: pos}
		}

		if isSpace(r) {
			l.consumeRune(r, size)
			continue
		}

		pos := position{line: l.line, col: l.col}
		switch r {
		case '{':
			l.consumeRune(r, size)
			return token{kind: tokLBrace, text: "{", pos: pos}
		case '}':
			l.consumeRune(r, size)
			return token{kind: tokRBrace, text: "}", pos: pos}
		case '#':
			// Comment until end of line (including the leading '#').
			start := l.i
			for l.i < len(l.src) {
				r2, size2 := utf8.DecodeRuneInString(l.src[l.i:])
				if r2 == '\n' {
					break
				}
				l.consumeRune(r2, size2)
			}
			return token{kind: tokComment, text: l.src[start:l.i], pos: pos}
		case '"':
			return l.readString(pos)
		default:
			word := l.readWord()
			if isAllDigits(word) {
				return token{kind: tokNumber, text: word, pos: pos}
			}
			return token{kind: tokIdent, text: word, pos: pos}
		}
	}
}

func (l *lexer) readWord() string {
	start := l.i
	for l.i < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.i:])
		if isSpace(r) || r == '{' || r == '}' || r == '"' || r == '#' {
			break
		}
		l.consumeRune(r, size)
	}
	return l.src[start:l.i]
}

func (l *lexer) readString(pos position) token {
	// Consume opening quote.
	r, size := utf8.DecodeRuneInString(l.src[l.i:])
	l.consumeRune(r, size)

	var out []rune
	for {
		if l.i >= len(l.src) {
			return token{kind: tokInvalid, text: "unterminated string", pos: pos}
		}
		r, size := utf8.DecodeRuneInString(l.src[l.i:])
		if r == utf8.RuneError && size == 1 {
			l.consumeRune(r, size)
			return token{kind: tokInvalid, text: "invalid utf-8 in string", pos: pos}
		}
		if r == '\n' {
			return token{kind: tokInvalid, text: "unterminated string", pos: pos}
		}
		if r == '"' {
			l.consumeRune(r, size)
			return token{kind: tokString, text: string(out), pos: pos}
		}
		if r == '\\' {
			l.consumeRune(r, size)
			if l.i >= len(l.src) {
				return token{kind: tokInvalid, text: "unterminated escape", pos: pos}
			}
			er, esize := utf8.DecodeRuneInString(l.src[l.i:])
			l.consumeRune(er, esize)
			switch er {
			case '\\', '"':
				out = append(out, er)
			case 'n':
				out = append(out, '\n')
			case 't':
				out = append(out, '\t')
			case 'r':
				out = append(out, '\r')
			default:
				// Keep unknown escapes as-is (best-effort).
				out = append(out, er)
			}
			continue
		}

		l.consumeRune(r, size)
		out = append(out, r)
	}
}

func (l *lexer) consumeRune(r rune, size int) {
	l.i += size
	if r == '\n' {
		l.line++
		l.col = 1
		return
	}
	l.col++
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r':
		return true
	default:
		return false
	}
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
