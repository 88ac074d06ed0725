package abc

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenField
	TokenInlineField
	TokenBar
	TokenNote
	TokenRest
	TokenChordStart
	TokenChordEnd
	TokenGraceStart
	TokenGraceEnd
	TokenTuplet
	TokenSlurStart
	TokenSlurEnd
	TokenTie
	TokenBroken
	TokenDecoration
	TokenAnnotation
	TokenContinuation
	TokenLineEnd
	TokenBlank
)

var tokenNames = map[TokenKind]string{
	TokenEOF:          "end of input",
	TokenField:        "field",
	TokenInlineField:  "inline field",
	TokenBar:          "bar",
	TokenNote:         "note",
	TokenRest:         "rest",
	TokenChordStart:   "chord start",
	TokenChordEnd:     "chord end",
	TokenGraceStart:   "grace start",
	TokenGraceEnd:     "grace end",
	TokenTuplet:       "tuplet",
	TokenSlurStart:    "slur start",
	TokenSlurEnd:      "slur end",
	TokenTie:          "tie",
	TokenBroken:       "broken rhythm",
	TokenDecoration:   "decoration",
	TokenAnnotation:   "annotation",
	TokenContinuation: "continuation",
	TokenLineEnd:      "line end",
	TokenBlank:        "blank line",
}

func (k TokenKind) String() string {
	return tokenNames[k]
}

type Token struct {
	Kind TokenKind
	// Text is the field value, bar symbol, decoration name, annotation,
	// broken rhythm marks or grace group flavour depending on Kind.
	Text string
	// Tag is the field letter for fields, the rest letter for rests.
	Tag byte
	// Note parts exactly as written.
	Acc    string
	Letter byte
	Octave string
	Length string
	// Ending is a volta number carried by a bar.
	Ending int
	// Tuplet arguments (p:q:r); zero when omitted.
	P, Q, R int

	Line   int
	Column int
}

type LexError struct {
	Line   int
	Column int
	Char   rune
}

func (e *LexError) Error() string {
	return fmt.Sprintf("%d:%d: unexpected character %q", e.Line, e.Column, e.Char)
}

const decorationShorthands = ".~HLMOPSTuv"

// Lexer produces tokens one line at a time. It does not look at a line
// until the previous one has been consumed.
type Lexer struct {
	lines  []string
	line   int
	src    string
	pos    int
	inLine bool
}

func NewLexer(text string) *Lexer {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimPrefix(text, "\ufeff")
	return &Lexer{lines: strings.Split(text, "\n")}
}

// Next returns the following token, TokenEOF forever once input is exhausted.
func (l *Lexer) Next() (Token, error) {
	for {
		if l.inLine {
			tok, ok, err := l.music()
			if err != nil || ok {
				return tok, err
			}
			l.inLine = false
			l.line++
			return Token{Kind: TokenLineEnd, Line: l.line, Column: len(l.src) + 1}, nil
		}
		if l.line >= len(l.lines) {
			return Token{Kind: TokenEOF, Line: len(l.lines)}, nil
		}
		raw := l.lines[l.line]
		trimmed := strings.TrimSpace(raw)
		switch {
		case trimmed == "":
			l.line++
			return Token{Kind: TokenBlank, Line: l.line, Column: 1}, nil
		case trimmed[0] == '%':
			l.line++
		case isFieldLine(trimmed):
			l.line++
			col := strings.Index(raw, trimmed) + 1
			return Token{
				Kind:   TokenField,
				Tag:    trimmed[0],
				Text:   strings.TrimSpace(stripComment(trimmed[2:])),
				Line:   l.line,
				Column: col,
			}, nil
		default:
			l.src = stripComment(raw)
			l.pos = 0
			l.inLine = true
		}
	}
}

// SkipToField advances past raw lines until one starting the given field is
// found, without lexing what is skipped. It reports whether one was found.
func (l *Lexer) SkipToField(tag byte) bool {
	if l.inLine {
		l.inLine = false
		l.line++
	}
	for ; l.line < len(l.lines); l.line++ {
		trimmed := strings.TrimSpace(l.lines[l.line])
		if isFieldLine(trimmed) && trimmed[0] == tag {
			return true
		}
	}
	return false
}

// HasField reports whether a field line with the tag appears in the input
// not yet consumed.
func (l *Lexer) HasField(tag byte) bool {
	start := l.line
	if l.inLine {
		start++
	}
	for i := start; i < len(l.lines); i++ {
		trimmed := strings.TrimSpace(l.lines[i])
		if isFieldLine(trimmed) && trimmed[0] == tag {
			return true
		}
	}
	return false
}

func isFieldLine(s string) bool {
	if len(s) < 2 || s[1] != ':' {
		return false
	}
	c := s[0]
	return c == '+' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func stripComment(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && (i == 0 || s[i-1] != '\\') {
			return s[:i]
		}
	}
	return s
}

func isNoteLetter(c byte) bool {
	return (c >= 'A' && c <= 'G') || (c >= 'a' && c <= 'g')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func (l *Lexer) peek(off int) byte {
	if l.pos+off < len(l.src) {
		return l.src[l.pos+off]
	}
	return 0
}

func (l *Lexer) errorAt(pos int) *LexError {
	r, _ := utf8.DecodeRuneInString(l.src[pos:])
	return &LexError{Line: l.line + 1, Column: pos + 1, Char: r}
}

func (l *Lexer) readWhile(ok func(byte) bool) string {
	start := l.pos
	for l.pos < len(l.src) && ok(l.src[l.pos]) {
		l.pos++
	}
	return l.src[start:l.pos]
}

func (l *Lexer) readInt() int {
	n := 0
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		// saturates instead of wrapping
		if n <= math.MaxInt32/10 {
			n = n*10 + int(l.src[l.pos]-'0')
		}
		l.pos++
	}
	return n
}

func (l *Lexer) readLength() string {
	return l.readWhile(func(c byte) bool { return isDigit(c) || c == '/' })
}

// music lexes one token of the current music line; ok is false at the end
// of the line.
func (l *Lexer) music() (Token, bool, error) {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == ' ' || c == '\t' || c == '`' {
			l.pos++
			continue
		}
		break
	}
	if l.pos >= len(l.src) {
		return Token{}, false, nil
	}

	start := l.pos
	tok := Token{Line: l.line + 1, Column: start + 1}
	c := l.src[l.pos]
	switch {
	case isNoteLetter(c) || c == '^' || c == '_' || c == '=':
		tok.Kind = TokenNote
		tok.Acc = l.readWhile(func(c byte) bool { return c == '^' || c == '_' || c == '=' })
		if !isNoteLetter(l.peek(0)) {
			if l.pos >= len(l.src) {
				return tok, false, l.errorAt(start)
			}
			return tok, false, l.errorAt(l.pos)
		}
		tok.Letter = l.src[l.pos]
		l.pos++
		tok.Octave = l.readWhile(func(c byte) bool { return c == '\'' || c == ',' })
		tok.Length = l.readLength()

	case c == 'z' || c == 'x' || c == 'Z' || c == 'X':
		l.pos++
		tok.Kind = TokenRest
		tok.Tag = c
		tok.Length = l.readLength()

	case c == 'y':
		l.pos++
		l.readLength()
		return l.music()

	case c == '"':
		end := strings.IndexByte(l.src[l.pos+1:], '"')
		if end < 0 {
			return tok, false, l.errorAt(start)
		}
		tok.Kind = TokenAnnotation
		tok.Text = l.src[l.pos+1 : l.pos+1+end]
		l.pos += end + 2

	case c == '!' || c == '+':
		end := strings.IndexByte(l.src[l.pos+1:], c)
		if end < 0 {
			return tok, false, l.errorAt(start)
		}
		tok.Kind = TokenDecoration
		tok.Text = l.src[l.pos+1 : l.pos+1+end]
		l.pos += end + 2

	case strings.IndexByte(decorationShorthands, c) >= 0:
		l.pos++
		if c == '.' && l.peek(0) == '|' {
			return l.bar(tok)
		}
		tok.Kind = TokenDecoration
		tok.Text = string(c)

	case c == '[':
		switch {
		case isFieldLine(l.src[l.pos+1:]):
			end := strings.IndexByte(l.src[l.pos:], ']')
			if end < 0 {
				return tok, false, l.errorAt(start)
			}
			tok.Kind = TokenInlineField
			tok.Tag = l.src[l.pos+1]
			tok.Text = strings.TrimSpace(l.src[l.pos+3 : l.pos+end])
			l.pos += end + 1
		case isDigit(l.peek(1)):
			l.pos++
			tok.Kind = TokenBar
			tok.Ending = l.readEnding()
		case l.peek(1) == '|':
			l.pos += 2
			tok.Kind = TokenBar
			tok.Text = "[|"
			if l.peek(0) == ']' {
				l.pos++
				tok.Text = "[|]"
			}
			tok.Text += l.readWhile(func(c byte) bool { return c == ':' })
			if isDigit(l.peek(0)) {
				tok.Ending = l.readEnding()
			}
		default:
			l.pos++
			tok.Kind = TokenChordStart
		}

	case c == ']':
		l.pos++
		tok.Kind = TokenChordEnd
		tok.Length = l.readLength()

	case c == '|' || c == ':':
		return l.bar(tok)

	case c == '(':
		l.pos++
		if !isDigit(l.peek(0)) {
			tok.Kind = TokenSlurStart
			break
		}
		tok.Kind = TokenTuplet
		tok.P = l.readInt()
		if l.peek(0) == ':' {
			l.pos++
			tok.Q = l.readInt()
			if l.peek(0) == ':' {
				l.pos++
				tok.R = l.readInt()
			}
		}
		tok.Text = l.src[start:l.pos]

	case c == ')':
		l.pos++
		tok.Kind = TokenSlurEnd

	case c == '{':
		l.pos++
		tok.Kind = TokenGraceStart
		if l.peek(0) == '/' {
			l.pos++
			tok.Text = "/"
		}

	case c == '}':
		l.pos++
		tok.Kind = TokenGraceEnd

	case c == '-':
		l.pos++
		tok.Kind = TokenTie

	case c == '>' || c == '<':
		tok.Kind = TokenBroken
		tok.Text = l.readWhile(func(b byte) bool { return b == c })

	case c == '\\':
		tok.Kind = TokenContinuation
		l.pos = len(l.src)

	default:
		return tok, false, l.errorAt(start)
	}
	return tok, true, nil
}

// bar lexes bar lines such as |, ||, |], :|, |:, ::, :|: and .| with an
// optional volta number directly attached.
func (l *Lexer) bar(tok Token) (Token, bool, error) {
	start := tok.Column - 1
	if l.src[start] == '.' {
		l.pos = start + 1
	}
	l.readWhile(func(c byte) bool { return c == ':' })
	pipes := l.readWhile(func(c byte) bool { return c == '|' })
	if pipes != "" && l.peek(0) == ']' {
		l.pos++
	}
	l.readWhile(func(c byte) bool { return c == ':' })

	text := l.src[start:l.pos]
	text = strings.TrimPrefix(text, ".")
	if pipes == "" && text != "::" && !strings.HasPrefix(text, "::") {
		return tok, false, l.errorAt(start)
	}
	tok.Kind = TokenBar
	tok.Text = text
	if isDigit(l.peek(0)) {
		tok.Ending = l.readEnding()
	}
	return tok, true, nil
}

// readEnding reads a volta list like 1 or 1,2 or 1-2 and returns the first
// number.
func (l *Lexer) readEnding() int {
	n := l.readInt()
	l.readWhile(func(c byte) bool { return isDigit(c) || c == ',' || c == '-' })
	return n
}
