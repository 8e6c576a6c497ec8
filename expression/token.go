// Copyright (C) 2026 Muninn Authors.
// See LICENSE for copying information.

package expression

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"muninn.io/muninn/schema"
)

// TokenType enumerates the scanner token classes.
type TokenType int

const (
	TokenText TokenType = iota
	TokenUUID
	TokenTimestamp
	TokenReal
	TokenInteger
	TokenBoolean
	TokenName
	TokenOperator
	TokenEnd
)

// String returns the token class name used in error messages.
func (t TokenType) String() string {
	switch t {
	case TokenText:
		return "text"
	case TokenUUID:
		return "uuid"
	case TokenTimestamp:
		return "timestamp"
	case TokenReal:
		return "real"
	case TokenInteger:
		return "integer"
	case TokenBoolean:
		return "boolean"
	case TokenName:
		return "name"
	case TokenOperator:
		return "operator"
	case TokenEnd:
		return "end of input"
	}
	return "unknown"
}

// Token is one scanned token. Value holds the decoded literal value for
// literal tokens and the raw text for names and operators.
type Token struct {
	Type  TokenType
	Value any
}

func (t Token) text() string {
	if t.Value == nil {
		return t.Type.String()
	}
	return fmt.Sprintf("%q", fmt.Sprint(t.Value))
}

// Sub-patterns, tried in order: text, timestamp, uuid, real, integer,
// operator, name. Order matters: a timestamp or uuid literal would
// otherwise scan as numbers and names.
var tokenPattern = regexp.MustCompile(`^(?:` +
	`("(?:[^\\"]|\\.)*")` +
	`|(\d{4}-\d{2}-\d{2}(?:T\d{2}:\d{2}:\d{2}(?:\.\d{0,6})?)?)` +
	`|([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})` +
	`|(\d+(?:\.\d*(?:[eE][+-]?\d+)?|[eE][+-]?\d+))` +
	`|(0x[0-9a-fA-F]+|0o[0-7]+|0b[01]+|\d+)` +
	`|(<=|>=|==|!=|~=|not in|[*<>@()\[\],.+\-/])` +
	`|([a-zA-Z]\w*)` +
	`)`)

// tokenStream scans the input one token ahead.
type tokenStream struct {
	text  string
	token Token
	start int // offset of the current token
	end   int // offset just past the current token
	atEnd bool
}

func newTokenStream(text string) (*tokenStream, error) {
	s := &tokenStream{text: text, atEnd: text == ""}
	if s.atEnd {
		s.token = Token{Type: TokenEnd}
		return s, nil
	}
	if err := s.next(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *tokenStream) next() error {
	if s.atEnd {
		return Error.New("char %d: unexpected end of input", s.start+1)
	}

	start := s.end
	for start < len(s.text) && (s.text[start] == ' ' || s.text[start] == '\t' || s.text[start] == '\r' || s.text[start] == '\n') {
		start++
	}
	s.start = start

	if start == len(s.text) {
		s.atEnd = true
		s.token = Token{Type: TokenEnd}
		return nil
	}

	groups := tokenPattern.FindStringSubmatch(s.text[start:])
	if groups == nil {
		return Error.New("char %d: syntax error: %q", start+1, s.text[start:])
	}
	s.end = start + len(groups[0])

	switch {
	case groups[1] != "":
		s.token = Token{Type: TokenText, Value: unescape(groups[1][1 : len(groups[1])-1])}
	case groups[2] != "":
		value, err := schema.ParseTimestamp(groups[2])
		if err != nil {
			return Error.New("char %d: invalid timestamp: %q", start+1, groups[2])
		}
		s.token = Token{Type: TokenTimestamp, Value: value}
	case groups[3] != "":
		value, err := uuid.Parse(groups[3])
		if err != nil {
			return Error.New("char %d: invalid uuid: %q", start+1, groups[3])
		}
		s.token = Token{Type: TokenUUID, Value: value}
	case groups[4] != "":
		value, err := strconv.ParseFloat(groups[4], 64)
		if err != nil {
			return Error.New("char %d: invalid real: %q", start+1, groups[4])
		}
		s.token = Token{Type: TokenReal, Value: value}
	case groups[5] != "":
		value, err := parseInteger(groups[5])
		if err != nil {
			return Error.New("char %d: invalid integer: %q", start+1, groups[5])
		}
		s.token = Token{Type: TokenInteger, Value: value}
	case groups[6] != "":
		s.token = Token{Type: TokenOperator, Value: groups[6]}
	case groups[7] != "":
		switch name := groups[7]; name {
		case "true", "false":
			s.token = Token{Type: TokenBoolean, Value: name == "true"}
		case "in":
			s.token = Token{Type: TokenOperator, Value: name}
		default:
			s.token = Token{Type: TokenName, Value: name}
		}
	default:
		return Error.New("char %d: syntax error: %q", start+1, groups[0])
	}
	return nil
}

func (s *tokenStream) test(types ...TokenType) bool {
	for _, t := range types {
		if s.token.Type == t {
			return true
		}
	}
	return false
}

func (s *tokenStream) testValue(typ TokenType, values ...string) bool {
	if s.token.Type != typ {
		return false
	}
	text, ok := s.token.Value.(string)
	if !ok {
		return false
	}
	for _, value := range values {
		if text == value {
			return true
		}
	}
	return false
}

func (s *tokenStream) accept(typ TokenType, values ...string) (bool, error) {
	if len(values) == 0 {
		if !s.test(typ) {
			return false, nil
		}
	} else if !s.testValue(typ, values...) {
		return false, nil
	}
	return true, s.next()
}

func (s *tokenStream) expect(types ...TokenType) (Token, error) {
	if !s.test(types...) {
		return Token{}, s.expectError(typeNames(types))
	}
	token := s.token
	return token, s.next()
}

func (s *tokenStream) expectValue(typ TokenType, values ...string) (Token, error) {
	if !s.testValue(typ, values...) {
		return Token{}, s.expectError(quoted(values))
	}
	token := s.token
	return token, s.next()
}

func (s *tokenStream) expectError(expected []string) error {
	if s.token.Type == TokenEnd {
		return Error.New("char %d: unexpected end of input", s.start+1)
	}
	prefix := ""
	if len(expected) > 1 {
		prefix = "one of: "
	}
	return Error.New("char %d: expected %s%s, got %s", s.start+1, prefix, strings.Join(expected, ", "), s.token.text())
}

func typeNames(types []TokenType) []string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return names
}

func quoted(values []string) []string {
	q := make([]string, len(values))
	for i, v := range values {
		q[i] = `"` + v + `"`
	}
	return q
}

func parseInteger(text string) (int64, error) {
	switch {
	case strings.HasPrefix(text, "0x"):
		return strconv.ParseInt(text[2:], 16, 64)
	case strings.HasPrefix(text, "0o"):
		return strconv.ParseInt(text[2:], 8, 64)
	case strings.HasPrefix(text, "0b"):
		return strconv.ParseInt(text[2:], 2, 64)
	}
	return strconv.ParseInt(text, 10, 64)
}

// unescape decodes the C-style escapes allowed inside text literals.
func unescape(text string) string {
	if !strings.ContainsRune(text, '\\') {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '\\' || i+1 == len(text) {
			b.WriteByte(c)
			continue
		}
		i++
		switch text[i] {
		case '\\':
			b.WriteByte('\\')
		case '\'':
			b.WriteByte('\'')
		case '"':
			b.WriteByte('"')
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'v':
			b.WriteByte('\v')
		default:
			b.WriteByte('\\')
			b.WriteByte(text[i])
		}
	}
	return b.String()
}
