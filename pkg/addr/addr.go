// Package addr parses the console/debug variable addressing grammar
// (spec.md §6.5): fact paths of the form fact.name[selector].field, where
// selector is a comma-separated list of field:value pairs used to pick one
// fact out of every fact stored under name. It is not used by the resolver
// engine, the VM or the CLI; it exists so that an operator-facing tool can
// name a single field value for display.
//
// The scanner below uses a conventional readChar/peekChar byte-at-a-time
// lexer style, scaled down to this small grammar.
package addr

import (
	"fmt"
	"strconv"

	"github.com/kristofer/resolve/pkg/store"
)

// Pair is one field:value constraint inside a selector.
type Pair struct {
	Field string
	Value store.Value
}

// Address is a fully parsed fact path.
type Address struct {
	FactName string
	Selector []Pair
	Field    string
}

// ParseError reports a malformed address, with the column the scanner had
// reached when it gave up.
type ParseError struct {
	Input  string
	Column int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("addr: %s at column %d in %q", e.Msg, e.Column, e.Input)
}

type scanner struct {
	input        string
	position     int
	readPosition int
	ch           byte
}

func newScanner(input string) *scanner {
	s := &scanner{input: input}
	s.readChar()
	return s
}

func (s *scanner) readChar() {
	if s.readPosition >= len(s.input) {
		s.ch = 0
	} else {
		s.ch = s.input[s.readPosition]
	}
	s.position = s.readPosition
	s.readPosition++
}

func (s *scanner) peekChar() byte {
	if s.readPosition >= len(s.input) {
		return 0
	}
	return s.input[s.readPosition]
}

func (s *scanner) errorf(format string, args ...interface{}) error {
	return &ParseError{Input: s.input, Column: s.position, Msg: fmt.Sprintf(format, args...)}
}

// expect consumes ch if it is the current character, else errors.
func (s *scanner) expect(ch byte) error {
	if s.ch != ch {
		return s.errorf("expected %q, found %q", ch, s.ch)
	}
	s.readChar()
	return nil
}

func isIdentChar(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

func (s *scanner) readIdent() (string, error) {
	start := s.position
	if !isIdentChar(s.ch) || (s.ch >= '0' && s.ch <= '9') {
		return "", s.errorf("expected identifier")
	}
	for isIdentChar(s.ch) {
		s.readChar()
	}
	return s.input[start:s.position], nil
}

// readValue reads everything up to the next ',' or ']' and interprets the
// s:/i:/d: type prefix (spec.md §6.5), defaulting to STRING when absent.
func (s *scanner) readValue() (store.Value, error) {
	start := s.position
	for s.ch != ',' && s.ch != ']' && s.ch != 0 {
		s.readChar()
	}
	raw := s.input[start:s.position]
	if raw == "" {
		return store.Value{}, s.errorf("empty value")
	}
	return parseTypedValue(raw)
}

func parseTypedValue(raw string) (store.Value, error) {
	if len(raw) >= 2 && raw[1] == ':' {
		switch raw[0] {
		case 's':
			return store.NewString(raw[2:]), nil
		case 'i':
			n, err := strconv.ParseInt(raw[2:], 10, 64)
			if err != nil {
				return store.Value{}, fmt.Errorf("addr: invalid int value %q: %w", raw, err)
			}
			return store.NewInt(n), nil
		case 'd':
			f, err := strconv.ParseFloat(raw[2:], 64)
			if err != nil {
				return store.Value{}, fmt.Errorf("addr: invalid double value %q: %w", raw, err)
			}
			return store.NewDouble(f), nil
		}
	}
	return store.NewString(raw), nil
}

// Parse parses a fact path of the form fact.name[selector].field, where
// selector is field:value[,field:value]*.
func Parse(input string) (*Address, error) {
	s := newScanner(input)

	lit, err := s.readIdent()
	if err != nil {
		return nil, err
	}
	if lit != "fact" {
		return nil, s.errorf("expected leading \"fact\", found %q", lit)
	}
	if err := s.expect('.'); err != nil {
		return nil, err
	}

	name, err := s.readIdent()
	if err != nil {
		return nil, err
	}

	if err := s.expect('['); err != nil {
		return nil, err
	}
	var selector []Pair
	for {
		field, err := s.readIdent()
		if err != nil {
			return nil, err
		}
		if err := s.expect(':'); err != nil {
			return nil, err
		}
		val, err := s.readValue()
		if err != nil {
			return nil, err
		}
		selector = append(selector, Pair{Field: field, Value: val})
		if s.ch == ',' {
			s.readChar()
			continue
		}
		break
	}
	if err := s.expect(']'); err != nil {
		return nil, err
	}
	if err := s.expect('.'); err != nil {
		return nil, err
	}

	field, err := s.readIdent()
	if err != nil {
		return nil, err
	}
	if s.ch != 0 {
		return nil, s.errorf("unexpected trailing character %q", s.ch)
	}

	return &Address{FactName: name, Selector: selector, Field: field}, nil
}

func (a *Address) String() string {
	out := "fact." + a.FactName + "["
	for i, p := range a.Selector {
		if i > 0 {
			out += ","
		}
		out += p.Field + ":" + p.Value.String()
	}
	return out + "]." + a.Field
}

// matches reports whether f satisfies every constraint in a's selector.
func (a *Address) matches(f *store.Fact) bool {
	for _, p := range a.Selector {
		v, ok := f.Fields[p.Field]
		if !ok || !v.Equal(p.Value) {
			return false
		}
	}
	return true
}

// Resolve looks up the fact addressed by a in st and returns its named
// field. It errors if no fact matches the name and selector, if more than
// one does (the selector must narrow to exactly one fact), or if the
// matching fact has no such field.
func Resolve(st store.FactStore, a *Address) (store.Value, error) {
	facts, err := st.LookupByName(a.FactName)
	if err != nil {
		return store.Value{}, fmt.Errorf("addr: lookup %q: %w", a.FactName, err)
	}
	var match *store.Fact
	for _, f := range facts {
		if !a.matches(f) {
			continue
		}
		if match != nil {
			return store.Value{}, fmt.Errorf("addr: selector for %q matches more than one fact", a.FactName)
		}
		match = f
	}
	if match == nil {
		return store.Value{}, fmt.Errorf("addr: no fact %q matches selector", a.FactName)
	}
	v, ok := st.GetField(match, a.Field)
	if !ok {
		return store.Value{}, fmt.Errorf("addr: fact %q has no field %q", a.FactName, a.Field)
	}
	return v, nil
}
