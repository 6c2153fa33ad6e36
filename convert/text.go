package convert

import (
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

// registerText installs the text, byte and identifier families.
func registerText(g *Graph) {
	g.Register(bytesType, stringType, func(v any) (any, error) { return string(v.([]byte)), nil })
	g.Register(stringType, bytesType, func(v any) (any, error) { return []byte(v.(string)), nil })
	g.Register(charType, stringType, func(v any) (any, error) { return v.(Char).String(), nil })
	g.Register(stringType, charType, func(v any) (any, error) { return charOf(v.(string)) })
	g.Register(bytesType, charType, func(v any) (any, error) { return charOf(string(v.([]byte))) })

	g.Register(uuidType, stringType, func(v any) (any, error) { return v.(uuid.UUID).String(), nil })
	g.Register(uuidType, bytesType, func(v any) (any, error) {
		id := v.(uuid.UUID)
		return id[:], nil
	})
	g.Register(stringType, uuidType, func(v any) (any, error) { return uuid.Parse(v.(string)) })
	g.Register(bytesType, uuidType, func(v any) (any, error) {
		b := v.([]byte)
		if len(b) == 16 {
			return uuid.FromBytes(b)
		}
		return uuid.ParseBytes(b)
	})
}

// charOf returns the only character of s.
func charOf(s string) (Char, error) {
	r, n := utf8.DecodeRuneInString(s)
	if n == 0 || n != len(s) || r == utf8.RuneError {
		return 0, fmt.Errorf("%q is not a single character", s)
	}
	return Char(r), nil
}
