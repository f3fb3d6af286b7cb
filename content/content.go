package content

import (
	"fmt"
	"strings"
)

// Type identifies the kind of card a feed slot holds.
type Type string

const (
	Definition Type = "definition"
	FunFact    Type = "funFact"
	DateFact   Type = "dateFact"
)

// All lists the content types in definition order. Ranking ties and
// preferred-type ties resolve in this order.
var All = []Type{Definition, FunFact, DateFact}

// Valid reports whether t is one of the known content types.
func (t Type) Valid() bool {
	for _, known := range All {
		if t == known {
			return true
		}
	}
	return false
}

// Label returns the upper-cased tag used as a card heading.
func (t Type) Label() string {
	return strings.ToUpper(string(t))
}

// Noun returns a human readable name, e.g. "fun fact".
func (t Type) Noun() string {
	switch t {
	case Definition:
		return "definition"
	case FunFact:
		return "fun fact"
	case DateFact:
		return "date fact"
	}
	return string(t)
}

// Parse converts a tag into a Type, accepting any letter case.
func Parse(s string) (Type, error) {
	for _, t := range All {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown content type %q", s)
}
