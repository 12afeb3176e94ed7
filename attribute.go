/*
Package rincewind – attribute types.
*/
package rincewind

import (
	"fmt"
	"strings"
)

// Kind is the category of a declared attribute.
type Kind int

const (
	KindIgnore Kind = iota
	KindInt
	KindFloat
	KindBool
	KindText
	KindDate
	KindDateWithTime
	KindSequence
	KindReference
	KindEnum
)

var kindNames = map[Kind]string{
	KindIgnore:       "ignore",
	KindInt:          "int",
	KindFloat:        "float",
	KindBool:         "bool",
	KindText:         "text",
	KindDate:         "date",
	KindDateWithTime: "datetime",
	KindSequence:     "sequence",
	KindReference:    "reference",
	KindEnum:         "enum",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// AttributeType is the declared type of one Dao attribute. Enum types carry
// their candidate values; every other kind is a plain value.
type AttributeType struct {
	kind   Kind
	values []string
}

// Predeclared attribute types.
var (
	Int          = AttributeType{kind: KindInt}
	Float        = AttributeType{kind: KindFloat}
	Bool         = AttributeType{kind: KindBool}
	Text         = AttributeType{kind: KindText}
	Date         = AttributeType{kind: KindDate}
	DateWithTime = AttributeType{kind: KindDateWithTime}
	Sequence     = AttributeType{kind: KindSequence}
	Reference    = AttributeType{kind: KindReference}
	Ignore       = AttributeType{kind: KindIgnore}
)

// Enum declares an enumeration attribute. The first value is the fallback
// for not-null attributes.
func Enum(values ...string) AttributeType {
	cp := make([]string, len(values))
	copy(cp, values)
	return AttributeType{kind: KindEnum, values: cp}
}

// Kind returns the attribute category.
func (t AttributeType) Kind() Kind { return t.kind }

// Values returns the enum candidates (nil for non-enum types).
func (t AttributeType) Values() []string {
	if t.kind != KindEnum {
		return nil
	}
	out := make([]string, len(t.values))
	copy(out, t.values)
	return out
}

// Is reports whether t has the given kind.
func (t AttributeType) Is(k Kind) bool { return t.kind == k }

// IsDate reports whether t is Date or DateWithTime.
func (t AttributeType) IsDate() bool { return t.kind == KindDate || t.kind == KindDateWithTime }

func (t AttributeType) String() string {
	if t.kind == KindEnum {
		return "enum(" + strings.Join(t.values, ",") + ")"
	}
	return t.kind.String()
}

// ParseAttributeType parses the textual form used in definitions:
// int, float, bool, text, date, datetime, sequence, reference, ignore, enum(a,b,c).
func ParseAttributeType(s string) (AttributeType, error) {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "enum(") && strings.HasSuffix(lower, ")") {
		inner := s[len("enum(") : len(s)-1]
		var values []string
		for _, v := range strings.Split(inner, ",") {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			return AttributeType{}, fmt.Errorf("enum type %q has no values", s)
		}
		return Enum(values...), nil
	}
	switch lower {
	case "int", "integer":
		return Int, nil
	case "float", "number":
		return Float, nil
	case "bool", "boolean":
		return Bool, nil
	case "text", "string":
		return Text, nil
	case "date":
		return Date, nil
	case "datetime", "date_with_time", "timestamp":
		return DateWithTime, nil
	case "sequence", "array":
		return Sequence, nil
	case "reference":
		return Reference, nil
	case "ignore":
		return Ignore, nil
	}
	return AttributeType{}, fmt.Errorf("unknown attribute type %q", s)
}

// MarshalText lets definitions round-trip attribute types.
func (t AttributeType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *AttributeType) UnmarshalText(b []byte) error {
	parsed, err := ParseAttributeType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
