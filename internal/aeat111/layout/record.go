package layout

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// ErrEncoding reports a value that does not fit its slot.
var ErrEncoding = errors.New("aeat111/layout: invalid value for record")

// Record is a fixed-width record being filled slot by slot.
type Record struct {
	kind   Kind
	fields []Field
	values map[string]string
}

// NewRecord returns an empty record of the given kind.
func NewRecord(kind Kind) *Record {
	return &Record{kind: kind, fields: Fields(kind), values: make(map[string]string)}
}

func (r *Record) Kind() Kind { return r.kind }

// Has reports whether the record declares a slot with that name.
func (r *Record) Has(name string) bool {
	_, ok := r.field(name)
	return ok
}

func (r *Record) field(name string) (Field, bool) {
	for _, f := range r.fields {
		if f.Name != "" && f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Set formats value for the named slot. Accepted values are strings, integers,
// decimals and booleans, depending on the slot type.
func (r *Record) Set(name string, value any) error {
	f, ok := r.field(name)
	if !ok {
		return fmt.Errorf("%w: %s has no field %q", ErrEncoding, r.kind, name)
	}
	text, err := format(f, value)
	if err != nil {
		return fmt.Errorf("%w: %s.%s: %v", ErrEncoding, r.kind, name, err)
	}
	r.values[name] = text
	return nil
}

// String lays out every slot. Unset slots get the default fill of their type.
func (r *Record) String() string {
	var b strings.Builder
	b.Grow(Len(r.kind))
	for _, f := range r.fields {
		if text, ok := r.values[f.Name]; ok && f.Name != "" {
			b.WriteString(text)
			continue
		}
		b.WriteString(defaultFill(f))
	}
	return b.String()
}

// Write concatenates records without separators.
func Write(records ...*Record) string {
	var b strings.Builder
	for _, r := range records {
		b.WriteString(r.String())
	}
	return b.String()
}

func defaultFill(f Field) string {
	switch f.Type {
	case Const:
		return f.Value
	case Number, Numeric:
		return strings.Repeat("0", f.Len())
	default:
		return strings.Repeat(" ", f.Len())
	}
}

func format(f Field, value any) (string, error) {
	switch f.Type {
	case Char:
		s, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("expected text, got %T", value)
		}
		if n := utf8.RuneCountInString(s); n > f.Len() {
			return "", fmt.Errorf("%q is %d characters long, slot holds %d", s, n, f.Len())
		}
		return s + strings.Repeat(" ", f.Len()-utf8.RuneCountInString(s)), nil
	case Number:
		digits, err := numberText(value)
		if err != nil {
			return "", err
		}
		if len(digits) > f.Len() {
			return "", fmt.Errorf("%s has more than %d digits", digits, f.Len())
		}
		return strings.Repeat("0", f.Len()-len(digits)) + digits, nil
	case Numeric:
		d, ok := value.(decimal.Decimal)
		if !ok {
			return "", fmt.Errorf("expected decimal, got %T", value)
		}
		return numericText(d, f.Len())
	case Boolean:
		b, ok := value.(bool)
		if !ok {
			return "", fmt.Errorf("expected bool, got %T", value)
		}
		if b {
			return "X", nil
		}
		return " ", nil
	case Const:
		s, ok := value.(string)
		if !ok || s != f.Value {
			return "", fmt.Errorf("constant slot holds %q", f.Value)
		}
		return s, nil
	default:
		return "", errors.New("reserved slot cannot be set")
	}
}

func numberText(value any) (string, error) {
	var digits string
	switch v := value.(type) {
	case int:
		if v < 0 {
			return "", fmt.Errorf("negative number %d", v)
		}
		digits = strconv.Itoa(v)
	case int64:
		if v < 0 {
			return "", fmt.Errorf("negative number %d", v)
		}
		digits = strconv.FormatInt(v, 10)
	case string:
		digits = v
	default:
		return "", fmt.Errorf("expected number, got %T", value)
	}
	if digits == "" {
		return "", errors.New("empty number")
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("%q is not a number", digits)
		}
	}
	return digits, nil
}

func numericText(d decimal.Decimal, size int) (string, error) {
	cents := d.Abs().Round(2).Shift(2).String()
	width := size
	prefix := ""
	if d.Round(2).IsNegative() {
		width--
		prefix = "N"
	}
	if len(cents) > width {
		return "", fmt.Errorf("%s does not fit in %d positions", d.StringFixed(2), size)
	}
	return prefix + strings.Repeat("0", width-len(cents)) + cents, nil
}
