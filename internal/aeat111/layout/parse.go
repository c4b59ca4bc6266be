package layout

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
)

// Document is a parsed presentation file, one value map per record.
type Document map[Kind]Values

// Parse decodes a Latin-1 presentation file back into typed values: Char as
// trimmed text, Number as int, Numeric as decimal and Boolean as bool.
func Parse(data []byte) (Document, error) {
	text, err := charmap.ISO8859_1.NewDecoder().String(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	src := []rune(text)
	want := 0
	for _, kind := range Kinds {
		want += Len(kind)
	}
	if len(src) != want {
		return nil, fmt.Errorf("%w: file has %d characters, expected %d", ErrEncoding, len(src), want)
	}
	doc := Document{}
	offset := 0
	for _, kind := range Kinds {
		n := Len(kind)
		values, err := ParseRecord(kind, string(src[offset:offset+n]))
		if err != nil {
			return nil, err
		}
		doc[kind] = values
		offset += n
	}
	return doc, nil
}

// ParseRecord decodes a single record line.
func ParseRecord(kind Kind, line string) (Values, error) {
	src := []rune(line)
	if len(src) != Len(kind) {
		return nil, fmt.Errorf("%w: %s record has %d characters, expected %d", ErrEncoding, kind, len(src), Len(kind))
	}
	out := Values{}
	for _, f := range Fields(kind) {
		raw := string(src[f.Start-1 : f.End])
		switch f.Type {
		case Const:
			if raw != f.Value {
				return nil, fmt.Errorf("%w: %s position %d holds %q, expected %q", ErrEncoding, kind, f.Start, raw, f.Value)
			}
			continue
		case Blank:
			continue
		}
		value, err := parseSlot(f, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrEncoding, kind, f.Name, err)
		}
		out[f.Name] = value
	}
	return out, nil
}

func parseSlot(f Field, raw string) (any, error) {
	switch f.Type {
	case Char:
		return strings.TrimRight(raw, " "), nil
	case Number:
		return strconv.Atoi(raw)
	case Numeric:
		negative := strings.HasPrefix(raw, "N")
		cents, err := decimal.NewFromString(strings.TrimPrefix(raw, "N"))
		if err != nil {
			return nil, err
		}
		amount := cents.Shift(-2)
		if negative {
			amount = amount.Neg()
		}
		return amount, nil
	case Boolean:
		switch raw {
		case "X":
			return true, nil
		case " ":
			return false, nil
		}
		return nil, fmt.Errorf("unexpected flag %q", raw)
	}
	return nil, fmt.Errorf("unsupported slot type %s", f.Type)
}
