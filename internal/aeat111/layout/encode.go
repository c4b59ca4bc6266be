package layout

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Values maps slot names to declaration values.
type Values map[string]any

// Encode fills header, body and footer from values and returns the
// presentation file in Latin-1. Zero values keep the slot default.
func Encode(values Values) ([]byte, error) {
	records := map[Kind]*Record{}
	for _, kind := range Kinds {
		records[kind] = NewRecord(kind)
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := values[name]
		if isZero(value) {
			continue
		}
		for _, kind := range KindsFor(name) {
			if err := records[kind].Set(name, value); err != nil {
				return nil, err
			}
		}
	}
	return Transliterate(Write(records[KindHeader], records[KindBody], records[KindFooter]))
}

func isZero(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case int:
		return v == 0
	case int64:
		return v == 0
	case bool:
		return !v
	case decimal.Decimal:
		return v.IsZero()
	case *decimal.Decimal:
		return v == nil || v.IsZero()
	}
	return false
}

// keep cedilla and tilde so ç and ñ survive recomposition
var stripMarks = runes.Remove(runes.Predicate(func(r rune) bool {
	return unicode.Is(unicode.Mn, r) && r != '\u0327' && r != '\u0303'
}))

// Transliterate drops accents except cedilla and tilde, upper-cases the text
// and encodes it as ISO-8859-1.
func Transliterate(text string) ([]byte, error) {
	plain, _, err := transform.String(transform.Chain(norm.NFD, stripMarks, norm.NFC), text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	out, err := charmap.ISO8859_1.NewEncoder().String(strings.ToUpper(plain))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return []byte(out), nil
}
