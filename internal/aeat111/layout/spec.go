// Package layout holds the fixed-width record design of the AEAT model 111
// presentation file and the encoder that fills it from declaration values.
//
// Positions follow the tax agency design record for model 111: a header
// wrapped in <AUX> tags, the page-one body, and a closing footer.
package layout

// Kind names one of the three records of a presentation file.
type Kind string

const (
	KindHeader Kind = "header"
	KindBody   Kind = "body"
	KindFooter Kind = "footer"
)

// Kinds lists the records in file order.
var Kinds = []Kind{KindHeader, KindBody, KindFooter}

type FieldType int

const (
	Char    FieldType = iota // left-justified, space-filled
	Number                   // right-justified, zero-filled digits only
	Numeric                  // signed cents, zero-filled, "N" in the first position when negative
	Boolean                  // "X" when set, space otherwise
	Const                    // literal constant
	Blank                    // reserved, spaces
)

func (t FieldType) String() string {
	switch t {
	case Char:
		return "char"
	case Number:
		return "number"
	case Numeric:
		return "numeric"
	case Boolean:
		return "boolean"
	case Const:
		return "const"
	default:
		return "blank"
	}
}

// Field is one slot of a record. Start and End are 1-based and inclusive.
type Field struct {
	Name        string
	Start       int
	End         int
	Type        FieldType
	Value       string
	Description string
}

func (f Field) Len() int { return f.End - f.Start + 1 }

// Header is the <AUX> record that precedes the declaration body.
var Header = []Field{
	{Start: 1, End: 2, Type: Const, Value: "<T"},
	{Start: 3, End: 5, Type: Const, Value: "111"},
	{Start: 6, End: 6, Type: Const, Value: "0"},
	{Name: "year", Start: 7, End: 10, Type: Number, Description: "Ejercicio"},
	{Name: "period", Start: 11, End: 12, Type: Char, Description: "Periodo"},
	{Start: 13, End: 17, Type: Const, Value: "0000>"},
	{Start: 18, End: 22, Type: Const, Value: "<AUX>"},
	{Start: 23, End: 92, Type: Blank},
	{Name: "program_version", Start: 93, End: 96, Type: Char, Description: "Version del programa"},
	{Start: 97, End: 100, Type: Blank},
	{Name: "developer_vat", Start: 101, End: 109, Type: Char, Description: "NIF empresa de desarrollo"},
	{Start: 110, End: 322, Type: Blank},
	{Start: 323, End: 328, Type: Const, Value: "</AUX>"},
}

// Body is page one of the declaration.
var Body = append([]Field{
	{Start: 1, End: 2, Type: Const, Value: "<T"},
	{Start: 3, End: 5, Type: Const, Value: "111"},
	{Start: 6, End: 7, Type: Const, Value: "01"},
	{Start: 8, End: 11, Type: Const, Value: "000>"},
	{Start: 12, End: 12, Type: Blank, Description: "Indicador pagina complementaria"},
	{Name: "type", Start: 13, End: 13, Type: Char, Description: "Tipo de declaracion"},
	{Name: "company_vat", Start: 14, End: 22, Type: Char, Description: "NIF"},
	{Name: "company_surname", Start: 23, End: 82, Type: Char, Description: "Apellidos o razon social"},
	{Name: "company_name", Start: 83, End: 102, Type: Char, Description: "Nombre"},
	{Name: "year", Start: 103, End: 106, Type: Number, Description: "Ejercicio"},
	{Name: "period", Start: 107, End: 108, Type: Char, Description: "Periodo"},
}, append(categorySlots(109),
	Field{Name: "withholdings_payments_amount", Start: 487, End: 503, Type: Numeric, Description: "Total liquidacion"},
	Field{Name: "to_deduce", Start: 504, End: 520, Type: Numeric, Description: "A deducir"},
	Field{Name: "result", Start: 521, End: 537, Type: Numeric, Description: "Resultado a ingresar"},
	Field{Name: "complementary_declaration", Start: 538, End: 538, Type: Boolean, Description: "Declaracion complementaria"},
	Field{Name: "previous_declaration_receipt", Start: 539, End: 551, Type: Char, Description: "Numero justificante declaracion anterior"},
	Field{Name: "bank_account", Start: 552, End: 585, Type: Char, Description: "IBAN"},
	Field{Start: 586, End: 974, Type: Blank},
	Field{Start: 975, End: 987, Type: Blank, Description: "Sello electronico"},
	Field{Start: 988, End: 999, Type: Const, Value: "</T11101000>"},
)...)

// Footer closes the presentation.
var Footer = []Field{
	{Start: 1, End: 3, Type: Const, Value: "</T"},
	{Start: 4, End: 6, Type: Const, Value: "111"},
	{Start: 7, End: 7, Type: Const, Value: "0"},
	{Name: "year", Start: 8, End: 11, Type: Number},
	{Name: "period", Start: 12, End: 13, Type: Char},
	{Start: 14, End: 18, Type: Const, Value: "0000>"},
}

// Categories holds the nine income categories in box order. Each one
// contributes a party count, a base and an amount slot named
// <category>_<parties|base|amount suffix>.
var Categories = []struct {
	Prefix string
	Base   string
	Amount string
}{
	{"work_productivity_monetary", "payments", "withholdings_amount"},
	{"work_productivity_in_kind", "value_benefits", "payments_amount"},
	{"economic_activities_productivity_monetary", "payments", "withholdings_amount"},
	{"economic_activities_productivity_in_kind", "value_benefits", "payments_amount"},
	{"awards_monetary", "payments", "withholdings_amount"},
	{"awards_in_kind", "value_benefits", "payments_amount"},
	{"gains_forestry_exploitation_monetary", "payments", "withholdings_amount"},
	{"gains_forestry_exploitation_in_kind", "value_benefits", "payments_amount"},
	{"image_rights", "service_payments", "payments_amount"},
}

const (
	partiesLen = 8
	amountLen  = 17
)

func categorySlots(start int) []Field {
	out := make([]Field, 0, len(Categories)*3)
	pos := start
	for _, c := range Categories {
		out = append(out,
			Field{Name: c.Prefix + "_parties", Start: pos, End: pos + partiesLen - 1, Type: Number},
			Field{Name: c.Prefix + "_" + c.Base, Start: pos + partiesLen, End: pos + partiesLen + amountLen - 1, Type: Numeric},
			Field{Name: c.Prefix + "_" + c.Amount, Start: pos + partiesLen + amountLen, End: pos + partiesLen + 2*amountLen - 1, Type: Numeric},
		)
		pos += partiesLen + 2*amountLen
	}
	return out
}

// Fields returns the descriptor of a record kind.
func Fields(kind Kind) []Field {
	switch kind {
	case KindHeader:
		return Header
	case KindBody:
		return Body
	case KindFooter:
		return Footer
	}
	return nil
}

// Len returns the width of a record kind.
func Len(kind Kind) int {
	fields := Fields(kind)
	if len(fields) == 0 {
		return 0
	}
	return fields[len(fields)-1].End
}

// recordKinds maps a slot name to every record that declares it.
var recordKinds = func() map[string][]Kind {
	out := make(map[string][]Kind)
	for _, kind := range Kinds {
		for _, f := range Fields(kind) {
			if f.Name == "" {
				continue
			}
			out[f.Name] = append(out[f.Name], kind)
		}
	}
	return out
}()

// KindsFor returns the records carrying the named slot, in file order.
func KindsFor(name string) []Kind {
	return recordKinds[name]
}

// CategoryFields returns the party, base and amount slot names of one category.
func CategoryFields(i int) (parties, base, amount string) {
	c := Categories[i]
	return c.Prefix + "_parties", c.Prefix + "_" + c.Base, c.Prefix + "_" + c.Amount
}

// AmountFields lists the base and amount slots of every category.
func AmountFields() []string {
	out := make([]string, 0, 2*len(Categories))
	for i := range Categories {
		_, base, amount := CategoryFields(i)
		out = append(out, base, amount)
	}
	return out
}

// IsAmountField reports whether name is a category base or amount slot.
func IsAmountField(name string) bool {
	for _, f := range AmountFields() {
		if f == name {
			return true
		}
	}
	return false
}
