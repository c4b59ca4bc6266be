package layout

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorsAreContiguous(t *testing.T) {
	for _, kind := range Kinds {
		next := 1
		for _, f := range Fields(kind) {
			require.Equal(t, next, f.Start, "%s slot %q", kind, f.Name)
			require.GreaterOrEqual(t, f.End, f.Start)
			if f.Type == Const {
				require.Len(t, f.Value, f.Len(), "%s constant at %d", kind, f.Start)
			}
			next = f.End + 1
		}
	}
	assert.Equal(t, 328, Len(KindHeader))
	assert.Equal(t, 999, Len(KindBody))
	assert.Equal(t, 18, Len(KindFooter))
}

func TestKindsForSharedSlots(t *testing.T) {
	assert.Equal(t, []Kind{KindHeader, KindBody, KindFooter}, KindsFor("year"))
	assert.Equal(t, []Kind{KindHeader, KindBody, KindFooter}, KindsFor("period"))
	assert.Equal(t, []Kind{KindBody}, KindsFor("image_rights_payments_amount"))
	assert.Equal(t, []Kind{KindHeader}, KindsFor("developer_vat"))
	assert.Empty(t, KindsFor("state"))
}

func TestEmptyRecordUsesDefaults(t *testing.T) {
	assert.Equal(t, "</T11100000  0000>", NewRecord(KindFooter).String())
}

func TestRecordSetFormatsSlots(t *testing.T) {
	body := NewRecord(KindBody)
	require.NoError(t, body.Set("type", "I"))
	require.NoError(t, body.Set("company_vat", "B01000009"))
	require.NoError(t, body.Set("year", 2024))
	require.NoError(t, body.Set("period", "1T"))
	require.NoError(t, body.Set("work_productivity_monetary_parties", 3))
	require.NoError(t, body.Set("work_productivity_monetary_withholdings_amount", decimal.RequireFromString("1200")))
	require.NoError(t, body.Set("result", decimal.RequireFromString("-15.5")))
	require.NoError(t, body.Set("complementary_declaration", true))

	line := body.String()
	require.Len(t, line, 999)
	assert.Equal(t, "<T11101000>", line[0:11])
	assert.Equal(t, "I", line[12:13])
	assert.Equal(t, "B01000009", line[13:22])
	assert.Equal(t, "2024", line[102:106])
	assert.Equal(t, "1T", line[106:108])
	assert.Equal(t, "00000003", line[108:116])
	assert.Equal(t, "00000000000000000", line[116:133])
	assert.Equal(t, "00000000000120000", line[133:150])
	assert.Equal(t, "N0000000000001550", line[520:537])
	assert.Equal(t, "X", line[537:538])
	assert.Equal(t, "</T11101000>", line[987:])
}

func TestRecordSetRejectsValuesThatDoNotFit(t *testing.T) {
	body := NewRecord(KindBody)
	cases := []struct {
		name  string
		value any
	}{
		{"company_vat", "ESB01000009"},
		{"year", 12345},
		{"year", "20a4"},
		{"year", -1},
		{"work_productivity_monetary_parties", 123456789},
		{"to_deduce", decimal.RequireFromString("10000000000000000")},
		{"result", decimal.RequireFromString("-1000000000000000")},
		{"type", 1},
		{"complementary_declaration", "X"},
		{"unknown_field", "x"},
	}
	for _, tc := range cases {
		err := body.Set(tc.name, tc.value)
		assert.ErrorIs(t, err, ErrEncoding, "%s=%v", tc.name, tc.value)
	}
}

func TestNumericLargestValuesFit(t *testing.T) {
	body := NewRecord(KindBody)
	require.NoError(t, body.Set("to_deduce", decimal.RequireFromString("999999999999999.99")))
	require.NoError(t, body.Set("result", decimal.RequireFromString("-99999999999999.99")))
	line := body.String()
	assert.Equal(t, "99999999999999999", line[503:520])
	assert.Equal(t, "N9999999999999999", line[520:537])
}

func TestEncodeParseRoundTrip(t *testing.T) {
	values := Values{
		"type":                               "U",
		"company_vat":                        "B01000009",
		"company_surname":                    "ACME SOCIEDAD LIMITADA",
		"company_name":                       "ACME",
		"year":                               2024,
		"period":                             "02",
		"program_version":                    "1.00",
		"developer_vat":                      "A00000000",
		"work_productivity_monetary_parties": 4,
		"work_productivity_monetary_payments":                           decimal.RequireFromString("2200"),
		"work_productivity_monetary_withholdings_amount":                decimal.RequireFromString("1200"),
		"economic_activities_productivity_monetary_parties":             2,
		"economic_activities_productivity_monetary_payments":            decimal.RequireFromString("1200"),
		"economic_activities_productivity_monetary_withholdings_amount": decimal.RequireFromString("224"),
		"image_rights_parties":                                          1,
		"image_rights_service_payments":                                 decimal.RequireFromString("10.01"),
		"image_rights_payments_amount":                                  decimal.RequireFromString("0.99"),
		"withholdings_payments_amount":                                  decimal.RequireFromString("1424.99"),
		"to_deduce":                                                     decimal.RequireFromString("1500"),
		"result":                                                        decimal.RequireFromString("-75.01"),
		"complementary_declaration":                                     true,
		"previous_declaration_receipt":                                  "1110000000001",
		"bank_account":                                                  "ES9121000418450200051332",
	}

	data, err := Encode(values)
	require.NoError(t, err)
	require.Len(t, data, 328+999+18)

	doc, err := Parse(data)
	require.NoError(t, err)
	for name, want := range values {
		for _, kind := range KindsFor(name) {
			got := doc[kind][name]
			if d, ok := want.(decimal.Decimal); ok {
				assert.True(t, d.Equal(got.(decimal.Decimal)), "%s.%s: %v != %v", kind, name, got, d)
				continue
			}
			assert.Equal(t, want, got, "%s.%s", kind, name)
		}
	}
	assert.Equal(t, 0, doc[KindBody]["awards_monetary_parties"])
	assert.True(t, decimal.Zero.Equal(doc[KindBody]["awards_in_kind_payments_amount"].(decimal.Decimal)))
}

func TestEncodeSkipsZeroValues(t *testing.T) {
	data, err := Encode(Values{
		"year":                      2024,
		"period":                    "1T",
		"company_name":              "",
		"complementary_declaration": false,
		"to_deduce":                 decimal.Zero,
	})
	require.NoError(t, err)
	doc, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "", doc[KindBody]["company_name"])
	assert.Equal(t, false, doc[KindBody]["complementary_declaration"])
}

func TestEncodeTransliterates(t *testing.T) {
	data, err := Encode(Values{
		"year":            2024,
		"period":          "3T",
		"company_surname": "Peñíscola Açores Müller Ángel",
	})
	require.NoError(t, err)
	doc, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "PEÑISCOLA AÇORES MULLER ANGEL", doc[KindBody]["company_surname"])
	body := string(data[328 : 328+999])
	assert.Contains(t, body, "PE\xd1ISCOLA A\xc7ORES")
}

func TestTransliterateRejectsNonLatin1(t *testing.T) {
	for _, text := range []string{"Łódź", "100 €"} {
		_, err := Transliterate(text)
		assert.ErrorIs(t, err, ErrEncoding, text)
	}

	out, err := Transliterate("Ózdź")
	require.NoError(t, err)
	assert.Equal(t, []byte("OZDZ"), out)
}

func TestEncodeFailsOnOversizedValue(t *testing.T) {
	_, err := Encode(Values{"company_name": "A NAME THAT IS FAR TOO LONG FOR THE SLOT"})
	assert.ErrorIs(t, err, ErrEncoding)
}

func TestParseRejectsMalformedInput(t *testing.T) {
	_, err := Parse([]byte("short"))
	assert.ErrorIs(t, err, ErrEncoding)

	data, err := Encode(Values{"year": 2024, "period": "01"})
	require.NoError(t, err)
	data[0] = '>'
	_, err = Parse(data)
	assert.ErrorIs(t, err, ErrEncoding)
}
