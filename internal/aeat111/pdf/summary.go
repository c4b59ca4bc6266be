// Package pdf renders a printable summary of a withholding declaration: the
// declarant, the nine category boxes with their totals and the registers
// backing the calculation.
package pdf

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/aeat111/internal/aeat111"
)

var categoryLabels = []string{
	"Rendimientos del trabajo dinerarios",
	"Rendimientos del trabajo en especie",
	"Actividades economicas dinerarias",
	"Actividades economicas en especie",
	"Premios dinerarios",
	"Premios en especie",
	"Ganancias aprovechamientos forestales dinerarias",
	"Ganancias aprovechamientos forestales en especie",
	"Derechos de imagen",
}

// Write renders the summary of rep and its registers to w.
func Write(w io.Writer, rep aeat111.Report, regs []aeat111.Register) error {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetMargins(15, 15, 15)
	doc.SetAutoPageBreak(true, 15)
	doc.AliasNbPages("{nb}")
	tr := doc.UnicodeTranslatorFromDescriptor("")

	doc.AddPage()
	pageW, _ := doc.GetPageSize()
	marginL, marginT, marginR, _ := doc.GetMargins()
	contentW := pageW - marginL - marginR

	doc.SetFillColor(30, 30, 30)
	doc.Rect(marginL, marginT, contentW, 10, "F")
	doc.SetTextColor(255, 255, 255)
	doc.SetFont("Helvetica", "B", 11)
	doc.SetXY(marginL+2, marginT+1.5)
	doc.CellFormat(contentW-4, 7, "MODELO 111  RETENCIONES E INGRESOS A CUENTA", "", 0, "L", false, 0, "")
	doc.SetFont("Helvetica", "", 9)
	doc.CellFormat(0, 7, "Pagina "+strconv.Itoa(doc.PageNo())+" de {nb}", "", 1, "R", false, 0, "")
	doc.SetTextColor(0, 0, 0)
	doc.SetY(marginT + 13)

	section(doc, contentW, "DECLARANTE")
	half := contentW / 2
	doc.SetFont("Helvetica", "", 9)
	doc.CellFormat(half, 6, tr("Razon social: "+rep.CompanySurname), "L", 0, "L", false, 0, "")
	doc.CellFormat(half, 6, "NIF: "+rep.CompanyVAT, "R", 1, "L", false, 0, "")
	doc.CellFormat(half, 6, fmt.Sprintf("Ejercicio: %d   Periodo: %s", rep.Year, rep.Period), "LB", 0, "L", false, 0, "")
	doc.CellFormat(half, 6, fmt.Sprintf("Tipo: %s   Estado: %s", rep.Type, rep.State), "RB", 1, "L", false, 0, "")
	doc.Ln(4)

	labelW := contentW * 0.46
	numW := (contentW - labelW) / 3
	header(doc, []float64{labelW, numW, numW, numW}, []string{"Categoria", "Perceptores", "Base", "Retenciones"})
	for i, c := range aeat111.Categories {
		fill(doc, i)
		doc.CellFormat(labelW, 6, categoryLabels[i], "1", 0, "L", true, 0, "")
		doc.CellFormat(numW, 6, strconv.Itoa(rep.PartiesOf(c.Parties)), "1", 0, "R", true, 0, "")
		doc.CellFormat(numW, 6, money(rep.AmountOf(c.Base), rep.Currency), "1", 0, "R", true, 0, "")
		doc.CellFormat(numW, 6, money(rep.AmountOf(c.Amount), rep.Currency), "1", 1, "R", true, 0, "")
	}
	doc.SetFont("Helvetica", "B", 9)
	for _, row := range []struct {
		label  string
		amount decimal.Decimal
	}{
		{"Total liquidacion", rep.Total()},
		{"A deducir", rep.ToDeduce},
		{"Resultado a ingresar", rep.Result()},
	} {
		doc.CellFormat(contentW-numW, 6, row.label, "1", 0, "R", false, 0, "")
		doc.CellFormat(numW, 6, money(row.amount, rep.Currency), "1", 1, "R", false, 0, "")
	}
	if rep.ComplementaryDeclaration {
		doc.SetFont("Helvetica", "I", 8.5)
		doc.CellFormat(contentW, 6, "Complementaria de "+rep.PreviousDeclarationReceipt, "", 1, "L", false, 0, "")
	}
	doc.Ln(4)

	if len(regs) > 0 {
		section(doc, contentW, "REGISTROS")
		typeW := contentW * 0.3
		partyW := contentW * 0.15
		refsW := contentW * 0.35
		amountW := contentW - typeW - partyW - refsW
		header(doc, []float64{typeW, partyW, refsW, amountW}, []string{"Tipo", "Tercero", "Referencias", "Importe"})
		for i, r := range regs {
			fill(doc, i)
			party := "-"
			if r.PartyID != nil {
				party = strconv.FormatInt(*r.PartyID, 10)
			}
			doc.CellFormat(typeW, 6, string(r.Type), "1", 0, "L", true, 0, "")
			doc.CellFormat(partyW, 6, party, "1", 0, "R", true, 0, "")
			doc.CellFormat(refsW, 6, refs(r), "1", 0, "L", true, 0, "")
			doc.CellFormat(amountW, 6, money(r.Amount, rep.Currency), "1", 1, "R", true, 0, "")
		}
	}
	return doc.Output(w)
}

func section(doc *fpdf.Fpdf, width float64, title string) {
	doc.SetFillColor(240, 240, 240)
	doc.SetFont("Helvetica", "B", 8)
	doc.CellFormat(width, 5.5, title, "LRT", 1, "L", true, 0, "")
}

func header(doc *fpdf.Fpdf, widths []float64, titles []string) {
	doc.SetFillColor(30, 30, 30)
	doc.SetTextColor(255, 255, 255)
	doc.SetFont("Helvetica", "B", 8.5)
	for i, t := range titles {
		ln := 0
		if i == len(titles)-1 {
			ln = 1
		}
		doc.CellFormat(widths[i], 7, t, "1", ln, "C", true, 0, "")
	}
	doc.SetTextColor(0, 0, 0)
	doc.SetFont("Helvetica", "", 8.5)
}

func fill(doc *fpdf.Fpdf, row int) {
	if row%2 == 0 {
		doc.SetFillColor(250, 250, 250)
		return
	}
	doc.SetFillColor(255, 255, 255)
}

func money(d decimal.Decimal, currency string) string {
	return d.StringFixed(2) + " " + currency
}

func refs(r aeat111.Register) string {
	parts := make([]string, 0, len(r.InvoiceIDs)+len(r.MoveLineIDs))
	for _, id := range r.InvoiceIDs {
		parts = append(parts, "F"+strconv.FormatInt(id, 10))
	}
	for _, id := range r.MoveLineIDs {
		parts = append(parts, "A"+strconv.FormatInt(id, 10))
	}
	out := strings.Join(parts, " ")
	if len(out) > 40 {
		out = out[:37] + "..."
	}
	return out
}
