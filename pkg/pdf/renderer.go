package pdf

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"

	"github.com/platinummonkey/invoicer/pkg/invoice"
)

// Layout constants, in millimetres
const (
	pageMargin  = 15.0
	lineHeight  = 5.5
	rowHeight   = 7.0
	contentWide = 180.0
)

// item table column widths: description, qty, unit price, tax/unit, amount
var itemColumns = [5]float64{70, 20, 30, 28, 32}

// Logo is an issuer logo embedded in the header
type Logo struct {
	Data []byte
	// ContentType is image/png or image/jpeg
	ContentType string
}

func (l *Logo) imageType() string {
	switch l.ContentType {
	case "image/png":
		return "PNG"
	case "image/jpeg", "image/jpg":
		return "JPG"
	}
	return ""
}

// Renderer lays out invoices and receipts as A4 PDFs
type Renderer struct {
	// Brand is printed in the footer
	Brand    string
	compress bool
}

// NewRenderer creates a renderer
func NewRenderer(brand string) *Renderer {
	return &Renderer{Brand: brand, compress: true}
}

type document struct {
	*fpdf.Fpdf
	tr func(string) string
}

func (r *Renderer) newDocument(title string, inv *invoice.Invoice) *document {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(r.compress)
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetTitle(title, true)
	pdf.SetCreator(r.Brand, true)
	if !inv.UpdatedAt.IsZero() {
		pdf.SetCreationDate(inv.UpdatedAt)
		pdf.SetModificationDate(inv.UpdatedAt)
	}

	d := &document{Fpdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
	pdf.SetFooterFunc(func() {
		pdf.SetY(-18)
		pdf.SetFont("Helvetica", "B", 9)
		pdf.SetTextColor(90, 90, 90)
		pdf.CellFormat(0, 4, "Thank you for your business!", "", 1, "C", false, 0, "")
		if r.Brand != "" {
			pdf.SetFont("Helvetica", "", 8)
			pdf.CellFormat(0, 4, d.tr("Generated with "+r.Brand), "", 0, "C", false, 0, "")
		}
	})
	pdf.AddPage()
	return d
}

func (d *document) text(style string, size float64, w float64, s string, align string, ln int) {
	d.SetFont("Helvetica", style, size)
	d.CellFormat(w, lineHeight, d.tr(s), "", ln, align, false, 0, "")
}

func (d *document) labelled(label, value string, w float64) {
	if value == "" {
		return
	}
	x := d.GetX()
	d.SetFont("Helvetica", "B", 9)
	lw := d.GetStringWidth(label+" ") + 1
	d.CellFormat(lw, lineHeight, d.tr(label), "", 0, "L", false, 0, "")
	d.SetFont("Helvetica", "", 9)
	d.CellFormat(w-lw, lineHeight, d.tr(value), "", 1, "L", false, 0, "")
	d.SetX(x)
}

func (d *document) totalRow(label, value string, bold bool) {
	style := ""
	if bold {
		style = "B"
	}
	d.SetX(pageMargin + contentWide - 90)
	d.SetFont("Helvetica", "B", 10)
	d.CellFormat(50, rowHeight, d.tr(label), "", 0, "L", false, 0, "")
	d.SetFont("Helvetica", style, 10)
	d.CellFormat(40, rowHeight, d.tr(value), "", 1, "R", false, 0, "")
}

func (d *document) output(w io.Writer) error {
	if err := d.Error(); err != nil {
		return fmt.Errorf("failed to lay out pdf: %w", err)
	}
	if err := d.Output(w); err != nil {
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	return nil
}

// RenderInvoice writes the invoice as a PDF. logo may be nil.
func (r *Renderer) RenderInvoice(w io.Writer, inv *invoice.Invoice, logo *Logo) error {
	d := r.newDocument("Invoice "+inv.Number, inv)
	cur := inv.Currency

	top := d.GetY()
	if logo != nil && len(logo.Data) > 0 {
		if typ := logo.imageType(); typ != "" {
			opts := fpdf.ImageOptions{ImageType: typ, ReadDpi: true}
			d.RegisterImageOptionsReader("logo", opts, bytes.NewReader(logo.Data))
			d.ImageOptions("logo", pageMargin+contentWide-40, top, 40, 0, false, opts, 0, "")
		}
	}

	// Issuer block on the left, client block on the right
	d.SetXY(pageMargin, top)
	d.text("B", 16, 100, inv.Business.Name, "L", 1)
	d.labelled("RC Number:", inv.Business.RCNumber, 95)
	d.labelled("TIN:", inv.Business.TIN, 95)
	d.labelled("Address:", inv.Business.Address, 95)
	d.labelled("Phone:", inv.Business.Phone, 95)
	d.labelled("Email:", inv.Business.Email, 95)
	leftBottom := d.GetY()

	d.SetXY(pageMargin+100, top+22)
	d.text("B", 11, 80, "Bill To:", "L", 2)
	d.SetX(pageMargin + 100)
	d.text("", 10, 80, inv.ClientName, "L", 2)
	d.SetX(pageMargin + 100)
	d.labelled("TIN:", inv.ClientTIN, 80)
	d.labelled("Email:", inv.ClientEmail, 80)

	d.SetXY(pageMargin, max(leftBottom, d.GetY())+8)
	d.text("B", 14, 0, "INVOICE", "L", 1)
	d.labelled("Invoice Number:", inv.Number, contentWide)
	d.labelled("Date:", inv.Date.Format("2006-01-02"), contentWide)
	if inv.DueDate != nil {
		d.labelled("Due Date:", inv.DueDate.Format("2006-01-02"), contentWide)
	}
	d.Ln(6)

	headers := [5]string{"Description", "Quantity", "Unit Price", "Tax/Unit", "Amount"}
	aligns := [5]string{"L", "C", "R", "R", "R"}
	d.SetFont("Helvetica", "B", 9)
	d.SetFillColor(235, 235, 235)
	for i, h := range headers {
		d.CellFormat(itemColumns[i], rowHeight, h, "B", 0, aligns[i], true, 0, "")
	}
	d.Ln(-1)

	d.SetFont("Helvetica", "", 9)
	for _, item := range inv.Items {
		cells := [5]string{
			truncate(d, item.Description, itemColumns[0]-2),
			fmt.Sprintf("%d", item.Quantity),
			cur.Format(item.UnitPrice),
			cur.Format(item.TaxPerUnit(cur)),
			cur.Format(item.Subtotal),
		}
		for i, c := range cells {
			d.CellFormat(itemColumns[i], rowHeight, d.tr(c), "B", 0, aligns[i], false, 0, "")
		}
		d.Ln(-1)
	}
	d.Ln(6)

	d.totalRow("Subtotal (HT):", cur.Format(inv.Subtotal), false)
	rate, uniform := uniformVATRate(inv)
	if inv.TaxTotal.IsPositive() {
		label := "VAT:"
		if uniform && rate.IsPositive() {
			label = fmt.Sprintf("VAT (%s%%):", rate.String())
		}
		d.totalRow(label, cur.Format(inv.TaxTotal), false)
	}
	d.totalRow("Total (TTC):", cur.Format(inv.Total), true)
	d.Ln(8)

	inclusive := "exclusive"
	if inv.PricesIncludeVAT {
		inclusive = "inclusive"
	}
	basis := "Prices are VAT " + inclusive
	if uniform {
		basis += fmt.Sprintf(" (%s%%)", rate.String())
	}
	d.text("", 9, 0, basis, "L", 1)
	if terms := inv.PaymentTerms.Label(inv.PaymentTermsCustom); terms != "" {
		d.text("", 9, 0, "Payment Terms: "+terms, "L", 1)
	}
	if inv.Notes != "" {
		d.Ln(4)
		d.text("B", 9, 0, "Notes", "L", 1)
		d.SetFont("Helvetica", "", 9)
		d.MultiCell(0, lineHeight, d.tr(inv.Notes), "", "L", false)
	}

	return d.output(w)
}

// RenderReceipt writes a payment receipt for a paid invoice
func (r *Renderer) RenderReceipt(w io.Writer, inv *invoice.Invoice) error {
	d := r.newDocument("Receipt "+inv.Number, inv)
	cur := inv.Currency

	paidOn := inv.Date.Time
	if inv.PaidAt != nil {
		paidOn = *inv.PaidAt
	}

	d.text("B", 16, 0, "RECEIPT", "L", 1)
	d.Ln(2)
	d.labelled("Receipt Number:", "#"+inv.Number, contentWide)
	d.labelled("Date of Payment:", paidOn.Format("2006-01-02"), contentWide)
	d.Ln(6)

	top := d.GetY()
	d.text("B", 11, 90, "Billed To:", "L", 1)
	d.text("", 9, 90, inv.ClientName, "L", 1)
	if inv.ClientEmail != "" {
		d.text("", 9, 90, inv.ClientEmail, "L", 1)
	}
	leftBottom := d.GetY()

	d.SetXY(pageMargin+95, top)
	d.text("B", 11, 85, "Issued By:", "L", 2)
	for _, line := range []string{inv.Business.Name, inv.Business.Email, inv.Business.Phone, inv.Business.Address} {
		if line == "" {
			continue
		}
		d.SetX(pageMargin + 95)
		d.text("", 9, 85, line, "L", 2)
	}

	d.SetXY(pageMargin, max(leftBottom, d.GetY())+8)
	d.text("B", 11, 0, "Payment Details", "L", 1)
	d.SetFont("Helvetica", "B", 9)
	d.SetFillColor(235, 235, 235)
	d.CellFormat(contentWide-50, rowHeight, "Description", "B", 0, "L", true, 0, "")
	d.CellFormat(50, rowHeight, "Amount", "B", 1, "R", true, 0, "")
	d.SetFont("Helvetica", "", 9)
	d.CellFormat(contentWide-50, rowHeight, d.tr("Invoice "+inv.Number), "B", 0, "L", false, 0, "")
	d.CellFormat(50, rowHeight, d.tr(cur.Format(inv.Total)), "B", 1, "R", false, 0, "")

	d.SetFont("Helvetica", "B", 10)
	d.SetTextColor(20, 120, 60)
	d.CellFormat(contentWide-50, rowHeight, "Status", "", 0, "L", false, 0, "")
	d.CellFormat(50, rowHeight, "PAID", "", 1, "R", false, 0, "")
	d.SetTextColor(0, 0, 0)
	d.Ln(4)

	rate := inv.VATRate
	if !rate.IsPositive() {
		rate = invoice.DefaultReceiptVATRate
	}
	net, vat := invoice.ReceiptBreakdown(inv.Total, inv.VATRate, cur)
	d.totalRow("Subtotal (HT):", cur.Format(net), false)
	d.totalRow(fmt.Sprintf("VAT (%s%%):", rate.String()), cur.Format(vat), false)
	d.totalRow("Total (TTC):", cur.Format(inv.Total), true)
	d.Ln(8)

	d.text("", 9, 0, "Thank you for your payment.", "C", 1)
	d.text("", 9, 0, "This receipt confirms that the invoice has been fully paid.", "C", 1)

	return d.output(w)
}

// truncate shortens s with an ellipsis until it fits in width
func truncate(d *document, s string, width float64) string {
	if d.GetStringWidth(d.tr(s)) <= width {
		return s
	}
	runes := []rune(s)
	for len(runes) > 0 && d.GetStringWidth(d.tr(string(runes)+"...")) > width {
		runes = runes[:len(runes)-1]
	}
	return strings.TrimSpace(string(runes)) + "..."
}

// InvoiceFilename is the download name of an invoice
func InvoiceFilename(inv *invoice.Invoice) string {
	return "Invoice-" + safeName(inv.Number) + ".pdf"
}

// ReceiptFilename is the download name of a receipt
func ReceiptFilename(inv *invoice.Invoice) string {
	return "Receipt-" + safeName(inv.Number) + ".pdf"
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}

// uniformVATRate returns the rate every line is taxed at, or false when
// line overrides mix rates
func uniformVATRate(inv *invoice.Invoice) (decimal.Decimal, bool) {
	for _, item := range inv.Items {
		if item.TaxRate != nil && !item.TaxRate.Equal(inv.VATRate) {
			return decimal.Zero, false
		}
	}
	return inv.VATRate, true
}
