// Package reporting renders plan catalog sheets for operators: a PDF
// suitable for handing to support teams and a CSV export of the same data.
package reporting

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/stratushq/entitlements/pkg/entitlement"
)

// Color scheme - professional dark blue theme
var (
	colorPrimary     = [3]int{30, 58, 95}    // Dark navy
	colorAccent      = [3]int{46, 204, 113}  // Green
	colorTextDark    = [3]int{44, 62, 80}    // Dark text
	colorTextMuted   = [3]int{127, 140, 141} // Muted text
	colorBackground  = [3]int{248, 249, 250} // Light gray bg
	colorTableHeader = [3]int{30, 58, 95}    // Navy header
	colorTableAlt    = [3]int{241, 245, 249} // Alternating row
	colorGridLine    = [3]int{220, 220, 220} // Rules
)

// CatalogData is the input for the plan catalog sheet.
type CatalogData struct {
	GeneratedAt time.Time
	Version     string
	Plans       []entitlement.PlanInfo
	States      []entitlement.StateInfo
}

// PDFGenerator handles PDF sheet generation.
type PDFGenerator struct{}

// NewPDFGenerator creates a new PDF generator.
func NewPDFGenerator() *PDFGenerator {
	return &PDFGenerator{}
}

// GenerateCatalog renders the plan catalog sheet: a cover page, the plan
// table in entitlement order, and the lifecycle state table in precedence
// order.
func (g *PDFGenerator) GenerateCatalog(data CatalogData) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)

	g.writeCoverPage(pdf, data)

	pdf.AddPage()
	g.addPageHeader(pdf, "Plan Catalog")
	g.writePlanTable(pdf, data.Plans)

	pdf.Ln(8)
	if pdf.GetY() > 200 {
		pdf.AddPage()
		g.addPageHeader(pdf, "Lifecycle States")
	} else {
		g.writeSectionTitle(pdf, "Lifecycle States")
	}
	g.writeStateTable(pdf, data.States)

	g.addPageNumbers(pdf)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate catalog PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *PDFGenerator) writeCoverPage(pdf *fpdf.Fpdf, data CatalogData) {
	pdf.AddPage()

	pageWidth, pageHeight := pdf.GetPageSize()

	// Top accent bar
	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, 0, pageWidth, 8, "F")

	// Branding area
	pdf.SetY(50)
	pdf.SetFont("Arial", "B", 32)
	pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.CellFormat(0, 15, "STRATUS", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 12)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 8, "Subscription Entitlements", "", 1, "C", false, 0, "")

	// Main title
	pdf.SetY(100)
	pdf.SetFont("Arial", "B", 28)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 12, "Plan Catalog", "", 1, "C", false, 0, "")

	// Summary box
	pdf.SetY(130)
	boxX := 40.0
	boxWidth := pageWidth - 80
	boxHeight := 50.0

	pdf.SetFillColor(colorBackground[0], colorBackground[1], colorBackground[2])
	pdf.SetDrawColor(colorGridLine[0], colorGridLine[1], colorGridLine[2])
	pdf.RoundedRect(boxX, pdf.GetY(), boxWidth, boxHeight, 3, "1234", "FD")

	paid := 0
	for _, p := range data.Plans {
		if p.Paid {
			paid++
		}
	}

	pdf.SetY(pdf.GetY() + 10)
	pdf.SetFont("Arial", "B", 11)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 7, "CATALOG", "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "B", 16)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 10, fmt.Sprintf("%d plans, %d paid tiers", len(data.Plans), paid), "", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 11)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 7, fmt.Sprintf("%d lifecycle states", len(data.States)), "", 1, "C", false, 0, "")

	// Bottom section
	pdf.SetY(pageHeight - 50)
	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated: %s", data.GeneratedAt.Format("January 2, 2006 at 15:04 MST")), "", 1, "C", false, 0, "")
	if data.Version != "" {
		pdf.CellFormat(0, 6, fmt.Sprintf("entitlementd %s", data.Version), "", 1, "C", false, 0, "")
	}

	// Bottom accent bar
	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, pageHeight-8, pageWidth, 8, "F")
}

func (g *PDFGenerator) addPageHeader(pdf *fpdf.Fpdf, section string) {
	pageWidth, _ := pdf.GetPageSize()

	pdf.SetDrawColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.SetLineWidth(0.5)
	pdf.Line(20, 15, pageWidth-20, 15)

	pdf.SetY(18)
	pdf.SetFont("Arial", "B", 9)
	pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.CellFormat(0, 5, "STRATUS PLAN CATALOG", "", 0, "L", false, 0, "")

	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 5, "entitlementd", "", 1, "R", false, 0, "")

	pdf.SetY(30)
	pdf.SetFont("Arial", "B", 18)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 10, section, "", 1, "L", false, 0, "")

	pdf.Ln(5)
}

func (g *PDFGenerator) writeSectionTitle(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 9, title, "", 1, "L", false, 0, "")
	pdf.Ln(2)
}

func (g *PDFGenerator) writePlanTable(pdf *fpdf.Fpdf, plans []entitlement.PlanInfo) {
	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 6, "Plans in ascending entitlement order. Rank is the ordering position.", "", 1, "L", false, 0, "")
	pdf.Ln(3)

	widths := []float64{12, 45, 32, 45, 14, 22}
	headers := []string{"Rank", "Plan ID", "Display Name", "Product Name", "Paid", "Next Tier"}

	drawHeader := func() {
		pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
		pdf.SetTextColor(255, 255, 255)
		pdf.SetFont("Arial", "B", 7)
		for i, head := range headers {
			pdf.CellFormat(widths[i], 7, head, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	}
	drawHeader()

	pdf.SetFont("Arial", "", 7)
	fill := false

	for _, p := range plans {
		if pdf.GetY() > 260 {
			pdf.AddPage()
			g.addPageHeader(pdf, "Plan Catalog (continued)")
			pdf.Ln(5)
			drawHeader()
			pdf.SetFont("Arial", "", 7)
			fill = false
		}

		if fill {
			pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		} else {
			pdf.SetFillColor(255, 255, 255)
		}
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])

		pdf.CellFormat(widths[0], 6, fmt.Sprintf("%d", p.Rank), "1", 0, "C", fill, 0, "")
		pdf.CellFormat(widths[1], 6, string(p.ID), "1", 0, "L", fill, 0, "")
		pdf.CellFormat(widths[2], 6, p.DisplayName, "1", 0, "L", fill, 0, "")
		pdf.CellFormat(widths[3], 6, p.ProductName, "1", 0, "L", fill, 0, "")

		if p.Paid {
			pdf.SetTextColor(colorAccent[0], colorAccent[1], colorAccent[2])
			pdf.CellFormat(widths[4], 6, "Yes", "1", 0, "C", fill, 0, "")
			pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		} else {
			pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
			pdf.CellFormat(widths[4], 6, "No", "1", 0, "C", fill, 0, "")
			pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		}

		pdf.CellFormat(widths[5], 6, string(p.NextPaidTier), "1", 0, "L", fill, 0, "")
		pdf.Ln(-1)
		fill = !fill
	}
}

func (g *PDFGenerator) writeStateTable(pdf *fpdf.Fpdf, states []entitlement.StateInfo) {
	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 6, "States in resolution precedence order. The wire form is the telemetry-safe string.", "", 1, "L", false, 0, "")
	pdf.Ln(3)

	widths := []float64{60, 60, 50}
	headers := []string{"State", "Wire Form", "Trial or Paid"}

	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Arial", "B", 7)
	for i, head := range headers {
		pdf.CellFormat(widths[i], 7, head, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 7)
	fill := false

	for _, s := range states {
		if fill {
			pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		} else {
			pdf.SetFillColor(255, 255, 255)
		}
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])

		pdf.CellFormat(widths[0], 6, string(s.State), "1", 0, "L", fill, 0, "")
		pdf.CellFormat(widths[1], 6, string(s.Wire), "1", 0, "L", fill, 0, "")
		if s.TrialOrPaid {
			pdf.CellFormat(widths[2], 6, "Yes", "1", 0, "C", fill, 0, "")
		} else {
			pdf.CellFormat(widths[2], 6, "No", "1", 0, "C", fill, 0, "")
		}
		pdf.Ln(-1)
		fill = !fill
	}
}

func (g *PDFGenerator) addPageNumbers(pdf *fpdf.Fpdf) {
	// Footers must not trigger new pages.
	pdf.SetAutoPageBreak(false, 0)

	totalPages := pdf.PageCount()

	// Skip the cover page.
	for i := 2; i <= totalPages; i++ {
		pdf.SetPage(i)
		pageWidth, pageHeight := pdf.GetPageSize()

		pdf.SetY(pageHeight - 15)
		pdf.SetFont("Arial", "", 8)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d of %d", i-1, totalPages-1), "", 0, "C", false, 0, "")

		pdf.SetDrawColor(colorGridLine[0], colorGridLine[1], colorGridLine[2])
		pdf.SetLineWidth(0.3)
		pdf.Line(20, pageHeight-20, pageWidth-20, pageHeight-20)
	}
}
