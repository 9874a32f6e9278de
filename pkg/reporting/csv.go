package reporting

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"
)

// CSVGenerator handles CSV catalog export.
type CSVGenerator struct{}

// NewCSVGenerator creates a new CSV generator.
func NewCSVGenerator() *CSVGenerator {
	return &CSVGenerator{}
}

// GenerateCatalog renders the plan catalog as CSV: comment header rows,
// the plan table, then the lifecycle state table.
func (g *CSVGenerator) GenerateCatalog(data CatalogData) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := g.writeHeader(w, data); err != nil {
		return nil, fmt.Errorf("write CSV header section: %w", err)
	}
	if err := g.writePlans(w, data); err != nil {
		return nil, fmt.Errorf("write CSV plan section: %w", err)
	}
	if err := g.writeStates(w, data); err != nil {
		return nil, fmt.Errorf("write CSV state section: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("CSV write error: %w", err)
	}

	return buf.Bytes(), nil
}

func (g *CSVGenerator) writeHeader(w *csv.Writer, data CatalogData) error {
	headers := [][]string{
		{"# Stratus Plan Catalog"},
		{"# Generated:", data.GeneratedAt.Format(time.RFC3339)},
	}
	if data.Version != "" {
		headers = append(headers, []string{"# Version:", data.Version})
	}
	headers = append(headers, []string{""})

	for _, row := range headers {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write header row %q: %w", row[0], err)
		}
	}
	return nil
}

func (g *CSVGenerator) writePlans(w *csv.Writer, data CatalogData) error {
	if err := w.Write([]string{"rank", "id", "display_name", "product_name", "paid", "next_paid_tier"}); err != nil {
		return err
	}
	for _, p := range data.Plans {
		row := []string{
			strconv.Itoa(p.Rank),
			string(p.ID),
			p.DisplayName,
			p.ProductName,
			strconv.FormatBool(p.Paid),
			string(p.NextPaidTier),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write plan row %s: %w", p.ID, err)
		}
	}
	return w.Write([]string{""})
}

func (g *CSVGenerator) writeStates(w *csv.Writer, data CatalogData) error {
	if err := w.Write([]string{"state", "wire", "trial_or_paid"}); err != nil {
		return err
	}
	for _, s := range data.States {
		row := []string{
			string(s.State),
			string(s.Wire),
			strconv.FormatBool(s.TrialOrPaid),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write state row %s: %w", s.State, err)
		}
	}
	return nil
}
