package report

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-pdf/fpdf"

	"aerospin-backend/internal/models"
)

const (
	title = "Aerospin Session Report"

	chartHeight = 38.0
	chartGap    = 8.0
	rowHeight   = 7.0
)

type rgb struct{ r, g, b int }

var (
	headerFill = rgb{128, 128, 128}
	headerText = rgb{245, 245, 245}
	bodyFill   = rgb{245, 245, 220}

	chartColors = map[string]rgb{
		MetricTemperature: {220, 38, 38},
		MetricHumidity:    {37, 99, 235},
		MetricSpeed:       {22, 163, 74},
		MetricRemaining:   {147, 51, 234},
	}
)

// RenderPDF writes the report for records to w. An empty record list yields
// a single placeholder page.
func RenderPDF(w io.Writer, records []models.SessionRecord, generatedAt time.Time) error {
	pdf := fpdf.New("P", "mm", "Letter", "")
	pdf.SetTitle(title, true)
	pdf.SetAutoPageBreak(true, 15)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 12, title, "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 8, "Generated: "+generatedAt.Format("2006-01-02 15:04:05"), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	if len(records) == 0 {
		pdf.SetFont("Helvetica", "", 12)
		pdf.CellFormat(0, 10, NoDataMessage, "", 1, "L", false, 0, "")
		return output(pdf, w)
	}

	summary := Summarize(records)
	heading(pdf, "Summary Statistics")
	summaryTable(pdf, tr, summary)
	pdf.Ln(6)

	heading(pdf, "Graphical Analysis")
	for _, s := range seriesOf(records) {
		lineChart(pdf, tr, s)
	}

	pdf.AddPage()
	heading(pdf, "Detailed Session Data")
	detailTable(pdf, tr, records)

	return output(pdf, w)
}

func output(pdf *fpdf.Fpdf, w io.Writer) error {
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}

func heading(pdf *fpdf.Fpdf, text string) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 10, text, "", 1, "L", false, 0, "")
}

func headerRow(pdf *fpdf.Fpdf, tr func(string) string, widths []float64, cols []string) {
	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(headerFill.r, headerFill.g, headerFill.b)
	pdf.SetTextColor(headerText.r, headerText.g, headerText.b)
	for i, col := range cols {
		pdf.CellFormat(widths[i], rowHeight+1, tr(col), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFillColor(bodyFill.r, bodyFill.g, bodyFill.b)
	pdf.SetFont("Helvetica", "", 10)
}

func summaryTable(pdf *fpdf.Fpdf, tr func(string) string, s Summary) {
	widths := []float64{58, 40, 40, 40}
	headerRow(pdf, tr, widths, []string{"Metric", "Minimum", "Maximum", "Average"})
	for _, m := range s.Metrics {
		row := []string{m.Metric, formatValue(m.Metric, m.Min), formatValue(m.Metric, m.Max), fmt.Sprintf("%.1f", m.Mean)}
		for i, cell := range row {
			pdf.CellFormat(widths[i], rowHeight, tr(cell), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	}
}

func detailTable(pdf *fpdf.Fpdf, tr func(string) string, records []models.SessionRecord) {
	widths := []float64{34, 38, 34, 30, 42}
	cols := []string{"Timestamp", MetricTemperature, MetricHumidity, MetricSpeed, MetricRemaining}
	headerRow(pdf, tr, widths, cols)

	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for _, r := range records {
		if pdf.GetY()+rowHeight > pageHeight-bottom-15 {
			pdf.AddPage()
			headerRow(pdf, tr, widths, cols)
		}
		row := []string{
			r.Timestamp.Format("15:04:05"),
			fmt.Sprintf("%.1f", r.Temperature),
			fmt.Sprintf("%.1f", r.Humidity),
			fmt.Sprintf("%d", r.Speed),
			fmt.Sprintf("%d", r.Remaining),
		}
		for i, cell := range row {
			pdf.CellFormat(widths[i], rowHeight, cell, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	}
}

// lineChart draws one metric as a polyline inside a framed box
func lineChart(pdf *fpdf.Fpdf, tr func(string) string, s series) {
	pageWidth, pageHeight := pdf.GetPageSize()
	left, _, right, bottom := pdf.GetMargins()
	if pdf.GetY()+chartHeight+chartGap+6 > pageHeight-bottom {
		pdf.AddPage()
	}

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(0, 6, tr(s.name+" Variation"), "", 1, "L", false, 0, "")

	x0, y0 := left, pdf.GetY()
	w := pageWidth - left - right
	pdf.SetDrawColor(160, 160, 160)
	pdf.SetLineWidth(0.2)
	pdf.Rect(x0, y0, w, chartHeight, "D")

	lo, hi := bounds(s.values)
	pdf.SetFont("Helvetica", "", 7)
	pdf.Text(x0+1, y0+3, formatValue(s.name, hi))
	pdf.Text(x0+1, y0+chartHeight-1, formatValue(s.name, lo))

	c := chartColors[s.name]
	pdf.SetDrawColor(c.r, c.g, c.b)
	pdf.SetLineWidth(0.5)
	n := len(s.values)
	point := func(i int) (float64, float64) {
		x := x0 + w/2
		if n > 1 {
			x = x0 + 2 + (w-4)*float64(i)/float64(n-1)
		}
		y := y0 + chartHeight - 2 - (chartHeight-4)*(s.values[i]-lo)/(hi-lo)
		return x, y
	}
	if n == 1 {
		x, y := point(0)
		pdf.Circle(x, y, 0.8, "D")
	}
	for i := 1; i < n; i++ {
		x1, y1 := point(i - 1)
		x2, y2 := point(i)
		pdf.Line(x1, y1, x2, y2)
	}

	pdf.SetDrawColor(0, 0, 0)
	pdf.SetLineWidth(0.2)
	pdf.SetY(y0 + chartHeight + chartGap)
}

// bounds returns a non-degenerate value range for plotting
func bounds(values []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo < 1e-9 {
		lo, hi = lo-1, hi+1
	}
	return lo, hi
}

// formatValue prints float metrics with one decimal and integer metrics as is
func formatValue(metric string, v float64) string {
	if metric == MetricSpeed || metric == MetricRemaining {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.1f", v)
}
