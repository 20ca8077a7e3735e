package report

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/cloudspend/costreport/internal/aggregate"
	"github.com/cloudspend/costreport/internal/normalize"
)

// table rows beyond this go to the spreadsheet, not the PDF page
const pdfTableRowCap = 30

func writePDF(path string, data *Data, topN int) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Cloud Cost Report", false)
	pdf.SetAutoPageBreak(true, 15)

	writeCover(pdf, data)

	for i, section := range data.Sections {
		if err := writeSectionPage(pdf, section, topN, i); err != nil {
			return err
		}
	}

	return pdf.OutputFileAndClose(path)
}

func writeCover(pdf *fpdf.Fpdf, data *Data) {
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 22)
	pdf.CellFormat(0, 14, "Cloud Cost Report", "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 8, fmt.Sprintf("Period: %s to %s",
		data.PeriodStart.Format("2006-01-02"), data.PeriodEnd.Format("2006-01-02")), "", 1, "C", false, 0, "")
	if data.AWSAccount != "" {
		pdf.CellFormat(0, 8, "AWS account: "+data.AWSAccount, "", 1, "C", false, 0, "")
	}
	pdf.Ln(8)

	awsTotal, azureTotal := data.providerTotals()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 10, "Cost Summary", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)

	summaryRow(pdf, "AWS", awsTotal.StringFixed(2)+" USD", false)
	azureCurrency := data.currencyOf(normalize.ProviderAzure)
	if azureCurrency == "" {
		azureCurrency = "USD"
	}
	summaryRow(pdf, "Azure", azureTotal.StringFixed(2)+" "+azureCurrency, false)

	if combined, ok := data.CombinedUSD(); ok {
		summaryRow(pdf, "Combined", combined.StringFixed(2)+" USD", true)
	} else {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(0, 8, "Combined USD total unavailable: exchange rate source failed", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
	}
	pdf.Ln(6)

	if data.AWSCycleTotal != nil {
		pdf.CellFormat(0, 7, fmt.Sprintf("AWS billing-cycle total to date: %s %s",
			data.AWSCycleTotal.Currency, data.AWSCycleTotal.TotalCost), "", 1, "L", false, 0, "")
	}
	if data.AzureCycleTotal != nil {
		pdf.CellFormat(0, 7, fmt.Sprintf("Azure billing-cycle total to date: %s %s",
			data.AzureCycleTotal.Currency, data.AzureCycleTotal.TotalCost), "", 1, "L", false, 0, "")
	}

	if data.Rate != nil {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(0, 7, fmt.Sprintf("Azure costs converted %s to %s at the %s ECB reference rate: 1 %s = %s %s",
			data.Rate.From, data.Rate.To, data.Rate.Date,
			data.Rate.To, data.Rate.Inverse().StringFixed(2), data.Rate.From), "", 1, "L", false, 0, "")
	}
}

func summaryRow(pdf *fpdf.Fpdf, label, value string, highlight bool) {
	if highlight {
		pdf.SetFillColor(220, 220, 220)
		pdf.SetFont("Helvetica", "B", 11)
	}
	pdf.CellFormat(60, 8, label, "1", 0, "L", highlight, 0, "")
	pdf.CellFormat(60, 8, value, "1", 1, "R", highlight, 0, "")
	if highlight {
		pdf.SetFont("Helvetica", "", 11)
	}
}

func writeSectionPage(pdf *fpdf.Fpdf, section Section, topN, idx int) error {
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, fmt.Sprintf("%s by %s", strings.ToUpper(string(section.Provider)), section.Name),
		"", 1, "L", false, 0, "")

	if section.LoadError != nil {
		pdf.SetFont("Helvetica", "I", 11)
		pdf.CellFormat(0, 8, "No data: the provider response for this dimension could not be interpreted.",
			"", 1, "L", false, 0, "")
		return nil
	}
	if !section.Complete {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(0, 7, fmt.Sprintf("Partial data: %d entries could not be attributed and are excluded from this page.",
			section.Skipped), "", 1, "L", false, 0, "")
	}

	png, ok, err := renderBarChart(section.Table, topN)
	if err != nil {
		return err
	}
	if ok {
		name := fmt.Sprintf("chart-%d", idx)
		opts := fpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(png))
		pdf.ImageOptions(name, 15, pdf.GetY()+2, 180, 0, true, opts, 0, "")
		pdf.Ln(4)
	}

	writeSectionTable(pdf, section.Table)
	return nil
}

func writeSectionTable(pdf *fpdf.Fpdf, table aggregate.Table) {
	hasSub := false
	for _, row := range table.Rows {
		if row.SubDimension != "" {
			hasSub = true
			break
		}
	}

	dimW := 100.0
	if hasSub {
		dimW = 60.0
	}

	pdf.SetFont("Helvetica", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	pdf.CellFormat(dimW, 7, table.Name, "1", 0, "L", true, 0, "")
	if hasSub {
		pdf.CellFormat(40, 7, "Breakdown", "1", 0, "L", true, 0, "")
	}
	pdf.CellFormat(35, 7, "Cost", "1", 0, "R", true, 0, "")
	pdf.CellFormat(25, 7, "Currency", "1", 1, "C", true, 0, "")

	pdf.SetFont("Helvetica", "", 9)
	shown := 0
	elided := 0
	for _, row := range table.Rows {
		if !row.IsTotal {
			if shown >= pdfTableRowCap {
				elided++
				continue
			}
			shown++
		}
		if row.IsTotal {
			if elided > 0 {
				pdf.SetFont("Helvetica", "I", 9)
				pdf.CellFormat(0, 6, fmt.Sprintf("... %d more rows in the spreadsheet export", elided), "", 1, "L", false, 0, "")
			}
			pdf.SetFont("Helvetica", "B", 10)
			pdf.SetFillColor(210, 210, 210)
		}
		pdf.CellFormat(dimW, 6, clip(row.Dimension, 58), "1", 0, "L", row.IsTotal, 0, "")
		if hasSub {
			pdf.CellFormat(40, 6, clip(row.SubDimension, 24), "1", 0, "L", row.IsTotal, 0, "")
		}
		pdf.CellFormat(35, 6, row.Amount.StringFixed(2), "1", 0, "R", row.IsTotal, 0, "")
		pdf.CellFormat(25, 6, row.Currency, "1", 1, "C", row.IsTotal, 0, "")
	}
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-2] + ".."
}
