package report

import (
	"bytes"
	"fmt"

	"github.com/wcharczuk/go-chart/v2"

	"github.com/cloudspend/costreport/internal/aggregate"
)

const chartLabelMax = 18

// renderBarChart renders a table's data rows as a PNG bar chart. Tables
// with nothing chartable (no rows, or no positive amount) return ok=false
// and the page falls back to table-only.
func renderBarChart(table aggregate.Table, topN int) ([]byte, bool, error) {
	rows := table.Head(topN).Rows

	var bars []chart.Value
	maxVal := 0.0
	for _, row := range rows {
		if row.IsTotal {
			continue
		}
		v := row.Amount.InexactFloat64()
		if v > maxVal {
			maxVal = v
		}
		bars = append(bars, chart.Value{
			Value: v,
			Label: shortLabel(row),
		})
	}
	if len(bars) == 0 || maxVal <= 0 {
		return nil, false, nil
	}

	graph := chart.BarChart{
		Title: table.Name,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 10, Bottom: 10},
		},
		Width:    1024,
		Height:   512,
		BarWidth: barWidth(len(bars)),
		YAxis: chart.YAxis{
			Range: &chart.ContinuousRange{Min: 0, Max: maxVal * 1.1},
		},
		Bars: bars,
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, false, fmt.Errorf("failed to render chart for %s: %w", table.Name, err)
	}
	return buf.Bytes(), true, nil
}

func barWidth(n int) int {
	w := 900 / n
	if w > 60 {
		return 60
	}
	if w < 8 {
		return 8
	}
	return w
}

func shortLabel(row aggregate.Row) string {
	label := row.Dimension
	if row.SubDimension != "" {
		label += "/" + row.SubDimension
	}
	if len(label) > chartLabelMax {
		label = label[:chartLabelMax-2] + ".."
	}
	return label
}
