package report

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ChartFile is the file name Chart writes inside its output directory.
const ChartFile = "kubernetes_clients_benchmark.png"

var palette = []color.Color{
	color.RGBA{R: 0x4E, G: 0x79, B: 0xA7, A: 0xFF},
	color.RGBA{R: 0xF2, G: 0x8E, B: 0x2B, A: 0xFF},
	color.RGBA{R: 0xE1, G: 0x57, B: 0x59, A: 0xFF},
	color.RGBA{R: 0x76, G: 0xB7, B: 0xB2, A: 0xFF},
}

const (
	chartWidth     = 10 * vg.Inch
	minChartHeight = 7
	// Share of each backend's band covered by its bars.
	groupFill = 0.6
)

// Chart renders the table as grouped horizontal bars, one group per backend
// and one bar per phase, and saves it as ChartFile in dir. It returns the
// written path.
func Chart(dir string, table Table) (string, error) {
	if len(table.Rows) == 0 || len(table.Phases) == 0 {
		return "", fmt.Errorf("no results to chart")
	}

	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve output dir: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	p := plot.New()
	p.Title.Text = "Kubernetes clients benchmark"
	p.X.Label.Text = "Objects per second"
	p.X.Min = 0
	p.Legend.Top = true

	grid := plotter.NewGrid()
	grid.Horizontal.Color = nil
	p.Add(grid)

	height := vg.Length(max(minChartHeight, len(table.Rows)+2)) * vg.Inch
	band := height * 0.75 / vg.Length(len(table.Rows))
	width := band * groupFill / vg.Length(len(table.Phases))

	// Rows are drawn bottom-up; reverse so the first backend is on top.
	backends := make([]string, len(table.Rows))
	for i, row := range table.Rows {
		backends[len(backends)-1-i] = row.Backend
	}

	for i, phase := range table.Phases {
		values := make(plotter.Values, len(backends))
		for j, name := range backends {
			values[j], _ = table.Value(name, phase)
		}

		bars, err := plotter.NewBarChart(values, width)
		if err != nil {
			return "", fmt.Errorf("build %s bars: %w", phase, err)
		}

		bars.Horizontal = true
		bars.LineStyle.Width = 0
		bars.Color = palette[i%len(palette)]
		// Center the group on the backend's tick, first phase on top.
		bars.Offset = width * vg.Length(float64(len(table.Phases)-1)/2-float64(i))

		p.Add(bars)
		p.Legend.Add(strings.ToUpper(string(phase)), bars)
	}

	p.NominalY(backends...)

	path := filepath.Join(dir, ChartFile)
	if err := p.Save(chartWidth, height, path); err != nil {
		return "", fmt.Errorf("save chart: %w", err)
	}

	return path, nil
}
