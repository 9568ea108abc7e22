// Package report turns benchmark session results into comparison tables,
// JSON and charts.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/weiihann/kubebench/harness"
)

// Row holds one backend's throughput per phase.
type Row struct {
	Backend    string                    `json:"backend"`
	Objects    int                       `json:"objects"`
	Throughput map[harness.Phase]float64 `json:"throughput"`
}

// Table is the cross-backend comparison: rows in run order, phases in the
// order they were first seen. It is rebuilt from session results, never
// edited in place.
type Table struct {
	Phases []harness.Phase `json:"phases"`
	Rows   []Row           `json:"rows"`
}

// Build aggregates sessions into a Table. Objects is the largest item count
// any phase of the backend processed.
func Build(sessions []harness.SessionResult) Table {
	var (
		table Table
		index = make(map[string]int)
		seen  = make(map[harness.Phase]bool)
	)

	for _, s := range sessions {
		i, ok := index[s.Backend]
		if !ok {
			i = len(table.Rows)
			index[s.Backend] = i
			table.Rows = append(table.Rows, Row{
				Backend:    s.Backend,
				Throughput: make(map[harness.Phase]float64),
			})
		}

		row := &table.Rows[i]

		for _, r := range s.Results {
			if !seen[r.Phase] {
				seen[r.Phase] = true
				table.Phases = append(table.Phases, r.Phase)
			}

			row.Objects = max(row.Objects, r.Items)
			row.Throughput[r.Phase] = r.Throughput()
		}
	}

	return table
}

// Value returns the throughput of backend in phase.
func (t Table) Value(backend string, phase harness.Phase) (float64, bool) {
	for _, row := range t.Rows {
		if row.Backend != backend {
			continue
		}

		v, ok := row.Throughput[phase]

		return v, ok
	}

	return 0, false
}

// Generate writes the comparison table in objects per second.
func Generate(w io.Writer, table Table) error {
	if len(table.Rows) == 0 {
		return fmt.Errorf("no results to report")
	}

	fmt.Fprintln(w, "Combined results (objects per second)")

	tw := tablewriter.NewWriter(w)

	header := []any{"Backend", "Objects"}
	for _, p := range table.Phases {
		header = append(header, strings.ToUpper(string(p)))
	}

	tw.Header(header...)

	for _, row := range table.Rows {
		cells := []any{row.Backend, row.Objects}

		for _, p := range table.Phases {
			v, ok := row.Throughput[p]
			if !ok {
				cells = append(cells, "-")
				continue
			}

			cells = append(cells, formatRate(v))
		}

		if err := tw.Append(cells...); err != nil {
			return fmt.Errorf("append row %s: %w", row.Backend, err)
		}
	}

	if err := tw.Render(); err != nil {
		return fmt.Errorf("render table: %w", err)
	}

	return nil
}

// Summary writes the per-phase results of a single session.
func Summary(w io.Writer, s harness.SessionResult) error {
	fmt.Fprintf(w, "Results for %s\n", s.Backend)

	tw := tablewriter.NewWriter(w)
	tw.Header("Benchmark", "Objects", "Seconds", "Obj/s")

	for _, r := range s.Results {
		err := tw.Append(
			strings.ToUpper(string(r.Phase)),
			r.Items,
			formatSeconds(r.Seconds()),
			formatRate(r.Throughput()),
		)
		if err != nil {
			return fmt.Errorf("append row %s: %w", r.Phase, err)
		}
	}

	if err := tw.Render(); err != nil {
		return fmt.Errorf("render summary: %w", err)
	}

	return nil
}

type jsonReport struct {
	Sessions []harness.SessionResult `json:"sessions"`
	Table    Table                   `json:"table"`
}

// GenerateJSON writes the sessions and their comparison table as JSON to w.
func GenerateJSON(w io.Writer, sessions []harness.SessionResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(jsonReport{
		Sessions: sessions,
		Table:    Build(sessions),
	})
}

func formatSeconds(s float64) string {
	return fmt.Sprintf("%.2f", s)
}

func formatRate(v float64) string {
	return fmt.Sprintf("%.1f", v)
}
