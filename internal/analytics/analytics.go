// Package analytics aggregates defensive outcomes across operations.
// Callers pass only operations the requesting principal may list.
package analytics

import (
	"sort"
	"strings"

	"github.com/developingchet/rtledger/internal/storage"
)

// Scorecard summarises outcomes over every executed technique.
type Scorecard struct {
	Operations      int     `json:"operations"`
	Techniques      int     `json:"techniques"`
	Detected        int     `json:"detected"`
	Prevented       int     `json:"prevented"`
	Attributed      int     `json:"attributed"`
	DetectionRate   float64 `json:"detection_rate"`
	PreventionRate  float64 `json:"prevention_rate"`
	AttributionRate float64 `json:"attribution_rate"`
}

// BuildScorecard counts outcomes across ops.
func BuildScorecard(ops []storage.OperationRecord) Scorecard {
	sc := Scorecard{Operations: len(ops)}
	for _, op := range ops {
		for _, t := range op.Techniques {
			sc.Techniques++
			if t.Outcome.Detected {
				sc.Detected++
			}
			if t.Outcome.Prevented {
				sc.Prevented++
			}
			if t.Outcome.Attributed {
				sc.Attributed++
			}
		}
	}
	sc.DetectionRate = rate(sc.Detected, sc.Techniques)
	sc.PreventionRate = rate(sc.Prevented, sc.Techniques)
	sc.AttributionRate = rate(sc.Attributed, sc.Techniques)
	return sc
}

// Cell is one technique's coverage within a tactic.
type Cell struct {
	TechniqueID   string  `json:"technique_id"`
	Executions    int     `json:"executions"`
	Detected      int     `json:"detected"`
	Prevented     int     `json:"prevented"`
	DetectionRate float64 `json:"detection_rate"`
}

// TacticRow groups heatmap cells by tactic.
type TacticRow struct {
	Tactic string `json:"tactic"`
	Cells  []Cell `json:"cells"`
}

// BuildHeatmap groups executions by tactic and technique ID. Rows and cells are sorted
// by name so the output is stable. Techniques without a tactic land under "unknown".
func BuildHeatmap(ops []storage.OperationRecord) []TacticRow {
	byTactic := make(map[string]map[string]*Cell)
	for _, op := range ops {
		for _, t := range op.Techniques {
			tactic := strings.ToLower(strings.TrimSpace(t.Tactic))
			if tactic == "" {
				tactic = "unknown"
			}
			tid := strings.ToUpper(strings.TrimSpace(t.TechniqueID))
			cells, ok := byTactic[tactic]
			if !ok {
				cells = make(map[string]*Cell)
				byTactic[tactic] = cells
			}
			c, ok := cells[tid]
			if !ok {
				c = &Cell{TechniqueID: tid}
				cells[tid] = c
			}
			c.Executions++
			if t.Outcome.Detected {
				c.Detected++
			}
			if t.Outcome.Prevented {
				c.Prevented++
			}
		}
	}

	rows := make([]TacticRow, 0, len(byTactic))
	for tactic, cells := range byTactic {
		row := TacticRow{Tactic: tactic, Cells: make([]Cell, 0, len(cells))}
		for _, c := range cells {
			c.DetectionRate = rate(c.Detected, c.Executions)
			row.Cells = append(row.Cells, *c)
		}
		sort.Slice(row.Cells, func(i, j int) bool { return row.Cells[i].TechniqueID < row.Cells[j].TechniqueID })
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Tactic < rows[j].Tactic })
	return rows
}

func rate(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}
