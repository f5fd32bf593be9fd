package cell_views

import (
	"gridsim/models"
	"gridsim/session"
)

// Cell is the view-model of a single grid cell, such that [0][0] is the cell that would be
// printed in the console at top left. As a rule of thumb, Cell fields should be immediately
// usable as view parameters.
type Cell struct {
	Row, Col int
	Kind     models.CellKind
	Value    float64
	Agent    bool
	// HasPolicy is set when values are known and the agent can act from the cell.
	HasPolicy bool
	// PolicyArrowRotation points to the greedy neighbor, in degrees clockwise from up.
	PolicyArrowRotation int
}

var moves = []struct {
	dRow, dCol int
	rotation   int
}{
	{-1, 0, 0},
	{0, 1, 90},
	{1, 0, 180},
	{0, -1, 270},
}

// FromSnapshot converts a snapshot to cells. Unconfigured sessions have none.
func FromSnapshot(snap session.Snapshot) [][]Cell {
	if snap.Grid == nil {
		return nil
	}
	grid := *snap.Grid
	hasValues := len(snap.Values) == grid.NumStates()

	cells := make([][]Cell, grid.Rows())
	for r := range cells {
		cells[r] = make([]Cell, grid.Cols())
	}
	grid.Visit(func(pos models.Position, kind models.CellKind) {
		cell := Cell{
			Row:   pos.Row,
			Col:   pos.Col,
			Kind:  kind,
			Agent: snap.Position != nil && *snap.Position == pos,
		}
		if hasValues {
			cell.Value = snap.Values[grid.Index(pos)]
			cell.PolicyArrowRotation, cell.HasPolicy = greedy(grid, snap.Values, pos)
		}
		cells[pos.Row][pos.Col] = cell
	})
	return cells
}

// greedy returns the rotation of the move to the highest valued neighbor. Off-grid and wall
// neighbors are never chosen; terminal and wall cells have no policy.
func greedy(grid models.GridConfig, values []float64, pos models.Position) (rotation int, ok bool) {
	switch grid.At(pos) {
	case models.TERMINAL, models.WALL:
		return 0, false
	}

	best := 0.0
	for _, move := range moves {
		next := models.Position{Row: pos.Row + move.dRow, Col: pos.Col + move.dCol}
		if grid.At(next) == models.WALL {
			continue
		}
		if val := values[grid.Index(next)]; !ok || val > best {
			best, rotation, ok = val, move.rotation, true
		}
	}
	return
}
