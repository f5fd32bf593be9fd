package models

import (
	"fmt"
)

// CellKind is the kind code of a single grid cell. The numeric values are the wire codes
// exchanged with the engine, so they must not be renumbered.
type CellKind int

// Grid cell kinds
const (
	EMPTY CellKind = iota
	START
	TERMINAL
	CLIFF
	WALL
)

var cellKindNames = map[CellKind]string{
	EMPTY:    "empty",
	START:    "start",
	TERMINAL: "terminal",
	CLIFF:    "cliff",
	WALL:     "wall",
}

func (kind CellKind) String() string {
	if name, ok := cellKindNames[kind]; ok {
		return name
	}
	return fmt.Sprintf("CellKind(%d)", int(kind))
}

// Valid reports whether kind is one of the known cell codes.
func (kind CellKind) Valid() bool {
	_, ok := cellKindNames[kind]
	return ok
}

// Position is a row/column location on the grid. Row 0 is the top row as displayed.
type Position struct {
	Row int `json:"row" yaml:"row"`
	Col int `json:"col" yaml:"col"`
}

func (pos Position) String() string {
	return fmt.Sprintf("(%d,%d)", pos.Row, pos.Col)
}

// GridConfig is an immutable rectangular matrix of cell kinds describing the environment layout.
// Note that a START and a TERMINAL cell are recommended but not validated; the engine enforces
// whatever it requires of the layout.
type GridConfig struct {
	cells [][]CellKind
}

// NewGridConfig validates and copies the passed rows.
// Returns ErrConfigInvalid if the grid is empty, ragged, or contains unknown cell codes.
func NewGridConfig(rows [][]CellKind) (GridConfig, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return GridConfig{}, invalidf("grid must have at least one row and one column")
	}

	width := len(rows[0])
	cells := make([][]CellKind, len(rows))
	for r, row := range rows {
		if len(row) != width {
			return GridConfig{}, invalidf("grid is not rectangular: row %d has %d cells, expected %d", r, len(row), width)
		}
		for c, kind := range row {
			if !kind.Valid() {
				return GridConfig{}, invalidf("invalid cell value %d at (%d, %d)", int(kind), r, c)
			}
		}
		cells[r] = append([]CellKind(nil), row...)
	}

	return GridConfig{cells: cells}, nil
}

// GridFromCodes builds a grid from raw integer codes, as received from forms or json.
func GridFromCodes(codes [][]int) (GridConfig, error) {
	rows := make([][]CellKind, len(codes))
	for r := range codes {
		rows[r] = make([]CellKind, len(codes[r]))
		for c, code := range codes[r] {
			rows[r][c] = CellKind(code)
		}
	}
	return NewGridConfig(rows)
}

// Rows returns the number of grid rows.
func (grid GridConfig) Rows() int {
	return len(grid.cells)
}

// Cols returns the number of grid columns.
func (grid GridConfig) Cols() int {
	if len(grid.cells) == 0 {
		return 0
	}
	return len(grid.cells[0])
}

// NumStates is the number of cells, which is also the length of a per-state value array.
func (grid GridConfig) NumStates() int {
	return grid.Rows() * grid.Cols()
}

// IsZero reports whether the grid was never constructed.
func (grid GridConfig) IsZero() bool {
	return len(grid.cells) == 0
}

// At returns the kind of the cell at pos, or WALL for positions off the grid.
func (grid GridConfig) At(pos Position) CellKind {
	if !grid.Contains(pos) {
		return WALL
	}
	return grid.cells[pos.Row][pos.Col]
}

// Contains reports whether pos is on the grid.
func (grid GridConfig) Contains(pos Position) bool {
	return pos.Row >= 0 && pos.Row < grid.Rows() && pos.Col >= 0 && pos.Col < grid.Cols()
}

// Index converts a position to its row-major state index.
func (grid GridConfig) Index(pos Position) int {
	return pos.Row*grid.Cols() + pos.Col
}

// PositionOf converts a row-major state index back to a position.
func (grid GridConfig) PositionOf(state int) Position {
	cols := grid.Cols()
	if cols == 0 {
		return Position{}
	}
	return Position{Row: state / cols, Col: state % cols}
}

// Positions returns all positions of the passed kind in row-major order.
func (grid GridConfig) Positions(kind CellKind) (positions []Position) {
	grid.Visit(func(pos Position, k CellKind) {
		if k == kind {
			positions = append(positions, pos)
		}
	})
	return
}

// StartPositions returns the positions of all START cells.
func (grid GridConfig) StartPositions() []Position {
	return grid.Positions(START)
}

// Visit calls fn for every cell in row-major order.
func (grid GridConfig) Visit(fn func(pos Position, kind CellKind)) {
	for r := range grid.cells {
		for c := range grid.cells[r] {
			fn(Position{Row: r, Col: c}, grid.cells[r][c])
		}
	}
}

// Cells returns a copy of the cell matrix.
func (grid GridConfig) Cells() [][]CellKind {
	cells := make([][]CellKind, len(grid.cells))
	for r := range grid.cells {
		cells[r] = append([]CellKind(nil), grid.cells[r]...)
	}
	return cells
}

// Codes returns the cell matrix as raw integer codes, the form the engine consumes.
func (grid GridConfig) Codes() [][]int {
	codes := make([][]int, len(grid.cells))
	for r := range grid.cells {
		codes[r] = make([]int, len(grid.cells[r]))
		for c, kind := range grid.cells[r] {
			codes[r][c] = int(kind)
		}
	}
	return codes
}

// Equal reports whether both grids have the same shape and cells.
func (grid GridConfig) Equal(other GridConfig) bool {
	if grid.Rows() != other.Rows() || grid.Cols() != other.Cols() {
		return false
	}
	for r := range grid.cells {
		for c := range grid.cells[r] {
			if grid.cells[r][c] != other.cells[r][c] {
				return false
			}
		}
	}
	return true
}

// MarshalJSON encodes the grid as a matrix of integer codes.
func (grid GridConfig) MarshalJSON() ([]byte, error) {
	return marshalCodes(grid.Codes())
}

// UnmarshalJSON decodes and validates a matrix of integer codes.
func (grid *GridConfig) UnmarshalJSON(data []byte) error {
	codes, err := unmarshalCodes(data)
	if err != nil {
		return err
	}
	parsed, err := GridFromCodes(codes)
	if err != nil {
		return err
	}
	*grid = parsed
	return nil
}
