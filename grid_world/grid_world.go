// grid_world holds the built-in grid layouts, conversion from their text form, and console
// display of grids, agent position and state values.
package grid_world

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"gridsim/models"
)

// Track runes, one per cell kind.
const (
	EMPTY    = '.'
	START    = 'S'
	TERMINAL = 'T'
	CLIFF    = 'C'
	WALL     = 'W'
	AGENT    = '@'
)

var (
	// InitialTrack is the default layout shown to a user before any editing.
	InitialTrack []string = []string{
		"S......W.T",
		".WCCCC....",
		".W.....W..",
		".......W..",
		".......W..",
	}

	// CliffTrack is the classical cliff-walking problem: start and goal on the bottom row,
	// separated by a cliff.
	CliffTrack []string = []string{
		"............",
		"............",
		"............",
		"SCCCCCCCCCCT",
	}

	// DebugTrack is a tiny layout for development.
	DebugTrack []string = []string{
		"S.W",
		"..T",
	}

	tracks = map[string][]string{
		"initial": InitialTrack,
		"cliff":   CliffTrack,
		"debug":   DebugTrack,
	}
)

// TrackNames returns the names of the built-in tracks, sorted.
func TrackNames() []string {
	names := make([]string, 0, len(tracks))
	for name := range tracks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Track returns a built-in grid by name.
func Track(name string) (models.GridConfig, error) {
	track, ok := tracks[strings.ToLower(name)]
	if !ok {
		return models.GridConfig{}, fmt.Errorf("%w: unknown track %q", models.ErrConfigInvalid, name)
	}
	return Convert(track)
}

// Convert transforms a text track into a grid config. Row 0 is the first string, as printed.
// Both '.' and 'E' denote empty cells.
func Convert(track []string) (models.GridConfig, error) {
	rows := make([][]models.CellKind, len(track))
	for r, line := range track {
		rows[r] = make([]models.CellKind, 0, len(line))
		for c, cell := range line {
			kind, ok := toKind(cell)
			if !ok {
				return models.GridConfig{}, fmt.Errorf("%w: invalid track rune %q at (%d, %d)", models.ErrConfigInvalid, cell, r, c)
			}
			rows[r] = append(rows[r], kind)
		}
	}
	return models.NewGridConfig(rows)
}

func toKind(cell rune) (models.CellKind, bool) {
	switch cell {
	case EMPTY, 'E':
		return models.EMPTY, true
	case START:
		return models.START, true
	case TERMINAL:
		return models.TERMINAL, true
	case CLIFF:
		return models.CLIFF, true
	case WALL:
		return models.WALL, true
	}
	return 0, false
}

func toRune(kind models.CellKind) rune {
	switch kind {
	case models.START:
		return START
	case models.TERMINAL:
		return TERMINAL
	case models.CLIFF:
		return CLIFF
	case models.WALL:
		return WALL
	}
	return EMPTY
}

// ToTrack returns the text form of the grid, the inverse of Convert.
func ToTrack(grid models.GridConfig) []string {
	track := make([]string, 0, grid.Rows())
	for _, row := range grid.Cells() {
		var sb strings.Builder
		for _, kind := range row {
			sb.WriteRune(toRune(kind))
		}
		track = append(track, sb.String())
	}
	return track
}

// ShowGrid prints the grid, marking the agent's cell if agent is non-nil.
func ShowGrid(w io.Writer, grid models.GridConfig, agent *models.Position) {
	for r, line := range ToTrack(grid) {
		for c, cell := range line {
			if agent != nil && agent.Row == r && agent.Col == c {
				cell = AGENT
			}
			fmt.Fprintf(w, "%c ", cell)
		}
		fmt.Fprintln(w)
	}
}

// ShowValues prints per-state values in grid layout, followed by their total.
// Values of the wrong length are reported rather than printed.
func ShowValues(w io.Writer, grid models.GridConfig, values []float64) {
	if len(values) != grid.NumStates() {
		fmt.Fprintf(w, "values: have %d, expected %d\n", len(values), grid.NumStates())
		return
	}

	fmt.Fprintln(w, "Values:")
	total := 0.0
	for r := 0; r < grid.Rows(); r++ {
		fmt.Fprint(w, " ")
		for c := 0; c < grid.Cols(); c++ {
			val := values[grid.Index(models.Position{Row: r, Col: c})]
			fmt.Fprintf(w, "%7.2f ", val)
			total += val
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Total: %.2f\n", total)
}

// ShowRewards prints the tail of a reward series, one point per line.
func ShowRewards(w io.Writer, label string, points []models.RewardPoint, tail int) {
	if tail > 0 && len(points) > tail {
		points = points[len(points)-tail:]
	}
	fmt.Fprintf(w, "%s:\n", label)
	for _, pt := range points {
		fmt.Fprintf(w, " %6d %10.2f\n", pt.X, pt.Reward)
	}
}
