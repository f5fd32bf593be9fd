// cell_views contains views which can be derived from the Cell view-model.
package cell_views

import (
	"fmt"

	"gridsim/server/fastview"

	channerics "github.com/niceyeti/channerics/channels"
)

// ValuesGrid is a grid of cells, each showing its kind, its value and the greedy policy arrow.
// Element ids are prefixed by the view name, e.g. "values-2-3-value-text".
type ValuesGrid struct {
	name string
}

func NewValuesGrid(name string) *ValuesGrid {
	return &ValuesGrid{name: name}
}

// View builds the view for a fastview.ViewBuilder.
func (vg *ValuesGrid) View(done <-chan struct{}, cells <-chan [][]Cell) <-chan []fastview.EleUpdate {
	return channerics.Convert(done, cells, vg.Update)
}

// Update returns the set of view updates needed for the view to reflect the passed cells.
// Every cell is updated each time, so the latest set of updates alone is a complete view.
func (vg *ValuesGrid) Update(cells [][]Cell) (ops []fastview.EleUpdate) {
	ops = []fastview.EleUpdate{}
	for _, row := range cells {
		for _, cell := range row {
			class := "cell " + cell.Kind.String()
			if cell.Agent {
				class += " agent"
			}
			ops = append(ops, fastview.EleUpdate{
				EleID: vg.id(cell, "cell"),
				Ops:   []fastview.Op{{Key: "class", Value: class}},
			})

			ops = append(ops, fastview.EleUpdate{
				EleID: vg.id(cell, "value-text"),
				Ops: []fastview.Op{
					{Key: "textContent", Value: fmt.Sprintf("%.2f", cell.Value)},
				},
			})

			visibility := "hidden"
			if cell.HasPolicy {
				visibility = "visible"
			}
			ops = append(ops, fastview.EleUpdate{
				EleID: vg.id(cell, "policy-arrow"),
				Ops: []fastview.Op{
					{Key: "transform", Value: fmt.Sprintf("rotate(%d)", cell.PolicyArrowRotation)},
					{Key: "visibility", Value: visibility},
				},
			})
		}
	}
	return
}

func (vg *ValuesGrid) id(cell Cell, part string) string {
	return fmt.Sprintf("%s-%d-%d-%s", vg.name, cell.Row, cell.Col, part)
}
