package main

import (
	"fmt"

	"gridsim/grid_world"

	"github.com/spf13/cobra"
)

func newPresetsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List the available presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := a.catalog()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, name := range catalog.Names() {
				p, err := catalog.Get(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s: %s agent (lr %.2f, gamma %.2f, epsilon %.2f), %d episodes of at most %d steps\n",
					p.Name, p.Agent.Kind, p.Agent.LearningRate, p.Agent.Discount, p.Agent.Epsilon,
					p.Experiment.Episodes, p.Experiment.MaxSteps)
				grid_world.ShowGrid(w, p.Grid, nil)
				fmt.Fprintln(w)
			}
			return nil
		},
	}
}
