package main

import (
	"context"
	"fmt"
	"io"

	"gridsim/grid_world"
	"gridsim/session"

	"github.com/spf13/cobra"
)

const rewardTail = 10

func newDriveCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drive [preset]",
		Short: "Run a preset headless and print the grid, values and rewards",
		Long: `drive configures a single session from a preset (session.default_preset
if none is given) and either steps it --steps times, printing the grid after
each step, or runs the full experiment and prints its analysis.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := a.cfg.Session.DefaultPreset
			if len(args) == 1 {
				name = args[0]
			}
			steps, _ := cmd.Flags().GetInt("steps")
			full, _ := cmd.Flags().GetBool("full")
			return drive(a, cmd.OutOrStdout(), name, steps, full)
		},
	}
	cmd.Flags().Int("steps", 10, "Number of steps to take")
	cmd.Flags().Bool("full", false, "Run the full experiment instead of stepping")
	return cmd
}

func drive(a *app, w io.Writer, name string, steps int, full bool) error {
	catalog, err := a.catalog()
	if err != nil {
		return err
	}
	p, err := catalog.Get(name)
	if err != nil {
		return err
	}
	st, err := a.history()
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	gateway, release := a.gateway()
	defer release()

	mgr := session.NewManager(a.ctx, gateway, a.sessionOptions(st))
	defer mgr.Shutdown(context.WithoutCancel(a.ctx))

	s := mgr.NewSession()
	if err := s.Initialize(a.ctx, p.Grid, p.Agent, p.Experiment); err != nil {
		return err
	}
	fmt.Fprintf(w, "session %s: preset %s, %s agent\n", s.ID(), p.Name, p.Agent.Kind)

	if full {
		analysis, err := s.RunFullAnalysis(a.ctx)
		if err != nil {
			return err
		}
		grid_world.ShowValues(w, p.Grid, analysis.FinalValues)
		grid_world.ShowRewards(w, "Episodic rewards", analysis.EpisodicRewards, rewardTail)
		grid_world.ShowRewards(w, "Cumulative reward", analysis.CumulativeReward, rewardTail)
		return nil
	}

	for i := 0; i < steps; i++ {
		res, err := s.Step(a.ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\nepisode %d step %d: action %d reward %.1f\n",
			res.Log.Episode, res.Log.Step, res.Log.Action, res.Log.Reward)
		grid_world.ShowGrid(w, p.Grid, &res.Position)
		if s.Snapshot().Mode == session.COMPLETE {
			break
		}
	}

	snap := s.Snapshot()
	if snap.Values != nil {
		grid_world.ShowValues(w, p.Grid, snap.Values)
	}
	grid_world.ShowRewards(w, "Episodic rewards", snap.Rewards.Episodic, rewardTail)
	return nil
}
