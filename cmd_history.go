package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"gridsim/config"
	"gridsim/grid_world"
	"gridsim/store"

	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "List recorded sessions, or the steps of one session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.history()
			if err != nil {
				return err
			}
			if st == nil {
				return fmt.Errorf("%w: history is disabled (store.path is empty)", config.ErrInvalid)
			}
			defer st.Close()

			if len(args) == 0 {
				return listSessions(a, cmd.OutOrStdout(), st)
			}
			limit, _ := cmd.Flags().GetInt("limit")
			return showSession(a, cmd.OutOrStdout(), st, args[0], limit)
		},
	}
	cmd.Flags().Int("limit", 20, "Show only the most recent steps; 0 shows all")
	return cmd
}

func listSessions(a *app, w io.Writer, st *store.Store) error {
	sessions, err := st.Sessions(a.ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAGENT\tGRID\tEPISODES\tSTEPS\tCONFIGURED")
	for _, rec := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%dx%d\t%d\t%d\t%s\n",
			rec.ID, rec.Agent.Kind, rec.Grid.Rows(), rec.Grid.Cols(),
			rec.Experiment.Episodes, rec.Steps, rec.ConfiguredAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func showSession(a *app, w io.Writer, st *store.Store, id string, limit int) error {
	steps, err := st.Steps(a.ctx, id, limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GEN\tSTEP\tEPISODE\tPOSITION\tACTION\tREWARD\tTERMINAL")
	for _, rec := range steps {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%d\t%.1f\t%t\n",
			rec.Generation, rec.GlobalStep, rec.Log.Episode, rec.Position,
			rec.Log.Action, rec.Log.Reward, rec.Log.Terminal)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	analysis, err := st.LatestAnalysis(a.ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	grid_world.ShowRewards(w, "Episodic rewards", analysis.EpisodicRewards, rewardTail)
	return nil
}
