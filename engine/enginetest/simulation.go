package enginetest

import (
	"errors"

	"gridsim/models"
)

const (
	stepReward  = -1.0
	cliffReward = -100.0
)

// simulation is the engine-side state of one session.
type simulation struct {
	grid       models.GridConfig
	agent      models.AgentConfig
	experiment models.ExperimentConfig

	start models.Position
	// path leads from start to the nearest terminal; empty if none is reachable.
	path []models.Position

	pos           models.Position
	episode       int
	stepInEpisode int
	values        []float64
	visits        []float64
	logs          []models.StepLog
}

func newSimulation(
	grid models.GridConfig,
	agent models.AgentConfig,
	experiment models.ExperimentConfig,
) (*simulation, error) {
	starts := grid.StartPositions()
	if len(starts) == 0 {
		return nil, errors.New("grid has no start cell")
	}
	sim := &simulation{
		grid:       grid,
		agent:      agent,
		experiment: experiment,
		start:      starts[0],
		pos:        starts[0],
		values:     make([]float64, grid.NumStates()),
		visits:     make([]float64, grid.NumStates()),
	}
	sim.path = shortestPath(grid, sim.start)
	return sim, nil
}

// step advances the agent one cell along its path. The episode ends at a terminal cell or after
// max steps, whereupon the agent returns to the start.
func (sim *simulation) step() models.StepResult {
	next := sim.pos
	if sim.stepInEpisode < len(sim.path) {
		next = sim.path[sim.stepInEpisode]
	}
	sim.stepInEpisode++

	reward := stepReward
	if sim.grid.At(next) == models.CLIFF {
		reward = cliffReward
	}
	terminal := sim.grid.At(next) == models.TERMINAL || sim.stepInEpisode >= sim.experiment.MaxSteps

	state := sim.grid.Index(next)
	sim.visits[state]++
	sim.values[state] += sim.agent.LearningRate * (reward - sim.values[state])

	log := models.StepLog{
		Episode:  sim.episode,
		Step:     sim.stepInEpisode,
		State:    state,
		Action:   direction(sim.pos, next),
		Reward:   reward,
		Terminal: terminal,
	}
	sim.logs = append(sim.logs, log)

	sim.pos = next
	if terminal {
		sim.episode++
		sim.stepInEpisode = 0
		sim.pos = sim.start
	}

	return models.StepResult{
		Position: sim.pos,
		Values:   append([]float64(nil), sim.values...),
		Log:      log,
	}
}

func (sim *simulation) runToCompletion() {
	for sim.episode < sim.experiment.Episodes {
		sim.step()
	}
}

func (sim *simulation) analyze() models.AnalysisResult {
	series := models.NewRewardSeries(len(sim.logs)+1, sim.episode+1)
	for _, log := range sim.logs {
		series.Add(log)
	}
	return models.AnalysisResult{
		CumulativeReward: series.Cumulative(),
		EpisodicRewards:  series.Episodic(),
		FinalValues:      append([]float64(nil), sim.values...),
		Visits:           append([]float64(nil), sim.visits...),
	}
}

// Actions, as indices: up, right, down, left; 4 means the agent did not move.
func direction(from, to models.Position) int {
	switch {
	case to.Row < from.Row:
		return 0
	case to.Col > from.Col:
		return 1
	case to.Row > from.Row:
		return 2
	case to.Col < from.Col:
		return 3
	}
	return 4
}

// shortestPath is a breadth-first search over non-wall, non-cliff cells. The returned path
// excludes start.
func shortestPath(grid models.GridConfig, start models.Position) []models.Position {
	moves := []models.Position{{Row: -1}, {Col: 1}, {Row: 1}, {Col: -1}}
	prev := map[models.Position]models.Position{start: start}
	queue := []models.Position{start}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if grid.At(cur) == models.TERMINAL {
			var path []models.Position
			for p := cur; p != start; p = prev[p] {
				path = append([]models.Position{p}, path...)
			}
			return path
		}
		for _, move := range moves {
			next := models.Position{Row: cur.Row + move.Row, Col: cur.Col + move.Col}
			if _, seen := prev[next]; seen {
				continue
			}
			if kind := grid.At(next); kind == models.WALL || kind == models.CLIFF {
				continue
			}
			prev[next] = cur
			queue = append(queue, next)
		}
	}
	return nil
}
