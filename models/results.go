package models

// StepLog describes a single agent step as reported by the engine.
type StepLog struct {
	// Episode is the zero-based episode index.
	Episode int `json:"episode"`
	// Step is the step index within the episode.
	Step int `json:"step"`
	// State is the row-major index of the state the agent moved to.
	State    int     `json:"state"`
	Action   int     `json:"action"`
	Reward   float64 `json:"reward"`
	Terminal bool    `json:"terminal"`
}

// StepResult is the engine's response to a single step.
type StepResult struct {
	Position Position `json:"position"`
	// Values is the greedy per-state value array (len = rows*cols), nil if the engine omitted it.
	Values []float64 `json:"values,omitempty"`
	Log    StepLog   `json:"step_log"`
}

// RewardPoint is a point on a reward curve. X is the global step for cumulative
// series and the episode index for episodic series.
type RewardPoint struct {
	X      int     `json:"x"`
	Reward float64 `json:"reward"`
}

// AnalysisResult is the engine's aggregate view of an experiment's logs.
type AnalysisResult struct {
	CumulativeReward []RewardPoint `json:"cumulative_reward"`
	EpisodicRewards  []RewardPoint `json:"episodic_rewards"`
	FinalValues      []float64     `json:"values"`
	// Visits counts visits per state; optional.
	Visits []float64 `json:"visits,omitempty"`
}

// Clone returns a deep copy, such that snapshots never share slices with session state.
func (res AnalysisResult) Clone() AnalysisResult {
	return AnalysisResult{
		CumulativeReward: append([]RewardPoint(nil), res.CumulativeReward...),
		EpisodicRewards:  append([]RewardPoint(nil), res.EpisodicRewards...),
		FinalValues:      append([]float64(nil), res.FinalValues...),
		Visits:           append([]float64(nil), res.Visits...),
	}
}

// Clone returns a deep copy of the step result.
func (res StepResult) Clone() StepResult {
	res.Values = append([]float64(nil), res.Values...)
	return res
}

// Default windows of retained reward points.
const (
	DefaultCumulativeWindow = 5000
	DefaultEpisodicWindow   = 1000
)

// RewardSeries folds step logs into running reward curves: cumulative reward per global
// step and summed reward per episode. Only the most recent window of points is retained,
// but the running totals are exact.
type RewardSeries struct {
	GlobalStep int
	Total      float64

	cumulative       []RewardPoint
	episodic         []RewardPoint
	cumulativeWindow int
	episodicWindow   int
}

// NewRewardSeries returns an empty series retaining at most the passed number of points.
// Non-positive windows select the defaults.
func NewRewardSeries(cumulativeWindow, episodicWindow int) *RewardSeries {
	if cumulativeWindow <= 0 {
		cumulativeWindow = DefaultCumulativeWindow
	}
	if episodicWindow <= 0 {
		episodicWindow = DefaultEpisodicWindow
	}
	return &RewardSeries{
		cumulativeWindow: cumulativeWindow,
		episodicWindow:   episodicWindow,
	}
}

// Add folds a step log into the series.
func (rs *RewardSeries) Add(log StepLog) {
	rs.GlobalStep++
	rs.Total += log.Reward
	rs.cumulative = appendWindow(rs.cumulative, RewardPoint{X: rs.GlobalStep, Reward: rs.Total}, rs.cumulativeWindow)

	if n := len(rs.episodic); n > 0 && rs.episodic[n-1].X == log.Episode {
		rs.episodic[n-1].Reward += log.Reward
		return
	}
	rs.episodic = appendWindow(rs.episodic, RewardPoint{X: log.Episode, Reward: log.Reward}, rs.episodicWindow)
}

// Reset clears the series.
func (rs *RewardSeries) Reset() {
	rs.GlobalStep = 0
	rs.Total = 0
	rs.cumulative = nil
	rs.episodic = nil
}

// Cumulative returns a copy of the retained cumulative reward points.
func (rs *RewardSeries) Cumulative() []RewardPoint {
	return append([]RewardPoint(nil), rs.cumulative...)
}

// Episodic returns a copy of the retained per-episode reward points.
func (rs *RewardSeries) Episodic() []RewardPoint {
	return append([]RewardPoint(nil), rs.episodic...)
}

func appendWindow(points []RewardPoint, point RewardPoint, window int) []RewardPoint {
	points = append(points, point)
	if len(points) > window {
		// Shift down rather than reslice so the backing array doesn't grow without bound.
		copy(points, points[len(points)-window:])
		points = points[:window]
	}
	return points
}
