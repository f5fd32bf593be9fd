package models

import (
	"encoding/json"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestGridConfig(t *testing.T) {
	Convey("When a grid config is constructed", t, func() {
		Convey("When the rows are rectangular and the codes are known", func() {
			grid, err := NewGridConfig([][]CellKind{
				{START, EMPTY, TERMINAL},
				{CLIFF, WALL, EMPTY},
			})
			So(err, ShouldBeNil)
			So(grid.Rows(), ShouldEqual, 2)
			So(grid.Cols(), ShouldEqual, 3)
			So(grid.NumStates(), ShouldEqual, 6)
			So(grid.StartPositions(), ShouldResemble, []Position{{Row: 0, Col: 0}})
			So(grid.At(Position{Row: 1, Col: 1}), ShouldEqual, WALL)
			So(grid.At(Position{Row: 5, Col: 1}), ShouldEqual, WALL)
			So(grid.Index(Position{Row: 1, Col: 2}), ShouldEqual, 5)
			So(grid.PositionOf(4), ShouldResemble, Position{Row: 1, Col: 1})
		})

		Convey("When the rows are ragged", func() {
			_, err := NewGridConfig([][]CellKind{{START, EMPTY}, {TERMINAL}})
			So(errors.Is(err, ErrConfigInvalid), ShouldBeTrue)
		})

		Convey("When the grid is empty", func() {
			_, err := NewGridConfig(nil)
			So(errors.Is(err, ErrConfigInvalid), ShouldBeTrue)
		})

		Convey("When a cell code is unknown", func() {
			_, err := GridFromCodes([][]int{{1, 0, 9}})
			So(errors.Is(err, ErrConfigInvalid), ShouldBeTrue)
		})

		Convey("When the source rows are mutated after construction", func() {
			rows := [][]CellKind{{START, TERMINAL}}
			grid, err := NewGridConfig(rows)
			So(err, ShouldBeNil)
			rows[0][0] = WALL
			So(grid.At(Position{}), ShouldEqual, START)
		})

		Convey("When the grid is encoded and decoded as json", func() {
			grid, _ := GridFromCodes([][]int{{1, 0}, {4, 2}})
			data, err := json.Marshal(grid)
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, "[[1,0],[4,2]]")

			var decoded GridConfig
			So(json.Unmarshal(data, &decoded), ShouldBeNil)
			So(decoded.Equal(grid), ShouldBeTrue)
			So(json.Unmarshal([]byte("[[1,0],[2]]"), &decoded), ShouldNotBeNil)
		})
	})
}

func TestAgentConfig(t *testing.T) {
	Convey("When an agent config is constructed", t, func() {
		Convey("When the parameters are in range", func() {
			cfg, err := NewAgentConfig(SARSA, 0.3, 1.0, 0.1)
			So(err, ShouldBeNil)
			So(cfg.Kind, ShouldEqual, SARSA)
		})

		Convey("When a parameter is out of range", func() {
			for _, params := range [][3]float64{
				{0, 1, 0.1},
				{1.5, 1, 0.1},
				{0.1, -0.1, 0.1},
				{0.1, 1, 1.1},
				{0.1, 1, -0.5},
			} {
				_, err := NewAgentConfig(Q_LEARNING, params[0], params[1], params[2])
				So(errors.Is(err, ErrConfigInvalid), ShouldBeTrue)
			}
		})

		Convey("When the agent kind is unknown", func() {
			_, err := NewAgentConfig("monte_carlo", 0.1, 1, 0.1)
			So(errors.Is(err, ErrConfigInvalid), ShouldBeTrue)
		})

		Convey("When json omits fields, the engine defaults are used", func() {
			var cfg AgentConfig
			So(json.Unmarshal([]byte(`{"agent_type":"Q-Learning","epsilon":0.2}`), &cfg), ShouldBeNil)
			So(cfg, ShouldResemble, AgentConfig{Kind: Q_LEARNING, LearningRate: 0.1, Discount: 1.0, Epsilon: 0.2})
		})

		Convey("When json holds an invalid epsilon", func() {
			var cfg AgentConfig
			So(errors.Is(json.Unmarshal([]byte(`{"epsilon":2}`), &cfg), ErrConfigInvalid), ShouldBeTrue)
		})
	})
}

func TestExperimentConfig(t *testing.T) {
	Convey("When an experiment config is constructed", t, func() {
		cfg, err := NewExperimentConfig(1000, 200)
		So(err, ShouldBeNil)
		So(cfg.Episodes, ShouldEqual, 1000)

		_, err = NewExperimentConfig(0, 200)
		So(errors.Is(err, ErrConfigInvalid), ShouldBeTrue)
		_, err = NewExperimentConfig(10, -1)
		So(errors.Is(err, ErrConfigInvalid), ShouldBeTrue)

		var decoded ExperimentConfig
		So(json.Unmarshal([]byte(`{"n_episodes":3}`), &decoded), ShouldBeNil)
		So(decoded, ShouldResemble, ExperimentConfig{Episodes: 3, MaxSteps: 200})
	})
}

func TestRewardSeries(t *testing.T) {
	Convey("When step logs are folded into a reward series", t, func() {
		rs := NewRewardSeries(0, 0)
		for _, log := range []StepLog{
			{Episode: 0, Step: 1, Reward: -1},
			{Episode: 0, Step: 2, Reward: -1},
			{Episode: 0, Step: 3, Reward: 10, Terminal: true},
			{Episode: 1, Step: 1, Reward: -100},
		} {
			rs.Add(log)
		}

		So(rs.GlobalStep, ShouldEqual, 4)
		So(rs.Total, ShouldEqual, -92)
		So(rs.Cumulative(), ShouldResemble, []RewardPoint{
			{X: 1, Reward: -1},
			{X: 2, Reward: -2},
			{X: 3, Reward: 8},
			{X: 4, Reward: -92},
		})
		So(rs.Episodic(), ShouldResemble, []RewardPoint{
			{X: 0, Reward: 8},
			{X: 1, Reward: -100},
		})

		Convey("When more points arrive than the window retains", func() {
			small := NewRewardSeries(2, 1)
			for i := 0; i < 5; i++ {
				small.Add(StepLog{Episode: i, Reward: 1})
			}
			So(small.Cumulative(), ShouldResemble, []RewardPoint{{X: 4, Reward: 4}, {X: 5, Reward: 5}})
			So(small.Episodic(), ShouldResemble, []RewardPoint{{X: 4, Reward: 1}})
			So(small.Total, ShouldEqual, 5)
		})

		Convey("When the series is reset", func() {
			rs.Reset()
			So(rs.GlobalStep, ShouldEqual, 0)
			So(rs.Cumulative(), ShouldBeEmpty)
		})
	})
}
