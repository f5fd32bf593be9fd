package preset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gridsim/grid_world"
	"gridsim/models"

	. "github.com/smartystreets/goconvey/convey"
)

const yamlPresets = `
presets:
  - name: tiny
    rows: ["S.", ".T"]
    agent:
      agent_type: sarsa
      learning_rate: 0.3
    experiment:
      n_episodes: 1000
  - name: coded
    cells: [[1, 0, 2]]
`

const hclPresets = `
preset "tiny" {
  rows = ["S.", ".T"]
  agent {
    type          = "q-learning"
    learning_rate = 0.5
    epsilon       = 0.2
  }
  experiment {
    episodes  = 50
    max_steps = 20
  }
}

preset "walk" {
  track = "cliff"
}
`

func TestBuiltins(t *testing.T) {
	Convey("The built-in catalog", t, func() {
		catalog := Builtins()
		So(catalog.Names(), ShouldResemble, []string{"cliff", "debug", "initial"})

		initial, err := catalog.Get("Initial")
		So(err, ShouldBeNil)
		So(initial.Agent, ShouldResemble, models.DefaultAgentConfig())
		So(initial.Experiment, ShouldResemble, models.DefaultExperimentConfig())
		So(initial.Grid.Rows(), ShouldEqual, 5)
		So(initial.Grid.Cols(), ShouldEqual, 10)
		So(initial.Grid.StartPositions(), ShouldResemble, []models.Position{{Row: 0, Col: 0}})

		cliff, err := catalog.Get("cliff")
		So(err, ShouldBeNil)
		So(cliff.Agent.Kind, ShouldEqual, models.Q_LEARNING)

		_, err = catalog.Get("missing")
		So(errors.Is(err, models.ErrConfigInvalid), ShouldBeTrue)
	})
}

func TestParseYAML(t *testing.T) {
	Convey("Given YAML presets", t, func() {
		presets, err := ParseYAML([]byte(yamlPresets))
		So(err, ShouldBeNil)
		So(len(presets), ShouldEqual, 2)

		Convey("Given fields override the defaults", func() {
			tiny := presets[0]
			So(tiny.Name, ShouldEqual, "tiny")
			So(tiny.Agent.Kind, ShouldEqual, models.SARSA)
			So(tiny.Agent.LearningRate, ShouldEqual, 0.3)
			So(tiny.Agent.Discount, ShouldEqual, 1.0)
			So(tiny.Experiment, ShouldResemble, models.ExperimentConfig{Episodes: 1000, MaxSteps: 200})
			So(tiny.Grid.At(models.Position{Row: 1, Col: 1}), ShouldEqual, models.TERMINAL)
		})

		Convey("Grids may be given as codes", func() {
			So(presets[1].Grid.Codes(), ShouldResemble, [][]int{{1, 0, 2}})
		})
	})

	Convey("Invalid YAML presets are rejected", t, func() {
		cases := []string{
			"presets: [{name: a}]",
			"presets: [{name: a, track: cliff, rows: ['S.T']}]",
			"presets: [{track: cliff}]",
			"presets: [{name: a, track: nowhere}]",
			"presets: [{name: a, rows: ['SXT']}]",
			"presets: [{name: a, track: cliff, agent: {epsilon: 2}}]",
			"presets: [{name: a, track: cliff, agent: {agent_type: dqn}}]",
			"presets: [{name: a, track: cliff, experiment: {max_steps: 0}}]",
			"presets: {",
		}
		for _, doc := range cases {
			_, err := ParseYAML([]byte(doc))
			So(errors.Is(err, models.ErrConfigInvalid), ShouldBeTrue)
		}
	})
}

func TestParseHCL(t *testing.T) {
	Convey("Given HCL presets", t, func() {
		presets, err := ParseHCL([]byte(hclPresets), "presets.hcl")
		So(err, ShouldBeNil)
		So(len(presets), ShouldEqual, 2)

		tiny := presets[0]
		So(tiny.Agent, ShouldResemble, models.AgentConfig{
			Kind:         models.Q_LEARNING,
			LearningRate: 0.5,
			Discount:     1.0,
			Epsilon:      0.2,
		})
		So(tiny.Experiment, ShouldResemble, models.ExperimentConfig{Episodes: 50, MaxSteps: 20})

		walk := presets[1]
		cliff, _ := grid_world.Track("cliff")
		So(walk.Grid.Equal(cliff), ShouldBeTrue)
		So(walk.Agent, ShouldResemble, models.DefaultAgentConfig())
	})

	Convey("Malformed HCL is rejected", t, func() {
		_, err := ParseHCL([]byte(`preset "x" {`), "bad.hcl")
		So(errors.Is(err, models.ErrConfigInvalid), ShouldBeTrue)

		_, err = ParseHCL([]byte(`preset "x" { colour = "red" }`), "bad.hcl")
		So(errors.Is(err, models.ErrConfigInvalid), ShouldBeTrue)
	})
}

func TestLoadFiles(t *testing.T) {
	Convey("Given preset files", t, func() {
		dir := t.TempDir()
		yamlPath := filepath.Join(dir, "a.yaml")
		hclPath := filepath.Join(dir, "b.hcl")
		So(os.WriteFile(yamlPath, []byte(yamlPresets), 0644), ShouldBeNil)
		So(os.WriteFile(hclPath, []byte(hclPresets), 0644), ShouldBeNil)

		Convey("They extend the catalog, later files winning", func() {
			catalog := Builtins()
			So(catalog.LoadFiles(yamlPath, hclPath), ShouldBeNil)
			So(catalog.Names(), ShouldResemble, []string{"cliff", "coded", "debug", "initial", "tiny", "walk"})

			tiny, err := catalog.Get("tiny")
			So(err, ShouldBeNil)
			So(tiny.Agent.Kind, ShouldEqual, models.Q_LEARNING)
		})

		Convey("Unknown extensions are refused", func() {
			txt := filepath.Join(dir, "c.txt")
			So(os.WriteFile(txt, []byte("x"), 0644), ShouldBeNil)
			So(NewCatalog().LoadFiles(txt), ShouldNotBeNil)
		})

		Convey("Missing files are refused", func() {
			So(NewCatalog().LoadFiles(filepath.Join(dir, "none.yaml")), ShouldNotBeNil)
		})
	})
}
