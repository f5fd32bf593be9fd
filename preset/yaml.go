package preset

import (
	"fmt"

	"gridsim/models"

	"gopkg.in/yaml.v3"
)

// yamlFile is the YAML form:
//
//	presets:
//	  - name: cliff
//	    track: cliff
//	    agent: {agent_type: q_learning, learning_rate: 0.5}
//	    experiment: {n_episodes: 500, max_steps: 100}
type yamlFile struct {
	Presets []yamlPreset `yaml:"presets"`
}

type yamlPreset struct {
	Name  string   `yaml:"name"`
	Track string   `yaml:"track"`
	Rows  []string `yaml:"rows"`
	Cells [][]int  `yaml:"cells"`
	Agent struct {
		Type         *string  `yaml:"agent_type"`
		LearningRate *float64 `yaml:"learning_rate"`
		Discount     *float64 `yaml:"discount"`
		Epsilon      *float64 `yaml:"epsilon"`
	} `yaml:"agent"`
	Experiment struct {
		Episodes *int `yaml:"n_episodes"`
		MaxSteps *int `yaml:"max_steps"`
	} `yaml:"experiment"`
}

// ParseYAML parses and validates the presets of a YAML document.
func ParseYAML(data []byte) ([]Preset, error) {
	var file yamlFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConfigInvalid, err)
	}

	defs := make([]definition, 0, len(file.Presets))
	for _, p := range file.Presets {
		defs = append(defs, definition{
			Name:         p.Name,
			Track:        p.Track,
			Rows:         p.Rows,
			Cells:        p.Cells,
			AgentType:    p.Agent.Type,
			LearningRate: p.Agent.LearningRate,
			Discount:     p.Agent.Discount,
			Epsilon:      p.Agent.Epsilon,
			Episodes:     p.Experiment.Episodes,
			MaxSteps:     p.Experiment.MaxSteps,
		})
	}
	return buildAll(defs)
}
