package preset

import (
	"fmt"

	"gridsim/models"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// hclFile is the HCL form:
//
//	preset "cliff" {
//	  track = "cliff"
//	  agent {
//	    type          = "q_learning"
//	    learning_rate = 0.5
//	  }
//	  experiment {
//	    episodes  = 500
//	    max_steps = 100
//	  }
//	}
type hclFile struct {
	Presets []*hclPreset `hcl:"preset,block"`
}

type hclPreset struct {
	Name       string         `hcl:"name,label"`
	Track      *string        `hcl:"track,optional"`
	Rows       []string       `hcl:"rows,optional"`
	Cells      [][]int        `hcl:"cells,optional"`
	Agent      *hclAgent      `hcl:"agent,block"`
	Experiment *hclExperiment `hcl:"experiment,block"`
}

type hclAgent struct {
	Type         *string  `hcl:"type,optional"`
	LearningRate *float64 `hcl:"learning_rate,optional"`
	Discount     *float64 `hcl:"discount,optional"`
	Epsilon      *float64 `hcl:"epsilon,optional"`
}

type hclExperiment struct {
	Episodes *int `hcl:"episodes,optional"`
	MaxSteps *int `hcl:"max_steps,optional"`
}

// ParseHCL parses and validates the presets of an HCL document; filename is used in diagnostics.
func ParseHCL(data []byte, filename string) ([]Preset, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", models.ErrConfigInvalid, filename, diags)
	}

	var parsed hclFile
	if diags = gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("%w: failed to decode %s: %v", models.ErrConfigInvalid, filename, diags)
	}

	defs := make([]definition, 0, len(parsed.Presets))
	for _, p := range parsed.Presets {
		def := definition{
			Name:  p.Name,
			Rows:  p.Rows,
			Cells: p.Cells,
		}
		if p.Track != nil {
			def.Track = *p.Track
		}
		if p.Agent != nil {
			def.AgentType = p.Agent.Type
			def.LearningRate = p.Agent.LearningRate
			def.Discount = p.Agent.Discount
			def.Epsilon = p.Agent.Epsilon
		}
		if p.Experiment != nil {
			def.Episodes = p.Experiment.Episodes
			def.MaxSteps = p.Experiment.MaxSteps
		}
		defs = append(defs, def)
	}
	return buildAll(defs)
}
