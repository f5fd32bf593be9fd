package engine

import (
	"encoding/json"

	"gridsim/models"
)

// Request is the envelope of a call to the engine.
type Request struct {
	ID      uint64          `json:"id"`
	Op      string          `json:"op"`
	Session string          `json:"session"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is the envelope of the engine's reply to the request of the same ID.
// Exactly one of Result or Error is set.
type Response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *WireError      `json:"error,omitempty"`
}

// WireError is a failure as reported by the engine.
type WireError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// CreateParams are the params of create_simulation.
type CreateParams struct {
	Grid       models.GridConfig       `json:"grid"`
	Agent      models.AgentConfig      `json:"agent_config"`
	Experiment models.ExperimentConfig `json:"experiment_config"`
}
