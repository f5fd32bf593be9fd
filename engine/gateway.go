// Package engine defines the contract with the external computation engine, its error
// taxonomy, and a websocket transport implementing the contract.
package engine

import (
	"context"

	"gridsim/models"
)

// Operation names, as spoken on the wire.
const (
	OpCreateSimulation      = "create_simulation"
	OpGetCurrentPosition    = "get_current_position"
	OpStepExperiment        = "step_experiment"
	OpRunFullExperiment     = "run_full_experiment"
	OpAnalyzeExperimentLogs = "analyze_experiment_logs"
	OpResetSimulation       = "reset_simulation"
)

// Gateway is the request/response interface to the engine. Every method may block for as
// long as the engine computes; callers run them asynchronously as needed. The gateway keeps
// no session state beyond what the engine holds under the passed id, and never retries.
type Gateway interface {
	// CreateSimulation creates or replaces the engine-side simulation for id.
	// Fails with ErrConfigInvalid or ErrEngineUnavailable.
	CreateSimulation(
		ctx context.Context,
		id string,
		grid models.GridConfig,
		agent models.AgentConfig,
		experiment models.ExperimentConfig,
	) error
	// GetCurrentPosition fails with ErrSessionNotFound if no simulation exists for id.
	GetCurrentPosition(ctx context.Context, id string) (models.Position, error)
	// StepExperiment advances the experiment by one step.
	// Fails with ErrSessionNotFound or ErrEngineRuntime.
	StepExperiment(ctx context.Context, id string) (models.StepResult, error)
	// RunFullExperiment runs all configured episodes to completion. Long running; it must not
	// be invoked concurrently with StepExperiment for the same id.
	RunFullExperiment(ctx context.Context, id string) error
	// AnalyzeExperimentLogs aggregates the logs of a full run or of accumulated stepping.
	AnalyzeExperimentLogs(ctx context.Context, id string) (models.AnalysisResult, error)
	// ResetSimulation clears all engine-side state for id. Idempotent.
	ResetSimulation(ctx context.Context, id string) error
}
