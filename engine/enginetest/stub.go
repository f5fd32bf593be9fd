// Package enginetest provides an in-memory engine for tests and offline demos.
//
// The Stub behaves like a trivially deterministic engine: the agent walks a shortest path from
// the start cell to the nearest terminal, avoiding walls and cliffs, and each step costs -1.
// On top of that the Stub records calls, can hold a call in flight, can inject failures,
// and detects overlapping calls for one session id.
package enginetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gridsim/engine"
	"gridsim/models"
)

// Overlap records a call that began while another call for the same session was in flight.
type Overlap struct {
	SessionID string
	Op        string
	InFlight  string
}

// Gate holds the next call of an operation in flight until released.
type Gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	enter   sync.Once
}

// Entered is closed once a call reaches the gate.
func (gate *Gate) Entered() <-chan struct{} {
	return gate.entered
}

// Release lets the held call proceed. Idempotent.
func (gate *Gate) Release() {
	gate.once.Do(func() { close(gate.release) })
}

// Stub implements engine.Gateway in memory.
type Stub struct {
	// Latency is added to every call, for demos.
	Latency time.Duration

	mu       sync.Mutex
	sims     map[string]*simulation
	calls    map[string]int
	inFlight map[string]string
	overlaps []Overlap
	gates    map[string]*Gate
	failures map[string][]error
}

var _ engine.Gateway = (*Stub)(nil)

// NewStub returns an empty engine.
func NewStub() *Stub {
	return &Stub{
		sims:     make(map[string]*simulation),
		calls:    make(map[string]int),
		inFlight: make(map[string]string),
		gates:    make(map[string]*Gate),
		failures: make(map[string][]error),
	}
}

// Calls returns how many times op was invoked, including failed invocations.
func (stub *Stub) Calls(op string) int {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return stub.calls[op]
}

// Overlaps returns all overlapping calls observed so far.
func (stub *Stub) Overlaps() []Overlap {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	return append([]Overlap(nil), stub.overlaps...)
}

// Hold installs a gate for the next call of op.
func (stub *Stub) Hold(op string) *Gate {
	gate := &Gate{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	stub.mu.Lock()
	stub.gates[op] = gate
	stub.mu.Unlock()
	return gate
}

// FailNext queues err as the outcome of the next call of op. Queued errors are consumed in order.
func (stub *Stub) FailNext(op string, err error) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	stub.failures[op] = append(stub.failures[op], err)
}

// Forget drops the engine-side simulation for id, as an engine restart would.
func (stub *Stub) Forget(id string) {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	delete(stub.sims, id)
}

// Has reports whether the engine holds a simulation for id.
func (stub *Stub) Has(id string) bool {
	stub.mu.Lock()
	defer stub.mu.Unlock()
	_, ok := stub.sims[id]
	return ok
}

// enter books the call and blocks on any gate; the returned func must be deferred.
func (stub *Stub) enter(ctx context.Context, op, id string) (func(), error) {
	stub.mu.Lock()
	stub.calls[op]++
	if other, busy := stub.inFlight[id]; busy {
		stub.overlaps = append(stub.overlaps, Overlap{SessionID: id, Op: op, InFlight: other})
	} else {
		stub.inFlight[id] = op
	}
	gate := stub.gates[op]
	delete(stub.gates, op)
	var injected error
	if queued := stub.failures[op]; len(queued) > 0 {
		injected = queued[0]
		stub.failures[op] = queued[1:]
	}
	stub.mu.Unlock()

	leave := func() {
		stub.mu.Lock()
		if stub.inFlight[id] == op {
			delete(stub.inFlight, id)
		}
		stub.mu.Unlock()
	}

	if gate != nil {
		gate.enter.Do(func() { close(gate.entered) })
		select {
		case <-gate.release:
		case <-ctx.Done():
			return leave, ctx.Err()
		}
	}
	if stub.Latency > 0 {
		select {
		case <-time.After(stub.Latency):
		case <-ctx.Done():
			return leave, ctx.Err()
		}
	}
	return leave, injected
}

func (stub *Stub) lookup(op, id string) (*simulation, error) {
	sim, ok := stub.sims[id]
	if !ok {
		return nil, engine.NewError(engine.KindSessionNotFound, op, id, fmt.Sprintf("no simulation for session %s", id))
	}
	return sim, nil
}

func (stub *Stub) CreateSimulation(
	ctx context.Context,
	id string,
	grid models.GridConfig,
	agent models.AgentConfig,
	experiment models.ExperimentConfig,
) (err error) {
	leave, err := stub.enter(ctx, engine.OpCreateSimulation, id)
	defer leave()
	if err != nil {
		return engine.Wrap(engine.OpCreateSimulation, id, err)
	}

	sim, err := newSimulation(grid, agent, experiment)
	if err != nil {
		return engine.NewError(engine.KindConfigInvalid, engine.OpCreateSimulation, id, err.Error())
	}
	stub.mu.Lock()
	stub.sims[id] = sim
	stub.mu.Unlock()
	return nil
}

func (stub *Stub) GetCurrentPosition(ctx context.Context, id string) (models.Position, error) {
	leave, err := stub.enter(ctx, engine.OpGetCurrentPosition, id)
	defer leave()
	if err != nil {
		return models.Position{}, engine.Wrap(engine.OpGetCurrentPosition, id, err)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	sim, err := stub.lookup(engine.OpGetCurrentPosition, id)
	if err != nil {
		return models.Position{}, err
	}
	return sim.pos, nil
}

func (stub *Stub) StepExperiment(ctx context.Context, id string) (models.StepResult, error) {
	leave, err := stub.enter(ctx, engine.OpStepExperiment, id)
	defer leave()
	if err != nil {
		return models.StepResult{}, engine.Wrap(engine.OpStepExperiment, id, err)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	sim, err := stub.lookup(engine.OpStepExperiment, id)
	if err != nil {
		return models.StepResult{}, err
	}
	return sim.step(), nil
}

func (stub *Stub) RunFullExperiment(ctx context.Context, id string) error {
	leave, err := stub.enter(ctx, engine.OpRunFullExperiment, id)
	defer leave()
	if err != nil {
		return engine.Wrap(engine.OpRunFullExperiment, id, err)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	sim, err := stub.lookup(engine.OpRunFullExperiment, id)
	if err != nil {
		return err
	}
	sim.runToCompletion()
	return nil
}

func (stub *Stub) AnalyzeExperimentLogs(ctx context.Context, id string) (models.AnalysisResult, error) {
	leave, err := stub.enter(ctx, engine.OpAnalyzeExperimentLogs, id)
	defer leave()
	if err != nil {
		return models.AnalysisResult{}, engine.Wrap(engine.OpAnalyzeExperimentLogs, id, err)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	sim, err := stub.lookup(engine.OpAnalyzeExperimentLogs, id)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	return sim.analyze(), nil
}

func (stub *Stub) ResetSimulation(ctx context.Context, id string) error {
	leave, err := stub.enter(ctx, engine.OpResetSimulation, id)
	defer leave()
	if err != nil {
		return engine.Wrap(engine.OpResetSimulation, id, err)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	delete(stub.sims, id)
	return nil
}
