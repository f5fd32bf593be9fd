package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gridsim/engine"
	"gridsim/logging"
	"gridsim/models"
)

// Operation names, as reported in snapshots and errors.
const (
	OpInitialize      = "initialize"
	OpStep            = "step"
	OpRun             = "run"
	OpRunFullAnalysis = "run_full_analysis"
	OpReset           = "reset"
)

// ErrSuperseded is returned by an operation whose result arrived after the session was reset.
// The result is discarded.
var ErrSuperseded = errors.New("result superseded by reset")

const reconfigureMessage = "session is not configured on the engine; please reconfigure"

// Session is a single simulation driven against the engine. All methods are safe for
// concurrent use. At most one engine operation is in flight per session; further operations
// fail fast with engine.ErrSessionBusy rather than queueing.
//
// The session's fields are guarded by mu, which is never held across a gateway call.
type Session struct {
	id       string
	gateway  engine.Gateway
	recorder Recorder
	ticker   TickerFunc
	logger   *slog.Logger
	// ctx carries the logger and backs engine calls not made on behalf of a caller.
	ctx context.Context
	pub *publisher

	mu         sync.Mutex
	configured bool
	grid       models.GridConfig
	agent      models.AgentConfig
	experiment models.ExperimentConfig
	position   *models.Position
	values     []float64
	lastLog    *models.StepLog
	rewards    *models.RewardSeries
	analysis   *models.AnalysisResult
	complete   bool
	// busy names the in-flight operation, empty when idle.
	busy string
	// generation is bumped by Initialize, Reset and whenever the engine-side simulation is
	// replaced or lost; results of an older generation are stale.
	generation   uint64
	run          *RunHandle
	resetPending bool
	lastErr      *ErrorInfo
	event        Event
	seq          uint64
	closed       bool
}

func newSession(ctx context.Context, id string, gateway engine.Gateway, opts Options) *Session {
	logger := logging.FromContext(ctx).With("session", id)
	ticker := opts.Ticker
	if ticker == nil {
		ticker = NewTicker
	}
	return &Session{
		id:       id,
		gateway:  gateway,
		recorder: opts.Recorder,
		ticker:   ticker,
		logger:   logger,
		ctx:      logging.WithLogger(context.WithoutCancel(ctx), logger),
		pub:      newPublisher(),
		rewards:  models.NewRewardSeries(opts.CumulativeWindow, opts.EpisodicWindow),
		event:    EventCreated,
	}
}

// ID returns the session id, which is also the engine-side simulation id.
func (s *Session) ID() string {
	return s.id
}

// Snapshot returns the current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel receiving the current snapshot followed by every subsequent
// one, latest-wins. The channel is closed when ctx is done or the session is closed.
func (s *Session) Subscribe(ctx context.Context) <-chan Snapshot {
	s.mu.Lock()
	sub := s.pub.subscribe(s.snapshotLocked())
	s.mu.Unlock()

	if sub == nil {
		closed := make(chan Snapshot)
		close(closed)
		return closed
	}
	go func() {
		select {
		case <-ctx.Done():
			s.pub.unsubscribe(sub)
		case <-s.pub.done:
		}
	}()
	return sub
}

// Initialize configures the session, replacing any engine-side simulation for it, and
// fetches the agent's start position. Any auto-run is paused first.
// A failure leaves the session UNCONFIGURED.
func (s *Session) Initialize(
	ctx context.Context,
	grid models.GridConfig,
	agent models.AgentConfig,
	experiment models.ExperimentConfig,
) error {
	if err := validate(grid, agent, experiment); err != nil {
		err = &engine.Error{Kind: engine.KindConfigInvalid, Op: OpInitialize, SessionID: s.id, Err: err}
		s.mu.Lock()
		s.failLocked(err)
		s.publishLocked(s.event)
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if err := s.beginLocked(OpInitialize); err != nil {
		s.mu.Unlock()
		return err
	}
	s.stopRunLocked()
	s.generation++
	gen := s.generation
	s.publishLocked(EventStarted)
	s.mu.Unlock()

	s.logger.Debug("initializing", "agent", agent.String(), "episodes", experiment.Episodes, "max_steps", experiment.MaxSteps)
	callCtx := context.WithoutCancel(ctx)
	err := s.gateway.CreateSimulation(callCtx, s.id, grid, agent, experiment)
	var pos models.Position
	if err == nil {
		pos, err = s.gateway.GetCurrentPosition(callCtx, s.id)
	}

	s.mu.Lock()
	if gen != s.generation {
		return s.endStale(ctx, OpInitialize)
	}
	if err != nil {
		err = engine.Wrap(OpInitialize, s.id, err)
		s.clearLocked()
		s.failLocked(err)
	} else {
		s.clearLocked()
		s.configured = true
		s.grid = grid
		s.agent = agent
		s.experiment = experiment
		s.position = &pos
		s.lastErr = nil
		s.event = EventInitialized
	}
	s.endLocked(ctx)

	if err == nil && s.recorder != nil {
		s.record(ctx, func(rctx context.Context) error {
			return s.recorder.RecordConfig(rctx, s.id, grid, agent, experiment)
		})
	}
	return err
}

// Step advances the experiment by a single step. The session must be configured.
// A failure pauses any auto-run.
func (s *Session) Step(ctx context.Context) (models.StepResult, error) {
	return s.step(ctx, nil)
}

// step is the body of Step and of auto-run ticks. For ticks, handle must still be current.
func (s *Session) step(ctx context.Context, handle *RunHandle) (models.StepResult, error) {
	s.mu.Lock()
	if handle != nil && s.run != handle {
		s.mu.Unlock()
		return models.StepResult{}, errTickCancelled
	}
	if err := s.requireConfiguredLocked(OpStep); err != nil {
		s.mu.Unlock()
		return models.StepResult{}, err
	}
	if err := s.beginLocked(OpStep); err != nil {
		s.mu.Unlock()
		return models.StepResult{}, err
	}
	gen := s.generation
	s.publishLocked(EventStarted)
	s.mu.Unlock()

	res, err := s.gateway.StepExperiment(context.WithoutCancel(ctx), s.id)

	s.mu.Lock()
	if gen != s.generation {
		return models.StepResult{}, s.endStale(ctx, OpStep)
	}
	if err != nil {
		err = engine.Wrap(OpStep, s.id, err)
		s.stopRunLocked()
		if engine.Classify(err) == engine.KindSessionNotFound {
			s.clearLocked()
			s.generation++
		}
		s.failLocked(err)
		s.endLocked(ctx)
		s.logger.Warn("step failed", "error", err)
		return models.StepResult{}, err
	}

	res = res.Clone()
	pos := res.Position
	s.position = &pos
	if res.Values != nil {
		s.values = append([]float64(nil), res.Values...)
	}
	stepLog := res.Log
	s.lastLog = &stepLog
	s.rewards.Add(stepLog)
	globalStep := s.rewards.GlobalStep
	if stepLog.Terminal && stepLog.Episode >= s.experiment.Episodes-1 {
		s.complete = true
		s.stopRunLocked()
	}
	s.lastErr = nil
	s.event = EventStepped
	s.endLocked(ctx)

	if s.recorder != nil {
		s.record(ctx, func(rctx context.Context) error {
			return s.recorder.RecordStep(rctx, s.id, gen, globalStep, stepLog, pos)
		})
	}
	return res, nil
}

var errTickCancelled = errors.New("tick of a cancelled run")

// Run pauses any current run, then starts stepping every delay until paused, reset, complete
// or failing. Ticks arriving while a step is in flight are dropped.
// A non-positive delay selects DefaultRunDelay.
func (s *Session) Run(delay time.Duration) (*RunHandle, error) {
	if delay <= 0 {
		delay = DefaultRunDelay
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireConfiguredLocked(OpRun); err != nil {
		return nil, err
	}
	s.stopRunLocked()
	handle := newRunHandle(delay)
	s.run = handle
	s.publishLocked(EventRunStarted)
	s.logger.Debug("run started", "delay", delay)

	go handle.loop(s.ticker, s.tick)
	return handle, nil
}

func (s *Session) tick(handle *RunHandle) {
	_, err := s.step(s.ctx, handle)
	if errors.Is(err, engine.ErrSessionBusy) {
		handle.dropped.Add(1)
	}
	if err != nil {
		s.logger.Log(s.ctx, logging.LevelTrace, "tick", "error", err)
	}
}

// Pause cancels any auto-run. Idempotent; a step already in flight still completes.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run == nil {
		return
	}
	s.stopRunLocked()
	s.publishLocked(EventPaused)
}

// Reset cancels any auto-run and clears local state immediately, leaving the session
// UNCONFIGURED, then clears the engine-side simulation. If an operation is in flight the
// engine reset is issued once it completes, and its result is discarded. Engine failures are
// logged, not returned.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	s.stopRunLocked()
	s.clearLocked()
	s.lastErr = nil
	s.generation++
	if s.busy != "" {
		s.resetPending = true
		s.publishLocked(EventReset)
		s.mu.Unlock()
		return
	}
	s.busy = OpReset
	s.publishLocked(EventReset)
	s.mu.Unlock()

	s.resetEngine(ctx)
}

// resetEngine issues engine resets until none is pending, then marks the session idle.
// Must be called with busy set to OpReset and mu unlocked.
func (s *Session) resetEngine(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for {
		if err := s.gateway.ResetSimulation(ctx, s.id); err != nil {
			s.logger.Warn("engine reset failed", "error", err)
		}

		s.mu.Lock()
		if s.resetPending {
			s.resetPending = false
			s.mu.Unlock()
			continue
		}
		s.busy = ""
		s.publishLocked(EventIdle)
		s.mu.Unlock()
		return
	}
}

// RunFullAnalysis creates a fresh engine-side simulation from the current configuration, runs
// it to completion, and fetches the analysis and final position. The first failure aborts the
// sequence. On success the session is COMPLETE.
func (s *Session) RunFullAnalysis(ctx context.Context) (models.AnalysisResult, error) {
	s.mu.Lock()
	if err := s.requireConfiguredLocked(OpRunFullAnalysis); err != nil {
		s.mu.Unlock()
		return models.AnalysisResult{}, err
	}
	if err := s.beginLocked(OpRunFullAnalysis); err != nil {
		s.mu.Unlock()
		return models.AnalysisResult{}, err
	}
	s.stopRunLocked()
	gen := s.generation
	grid, agent, experiment := s.grid, s.agent, s.experiment
	s.publishLocked(EventStarted)
	s.mu.Unlock()

	s.logger.Debug("running full analysis")
	var (
		analysis models.AnalysisResult
		pos      models.Position
	)
	callCtx := context.WithoutCancel(ctx)
	err := s.gateway.CreateSimulation(callCtx, s.id, grid, agent, experiment)
	created := err == nil
	if err == nil {
		err = s.gateway.RunFullExperiment(callCtx, s.id)
	}
	if err == nil {
		analysis, err = s.gateway.AnalyzeExperimentLogs(callCtx, s.id)
	}
	if err == nil {
		pos, err = s.gateway.GetCurrentPosition(callCtx, s.id)
	}

	s.mu.Lock()
	if gen != s.generation {
		return models.AnalysisResult{}, s.endStale(ctx, OpRunFullAnalysis)
	}
	if err != nil {
		err = engine.Wrap(OpRunFullAnalysis, s.id, err)
		switch {
		case engine.Classify(err) == engine.KindSessionNotFound:
			s.clearLocked()
			s.generation++
		case created:
			// The engine now holds the fresh simulation, whatever state it was left in.
			s.restartLocked()
			s.position = nil
			s.values = nil
		}
		s.failLocked(err)
		s.endLocked(ctx)
		s.logger.Warn("full analysis failed", "error", err)
		return models.AnalysisResult{}, err
	}

	analysis = analysis.Clone()
	stored := analysis.Clone()
	s.analysis = &stored
	s.position = &pos
	if analysis.FinalValues != nil {
		s.values = append([]float64(nil), analysis.FinalValues...)
	}
	s.restartLocked()
	gen = s.generation
	s.complete = true
	s.lastErr = nil
	s.event = EventAnalyzed
	s.endLocked(ctx)

	if s.recorder != nil {
		s.record(ctx, func(rctx context.Context) error {
			return s.recorder.RecordAnalysis(rctx, s.id, gen, analysis)
		})
	}
	return analysis, nil
}

// close pauses, resets the engine-side simulation, and closes all subscriptions.
func (s *Session) close(ctx context.Context) {
	s.Reset(ctx)

	s.mu.Lock()
	s.closed = true
	s.seq++
	last := s.snapshotLocked()
	last.Event = EventClosed
	s.mu.Unlock()

	s.pub.close(last)
}

// beginLocked marks op in flight, or fails if another operation is.
func (s *Session) beginLocked(op string) error {
	if s.closed {
		return engine.NewError(engine.KindSessionNotFound, op, s.id, "session closed")
	}
	if s.busy != "" {
		return engine.NewError(engine.KindSessionBusy, op, s.id, fmt.Sprintf("%s in progress", s.busy))
	}
	s.busy = op
	return nil
}

// endLocked marks the in-flight operation complete, publishes, and unlocks mu. A reset
// requested meanwhile is issued before returning.
func (s *Session) endLocked(ctx context.Context) {
	if s.resetPending {
		s.resetPending = false
		s.busy = OpReset
		s.publishLocked(s.event)
		s.mu.Unlock()
		s.resetEngine(ctx)
		return
	}
	s.busy = ""
	s.publishLocked(s.event)
	s.mu.Unlock()
}

// endStale completes an operation whose result is stale, and unlocks mu.
func (s *Session) endStale(ctx context.Context, op string) error {
	s.logger.Debug("discarding stale result", "op", op)
	s.endLocked(ctx)
	return fmt.Errorf("%s %s: %w", op, s.id, ErrSuperseded)
}

func (s *Session) requireConfiguredLocked(op string) error {
	if s.closed {
		return engine.NewError(engine.KindSessionNotFound, op, s.id, "session closed")
	}
	if !s.configured {
		return engine.NewError(engine.KindSessionNotFound, op, s.id, reconfigureMessage)
	}
	return nil
}

func (s *Session) stopRunLocked() {
	if s.run != nil {
		s.run.stop()
		s.run = nil
	}
}

// clearLocked drops all configuration and results.
func (s *Session) clearLocked() {
	s.configured = false
	s.grid = models.GridConfig{}
	s.agent = models.AgentConfig{}
	s.experiment = models.ExperimentConfig{}
	s.position = nil
	s.values = nil
	s.lastLog = nil
	s.rewards.Reset()
	s.analysis = nil
	s.complete = false
}

// restartLocked starts a new generation for a fresh engine-side simulation of the same
// configuration: the step series begins again at global step 1.
func (s *Session) restartLocked() {
	s.generation++
	s.lastLog = nil
	s.rewards.Reset()
	s.complete = false
}

func (s *Session) failLocked(err error) {
	kind := engine.Classify(err)
	msg := err.Error()
	var engineErr *engine.Error
	if errors.As(err, &engineErr) && engineErr.Message != "" {
		msg = engineErr.Message
	}
	if kind == engine.KindSessionNotFound {
		msg = reconfigureMessage
	}
	s.lastErr = &ErrorInfo{Kind: kind, Message: msg}
	s.event = EventFailed
}

func (s *Session) modeLocked() Mode {
	switch {
	case !s.configured:
		return UNCONFIGURED
	case s.run != nil:
		return RUNNING
	case s.busy == OpStep:
		return STEPPING
	case s.complete:
		return COMPLETE
	default:
		return READY
	}
}

func (s *Session) publishLocked(event Event) {
	s.event = event
	s.seq++
	s.pub.publish(s.snapshotLocked())
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:  s.id,
		Seq:        s.seq,
		Generation: s.generation,
		Mode:       s.modeLocked(),
		Event:      s.event,
		Busy:       s.busy != "",
		Operation:  s.busy,
		Values:     append([]float64(nil), s.values...),
		GlobalStep: s.rewards.GlobalStep,
		Rewards: RewardCurves{
			Cumulative: s.rewards.Cumulative(),
			Episodic:   s.rewards.Episodic(),
		},
	}
	if s.position != nil {
		pos := *s.position
		snap.Position = &pos
	}
	if s.lastLog != nil {
		stepLog := *s.lastLog
		snap.StepLog = &stepLog
	}
	if s.analysis != nil {
		analysis := s.analysis.Clone()
		snap.Analysis = &analysis
	}
	if s.configured {
		grid, agent, experiment := s.grid, s.agent, s.experiment
		snap.Grid = &grid
		snap.Agent = &agent
		snap.Experiment = &experiment
	}
	if s.lastErr != nil {
		lastErr := *s.lastErr
		snap.Error = &lastErr
	}
	return snap
}

// record calls the recorder outside of mu. Failures are logged only.
func (s *Session) record(ctx context.Context, fn func(context.Context) error) {
	if err := fn(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("recording failed", "error", err)
	}
}

func validate(grid models.GridConfig, agent models.AgentConfig, experiment models.ExperimentConfig) error {
	if grid.IsZero() {
		return fmt.Errorf("%w: grid is empty", models.ErrConfigInvalid)
	}
	if err := agent.Validate(); err != nil {
		return err
	}
	return experiment.Validate()
}
