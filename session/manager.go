// Package session is the simulation session controller: it owns session lifecycle, sequences
// engine calls one at a time per session, drives timed auto-stepping, and publishes
// snapshots of each session's observable state.
package session

import (
	"context"
	"sort"
	"sync"

	"gridsim/engine"
	"gridsim/logging"
	"gridsim/models"

	"github.com/google/uuid"
)

// Recorder persists session history. It is called synchronously after each successful
// operation, outside of the session's lock; failures are logged and never fail the operation.
type Recorder interface {
	RecordConfig(
		ctx context.Context,
		id string,
		grid models.GridConfig,
		agent models.AgentConfig,
		experiment models.ExperimentConfig,
	) error
	RecordStep(
		ctx context.Context,
		id string,
		generation uint64,
		globalStep int,
		log models.StepLog,
		pos models.Position,
	) error
	RecordAnalysis(ctx context.Context, id string, generation uint64, analysis models.AnalysisResult) error
}

// Options configure the sessions of a Manager. Zero values select defaults.
type Options struct {
	Recorder Recorder
	Ticker   TickerFunc
	// Windows of retained reward points; see models.NewRewardSeries.
	CumulativeWindow int
	EpisodicWindow   int
}

// Manager owns the sessions of a single gateway, keyed by id.
type Manager struct {
	ctx     context.Context
	gateway engine.Gateway
	opts    Options

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns an empty manager. The logger carried by ctx is inherited by all sessions.
func NewManager(ctx context.Context, gateway engine.Gateway, opts Options) *Manager {
	return &Manager{
		ctx:      ctx,
		gateway:  gateway,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// NewSession creates a session with a fresh random id.
func (mgr *Manager) NewSession() *Session {
	return mgr.Open(uuid.NewString())
}

// Open returns the session for id, creating it if needed.
func (mgr *Manager) Open(id string) *Session {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if s, ok := mgr.sessions[id]; ok {
		return s
	}
	s := newSession(mgr.ctx, id, mgr.gateway, mgr.opts)
	mgr.sessions[id] = s
	logging.FromContext(mgr.ctx).Debug("session opened", "session", id)
	return s
}

// Get returns the session for id, or engine.ErrSessionNotFound.
func (mgr *Manager) Get(id string) (*Session, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if s, ok := mgr.sessions[id]; ok {
		return s, nil
	}
	return nil, engine.NewError(engine.KindSessionNotFound, "", id, "no such session")
}

// IDs returns the ids of all open sessions, sorted.
func (mgr *Manager) IDs() []string {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	ids := make([]string, 0, len(mgr.sessions))
	for id := range mgr.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close removes the session, pausing it and resetting its engine-side simulation, and closes
// its subscriptions.
func (mgr *Manager) Close(ctx context.Context, id string) error {
	mgr.mu.Lock()
	s, ok := mgr.sessions[id]
	delete(mgr.sessions, id)
	mgr.mu.Unlock()

	if !ok {
		return engine.NewError(engine.KindSessionNotFound, "", id, "no such session")
	}
	s.close(ctx)
	return nil
}

// Shutdown closes all sessions concurrently.
func (mgr *Manager) Shutdown(ctx context.Context) {
	mgr.mu.Lock()
	sessions := mgr.sessions
	mgr.sessions = make(map[string]*Session)
	mgr.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.close(ctx)
		}(s)
	}
	wg.Wait()
}
