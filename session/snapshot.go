package session

import (
	"fmt"
	"sync"

	"gridsim/engine"
	"gridsim/models"
)

// Mode is the lifecycle state of a session.
type Mode int

const (
	UNCONFIGURED Mode = iota
	READY
	STEPPING
	RUNNING
	COMPLETE
)

var modeNames = []string{"UNCONFIGURED", "READY", "STEPPING", "RUNNING", "COMPLETE"}

func (mode Mode) String() string {
	if mode < 0 || int(mode) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(mode))
	}
	return modeNames[mode]
}

func (mode Mode) MarshalText() ([]byte, error) {
	return []byte(mode.String()), nil
}

func (mode *Mode) UnmarshalText(text []byte) error {
	for i, name := range modeNames {
		if name == string(text) {
			*mode = Mode(i)
			return nil
		}
	}
	return fmt.Errorf("unknown mode %q", string(text))
}

// Event names the change that produced a snapshot.
type Event string

const (
	EventCreated     Event = "created"
	EventStarted     Event = "started"
	EventInitialized Event = "initialized"
	EventStepped     Event = "stepped"
	EventRunStarted  Event = "run_started"
	EventPaused      Event = "paused"
	EventAnalyzed    Event = "analyzed"
	EventReset       Event = "reset"
	EventFailed      Event = "failed"
	EventIdle        Event = "idle"
	EventClosed      Event = "closed"
)

// ErrorInfo is the last failure of a session, as shown to the user.
type ErrorInfo struct {
	Kind    engine.Kind `json:"kind"`
	Message string      `json:"message"`
}

// RewardCurves are the running reward series accumulated while stepping.
type RewardCurves struct {
	Cumulative []models.RewardPoint `json:"cumulative"`
	Episodic   []models.RewardPoint `json:"episodic"`
}

// Snapshot is an immutable copy of a session's observable state. Nothing in a snapshot is
// shared with the session, so observers may keep and read it freely.
type Snapshot struct {
	SessionID  string `json:"session_id"`
	Seq        uint64 `json:"seq"`
	Generation uint64 `json:"generation"`
	Mode       Mode   `json:"mode"`
	Event      Event  `json:"event"`
	Busy       bool   `json:"busy"`
	// Operation is the in-flight operation, if Busy.
	Operation string `json:"operation,omitempty"`

	Position   *models.Position       `json:"position,omitempty"`
	Values     []float64              `json:"values,omitempty"`
	StepLog    *models.StepLog        `json:"step_log,omitempty"`
	GlobalStep int                    `json:"global_step"`
	Rewards    RewardCurves           `json:"rewards"`
	Analysis   *models.AnalysisResult `json:"analysis,omitempty"`

	Grid       *models.GridConfig       `json:"grid,omitempty"`
	Agent      *models.AgentConfig      `json:"agent_config,omitempty"`
	Experiment *models.ExperimentConfig `json:"experiment_config,omitempty"`

	Error *ErrorInfo `json:"error,omitempty"`
}

// publisher fans snapshots out to subscribers. Delivery is latest-wins: a slow subscriber
// only ever misses intermediate snapshots, never the most recent one.
type publisher struct {
	mu     sync.Mutex
	subs   map[chan Snapshot]struct{}
	closed bool
	done   chan struct{}
}

func newPublisher() *publisher {
	return &publisher{
		subs: make(map[chan Snapshot]struct{}),
		done: make(chan struct{}),
	}
}

// subscribe registers a subscriber primed with initial. Returns nil if the publisher is closed.
func (pub *publisher) subscribe(initial Snapshot) chan Snapshot {
	pub.mu.Lock()
	defer pub.mu.Unlock()

	if pub.closed {
		return nil
	}
	sub := make(chan Snapshot, 1)
	sub <- initial
	pub.subs[sub] = struct{}{}
	return sub
}

func (pub *publisher) unsubscribe(sub chan Snapshot) {
	pub.mu.Lock()
	defer pub.mu.Unlock()

	if _, ok := pub.subs[sub]; ok {
		delete(pub.subs, sub)
		// Nothing stale is delivered after unsubscribing.
		select {
		case <-sub:
		default:
		}
		close(sub)
	}
}

// publish never blocks.
func (pub *publisher) publish(snap Snapshot) {
	pub.mu.Lock()
	defer pub.mu.Unlock()

	for sub := range pub.subs {
		// Only the publisher sends, so after draining the buffer the send cannot block.
		select {
		case <-sub:
		default:
		}
		sub <- snap
	}
}

// close closes all subscriber channels after delivering last.
func (pub *publisher) close(last Snapshot) {
	pub.mu.Lock()
	defer pub.mu.Unlock()

	if pub.closed {
		return
	}
	pub.closed = true
	close(pub.done)
	for sub := range pub.subs {
		select {
		case <-sub:
		default:
		}
		sub <- last
		close(sub)
		delete(pub.subs, sub)
	}
}
