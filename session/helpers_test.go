package session

import (
	"context"
	"sync"
	"time"

	"gridsim/models"
)

// manualTicker delivers ticks only when the test calls Tick.
type manualTicker struct {
	source chan time.Time
}

func newManualTicker() *manualTicker {
	return &manualTicker{source: make(chan time.Time)}
}

func (mt *manualTicker) Func(done <-chan struct{}, _ time.Duration) <-chan time.Time {
	out := make(chan time.Time)
	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case t := <-mt.source:
				select {
				case out <- t:
				case <-done:
					return
				}
			}
		}
	}()
	return out
}

// Tick reports whether a running loop accepted the tick.
func (mt *manualTicker) Tick() bool {
	select {
	case mt.source <- time.Now():
		return true
	case <-time.After(50 * time.Millisecond):
		return false
	}
}

// eventually polls cond for up to two seconds.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

type recordedStep struct {
	id         string
	generation uint64
	globalStep int
	log        models.StepLog
}

type fakeRecorder struct {
	mu       sync.Mutex
	configs  []string
	steps    []recordedStep
	analyses []string
	err      error
}

func (rec *fakeRecorder) RecordConfig(
	_ context.Context,
	id string,
	_ models.GridConfig,
	_ models.AgentConfig,
	_ models.ExperimentConfig,
) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.configs = append(rec.configs, id)
	return rec.err
}

func (rec *fakeRecorder) RecordStep(
	_ context.Context,
	id string,
	generation uint64,
	globalStep int,
	log models.StepLog,
	_ models.Position,
) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.steps = append(rec.steps, recordedStep{id: id, generation: generation, globalStep: globalStep, log: log})
	return rec.err
}

func (rec *fakeRecorder) RecordAnalysis(_ context.Context, id string, _ uint64, _ models.AnalysisResult) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.analyses = append(rec.analyses, id)
	return rec.err
}

func (rec *fakeRecorder) stepCount() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.steps)
}
