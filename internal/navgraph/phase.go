package navgraph

import (
	"fmt"
	"sync"
)

// Phase is the current step of a graph build.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseLandNodePass
	PhaseWaterNodePass
	PhaseConnectionPass
	PhaseOptimizationPass
	PhaseNeedsCompile
)

var phaseNames = [...]string{
	PhaseNone:             "None",
	PhaseLandNodePass:     "LandNodePass",
	PhaseWaterNodePass:    "WaterNodePass",
	PhaseConnectionPass:   "ConnectionPass",
	PhaseOptimizationPass: "OptimizationPass",
	PhaseNeedsCompile:     "NeedsCompile",
}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Running reports whether a build is in flight. A build waiting in
// PhaseNeedsCompile has finished sampling and does not block a new one.
func (p Phase) Running() bool {
	return p != PhaseNone && p != PhaseNeedsCompile
}

// PhaseTracker publishes the phase of a build to observers. The zero value
// is ready to use and reports PhaseNone.
type PhaseTracker struct {
	mu    sync.Mutex
	phase Phase
	subs  map[int]func(Phase)
	next  int
}

// Phase returns the current phase.
func (t *PhaseTracker) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// Subscribe registers fn to be called on every phase change. The returned
// function removes the subscription. fn runs on the build goroutine and must
// not block.
func (t *PhaseTracker) Subscribe(fn func(Phase)) (cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subs == nil {
		t.subs = make(map[int]func(Phase))
	}
	id := t.next
	t.next++
	t.subs[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}

// Compiled marks the last built graph as installed, returning the tracker
// from PhaseNeedsCompile to PhaseNone.
func (t *PhaseTracker) Compiled() {
	t.mu.Lock()
	if t.phase != PhaseNeedsCompile {
		t.mu.Unlock()
		return
	}
	t.phase = PhaseNone
	subs := t.snapshot()
	t.mu.Unlock()

	for _, fn := range subs {
		fn(PhaseNone)
	}
}

// begin moves None -> LandNodePass. It fails if a build is already running.
func (t *PhaseTracker) begin() bool {
	t.mu.Lock()
	if t.phase.Running() {
		t.mu.Unlock()
		return false
	}
	t.phase = PhaseLandNodePass
	subs := t.snapshot()
	t.mu.Unlock()

	for _, fn := range subs {
		fn(PhaseLandNodePass)
	}
	return true
}

func (t *PhaseTracker) set(p Phase) {
	t.mu.Lock()
	t.phase = p
	subs := t.snapshot()
	t.mu.Unlock()

	for _, fn := range subs {
		fn(p)
	}
}

// must hold t.mu
func (t *PhaseTracker) snapshot() []func(Phase) {
	subs := make([]func(Phase), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	return subs
}
