package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/studiowebux/surge/internal/types"
)

// TerminalGracePeriod is how long a terminal status entry stays
// visible before eviction.
const TerminalGracePeriod = 60 * time.Second

// ProgressListener receives progress snapshots for one execution id.
type ProgressListener func(progress types.ExecutionProgress)

// Registry tracks execution status, cancellation handles and progress
// listeners. One engine instance owns exactly one Registry; all
// methods are safe for concurrent use.
type Registry struct {
	mu sync.Mutex

	statuses  map[string]types.ExecutionStatus
	jobs      map[string]context.CancelFunc // batch job handles
	calls     map[string]context.CancelFunc // single in-flight network calls
	listeners map[string]map[int]ProgressListener
	lastSeen  map[string]int64 // highest broadcast completed-count per id
	delivery  map[string]*sync.Mutex
	timers    map[string]*time.Timer
	nextToken int

	gracePeriod time.Duration
	log         *zap.Logger
	closed      bool
}

// New creates an empty registry.
func New(log *zap.Logger) *Registry {
	return &Registry{
		statuses:    make(map[string]types.ExecutionStatus),
		jobs:        make(map[string]context.CancelFunc),
		calls:       make(map[string]context.CancelFunc),
		listeners:   make(map[string]map[int]ProgressListener),
		lastSeen:    make(map[string]int64),
		delivery:    make(map[string]*sync.Mutex),
		timers:      make(map[string]*time.Timer),
		gracePeriod: TerminalGracePeriod,
		log:         log,
	}
}

// SetGracePeriod overrides the terminal eviction window. Intended for
// tests.
func (r *Registry) SetGracePeriod(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gracePeriod = d
}

// Create registers a new execution in the pending state.
func (r *Registry) Create(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = types.StatusPending
}

// SetRunning marks the execution as running.
func (r *Registry) SetRunning(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if status, ok := r.statuses[id]; !ok || status.IsTerminal() {
		return
	}
	r.statuses[id] = types.StatusRunning
}

// SetTerminal records the final status and schedules eviction after
// the grace period. A terminal status never changes again.
func (r *Registry) SetTerminal(id string, status types.ExecutionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.statuses[id]; ok && existing.IsTerminal() {
		return
	}
	r.statuses[id] = status

	if r.closed {
		return
	}
	r.timers[id] = time.AfterFunc(r.gracePeriod, func() {
		r.evict(id)
	})
}

func (r *Registry) evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.statuses, id)
	delete(r.listeners, id)
	delete(r.lastSeen, id)
	delete(r.delivery, id)
	delete(r.timers, id)
}

// Status returns the current status for the execution id.
func (r *Registry) Status(id string) (types.ExecutionStatus, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status, ok := r.statuses[id]
	return status, ok
}

// RegisterJob stores the cancellation handle of a running batch.
func (r *Registry) RegisterJob(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id] = cancel
}

// UnregisterJob removes the batch handle.
func (r *Registry) UnregisterJob(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// RegisterCall stores the abort handle of a single in-flight network
// call.
func (r *Registry) RegisterCall(id string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[id] = cancel
}

// UnregisterCall removes the call handle.
func (r *Registry) UnregisterCall(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, id)
}

// Cancel aborts whatever is active under the id: an active batch job
// takes precedence, then a single in-flight call. Returns false when
// nothing active was found.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	jobCancel, hasJob := r.jobs[id]
	callCancel, hasCall := r.calls[id]
	r.mu.Unlock()

	if hasJob {
		jobCancel()
		return true
	}
	if hasCall {
		callCancel()
		return true
	}
	return false
}

// AddListener subscribes fn to progress snapshots for the id and
// returns a token for removal. Multiple listeners per id are allowed.
func (r *Registry) AddListener(id string, fn ProgressListener) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listeners[id] == nil {
		r.listeners[id] = make(map[int]ProgressListener)
	}
	r.nextToken++
	token := r.nextToken
	r.listeners[id][token] = fn
	return token
}

// RemoveListener unsubscribes a previously added listener.
func (r *Registry) RemoveListener(id string, token int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.listeners[id]; ok {
		delete(m, token)
		if len(m) == 0 {
			delete(r.listeners, id)
		}
	}
}

// Broadcast delivers a progress snapshot to every listener registered
// for the execution id. The stream is monotonic per id: a snapshot
// with a lower completed-count than one already delivered is dropped,
// and deliveries for one id are serialized so a listener never sees a
// lower count after a higher one when workers broadcast concurrently.
// One listener's panic is isolated from the rest.
func (r *Registry) Broadcast(progress types.ExecutionProgress) {
	r.mu.Lock()
	gate := r.delivery[progress.ExecutionID]
	if gate == nil {
		gate = &sync.Mutex{}
		r.delivery[progress.ExecutionID] = gate
	}
	r.mu.Unlock()

	// The gate spans both the monotonic check and delivery; without it
	// an admitted snapshot could be overtaken by a later one and
	// arrive out of order.
	gate.Lock()
	defer gate.Unlock()

	r.mu.Lock()
	if progress.CompletedRequests < r.lastSeen[progress.ExecutionID] {
		r.mu.Unlock()
		return
	}
	r.lastSeen[progress.ExecutionID] = progress.CompletedRequests

	targets := make([]ProgressListener, 0, len(r.listeners[progress.ExecutionID]))
	for _, fn := range r.listeners[progress.ExecutionID] {
		targets = append(targets, fn)
	}
	r.mu.Unlock()

	for _, fn := range targets {
		r.notify(progress, fn)
	}
}

func (r *Registry) notify(progress types.ExecutionProgress, fn ProgressListener) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("progress listener panicked",
				zap.String("executionId", progress.ExecutionID),
				zap.Any("panic", rec))
		}
	}()
	fn(progress)
}

// Close stops pending eviction timers. Statuses become unreachable
// once the owning engine is disposed.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for id, timer := range r.timers {
		timer.Stop()
		delete(r.timers, id)
	}
}
