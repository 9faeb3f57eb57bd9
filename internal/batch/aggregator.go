package batch

import (
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/studiowebux/surge/internal/types"
)

// aggregator collects batch results. Counters are atomic and min/max
// update through compare-and-swap retry loops; only the capture lists
// take a brief mutex, scoped to the append.
type aggregator struct {
	completed     atomic.Int64
	successful    atomic.Int64
	failed        atomic.Int64
	totalDuration atomic.Int64
	minDuration   atomic.Int64
	maxDuration   atomic.Int64

	mu         sync.Mutex
	responses  []*types.HttpResponse
	errors     []types.ExecutionError
	durations  []int64
	seen       int64
	rng        *rand.Rand
	captureAll bool
}

func newAggregator(total int64, seed int64) *aggregator {
	a := &aggregator{
		captureAll: total <= types.ResponseCaptureLimit,
		rng:        rand.New(rand.NewSource(seed)),
	}
	a.minDuration.Store(math.MaxInt64)
	a.maxDuration.Store(-1)
	return a
}

// recordDuration folds one response time into the aggregates.
func (a *aggregator) recordDuration(ms int64) {
	a.totalDuration.Add(ms)

	for {
		cur := a.minDuration.Load()
		if ms >= cur {
			break
		}
		if a.minDuration.CompareAndSwap(cur, ms) {
			break
		}
	}
	for {
		cur := a.maxDuration.Load()
		if ms <= cur {
			break
		}
		if a.maxDuration.CompareAndSwap(cur, ms) {
			break
		}
	}

	a.mu.Lock()
	a.seen++
	if len(a.durations) < types.ResponseCaptureLimit {
		a.durations = append(a.durations, ms)
	} else {
		// Uniform reservoir sample keeps percentiles representative
		// for batches above the capture limit.
		if j := a.rng.Int63n(a.seen); j < types.ResponseCaptureLimit {
			a.durations[j] = ms
		}
	}
	a.mu.Unlock()
}

// captureResponse retains the full response while the batch is under
// the capture limit.
func (a *aggregator) captureResponse(resp *types.HttpResponse) {
	if !a.captureAll {
		return
	}
	a.mu.Lock()
	a.responses = append(a.responses, resp)
	a.mu.Unlock()
}

// captureError always retains the error record.
func (a *aggregator) captureError(e types.ExecutionError) {
	a.mu.Lock()
	a.errors = append(a.errors, e)
	a.mu.Unlock()
}

func (a *aggregator) min() int64 {
	if v := a.minDuration.Load(); v != math.MaxInt64 {
		return v
	}
	return 0
}

func (a *aggregator) max() int64 {
	if v := a.maxDuration.Load(); v != -1 {
		return v
	}
	return 0
}

func (a *aggregator) averageMs() float64 {
	completed := a.completed.Load()
	if completed == 0 {
		return 0
	}
	return float64(a.totalDuration.Load()) / float64(completed)
}

// snapshot builds a progress view from the current counters.
func (a *aggregator) snapshot(executionID string, total int64) types.ExecutionProgress {
	return types.ExecutionProgress{
		ExecutionID:           executionID,
		TotalRequests:         total,
		CompletedRequests:     a.completed.Load(),
		SuccessfulRequests:    a.successful.Load(),
		FailedRequests:        a.failed.Load(),
		AverageResponseTimeMs: a.averageMs(),
	}
}

func (a *aggregator) capturedLists() ([]*types.HttpResponse, []types.ExecutionError, []int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	durations := make([]int64, len(a.durations))
	copy(durations, a.durations)
	return a.responses, a.errors, durations
}
