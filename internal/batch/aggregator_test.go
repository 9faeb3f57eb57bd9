package batch

import (
	"sync"
	"testing"

	"github.com/studiowebux/surge/internal/types"
)

func TestAggregatorMinMaxUnderConcurrency(t *testing.T) {
	agg := newAggregator(400, 1)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				agg.recordDuration(int64(w*100 + i + 1))
				agg.completed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := agg.min(); got != 1 {
		t.Errorf("expected min 1, got %d", got)
	}
	if got := agg.max(); got != 400 {
		t.Errorf("expected max 400, got %d", got)
	}
	if got := agg.averageMs(); got != 200.5 {
		t.Errorf("expected average 200.5, got %f", got)
	}
}

func TestAggregatorEmptyMinMax(t *testing.T) {
	agg := newAggregator(10, 1)
	if agg.min() != 0 || agg.max() != 0 {
		t.Errorf("expected 0/0 on an untouched aggregator, got %d/%d", agg.min(), agg.max())
	}
	if agg.averageMs() != 0 {
		t.Errorf("expected 0 average with no completions, got %f", agg.averageMs())
	}
}

func TestAggregatorCapturesWithinLimit(t *testing.T) {
	agg := newAggregator(5, 1)
	for i := 0; i < 5; i++ {
		agg.captureResponse(&types.HttpResponse{StatusCode: 200})
	}

	responses, _, _ := agg.capturedLists()
	if len(responses) != 5 {
		t.Errorf("expected 5 captured responses, got %d", len(responses))
	}
}

func TestAggregatorSkipsCaptureAboveLimit(t *testing.T) {
	agg := newAggregator(types.ResponseCaptureLimit+1, 1)
	agg.captureResponse(&types.HttpResponse{StatusCode: 200})

	responses, _, _ := agg.capturedLists()
	if len(responses) != 0 {
		t.Errorf("expected no captured responses above the limit, got %d", len(responses))
	}
}

func TestAggregatorDurationSampleBounded(t *testing.T) {
	agg := newAggregator(5000, 1)
	for i := 0; i < 5000; i++ {
		agg.recordDuration(int64(i))
	}

	_, _, durations := agg.capturedLists()
	if len(durations) != types.ResponseCaptureLimit {
		t.Errorf("expected a sample of %d, got %d", types.ResponseCaptureLimit, len(durations))
	}
}

func TestAggregatorAlwaysCapturesErrors(t *testing.T) {
	agg := newAggregator(types.ResponseCaptureLimit+1, 1)
	agg.captureError(types.ExecutionError{Message: "boom", Type: types.ErrorNetwork})

	_, errs, _ := agg.capturedLists()
	if len(errs) != 1 {
		t.Errorf("expected error records kept above the capture limit, got %d", len(errs))
	}
}
