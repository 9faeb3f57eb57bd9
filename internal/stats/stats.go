package stats

import (
	"sort"

	"github.com/studiowebux/surge/internal/types"
)

// Calculate reduces a finished batch result into throughput,
// percentile and error-type statistics.
func Calculate(result *types.ConcurrentExecutionResult) *types.EnhancedConcurrentResult {
	enhanced := &types.EnhancedConcurrentResult{
		ConcurrentExecutionResult: result,
		ErrorBreakdown:            errorBreakdown(result.Errors),
	}

	elapsed := result.EndTime.Sub(result.StartTime).Seconds()
	if elapsed > 0 {
		enhanced.RequestsPerSecond = float64(result.TotalRequests) / elapsed
	}

	sample := make([]int64, len(result.DurationsMs))
	copy(sample, result.DurationsMs)
	sort.Slice(sample, func(i, j int) bool { return sample[i] < sample[j] })

	enhanced.Percentiles = types.Percentiles{
		P50: percentile(sample, 0.50),
		P95: percentile(sample, 0.95),
		P99: percentile(sample, 0.99),
	}

	if result.TotalRequests > 0 {
		enhanced.SuccessRate = float64(result.SuccessfulRequests) / float64(result.TotalRequests) * 100
		enhanced.FailureRate = float64(result.FailedRequests) / float64(result.TotalRequests) * 100
	}

	return enhanced
}

// percentile picks the value at index floor(n*p), clamped to the
// sample bounds. The sample must be sorted ascending. An empty sample
// yields zero.
func percentile(sorted []int64, p float64) int64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}

	index := int(float64(n) * p)
	if index < 0 {
		index = 0
	}
	if index > n-1 {
		index = n - 1
	}
	return sorted[index]
}

// errorBreakdown tallies errors per declared type, zero-filled so
// every bucket is present.
func errorBreakdown(errors []types.ExecutionError) map[types.ErrorType]int {
	breakdown := make(map[types.ErrorType]int, len(types.ErrorTypes()))
	for _, t := range types.ErrorTypes() {
		breakdown[t] = 0
	}
	for _, e := range errors {
		breakdown[e.Type]++
	}
	return breakdown
}
