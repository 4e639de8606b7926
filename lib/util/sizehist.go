package util

import (
	"math"
	"sort"
	"sync/atomic"
)

// sizeBoundaries are the upper bounds of the histogram buckets, from 16 bytes up to
// the largest frame a stream transport accepts
var sizeBoundaries = []int{
	16, 64, 256, 1024, 4096, // bytes to 4KB
	16384, 65536, 262144, 1048576, // 16KB to 1MB
	4194304, 16777216, 67108864, // 4MB to 64MB
}

// SizeHistogram tracks the distribution of payload sizes in exponential buckets.
// Samples larger than the last boundary land in an overflow bucket.
//
// Thread-safe: all methods are lock-free and safe for concurrent use
type SizeHistogram struct {
	buckets [13]atomic.Int64 // one per boundary plus overflow
	count   atomic.Int64
	sum     atomic.Int64
}

// NewSizeHistogram creates an empty histogram
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{}
}

// Add records one sample
func (h *SizeHistogram) Add(size int) {
	if size < 0 {
		size = 0
	}
	// first boundary >= size, len(sizeBoundaries) for the overflow bucket
	h.buckets[sort.SearchInts(sizeBoundaries, size)].Add(1)
	h.count.Add(1)
	h.sum.Add(int64(size))
}

// Count returns the number of samples
func (h *SizeHistogram) Count() int64 {
	return h.count.Load()
}

// Average returns the mean sample size
func (h *SizeHistogram) Average() int {
	n := h.count.Load()
	if n == 0 {
		return 0
	}
	return int(h.sum.Load() / n)
}

// Percentile estimates the given percentile (0-100) as the midpoint of its bucket
func (h *SizeHistogram) Percentile(p int) int {
	n := h.count.Load()
	if n == 0 || p < 0 || p > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(n) * float64(p) / 100.0))
	var cumulative int64
	for i := range h.buckets {
		cumulative += h.buckets[i].Load()
		if cumulative >= target {
			return bucketEstimate(i)
		}
	}
	// concurrent Add between the loads
	return h.Average()
}

// Reset clears all samples
func (h *SizeHistogram) Reset() {
	for i := range h.buckets {
		h.buckets[i].Store(0)
	}
	h.count.Store(0)
	h.sum.Store(0)
}

// bucketEstimate returns the representative size of a bucket
func bucketEstimate(i int) int {
	switch {
	case i == 0:
		return sizeBoundaries[0] / 2
	case i < len(sizeBoundaries):
		return (sizeBoundaries[i-1] + sizeBoundaries[i]) / 2
	default:
		return sizeBoundaries[len(sizeBoundaries)-1] * 2
	}
}
