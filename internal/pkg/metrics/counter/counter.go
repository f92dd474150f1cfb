package counter

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Counter names used across the subscription pipeline.
const (
	SubscriptionsInitiated = "subscriptions_initiated"
	STKPushFailed          = "stk_push_failed"
	CallbacksReceived      = "callbacks_received"
	CallbacksUnmatched     = "callbacks_unmatched"
	PaymentsFailed         = "payments_failed"
	EnrollmentsSucceeded   = "enrollments_succeeded"
	EnrollmentsFailed      = "enrollments_failed"
)

var (
	mu       sync.Mutex
	counters = make(map[string]*atomic.Int64)
)

// Inc increments the named counter by one.
func Inc(name string) {
	get(name).Add(1)
}

// Value returns the current value of the named counter.
func Value(name string) int64 {
	return get(name).Load()
}

// Snapshot returns all counters in name order.
func Snapshot() map[string]int64 {
	mu.Lock()
	defer mu.Unlock()

	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]int64, len(names))
	for _, name := range names {
		out[name] = counters[name].Load()
	}
	return out
}

// Reset clears all counters. Test helper.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	counters = make(map[string]*atomic.Int64)
}

func get(name string) *atomic.Int64 {
	mu.Lock()
	defer mu.Unlock()
	c, ok := counters[name]
	if !ok {
		c = &atomic.Int64{}
		counters[name] = c
	}
	return c
}
