package prometheusint

import (
	"sync"
)

// HighWatermarkValue implements an int64 gauge that also remembers its high
// watermark value.
//
// The pool uses it to track active leases: the current value feeds the active
// connections gauge while the max feeds peak-usage stats.
type HighWatermarkValue struct {
	lock sync.RWMutex
	curr int64
	max  int64
}

// Inc increases the gauge value by 1.
func (hwv *HighWatermarkValue) Inc() {
	hwv.lock.Lock()
	defer hwv.lock.Unlock()

	hwv.curr++
	if hwv.curr > hwv.max {
		hwv.max = hwv.curr
	}
}

// Dec decreases the gauge value by 1.
func (hwv *HighWatermarkValue) Dec() {
	hwv.lock.Lock()
	defer hwv.lock.Unlock()

	hwv.curr--
}

// Set sets the current value, and updates the high watermark if needed.
func (hwv *HighWatermarkValue) Set(v int64) {
	hwv.lock.Lock()
	defer hwv.lock.Unlock()

	hwv.curr = v
	if hwv.curr > hwv.max {
		hwv.max = hwv.curr
	}
}

// Get gets the current gauge value.
func (hwv *HighWatermarkValue) Get() int64 {
	hwv.lock.RLock()
	defer hwv.lock.RUnlock()

	return hwv.curr
}

// Max returns the max gauge value (the high watermark).
func (hwv *HighWatermarkValue) Max() int64 {
	hwv.lock.RLock()
	defer hwv.lock.RUnlock()

	return hwv.max
}
