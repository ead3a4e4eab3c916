// Package accnt accumulates nanosecond-resolution accounting for time
// this core spends blocked on paging I/O, repurposed from the teacher's
// per-process CPU-time accounting to per-subsystem paging accounting.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"
)

/// PagingAccnt accumulates the time and counts spent on the paging paths
/// that can block: swap I/O and waiting out an eviction. Writers update
/// each field atomically without taking the embedded mutex; Snapshot holds
/// it only so that concurrent snapshots do not interleave.
type PagingAccnt struct {
	/// Nanoseconds spent inside swap_in/swap_out.
	SwapIOns int64
	/// Nanoseconds spent blocked waiting for another thread's eviction
	/// (wc_transit or wc_wire).
	BlockedNs int64
	/// Number of page faults handled.
	Faults int64
	/// Number of evictions performed.
	Evictions int64

	sync.Mutex
}

/// Now returns the current time in nanoseconds, used as the "since"
/// argument to SwapIOTime/BlockedTime.
func (a *PagingAccnt) Now() int64 {
	return time.Now().UnixNano()
}

/// SwapIOTime adds the elapsed time since the supplied start timestamp to
/// the swap-I/O counter.
func (a *PagingAccnt) SwapIOTime(since int64) {
	atomic.AddInt64(&a.SwapIOns, a.Now()-since)
}

/// BlockedTime adds the elapsed time since the supplied start timestamp to
/// the blocked-on-eviction counter.
func (a *PagingAccnt) BlockedTime(since int64) {
	atomic.AddInt64(&a.BlockedNs, a.Now()-since)
}

/// Fault increments the fault counter.
func (a *PagingAccnt) Fault() {
	atomic.AddInt64(&a.Faults, 1)
}

/// Evict increments the eviction counter.
func (a *PagingAccnt) Evict() {
	atomic.AddInt64(&a.Evictions, 1)
}

/// Snapshot returns a copy of the accounting fields, each loaded
/// atomically; updates racing with it may be reflected in some fields and
/// not yet in others.
func (a *PagingAccnt) Snapshot() PagingAccnt {
	a.Lock()
	defer a.Unlock()
	return PagingAccnt{
		SwapIOns:  atomic.LoadInt64(&a.SwapIOns),
		BlockedNs: atomic.LoadInt64(&a.BlockedNs),
		Faults:    atomic.LoadInt64(&a.Faults),
		Evictions: atomic.LoadInt64(&a.Evictions),
	}
}
