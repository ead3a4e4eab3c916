// Package swap implements the backing-store allocator and I/O path for
// pages evicted from the coremap, ported from the teacher's absence of a
// swap subsystem onto original_source/kern/vm/swap.c's bitmap-and-lock
// design, in the idiom the teacher uses elsewhere for its locked
// allocators (mem.Physmem_t).
package swap

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"accnt"
	"blockdev"
	"defs"
	"stats"
	"util"
)

/// Manager allocates and transfers pages to and from a blockdev.Device
/// backing store, and exposes the "giant paging lock" serializing swap
/// I/O the way the original implementation's giant_paging_lock does.
type Manager struct {
	mu sync.Mutex

	dev      blockdev.Device
	bitmap   []uint64
	total    int
	free     int
	reserved int

	giant *semaphore.Weighted

	Stats stats.SwapStats
	Accnt *accnt.PagingAccnt
}

/// Bootstrap opens dev as the swap backing store. dev must be at least
/// defs.SwapMinFactor times ramBytes, matching the original's
/// swap_device_suficient check. Slot 0 is permanently reserved so
/// defs.InvalidSwapAddr (0) never names a real allocation.
func Bootstrap(dev blockdev.Device, ramBytes int64) (*Manager, error) {
	minSize := ramBytes * defs.SwapMinFactor
	if dev.Size() < minSize {
		return nil, defs.NewError("swap.Bootstrap", defs.ErrOutOfSpace)
	}
	total := int(dev.Size() / defs.PageSize)
	m := &Manager{
		dev:    dev,
		bitmap: make([]uint64, util.BitmapWords(total)),
		total:  total,
		free:   total,
		giant:  semaphore.NewWeighted(1),
		Accnt:  &accnt.PagingAccnt{},
	}
	util.SetBit(m.bitmap, 0)
	m.free--
	return m, nil
}

/// Lock acquires the giant paging lock, serializing swap I/O. vm.Page
/// holds it around each In and Out call; the rest of the fault and
/// eviction path runs without it.
func (m *Manager) Lock(ctx context.Context) error {
	return m.giant.Acquire(ctx, 1)
}

/// Unlock releases the giant paging lock.
func (m *Manager) Unlock() {
	m.giant.Release(1)
}

/// Alloc claims a free slot and returns its address. Returns
/// defs.ErrOutOfSpace if the device is full.
func (m *Manager) Alloc() (defs.SwapAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ix, ok := util.FirstClearBit(m.bitmap, m.total)
	if !ok {
		return defs.InvalidSwapAddr, defs.NewError("Alloc", defs.ErrOutOfSpace)
	}
	util.SetBit(m.bitmap, ix)
	m.free--
	m.Stats.Allocs.Inc()
	return defs.SwapAddr(ix * defs.PageSize), nil
}

/// Dealloc frees the slot at addr.
func (m *Manager) Dealloc(addr defs.SwapAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ix := int(addr) / defs.PageSize
	defs.Invariant(ix >= 0 && ix < m.total, "swap.Dealloc: bad addr %d", addr)
	util.ClearBit(m.bitmap, ix)
	m.free++
	m.Stats.Deallys.Inc()
}

/// Reserve accounts for npages of future swap usage without allocating
/// specific slots, so a page's creator can fail fast with
/// defs.ErrOutOfSpace instead of discovering the shortfall at eviction
/// time.
func (m *Manager) Reserve(npages int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	defs.Invariant(m.reserved <= m.free, "swap: reserved %d > free %d", m.reserved, m.free)
	if m.free-m.reserved < npages {
		return defs.NewError("Reserve", defs.ErrOutOfSpace)
	}
	m.reserved += npages
	return nil
}

/// Unreserve releases a reservation made by Reserve.
func (m *Manager) Unreserve(npages int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defs.Invariant(npages <= m.reserved, "swap: unreserving %d > reserved %d", npages, m.reserved)
	m.reserved -= npages
}

/// In reads the page at addr from the backing store into p, which must be
/// defs.PageSize bytes. Callers must hold the giant paging lock.
func (m *Manager) In(p []byte, addr defs.SwapAddr) error {
	defs.Invariant(len(p) == defs.PageSize, "swap.In: bad buffer size %d", len(p))
	since := m.Accnt.Now()
	n, err := m.dev.ReadAt(p, int64(addr))
	m.Accnt.SwapIOTime(since)
	if err != nil {
		return err
	}
	defs.Invariant(n == defs.PageSize, "swap.In: short read %d", n)
	m.Stats.Reads.Inc()
	return nil
}

/// Out writes p to the backing store at addr. Callers must hold the giant
/// paging lock.
func (m *Manager) Out(p []byte, addr defs.SwapAddr) error {
	defs.Invariant(len(p) == defs.PageSize, "swap.Out: bad buffer size %d", len(p))
	since := m.Accnt.Now()
	n, err := m.dev.WriteAt(p, int64(addr))
	m.Accnt.SwapIOTime(since)
	if err != nil {
		return err
	}
	defs.Invariant(n == defs.PageSize, "swap.Out: short write %d", n)
	m.Stats.Writes.Inc()
	return nil
}

/// Snapshot returns total/free/reserved slot counts for diagnostics.
func (m *Manager) Snapshot() (total, free, reserved int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total, m.free, m.reserved
}
