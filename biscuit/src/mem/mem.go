// Package mem implements the coremap: the single global table of physical
// frame descriptors, generalized from the teacher's Physmem_t refcounting
// allocator onto the frame-descriptor-and-eviction design of a demand-paging
// kernel's coremap.c.
package mem

import (
	"math/rand"
	"sync"
	"unsafe"

	"defs"
	"klog"
	"stats"
)

/// Evictable is the callback surface the coremap uses to page out the
/// resident virtual page occupying a frame, mirroring the original
/// coremap's call into vm_page_evict from its eviction routine.
type Evictable interface {
	/// Evict writes back and unmaps the virtual page backed by the frame
	/// at physical address pa, then returns. Called with the coremap lock
	/// NOT held (the lock is dropped around the I/O) but with the frame
	/// marked wired so it cannot be reused concurrently.
	Evict(pa defs.Pa)
}

/// Frame describes one physical page frame. Every field is protected by
/// Coremap.mu; there is no per-frame lock, matching the single
/// slk_coremap spinlock of the teacher's original.
type Frame struct {
	/// alloc is true iff this frame is currently handed out (kernel or
	/// user, wired or not).
	alloc bool
	/// kernel is true iff this frame backs kernel memory rather than a
	/// vm.Page; kernel frames are never eviction candidates.
	kernel bool
	/// wired is true iff this frame must not be evicted right now: either
	/// it is mid-eviction, or a caller explicitly pinned it.
	wired bool
	/// last marks the final frame of a multi-frame allocation run, so
	/// Free knows where the run ends.
	last bool
	/// referenced is set on every allocation; nothing in this core reads
	/// it back (the replacement policy is a randomized scan, not clock/LRU),
	/// but it is maintained because a future clock-based policy would
	/// need it and the teacher's original also always sets it.
	referenced bool
	/// tlbIndex is the live TLB slot index on cpu, or defs.InvalidTLBIndex
	/// if there is none.
	tlbIndex int
	/// cpu is the owning CPU number when tlbIndex is valid.
	cpu int
	/// owner is the virtual page resident in this frame, or nil for a
	/// kernel frame or a free frame.
	owner Evictable
	/// bytes is the frame's backing storage, allocated lazily (see
	/// content.go).
	bytes []byte
}

/// Coremap is the kernel's single physical-frame allocator and eviction
/// engine. One instance exists per kernel; Bootstrap constructs it from a
/// contiguous span of physical memory.
type Coremap struct {
	mu sync.Mutex

	frames []Frame
	base   defs.Pa /// physical address of frames[0]

	total  int
	free   int
	kpages int
	upages int
	wired  int

	wcWire      *sync.Cond
	wcShootdown *sync.Cond

	shootdownOne func(cpu int, tlbIndex int)
	shootdownAll func()

	Stats stats.CoremapStats
}

/// Bootstrap constructs a Coremap managing nframes contiguous frames
/// starting at physical address base. shootdownOne is the IPI hook evict
/// uses to invalidate a stale TLB entry on a remote CPU; shootdownAll is
/// stored alongside it but nothing in this package calls it. A nil
/// shootdownOne is valid for a single-CPU or test configuration: evict
/// then clears the recorded TLB entry directly instead of waiting for a
/// Shootdown call.
func Bootstrap(base defs.Pa, nframes int, shootdownOne func(cpu, tlbIndex int), shootdownAll func()) *Coremap {
	cm := &Coremap{
		frames:       make([]Frame, nframes),
		base:         base,
		total:        nframes,
		free:         nframes,
		shootdownOne: shootdownOne,
		shootdownAll: shootdownAll,
	}
	for i := range cm.frames {
		cm.frames[i].tlbIndex = defs.InvalidTLBIndex
	}
	cm.wcWire = sync.NewCond(&cm.mu)
	cm.wcShootdown = sync.NewCond(&cm.mu)
	klog.Bootf("coremap: bootstrap %d frames (%d bytes) at %#x", nframes, nframes*defs.PageSize, uintptr(base))
	return cm
}

func (cm *Coremap) pa(ix int) defs.Pa {
	return cm.base + defs.Pa(ix*defs.PageSize)
}

func (cm *Coremap) ix(pa defs.Pa) int {
	defs.Invariant(pa >= cm.base, "pa %#x below coremap base %#x", uintptr(pa), uintptr(cm.base))
	ix := int((pa - cm.base) / defs.PageSize)
	defs.Invariant(ix >= 0 && ix < cm.total, "pa %#x out of coremap range", uintptr(pa))
	return ix
}

func (cm *Coremap) isFree(ix int) bool {
	return !cm.frames[ix].wired && !cm.frames[ix].alloc
}

func (cm *Coremap) isPageable(ix int) bool {
	return !cm.frames[ix].wired && !cm.frames[ix].kernel
}

func (cm *Coremap) checkIntegrity() {
	defs.Invariant(cm.total == cm.upages+cm.kpages+cm.free,
		"coremap integrity: total=%d upages=%d kpages=%d free=%d", cm.total, cm.upages, cm.kpages, cm.free)
}

func (cm *Coremap) markAllocated(start, num int, wired, kernel bool) {
	for i := start; i < start+num; i++ {
		cm.frames[i].alloc = true
		cm.frames[i].wired = wired
		cm.frames[i].kernel = kernel
		cm.frames[i].referenced = true
		cm.frames[i].last = false
	}
	cm.frames[start+num-1].last = true
	if kernel {
		cm.kpages += num
	} else {
		cm.upages += num
	}
	cm.free -= num
	cm.checkIntegrity()
}

/// findPageablePage scans from a random starting index for a frame that is
/// neither wired nor kernel, wrapping around once. Matches the original's
/// randomized linear scan: spreading eviction victims across the coremap
/// instead of always starting at 0 avoids pathologically re-evicting the
/// same low-index frames.
func (cm *Coremap) findPageablePage() int {
	start := rand.Intn(cm.total)
	for i := start; i < cm.total; i++ {
		if cm.isPageable(i) {
			return i
		}
	}
	for i := 0; i < start; i++ {
		if cm.isPageable(i) {
			return i
		}
	}
	defs.Invariant(false, "no pageable frame found")
	return -1
}

/// evict evicts the resident owner of frame ix, performing a TLB shootdown
/// first if a live mapping exists. Requires cm.mu held and ix allocated,
/// pageable.
func (cm *Coremap) evict(ix int) {
	defs.Invariant(cm.frames[ix].alloc, "evicting unallocated frame %d", ix)
	defs.Invariant(cm.isPageable(ix), "evicting unpageable frame %d", ix)

	victim := cm.frames[ix].owner
	cm.frames[ix].wired = true

	if cm.frames[ix].tlbIndex != defs.InvalidTLBIndex {
		cpu := cm.frames[ix].cpu
		tlbIndex := cm.frames[ix].tlbIndex
		if cm.shootdownOne != nil {
			cm.mu.Unlock()
			cm.shootdownOne(cpu, tlbIndex)
			cm.mu.Lock()
		} else {
			cm.invalidateLocked(ix)
		}
		for cm.frames[ix].tlbIndex != defs.InvalidTLBIndex {
			cm.wcShootdown.Wait()
		}
	}

	if victim != nil {
		pa := cm.pa(ix)
		cm.mu.Unlock()
		victim.Evict(pa)
		cm.mu.Lock()
	}

	defs.Invariant(cm.frames[ix].wired, "frame %d unwired mid-evict", ix)
	cm.frames[ix].wired = false
	cm.frames[ix].owner = nil
	cm.frames[ix].alloc = false
	cm.upages--
	cm.free++
	cm.checkIntegrity()
	cm.Stats.Evictions.Inc()
	cm.wcWire.Broadcast()
}

/// replace evicts one pageable frame and returns its index, ready for
/// reuse by the caller. Callers must not invoke this from interrupt
/// context: there is no thread to block waiting out an in-progress
/// shootdown.
func (cm *Coremap) replace() int {
	cm.Stats.ReplaceScans.Inc()
	ix := cm.findPageablePage()
	defs.Invariant(!cm.frames[ix].kernel, "replace picked a kernel frame")
	defs.Invariant(!cm.frames[ix].wired, "replace picked a wired frame")
	if cm.frames[ix].alloc {
		cm.evict(ix)
	}
	return ix
}

/// AllocSingle allocates one frame, backing owner (or nil for a kernel
/// allocation). allowEvict controls whether the allocator may evict a
/// resident page to satisfy the request; pass false from interrupt
/// context. Returns defs.ErrOutOfMemory if no frame is free and allowEvict
/// is false; with allowEvict true and no pageable frame left, the
/// replacement scan panics via defs.Invariant.
func (cm *Coremap) AllocSingle(owner Evictable, wired bool, allowEvict bool) (defs.Pa, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	ix := -1
	if cm.free > 0 {
		for i := cm.total - 1; i >= 0; i-- {
			if cm.isFree(i) {
				ix = i
				break
			}
		}
	}
	if ix < 0 && allowEvict {
		ix = cm.replace()
	}
	if ix < 0 {
		return defs.InvalidPa, defs.NewError("AllocSingle", defs.ErrOutOfMemory)
	}

	cm.markAllocated(ix, 1, wired, owner == nil)
	cm.frames[ix].owner = owner
	cm.frames[ix].tlbIndex = defs.InvalidTLBIndex
	cm.Stats.Allocs.Inc()
	return cm.pa(ix), nil
}

/// rankRegion scores a candidate range [ix, ix+npages) for kernel
/// allocation: -1 if any frame in it is unpageable, else the count of
/// already-free frames in it (higher is better: fewer evictions needed).
func (cm *Coremap) rankRegion(ix, npages int) int {
	score := 0
	for i := ix; i < ix+npages; i++ {
		if !cm.isPageable(i) {
			return -1
		}
		if cm.isFree(i) {
			score++
		}
	}
	return score
}

/// findOptimalRange scans every candidate base index and returns the one
/// requiring the fewest evictions, lowest index wins ties (strict ">" below,
/// following the original's tie-break).
func (cm *Coremap) findOptimalRange(npages int) int {
	bestBase := -1
	bestCount := -1
	for i := 0; i <= cm.total-npages; i++ {
		c := cm.rankRegion(i, npages)
		if c > bestCount {
			bestBase = i
			bestCount = c
		}
	}
	return bestBase
}

/// AllocMulti allocates npages contiguous kernel frames, evicting pageable
/// occupants as needed. Always a kernel (unowned) allocation. Returns
/// defs.ErrOutOfMemory if no contiguous pageable range exists or an
/// eviction cannot proceed.
func (cm *Coremap) AllocMulti(npages int, allowEvict bool) (defs.Pa, error) {
	defs.Invariant(npages > 0, "AllocMulti: npages %d", npages)
	cm.mu.Lock()
	defer cm.mu.Unlock()

	ix := cm.findOptimalRange(npages)
	if ix < 0 {
		return defs.InvalidPa, defs.NewError("AllocMulti", defs.ErrOutOfMemory)
	}
	for i := ix; i < ix+npages; i++ {
		if cm.frames[i].alloc {
			if !allowEvict {
				return defs.InvalidPa, defs.NewError("AllocMulti", defs.ErrOutOfMemory)
			}
			cm.evict(i)
		}
	}
	cm.markAllocated(ix, npages, false, true)
	cm.Stats.Allocs.Inc()
	return cm.pa(ix), nil
}

/// stealMu and stolenPages back steal_mem: the bump allocator alloc_kpages
/// routes to before a Coremap exists. Untracked beyond a diagnostic count,
/// and never freed, matching the original's bootstrap contract.
var (
	stealMu     sync.Mutex
	stolenPages int
)

/// kvaddrBase is the fixed offset between a frame's physical address and
/// the kernel_vaddr AllocKpages hands out for it, so that a frame at
/// physical address 0 never reads as the 0 failure value.
const kvaddrBase uintptr = 0x80000000

/// AllocKpages allocates n contiguous pages of kernel memory and returns
/// their kernel_vaddr (physical address plus kvaddrBase), or 0 on failure,
/// the sentinel contract spec.md §6 documents for alloc_kpages. cm == nil
/// means the coremap is not yet
/// bootstrapped: the allocation instead comes from steal_mem, a raw bump
/// allocation under its own lock with no accounting and no way to free it,
/// exactly as spec.md §4.1 describes for the pre-init path.
func AllocKpages(cm *Coremap, n int) uintptr {
	if cm == nil {
		stealMu.Lock()
		defer stealMu.Unlock()
		buf := make([]byte, n*defs.PageSize)
		stolenPages += n
		return uintptr(unsafe.Pointer(&buf[0]))
	}
	pa, err := cm.AllocMulti(n, true)
	if err != nil {
		return 0
	}
	return uintptr(pa) + kvaddrBase
}

/// FreeKpages releases a kernel_vaddr obtained from AllocKpages. A nil cm
/// (or the zero vaddr AllocKpages returns on failure) is a no-op: memory
/// stolen before the coremap existed is never freed.
func FreeKpages(cm *Coremap, vaddr uintptr) {
	if cm == nil || vaddr == 0 {
		return
	}
	cm.Free(defs.Pa(vaddr - kvaddrBase))
}

/// Free releases a multi-frame allocation starting at pa, walking forward
/// until the frame marked "last" is reached.
func (cm *Coremap) Free(pa defs.Pa) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	ix := cm.ix(pa)
	for i := ix; i < cm.total; i++ {
		f := &cm.frames[i]
		defs.Invariant(f.alloc, "freeing unallocated frame %d", i)
		if f.tlbIndex != defs.InvalidTLBIndex {
			cm.invalidateLocked(i)
		}
		f.alloc = false
		if f.kernel {
			cm.kpages--
		} else {
			cm.upages--
		}
		f.referenced = false
		f.owner = nil
		f.bytes = nil
		cm.free++
		cm.checkIntegrity()
		if f.last {
			f.last = false
			break
		}
	}
	cm.Stats.Frees.Inc()
}

func (cm *Coremap) invalidateLocked(ix int) {
	cm.frames[ix].tlbIndex = defs.InvalidTLBIndex
	cm.frames[ix].cpu = 0
}

/// SetTLB records that frame pa is loaded at tlbIndex on cpu. Called by the
/// fault handler right after installing a mapping.
func (cm *Coremap) SetTLB(pa defs.Pa, cpu, tlbIndex int) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	ix := cm.ix(pa)
	cm.frames[ix].tlbIndex = tlbIndex
	cm.frames[ix].cpu = cpu
}

/// Shootdown completes a requested invalidation for frame pa: called from
/// the IPI handler on the owning CPU once it has flushed its local TLB.
func (cm *Coremap) Shootdown(pa defs.Pa, tlbIndex int) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	ix := cm.ix(pa)
	if cm.frames[ix].tlbIndex == tlbIndex {
		cm.invalidateLocked(ix)
		cm.Stats.Shootdowns.Inc()
		cm.wcShootdown.Broadcast()
	}
}

/// ShootdownAll invalidates every frame's recorded TLB state, used when a
/// CPU clears its entire TLB (e.g. on a context switch) rather than one
/// entry at a time.
func (cm *Coremap) ShootdownAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for i := range cm.frames {
		cm.frames[i].tlbIndex = defs.InvalidTLBIndex
	}
	cm.wcShootdown.Broadcast()
}

/// Wire blocks until frame pa is not already wired, then marks it wired.
/// Mirrors coremap_wire: wiring is exclusive, a second wirer waits on
/// wcWire.
func (cm *Coremap) Wire(pa defs.Pa) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	ix := cm.ix(pa)
	for cm.frames[ix].wired {
		cm.wcWire.Wait()
	}
	cm.frames[ix].wired = true
}

/// Unwire clears the wired flag on frame pa and wakes any waiters.
func (cm *Coremap) Unwire(pa defs.Pa) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	ix := cm.ix(pa)
	cm.frames[ix].wired = false
	cm.wcWire.Broadcast()
}

/// IsWired reports whether frame pa is currently wired.
func (cm *Coremap) IsWired(pa defs.Pa) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.frames[cm.ix(pa)].wired
}

/// SetOwner attaches the evictable owner to an already-allocated frame.
/// vm.New does not use it: it passes the owner to AllocSingle directly.
func (cm *Coremap) SetOwner(pa defs.Pa, owner Evictable) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.frames[cm.ix(pa)].owner = owner
}

/// Snapshot returns free/kernel/user/wired/total frame counts for
/// diagnostics.
func (cm *Coremap) Snapshot() (free, kernel, user, wired, total int) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	w := 0
	for i := range cm.frames {
		if cm.frames[i].wired {
			w++
		}
	}
	return cm.free, cm.kpages, cm.upages, w, cm.total
}
