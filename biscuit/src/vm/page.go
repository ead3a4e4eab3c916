// Package vm implements the virtual page: the per-logical-page state
// machine that moves a page's contents between a coremap frame and a swap
// slot. Ported from the teacher's address-space/TLB-shootdown plumbing
// (as.go) generalized onto original_source/kern/vm/vmpage.c's lock
// discipline, extended with the in_transit flag the original lacks (two
// threads may otherwise race to evict and fault the same page).
package vm

import (
	"context"
	"sync"

	"defs"
	"mem"
	"swap"
)

// mapFn installs a TLB mapping for a resolved fault and reports where it
// landed, mirroring the teacher's Cpumap(f func(int) uint32) hook for
// injecting platform-specific behavior into portable code.
var mapFn func(vaddr uintptr, pa defs.Pa, writeable bool) (cpu, tlbIndex int)

/// SetMapper installs the callback Fault uses to install a TLB mapping and
/// learn which (cpu, tlbIndex) pair now caches it. Must be called once
/// during kernel bootstrap before any fault is handled.
func SetMapper(f func(vaddr uintptr, pa defs.Pa, writeable bool) (cpu, tlbIndex int)) {
	mapFn = f
}

// transitMu/transitCond back the shared wc_transit wait channel: every
// virtual page waits and is woken on this one condvar, never its own
// lock, so that a waiter always atomically hands off between "drop my
// page lock" and "start sleeping" without a missed wakeup.
var (
	transitMu   sync.Mutex
	transitCond = sync.NewCond(&transitMu)
)

/// Page is one virtual page's residency state machine: Fresh, Resident,
/// InTransit, Swapped, or Gone.
type Page struct {
	mu sync.Mutex

	paddr     defs.Pa
	swapaddr  defs.SwapAddr
	inTransit bool

	cm *mem.Coremap
	sw *swap.Manager
}

var _ mem.Evictable = (*Page)(nil)

/// assertNoPageLock panics if p's own spinlock is currently held, the one
/// instance of "the calling thread holds no vm-page lock" this package can
/// check directly: swapIn and Evict only ever touch p's lock before
/// issuing I/O, so a failed TryLock here is always this page's own lock
/// held across the call.
func (p *Page) assertNoPageLock() {
	defs.Invariant(p.mu.TryLock(), "swap I/O issued while holding the page lock")
	p.mu.Unlock()
}

/// New creates a page with one swap slot and one wired, resident frame.
/// Returns the page locked; callers that don't need the lock held (e.g.
/// NewBlank) must unlock it themselves.
func New(cm *mem.Coremap, sw *swap.Manager) (*Page, defs.Pa, error) {
	p := &Page{
		cm:       cm,
		sw:       sw,
		paddr:    defs.InvalidPa,
		swapaddr: defs.InvalidSwapAddr,
	}
	addr, err := sw.Alloc()
	if err != nil {
		return nil, defs.InvalidPa, err
	}
	pa, err := cm.AllocSingle(p, true, true)
	if err != nil {
		sw.Dealloc(addr)
		return nil, defs.InvalidPa, err
	}
	p.mu.Lock()
	p.swapaddr = addr
	p.paddr = pa
	return p, pa, nil
}

/// NewBlank creates a page backed by a zeroed, unwired frame.
func NewBlank(cm *mem.Coremap, sw *swap.Manager) (*Page, error) {
	p, pa, err := New(cm, sw)
	if err != nil {
		return nil, err
	}
	p.mu.Unlock()
	cm.Zero(pa)
	cm.Unwire(pa)
	return p, nil
}

/// acquire establishes "the page's current frame is wired and the page
/// lock is held", handling the race where the frame is evicted between
/// observing paddr and wiring it. Returns with p.mu held; the caller owns
/// the wire (if paddr != InvalidPa) and must unwire it when done.
func (p *Page) acquire() {
	wired := defs.InvalidPa
	p.mu.Lock()
	for {
		paddr := p.paddr
		if paddr == wired {
			return
		}
		p.mu.Unlock()
		if wired != defs.InvalidPa {
			p.cm.Unwire(wired)
			wired = defs.InvalidPa
		}
		if paddr == defs.InvalidPa {
			p.mu.Lock()
			continue
		}
		since := p.sw.Accnt.Now()
		p.cm.Wire(paddr)
		p.sw.Accnt.BlockedTime(since)
		wired = paddr
		p.mu.Lock()
	}
}

/// Destroy tears the page down: frees its frame (if resident) and its
/// swap slot. The page must not be used after this call.
func (p *Page) Destroy() {
	p.acquire()
	defs.Invariant(!p.inTransit, "Destroy: page in transit")
	paddr := p.paddr
	if paddr != defs.InvalidPa {
		p.paddr = defs.InvalidPa
		p.mu.Unlock()
		p.cm.Free(paddr)
		p.cm.Unwire(paddr)
	} else {
		p.mu.Unlock()
	}
	if p.swapaddr != defs.InvalidSwapAddr {
		p.sw.Dealloc(p.swapaddr)
	}
}

/// swapIn allocates a fresh wired frame for p and reads its swap slot's
/// contents into it. Caller must not hold p.mu.
func (p *Page) swapIn(addr defs.SwapAddr) (defs.Pa, error) {
	pa, err := p.cm.AllocSingle(p, true, true)
	if err != nil {
		return defs.InvalidPa, err
	}

	p.assertNoPageLock()
	if err := p.sw.Lock(context.Background()); err != nil {
		p.cm.Free(pa)
		p.cm.Unwire(pa)
		return defs.InvalidPa, err
	}
	err = p.sw.In(p.cm.Bytes(pa), addr)
	p.sw.Unlock()
	if err != nil {
		p.cm.Free(pa)
		p.cm.Unwire(pa)
		return defs.InvalidPa, err
	}
	return pa, nil
}

/// Clone creates a new page with identical contents and a distinct swap
/// slot, swapping the source in first if it is not currently resident.
func (p *Page) Clone() (*Page, error) {
	dst, dstPaddr, err := New(p.cm, p.sw)
	if err != nil {
		return nil, err
	}

	p.acquire()
	srcPaddr := p.paddr
	if srcPaddr == defs.InvalidPa {
		addr := p.swapaddr
		p.mu.Unlock()

		newPaddr, err := p.swapIn(addr)
		if err != nil {
			dst.mu.Unlock()
			p.cm.Unwire(dstPaddr)
			dst.Destroy()
			return nil, err
		}

		p.mu.Lock()
		defs.Invariant(p.paddr == defs.InvalidPa, "Clone: source paged in concurrently")
		p.paddr = newPaddr
		srcPaddr = newPaddr
	}

	p.cm.Clone(dstPaddr, srcPaddr)

	p.mu.Unlock()
	dst.mu.Unlock()
	p.cm.Unwire(srcPaddr)
	p.cm.Unwire(dstPaddr)

	return dst, nil
}

/// Fault resolves a page fault against p, installing a TLB mapping for
/// fault_vaddr via the injected mapper.
func (p *Page) Fault(faultType defs.FaultType, faultVaddr uintptr) error {
	p.sw.Accnt.Fault()
	p.mu.Lock()
	for p.inTransit {
		since := p.sw.Accnt.Now()
		transitMu.Lock()
		p.mu.Unlock()
		transitCond.Wait()
		transitMu.Unlock()
		p.sw.Accnt.BlockedTime(since)
		p.mu.Lock()
	}

	paddr := p.paddr
	if paddr != defs.InvalidPa {
		since := p.sw.Accnt.Now()
		p.cm.Wire(paddr)
		p.sw.Accnt.BlockedTime(since)
	} else {
		addr := p.swapaddr
		defs.Invariant(addr != defs.InvalidSwapAddr, "Fault: no swap slot")
		p.mu.Unlock()

		newPaddr, err := p.swapIn(addr)
		if err != nil {
			return err
		}
		p.mu.Lock()
		paddr = newPaddr
		p.paddr = paddr
	}

	var writeable bool
	switch faultType {
	case defs.FaultRead:
		writeable = false
	case defs.FaultWrite, defs.FaultReadonly:
		writeable = true
	default:
		p.cm.Unwire(paddr)
		p.mu.Unlock()
		return defs.NewError("Fault", defs.ErrInvalidArg)
	}

	if mapFn != nil {
		cpu, tlbIndex := mapFn(faultVaddr, paddr, writeable)
		p.cm.SetTLB(paddr, cpu, tlbIndex)
	}

	p.cm.Unwire(paddr)
	p.mu.Unlock()
	return nil
}

/// Evict implements mem.Evictable: it is called by the coremap's
/// replacement routine with the frame already wired, to write this page's
/// contents back to its swap slot.
func (p *Page) Evict(pa defs.Pa) {
	p.sw.Accnt.Evict()
	p.mu.Lock()
	defs.Invariant(p.paddr == pa, "Evict: paddr mismatch")
	defs.Invariant(p.swapaddr != defs.InvalidSwapAddr, "Evict: no swap slot")
	p.inTransit = true
	p.mu.Unlock()

	p.assertNoPageLock()
	if err := p.sw.Lock(context.Background()); err != nil {
		defs.Invariant(false, "Evict: failed to acquire giant paging lock: %v", err)
	}
	// swap.Out returns a device error; the Invariant below turns it into a
	// panic, since there is no recovery path for a failed writeback
	// mid-eviction.
	err := p.sw.Out(p.cm.Bytes(pa), p.swapaddr)
	p.sw.Unlock()
	defs.Invariant(err == nil, "Evict: swap_out failed: %v", err)

	p.mu.Lock()
	defs.Invariant(p.paddr == pa, "Evict: paddr changed during transit")
	p.paddr = defs.InvalidPa
	p.inTransit = false
	p.mu.Unlock()

	transitMu.Lock()
	transitCond.Broadcast()
	transitMu.Unlock()
}
