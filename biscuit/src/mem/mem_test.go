package mem

import (
	"sync"
	"testing"

	"defs"
)

type fakeOwner struct {
	mu      sync.Mutex
	evicted int
	last    defs.Pa
}

func (f *fakeOwner) Evict(pa defs.Pa) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evicted++
	f.last = pa
}

func newTestCoremap(t *testing.T, nframes int) *Coremap {
	t.Helper()
	return Bootstrap(defs.Pa(0), nframes, nil, nil)
}

func TestAllocSingleAndFree(t *testing.T) {
	cm := newTestCoremap(t, 4)

	pa, err := cm.AllocSingle(nil, false, false)
	if err != nil {
		t.Fatalf("AllocSingle: %v", err)
	}

	free, kernel, user, _, total := cm.Snapshot()
	if total != 4 || free != 3 || kernel != 1 || user != 0 {
		t.Fatalf("Snapshot after one kernel alloc = (free=%d kernel=%d user=%d total=%d)", free, kernel, user, total)
	}

	cm.Free(pa)
	free, kernel, user, _, _ = cm.Snapshot()
	if free != 4 || kernel != 0 || user != 0 {
		t.Fatalf("Snapshot after Free = (free=%d kernel=%d user=%d)", free, kernel, user)
	}
}

func TestAllocSingleOwnerTracksAsUser(t *testing.T) {
	cm := newTestCoremap(t, 2)
	owner := &fakeOwner{}

	_, err := cm.AllocSingle(owner, true, false)
	if err != nil {
		t.Fatalf("AllocSingle: %v", err)
	}
	_, _, user, wired, _ := cm.Snapshot()
	if user != 1 || wired != 1 {
		t.Fatalf("Snapshot = (user=%d wired=%d); want (1, 1)", user, wired)
	}
}

func TestAllocSingleOutOfMemory(t *testing.T) {
	cm := newTestCoremap(t, 1)
	if _, err := cm.AllocSingle(nil, true, false); err != nil {
		t.Fatalf("first AllocSingle: %v", err)
	}
	if _, err := cm.AllocSingle(nil, false, false); err == nil {
		t.Fatal("expected second AllocSingle on a full, all-wired coremap to fail")
	}
}

func TestAllocSingleEvictsWhenAllowed(t *testing.T) {
	cm := newTestCoremap(t, 1)
	owner := &fakeOwner{}
	pa, err := cm.AllocSingle(owner, false, false)
	if err != nil {
		t.Fatalf("AllocSingle: %v", err)
	}

	pa2, err := cm.AllocSingle(nil, false, true)
	if err != nil {
		t.Fatalf("AllocSingle with eviction allowed: %v", err)
	}
	if pa2 != pa {
		t.Fatalf("expected the evicted frame to be reused: got %v want %v", pa2, pa)
	}
	owner.mu.Lock()
	defer owner.mu.Unlock()
	if owner.evicted != 1 {
		t.Fatalf("expected owner.Evict to be called once, got %d", owner.evicted)
	}
}

func TestAllocMultiPicksContiguousFreeRun(t *testing.T) {
	cm := newTestCoremap(t, 8)
	pa, err := cm.AllocMulti(4, false)
	if err != nil {
		t.Fatalf("AllocMulti: %v", err)
	}
	free, kernel, _, _, _ := cm.Snapshot()
	if free != 4 || kernel != 4 {
		t.Fatalf("Snapshot after AllocMulti(4) = (free=%d kernel=%d); want (4, 4)", free, kernel)
	}
	cm.Free(pa)
	free, kernel, _, _, _ = cm.Snapshot()
	if free != 8 || kernel != 0 {
		t.Fatalf("Snapshot after Free = (free=%d kernel=%d); want (8, 0)", free, kernel)
	}
}

func TestWireBlocksSecondWirer(t *testing.T) {
	cm := newTestCoremap(t, 1)
	pa, err := cm.AllocSingle(nil, false, false)
	if err != nil {
		t.Fatalf("AllocSingle: %v", err)
	}
	cm.Wire(pa)

	done := make(chan struct{})
	go func() {
		cm.Wire(pa)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second Wire should have blocked while the frame is wired")
	default:
	}

	cm.Unwire(pa)
	<-done
	if !cm.IsWired(pa) {
		t.Fatal("expected frame to be wired by the second waiter after being woken")
	}
}

func TestAllocKpagesRoundTrip(t *testing.T) {
	cm := newTestCoremap(t, 4)

	vaddr := AllocKpages(cm, 2)
	if vaddr == 0 {
		t.Fatal("AllocKpages returned 0 on a coremap with room")
	}
	free, kernel, _, _, _ := cm.Snapshot()
	if free != 2 || kernel != 2 {
		t.Fatalf("Snapshot after AllocKpages(2) = (free=%d kernel=%d); want (2, 2)", free, kernel)
	}

	FreeKpages(cm, vaddr)
	free, kernel, _, _, _ = cm.Snapshot()
	if free != 4 || kernel != 0 {
		t.Fatalf("Snapshot after FreeKpages = (free=%d kernel=%d); want (4, 0)", free, kernel)
	}
}

func TestAllocKpagesFailureReturnsZero(t *testing.T) {
	cm := newTestCoremap(t, 1)
	owner := &fakeOwner{}
	if _, err := cm.AllocSingle(owner, true, false); err != nil {
		t.Fatalf("AllocSingle: %v", err)
	}

	if vaddr := AllocKpages(cm, 1); vaddr != 0 {
		t.Fatalf("AllocKpages on a full, all-wired coremap = %#x; want 0", vaddr)
	}
}

func TestAllocKpagesPreInitRoutesToStealMem(t *testing.T) {
	vaddr := AllocKpages(nil, 3)
	if vaddr == 0 {
		t.Fatal("AllocKpages(nil, ...) returned 0")
	}
	// FreeKpages on a pre-init vaddr is a documented no-op.
	FreeKpages(nil, vaddr)
}

func TestShootdownClearsMatchingTLBIndex(t *testing.T) {
	cm := newTestCoremap(t, 1)
	pa, err := cm.AllocSingle(nil, false, false)
	if err != nil {
		t.Fatalf("AllocSingle: %v", err)
	}
	cm.SetTLB(pa, 2, 7)
	cm.Shootdown(pa, 7)
	if got := cm.frames[cm.ix(pa)].tlbIndex; got != defs.InvalidTLBIndex {
		t.Fatalf("tlbIndex after Shootdown(7) = %d; want %d", got, defs.InvalidTLBIndex)
	}

	cm.SetTLB(pa, 2, 9)
	cm.ShootdownAll()
	if got := cm.frames[cm.ix(pa)].tlbIndex; got != defs.InvalidTLBIndex {
		t.Fatalf("tlbIndex after ShootdownAll = %d; want %d", got, defs.InvalidTLBIndex)
	}
}
