package mem

import "defs"

// content backs each frame with an in-process byte slice standing in for
// the physical page the real kernel would direct-map. The teacher maps
// physical memory into a fixed virtual window (Dmap, formerly in
// dmap.go); hosted here outside a kernel address space, a plain slice
// keyed by frame index serves the same purpose for Zero/Clone/fault-time
// copy-in.

/// Zero zeroes the frame at pa.
func (cm *Coremap) Zero(pa defs.Pa) {
	cm.mu.Lock()
	ix := cm.ix(pa)
	cm.mu.Unlock()
	if cm.frames[ix].bytes == nil {
		cm.frames[ix].bytes = make([]byte, defs.PageSize)
		return
	}
	for i := range cm.frames[ix].bytes {
		cm.frames[ix].bytes[i] = 0
	}
}

/// Clone copies the contents of frame src into frame dst.
func (cm *Coremap) Clone(dst, src defs.Pa) {
	cm.mu.Lock()
	di, si := cm.ix(dst), cm.ix(src)
	cm.mu.Unlock()
	if cm.frames[si].bytes == nil {
		cm.frames[si].bytes = make([]byte, defs.PageSize)
	}
	if cm.frames[di].bytes == nil {
		cm.frames[di].bytes = make([]byte, defs.PageSize)
	}
	copy(cm.frames[di].bytes, cm.frames[si].bytes)
}

/// Bytes returns the frame's backing storage, allocating it on first use.
/// Callers must not retain the slice past a Free of pa.
func (cm *Coremap) Bytes(pa defs.Pa) []byte {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	ix := cm.ix(pa)
	if cm.frames[ix].bytes == nil {
		cm.frames[ix].bytes = make([]byte, defs.PageSize)
	}
	return cm.frames[ix].bytes
}
