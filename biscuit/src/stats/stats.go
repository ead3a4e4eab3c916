// Package stats provides compile-time-gated counters for the coremap and
// swap manager, in the teacher's Counter_t/Cycles_t idiom: flip Enabled on
// for a debug build and the counters start costing atomic adds; otherwise
// every Inc/Add is a no-op the compiler can see through.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"
)

/// Enabled gates whether counters accumulate at all. Flip to true in a
/// debug build; the hot allocate/free/fault paths never check this
/// themselves, Inc/Add do.
const Enabled = false

/// Counter_t is a statistical counter.
type Counter_t int64

/// Cycles_t holds an elapsed-nanoseconds counter.
type Cycles_t int64

/// Inc increments the counter.
func (c *Counter_t) Inc() {
	if Enabled {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, 1)
	}
}

/// Add adds elapsed nanoseconds since start to the counter.
func (c *Cycles_t) Add(start time.Time) {
	if Enabled {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, int64(time.Since(start)))
	}
}

/// Stats2String converts a struct of counters to a printable string.
func Stats2String(st interface{}) string {
	if !Enabled {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
		if strings.HasSuffix(t, "Cycles_t") {
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}

/// CoremapStats are the counters a Coremap instance maintains.
type CoremapStats struct {
	Allocs       Counter_t
	Frees        Counter_t
	Evictions    Counter_t
	Shootdowns   Counter_t
	ReplaceScans Counter_t
	AllocWait    Cycles_t
}

/// SwapStats are the counters a swap Manager instance maintains.
type SwapStats struct {
	Allocs  Counter_t
	Deallys Counter_t
	Reads   Counter_t
	Writes  Counter_t
	IOTime  Cycles_t
}
