// Package diag renders a coremap's occupancy as a pprof heap profile, so
// the standard pprof tooling (go tool pprof) can visualize frame usage the
// same way it visualizes a Go program's live allocations.
package diag

import (
	"io"

	"github.com/google/pprof/profile"

	"mem"
	"swap"
)

const (
	sampleFree = "free"
	sampleUser = "user"
	sampleKernel = "kernel"
	sampleWired = "wired"
)

/// CoremapProfile builds a pprof profile with one sample per occupancy
/// class (free, kernel, user, wired), each weighted by frame count and
/// bytes. It is meant to be inspected with `go tool pprof -top`.
func CoremapProfile(cm *mem.Coremap) *profile.Profile {
	free, kernel, user, wired, _ := cm.Snapshot()

	fn := &profile.Function{ID: 1, Name: "coremap", SystemName: "coremap", Filename: "coremap"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn, Line: 1}}}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "frames", Unit: "count"},
			{Type: "space", Unit: "bytes"},
		},
		Function: []*profile.Function{fn},
		Location: []*profile.Location{loc},
		PeriodType: &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:     1,
	}

	add := func(class string, count int) {
		if count == 0 {
			return
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(count), int64(count) * pageSize},
			Label:    map[string][]string{"class": {class}},
		})
	}
	add(sampleFree, free)
	add(sampleKernel, kernel)
	add(sampleUser, user)
	add(sampleWired, wired)

	return p
}

const pageSize = 1 << 12

/// WriteCoremapProfile writes a gzip-encoded pprof profile of cm's
/// occupancy to w.
func WriteCoremapProfile(w io.Writer, cm *mem.Coremap) error {
	return CoremapProfile(cm).Write(w)
}

/// SwapProfile builds a pprof profile of a swap manager's slot occupancy
/// (free vs. reserved vs. in-use).
func SwapProfile(sw *swap.Manager) *profile.Profile {
	total, free, reserved := sw.Snapshot()
	used := total - free

	fn := &profile.Function{ID: 1, Name: "swap", SystemName: "swap", Filename: "swap"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn, Line: 1}}}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "slots", Unit: "count"},
			{Type: "space", Unit: "bytes"},
		},
		Function:   []*profile.Function{fn},
		Location:   []*profile.Location{loc},
		PeriodType: &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:     1,
	}
	add := func(class string, count int) {
		if count == 0 {
			return
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(count), int64(count) * pageSize},
			Label:    map[string][]string{"class": {class}},
		})
	}
	add("free", free-reserved)
	add("reserved", reserved)
	add("used", used)

	return p
}
