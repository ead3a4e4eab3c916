// Command vmstat bootstraps an in-memory coremap and swap manager, drives
// a batch of page creations and faults through them (one page fewer than
// there are frames, so nothing is evicted), and prints the resulting
// occupancy. It exists to exercise the paging core end to end
// without a real kernel underneath it.
package main

import (
	"flag"
	"fmt"
	"os"

	"blockdev"
	"defs"
	"diag"
	"klog"
	"mem"
	"swap"
	"vm"
)

func main() {
	frames := flag.Int("frames", 256, "number of coremap frames to simulate")
	swapFactor := flag.Int64("swap-factor", defs.SwapMinFactor, "swap device size as a multiple of simulated RAM")
	flag.Parse()

	ramBytes := int64(*frames) * defs.PageSize
	cm := mem.Bootstrap(defs.Pa(0), *frames, nil, nil)
	dev := blockdev.NewMemDevice(ramBytes * *swapFactor)
	sw, err := swap.Bootstrap(dev, ramBytes)
	if err != nil {
		fmt.Fprintln(os.Stderr, "swap bootstrap:", err)
		os.Exit(1)
	}

	pages := make([]*vm.Page, 0, *frames)
	for i := 0; i < *frames-1; i++ {
		p, err := vm.NewBlank(cm, sw)
		if err != nil {
			klog.Printf("stopped allocating at page %d: %v", i, err)
			break
		}
		if err := p.Fault(defs.FaultWrite, uintptr(i*defs.PageSize)); err != nil {
			klog.Printf("fault on page %d: %v", i, err)
		}
		pages = append(pages, p)
	}

	klog.Bootf("allocated %d pages against %d frames", len(pages), *frames)

	free, kernel, user, wired, total := cm.Snapshot()
	fmt.Printf("coremap: total=%d free=%d kernel=%d user=%d wired=%d\n", total, free, kernel, user, wired)

	total2, swFree, reserved := sw.Snapshot()
	fmt.Printf("swap: total=%d free=%d reserved=%d\n", total2, swFree, reserved)

	profPath := "coremap.pprof"
	f, err := os.Create(profPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "profile:", err)
	} else {
		if err := diag.WriteCoremapProfile(f, cm); err != nil {
			fmt.Fprintln(os.Stderr, "profile:", err)
		}
		f.Close()
		fmt.Println("wrote", profPath)
	}

	for _, p := range pages {
		p.Destroy()
	}
}
