// Package caller captures short stack traces for fatal invariant
// violations (defs.Invariant is the only caller of Dump in this module).
package caller

import (
	"fmt"
	"runtime"
)

// Dump returns the call stack starting skip frames above Dump itself
// (skip 0 is Dump, skip 1 its caller), one "file:line" per line,
// innermost frame first. It is built for
// embedding in a panic message, not for printing directly.
func Dump(skip int) string {
	i := skip
	s := ""
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		i++
		if s == "" {
			s = fmt.Sprintf("%s:%d", f, l)
		} else {
			s += fmt.Sprintf("\n\t<-%s:%d", f, l)
		}
	}
	return s
}
