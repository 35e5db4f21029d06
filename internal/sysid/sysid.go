// Package sysid wraps goroutine-id lookup for log correlation, the way the
// teacher's common/utils/sys package wraps goid.Get for its panic-catcher
// and debug traces.
package sysid

import (
	"runtime/debug"
	"strings"

	"github.com/petermattis/goid"

	"motioncore/internal/logger"
)

// GID returns the id of the calling goroutine. It is used purely for log
// correlation (telling the producer goroutine's lines apart from the
// stepping goroutine's) and is never used as a synchronization primitive.
func GID() uint64 {
	return uint64(goid.Get())
}

// RecoverStepper is deferred at the top of the stepping goroutine. It mirrors
// the teacher's sys.CatchPanic: log the panic and stack, then let the
// goroutine end rather than taking the process down, since a planner
// invariant violation should be loud but not fatal to the rest of the host.
func RecoverStepper(onPanic func(recovered interface{})) {
	if r := recover(); r != nil {
		s := string(debug.Stack())
		if msg, ok := r.(string); ok && strings.Contains(msg, "stop requested") {
			return
		}
		logger.Errorf("stepping goroutine panic: gid=%d err=%v\n%s", GID(), r, s)
		if onPanic != nil {
			onPanic(r)
		}
	}
}
