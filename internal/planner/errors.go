package planner

import (
	"fmt"

	"motioncore/internal/logger"
)

// invariant is the core's assert-equivalent (§7 "Arithmetic sanity"): a
// violated invariant indicates a bug in the planner's own arithmetic, not a
// caller error, so it logs at Panic level and panics. It is recovered only
// at the top of the stepping goroutine by sysid.RecoverStepper.
func invariant(cond bool, format string, args ...interface{}) {
	if !cond {
		logger.Panicf(format, args...)
		// logger.Panicf is a no-op when no logger has been initialised.
		panic(fmt.Sprintf(format, args...))
	}
}
