package kfmt

import "microkern/kernel"

// haltFn performs the final CPU halt once an unrecoverable error has been
// logged. The kernel core wires this to arch.Platform.HaltCPU once during
// Init; until then it's a no-op so early Panic calls (e.g. from package
// init code) still log instead of crashing the test binary.
var haltFn = func() {}

// SetHaltFn installs the function Panic calls after logging. Call this once
// during boot with arch.Platform.HaltCPU.
func SetHaltFn(fn func()) {
	if fn != nil {
		haltFn = fn
	}
}

var errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}

// Panic logs the supplied error (if any) to both the allocation-free Printf
// path and the structured logger, then halts the CPU via haltFn. Panic
// returns to its caller if haltFn returns.
func Panic(e interface{}) {
	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		panicString(t)
		return
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
		Logger().Errorw("kernel panic", "module", err.Module, "message", err.Message)
	} else {
		Logger().Error("kernel panic")
	}
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	haltFn()
}

// panicString serves as the target for a string-valued panic, normalizing
// it into a *kernel.Error before routing through Panic.
func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}
