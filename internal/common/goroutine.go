package common

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/ternarybob/arbor"
)

var goroutineCounter int64

// GetGoroutineCount returns the number of goroutines spawned via SafeGo
func GetGoroutineCount() int64 {
	return atomic.LoadInt64(&goroutineCounter)
}

// SafeGo runs fn in a goroutine with panic recovery. A panic is logged and
// passed to onPanic (if non-nil) instead of crashing the process.
//
// Example:
//
//	common.SafeGo(logger, "collection:"+key, func() {
//	    runner.RunCollection(ctx, coll)
//	}, nil)
func SafeGo(logger arbor.ILogger, name string, fn func(), onPanic func(r interface{})) {
	atomic.AddInt64(&goroutineCounter, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				Recovered(logger, name, r)
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()

		fn()
	}()
}

// Recovered logs a recovered panic value with its stack
func Recovered(logger arbor.ILogger, name string, r interface{}) {
	stackTrace := GetStackTrace()
	if logger != nil {
		logger.Error().
			Str("goroutine", name).
			Str("panic", fmt.Sprintf("%v", r)).
			Str("stack", stackTrace).
			Msg("Recovered from panic in goroutine")
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, stackTrace)
}
