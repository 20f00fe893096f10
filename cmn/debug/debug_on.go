//go:build debug

/*
 * Copyright (c) 2024, OpenFabrics Alliance. All rights reserved.
 */
package debug

import (
	"fmt"
	"sync"
)

func ON() bool { return true }

func Assert(cond bool, args ...any) {
	if !cond {
		panic(fmt.Sprintln(append([]any{"assertion failed:"}, args...)...))
	}
}

func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}

// AssertMutexLocked is a best-effort check: sync.Mutex exposes no public
// "is locked" query, so this relies on TryLock, which is itself racy under
// concurrent callers -- intended for single-threaded debug assertions only,
// e.g. "this must run with the tree manager's list lock already held".
func AssertMutexLocked(mu *sync.Mutex) {
	if mu.TryLock() {
		mu.Unlock()
		panic("mutex not locked")
	}
}

func AssertRWMutexLocked(mu *sync.RWMutex) {
	if mu.TryLock() {
		mu.Unlock()
		panic("rwmutex not locked")
	}
}
