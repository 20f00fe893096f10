// Package mono provides a monotonic-clock reading used for epoch
// timestamps, backoff jitter, and idle-timeout bookkeeping.
/*
 * Copyright (c) 2024, OpenFabrics Alliance. All rights reserved.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns nanoseconds elapsed since process start, monotonic and
// cheap to call from hot paths (every frame send/recv touches a timer).
func NanoTime() int64 { return int64(time.Since(start)) }

func Since(t int64) time.Duration { return time.Duration(NanoTime() - t) }
