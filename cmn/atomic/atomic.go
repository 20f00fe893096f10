// Package atomic re-exports the stdlib atomic types under the short names
// used throughout the fabric (atomic.Int64, atomic.Bool, ...) so call
// sites read the same way they do in the teacher codebase.
/*
 * Copyright (c) 2024, OpenFabrics Alliance. All rights reserved.
 */
package atomic

import "sync/atomic"

type (
	Int64  = atomic.Int64
	Int32  = atomic.Int32
	Uint64 = atomic.Uint64
	Uint32 = atomic.Uint32
	Bool   = atomic.Bool
)
