// Package mad narrows the MAD (management datagram) transport the real
// fabric uses to discover path records and exchange join/leave control
// traffic (out of scope, spec §1: "MAD send/receive plumbing ... is not
// specified here") down to the handful of calls the tree manager and
// supervisor actually need, so they can be built and tested against a
// fake without a real subnet manager.
/*
 * Copyright (c) 2024, OpenFabrics Alliance. All rights reserved.
 */
package mad

import (
	"context"

	"github.com/openfabrics/ssad/core"
)

// PathRecord carries what the tree manager's bad_parent verification
// (Manager.VerifyBadParents) learns about a path to another node: the
// peer's identity, hop count, and whether the subnet manager currently
// reports it reachable. find_best_parent itself does not query paths.
type PathRecord struct {
	Peer      core.Identity
	HopCount  int
	Reachable bool
}

// Client is the MAD surface this fabric consumes. A production build
// backs it with real verbs/MAD I/O; tests and the reference deployment
// use the in-memory Fake below.
type Client interface {
	// QueryPath resolves a path record to target, used by the tree
	// manager to re-check members flagged bad_parent.
	QueryPath(ctx context.Context, target core.GID) (PathRecord, error)
	// LocalIdentity returns this node's own GID/LID/Pkey as reported by
	// the local port.
	LocalIdentity(ctx context.Context) (core.Identity, error)
}

// Fake is an in-memory Client for tests: a fixed identity plus a table of
// path records keyed by peer GID (grounded on the teacher's mock stats
// tracker pattern -- a minimal struct satisfying the interface with
// canned answers).
type Fake struct {
	Self  core.Identity
	Paths map[core.GID]PathRecord
}

var _ Client = (*Fake)(nil)

func NewFake(self core.Identity) *Fake {
	return &Fake{Self: self, Paths: make(map[core.GID]PathRecord)}
}

func (f *Fake) Set(peer core.GID, rec PathRecord) { f.Paths[peer] = rec }

func (f *Fake) QueryPath(_ context.Context, target core.GID) (PathRecord, error) {
	if rec, ok := f.Paths[target]; ok {
		return rec, nil
	}
	return PathRecord{}, ErrNoPath
}

func (f *Fake) LocalIdentity(_ context.Context) (core.Identity, error) { return f.Self, nil }

// ErrNoPath is returned when the subnet manager has no path record for a
// requested target, the MAD-transport analog of an unreachable peer.
var ErrNoPath = noPathErr{}

type noPathErr struct{}

func (noPathErr) Error() string { return "mad: no path record for target" }
