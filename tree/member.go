// Package tree implements the core-side membership and parent-selection
// policy described in spec §3/§4.2: a GID-keyed table of members, each
// tracking its parent/children, and the rebalancing logic that runs when
// membership changes.
/*
 * Copyright (c) 2024, OpenFabrics Alliance. All rights reserved.
 */
package tree

import (
	"time"

	"github.com/openfabrics/ssad/cmn/atomic"
	"github.com/openfabrics/ssad/cmn/cos"
	"github.com/openfabrics/ssad/core"
)

// Member is one node's record in the distribution tree (§3): identity,
// current and previous parent, join start time, the bad_parent flag (and
// which parent it was raised against), and the counts used by
// find_best_parent's load-balancing steps. Accessed through the owning
// index in Manager, never passed around by pointer across goroutines
// without it.
type Member struct {
	Handle cos.Handle
	core.Identity

	// Parent is the current parent GID, zero if the member has none
	// (orphaned, pending reassignment).
	Parent core.GID

	// PrevParent is the last parent this member was attached to, kept
	// even after Parent is cleared so find_best_parent's topology-
	// stability check (§4.2 step 3) can still see it.
	PrevParent core.GID

	// JoinedAt is the join start time recorded once, at first admission;
	// it is not reset by a later rejoin/reattach of the same GID.
	JoinedAt time.Time

	childCount       atomic.Int32
	accessChildCount atomic.Int32

	// BadParent marks a member whose current (or most recent) parent
	// failed a liveness check; find_best_parent excludes the offending
	// parent (BadParentGID) from candidacy until a new one sticks.
	BadParent    bool
	BadParentGID core.GID
}

func NewMember(id core.Identity) *Member {
	return &Member{Handle: cos.GIDHandle(id.GID.Hi(), id.GID.Lo()), Identity: id, JoinedAt: time.Now()}
}

func (m *Member) ChildCount() int32       { return m.childCount.Load() }
func (m *Member) AccessChildCount() int32 { return m.accessChildCount.Load() }

// addChild bumps this member's child_count, and its access_child_count as
// well when the newly attached child is a Consumer -- access_child_count
// specifically tracks Consumer fan-out under an Access node (§3, §4.2
// step 5's "minimum access_child_count").
func (m *Member) addChild(isConsumer bool) {
	m.childCount.Add(1)
	if isConsumer {
		m.accessChildCount.Add(1)
	}
}

func (m *Member) removeChild(isConsumer bool) {
	m.childCount.Add(-1)
	if isConsumer {
		m.accessChildCount.Add(-1)
	}
}
