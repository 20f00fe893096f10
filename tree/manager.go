package tree

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/openfabrics/ssad/cmn/nlog"
	"github.com/openfabrics/ssad/core"
	"github.com/openfabrics/ssad/mad"
)

// ErrNoParent is returned by FindBestParent when no eligible candidate
// exists, which maps to wire.StatusRequestDenied on the join path (§4.2,
// §6: "no parent yet, retry later").
var ErrNoParent = errors.New("tree: no eligible parent available")

// MaxChildren is a nominal per-node fan-out figure. FindBestParent does
// not consult it: parent choice is by lowest child count alone, with no
// upper bound on a parent's children.
const MaxChildren = 32

// joinTimeout is the default window (§4.2 step 3) during which an Access
// node that already has a live previous parent keeps it rather than
// re-running the distribution-list load balance.
const joinTimeout = 30 * time.Second

// Manager owns the GID-keyed membership table and the join/leave/
// rebalance policy (§4.2). It holds the only owning references to
// Member values; everything else refers to them by GID or Handle.
//
// distList and accList are the "two list hooks" the member record keeps
// (§3): every Distribution-capable member lives in distList, every
// Access-capable member lives in accList, in join order, independent of
// whether it currently has a parent of its own.
type Manager struct {
	mu      sync.RWMutex
	byGID   map[core.GID]*Member
	distList []*Member
	accList  []*Member
	mc      mad.Client
	selfGID core.GID
}

func NewManager(mc mad.Client, self core.Identity) *Manager {
	return &Manager{byGID: make(map[core.GID]*Member), mc: mc, selfGID: self.GID}
}

// OnJoin atomically inserts a not-yet-seen GID or updates the record
// already held for it -- a member that already exists (e.g. rejoining
// after its parent went bad, §4.5) is never rejected, only re-run through
// FindBestParent -- and returns the chosen parent's GID (the local core's
// own GID if the core itself is the parent).
func (m *Manager) OnJoin(ctx context.Context, id core.Identity) (core.GID, error) {
	m.mu.Lock()
	mem, exists := m.byGID[id.GID]
	if !exists {
		mem = NewMember(id)
		m.byGID[id.GID] = mem
		if mem.NodeType.Has(core.TypeDistribution) {
			m.distList = append(m.distList, mem)
		}
		if mem.NodeType.Has(core.TypeAccess) {
			m.accList = append(m.accList, mem)
		}
	} else {
		// node_type is immutable for the member's lifetime (§3); only
		// routing metadata can have changed across a rejoin.
		mem.LID = id.LID
		mem.Pkey = id.Pkey
	}
	m.mu.Unlock()

	parent, err := m.FindBestParent(mem)
	if err != nil {
		return core.GID{}, err
	}
	m.attach(mem, parent)
	nlog.Infof("tree: %s joined under parent %s", id.GID, parent)
	return parent, nil
}

// OnLeave removes a member and returns its former children, which must be
// rejoined to new parents by the caller via Rebalance. Each former child
// is flagged bad_parent against the departed GID so find_best_parent
// won't hand it straight back out on rejoin.
func (m *Manager) OnLeave(gid core.GID) []core.GID {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.byGID[gid]
	if !ok {
		return nil
	}
	delete(m.byGID, gid)
	m.distList = removeMember(m.distList, gid)
	m.accList = removeMember(m.accList, gid)
	if !mem.Parent.IsZero() {
		if p, ok := m.byGID[mem.Parent]; ok {
			p.removeChild(mem.NodeType.Has(core.TypeConsumer))
		}
	}
	var orphans []core.GID
	for g, child := range m.byGID {
		if child.Parent == gid {
			child.BadParent = true
			child.BadParentGID = gid
			child.Parent = core.GID{}
			orphans = append(orphans, g)
		}
	}
	return orphans
}

func removeMember(list []*Member, gid core.GID) []*Member {
	for i, mem := range list {
		if mem.GID == gid {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// OnPathRecord updates the manager's view after a fresh MAD path-record
// query, used to clear a stale BadParent flag once a replacement route is
// confirmed reachable.
func (m *Manager) OnPathRecord(gid core.GID, rec mad.PathRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mem, ok := m.byGID[gid]; ok && rec.Reachable {
		mem.BadParent = false
		mem.BadParentGID = core.GID{}
	}
}

// VerifyBadParents re-queries the subnet administrator for every member
// currently flagged BadParent and, for any whose path now resolves and is
// reachable, clears the flag via OnPathRecord -- this is what lets a
// member that stuck to its previous parent (§4.2 step 3) resume using it
// instead of only ever recovering through an explicit OnLeave/Rebalance
// cycle. Returns the GIDs that just recovered, so the caller can retry
// Rebalance against them if it wishes.
func (m *Manager) VerifyBadParents(ctx context.Context) []core.GID {
	m.mu.RLock()
	candidates := make([]core.GID, 0)
	for g, mem := range m.byGID {
		if mem.BadParent {
			candidates = append(candidates, g)
		}
	}
	m.mu.RUnlock()

	var recovered []core.GID
	for _, g := range candidates {
		rec, err := m.mc.QueryPath(ctx, g)
		if err != nil {
			nlog.Warningf("tree: path query for %s failed: %v", g, err)
			continue
		}
		if rec.Reachable {
			m.OnPathRecord(g, rec)
			recovered = append(recovered, g)
		}
	}
	return recovered
}

// Rebalance re-parents every member currently flagged BadParent or
// explicitly listed in orphans (from a departed parent), in GID order for
// determinism.
func (m *Manager) Rebalance(ctx context.Context, orphans []core.GID) {
	ids := make([]core.GID, 0, len(orphans))
	ids = append(ids, orphans...)
	m.mu.RLock()
	for g, mem := range m.byGID {
		if mem.BadParent {
			already := false
			for _, o := range ids {
				if o == g {
					already = true
					break
				}
			}
			if !already {
				ids = append(ids, g)
			}
		}
	}
	m.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	for _, g := range ids {
		m.mu.RLock()
		mem, ok := m.byGID[g]
		m.mu.RUnlock()
		if !ok {
			continue
		}
		parent, err := m.FindBestParent(mem)
		if err != nil {
			nlog.Warningf("tree: rebalance could not place %s: %v", g, err)
			continue
		}
		m.attach(mem, parent)
	}
}

func (m *Manager) attach(mem *Member, parent core.GID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !mem.Parent.IsZero() {
		if old, ok := m.byGID[mem.Parent]; ok {
			old.removeChild(mem.NodeType.Has(core.TypeConsumer))
		}
	}
	mem.Parent = parent
	mem.PrevParent = parent
	mem.BadParent = false
	mem.BadParentGID = core.GID{}
	if p, ok := m.byGID[parent]; ok {
		p.addChild(mem.NodeType.Has(core.TypeConsumer))
	}
}

// FindBestParent implements the §4.2 find_best_parent policy exactly:
//
//  1. Stickiness: a member with a live, non-bad current parent keeps it.
//  2. Core, Distribution, Core|Access and Distribution|Access nodes
//     always parent to the local core.
//  3. A pure Access node with a previous parent that still exists in the
//     member map, recorded within the last join_timeout and not flagged
//     bad_parent, keeps that previous parent (topology stability).
//  4. Otherwise an Access node falls back to the distribution-list member
//     with the lowest child_count, ties broken by list order; an empty
//     distribution list falls back to the local core.
//  5. A Consumer attaches to the access-list member with the lowest
//     access_child_count, excluding whichever GID its bad_parent evidence
//     names; with no eligible access member the join is denied.
func (m *Manager) FindBestParent(joining *Member) (core.GID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := joining.NodeType

	// 1. Stickiness.
	if !joining.Parent.IsZero() && !joining.BadParent {
		if _, ok := m.byGID[joining.Parent]; ok {
			return joining.Parent, nil
		}
	}

	// 2. Core/Distribution (pure or combined with Access) always parent
	// to the local core.
	if t.Has(core.TypeCore) || t.Has(core.TypeDistribution) {
		return m.selfGID, nil
	}

	if t.Has(core.TypeAccess) {
		// 3. Previous-parent stability.
		if !joining.PrevParent.IsZero() && !joining.BadParent {
			if _, ok := m.byGID[joining.PrevParent]; ok {
				if time.Since(joining.JoinedAt) < joinTimeout {
					return joining.PrevParent, nil
				}
			}
		}
		// 4. Distribution-list minimum child_count, list-order tie-break.
		var best *Member
		for _, mem := range m.distList {
			if mem.GID == joining.GID {
				continue
			}
			if best == nil || mem.ChildCount() < best.ChildCount() {
				best = mem
			}
		}
		if best != nil {
			return best.GID, nil
		}
		return m.selfGID, nil
	}

	if t.Has(core.TypeConsumer) {
		// 5. Access-list minimum access_child_count, excluding bad_parent
		// evidence.
		var best *Member
		for _, mem := range m.accList {
			if mem.GID == joining.GID || mem.GID == joining.BadParentGID {
				continue
			}
			if best == nil || mem.AccessChildCount() < best.AccessChildCount() {
				best = mem
			}
		}
		if best != nil {
			return best.GID, nil
		}
		return core.GID{}, ErrNoParent
	}

	return core.GID{}, ErrNoParent
}

func (m *Manager) Lookup(gid core.GID) (*Member, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.byGID[gid]
	return mem, ok
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byGID)
}
