package pipeline

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/openfabrics/ssad/cmn/nlog"
	"github.com/openfabrics/ssad/core"
	"github.com/openfabrics/ssad/dbiface"
	"github.com/openfabrics/ssad/repl"
	"github.com/openfabrics/ssad/stats"
)

// Access recomputes one PRDB per registered consumer whenever a new SMDB
// arrives, fanning the work out across a small worker pool (§4.7). Each
// consumer's PRDB is published to its own Store so the downstream
// pipeline can serve it independently of the others.
type Access struct {
	Compute dbiface.PRDBFunc
	Stats   *stats.Tracker
	Workers int

	mu        sync.RWMutex
	consumers map[core.GID]*repl.Store
	// epochs tracks an independent, monotonically increasing prdb_epoch
	// per consumer (§5, §8), bumped only when a recompute actually
	// differs from the consumer's last published PRDB -- never copied
	// from the SMDB's own epoch, which advances on every tick regardless
	// of whether any consumer's view changed.
	epochs map[core.GID]core.Epoch
}

func NewAccess(compute dbiface.PRDBFunc, st *stats.Tracker, workers int) *Access {
	if workers <= 0 {
		workers = 4
	}
	return &Access{
		Compute: compute, Stats: st, Workers: workers,
		consumers: make(map[core.GID]*repl.Store), epochs: make(map[core.GID]core.Epoch),
	}
}

// RegisterConsumer wires a consumer's PRDB to its own Store, created on
// first use. Returns the Store so the downstream pipeline can attach it
// to the consumer's dedicated PRDB listener.
func (a *Access) RegisterConsumer(id core.Identity) *repl.Store {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.consumers[id.GID]; ok {
		return s
	}
	s := repl.NewStore()
	a.consumers[id.GID] = s
	a.epochs[id.GID] = core.InvalidEpoch
	return s
}

func (a *Access) UnregisterConsumer(gid core.GID) {
	a.mu.Lock()
	delete(a.consumers, gid)
	delete(a.epochs, gid)
	a.mu.Unlock()
}

type recomputeJob struct {
	id    core.Identity
	store *repl.Store
}

// OnSMDB recomputes every registered consumer's PRDB against the new
// SMDB, bounded to Workers concurrent computations. A recompute that
// comes out structurally identical to the consumer's last published PRDB
// is dropped rather than republished (§4.7's "iff structurally
// different" gate, via core.DB.Equal); one that does differ is stamped
// with the next value of that consumer's own prdb_epoch counter, which
// advances independently of the SMDB's epoch (§5, §8).
func (a *Access) OnSMDB(smdb *core.DB) {
	a.mu.RLock()
	jobs := make([]recomputeJob, 0, len(a.consumers))
	for gid, store := range a.consumers {
		jobs = append(jobs, recomputeJob{id: core.Identity{GID: gid}, store: store})
	}
	a.mu.RUnlock()
	if len(jobs) == 0 {
		return
	}

	var eg errgroup.Group
	eg.SetLimit(a.Workers)
	for _, j := range jobs {
		j := j
		eg.Go(func() error {
			prdb, err := a.Compute(smdb, j.id, smdb.Epoch)
			if err != nil {
				nlog.Errorf("access: compute PRDB for %s: %v", j.id.GID, err)
				return nil // one consumer's failure doesn't abort the others
			}

			prev := j.store.Snapshot()
			if prev != nil && !prdbChanged(prev, prdb) {
				prev.Release()
				return nil
			}
			if prev != nil {
				prev.Release()
			}

			a.mu.Lock()
			next := a.epochs[j.id.GID].Next()
			a.epochs[j.id.GID] = next
			a.mu.Unlock()
			prdb.Epoch = next
			for i := range prdb.Tables {
				prdb.Tables[i].Epoch = next
			}

			j.store.Publish(prdb)
			if a.Stats != nil {
				a.Stats.Inc(stats.PRDBRecomputes)
			}
			return nil
		})
	}
	_ = eg.Wait()
}

// prdbChanged reports whether next's content differs from prev,
// comparing everything core.DB.Equal does except the epoch fields --
// those are about to be overwritten with this consumer's own prdb_epoch
// and carry no information about whether the computation actually
// changed anything (§4.7).
func prdbChanged(prev, next *core.DB) bool {
	if prev.Kind != next.Kind || len(prev.Tables) != len(next.Tables) {
		return true
	}
	if string(prev.Def) != string(next.Def) {
		return true
	}
	for i := range next.Tables {
		a, b := prev.Tables[i], next.Tables[i]
		if a.Name != b.Name || string(a.Fields) != string(b.Fields) || string(a.Data) != string(b.Data) {
			return true
		}
	}
	return false
}
