package pipeline

import (
	"time"

	"github.com/openfabrics/ssad/cmn/nlog"
	"github.com/openfabrics/ssad/core"
	"github.com/openfabrics/ssad/dbiface"
	"github.com/openfabrics/ssad/hk"
	"github.com/openfabrics/ssad/repl"
	"github.com/openfabrics/ssad/stats"
)

// Extractor is the core-only component (§4.8) that periodically snapshots
// subnet state into a candidate SMDB, publishes it to the local Store and
// pushes the new epoch to every subscribed downstream connection only if
// it is structurally different from what's already published (§4.7's
// diff gate extended to the SMDB side) -- an unchanged snapshot never
// advances the epoch or disturbs a connection mid-transfer.
type Extractor struct {
	Source   dbiface.Extractor
	Store    *repl.Store
	Stats    *stats.Tracker
	Interval time.Duration

	epoch core.Epoch

	// Subscribers returns the set of pushers currently registered for
	// epoch-update notifications (§4.4's update_prepare/update_waiting
	// handshake is implemented on the pusher side, typically a
	// Downstream); wired to the downstream listeners' connection sets.
	Subscribers func() []EpochPusher
}

// EpochPusher is the minimal surface Extractor needs from a connection to
// deliver an update notification (§3, one-sided-write analog).
type EpochPusher interface {
	PublishEpoch(core.Epoch) error
}

func NewExtractor(src dbiface.Extractor, store *repl.Store, st *stats.Tracker, interval time.Duration) *Extractor {
	return &Extractor{Source: src, Store: store, Stats: st, Interval: interval}
}

// Start registers the periodic extraction callback with hk and returns
// immediately; hk's own goroutine drives it from then on.
func (e *Extractor) Start() {
	hk.Reg("ssa-extract", e.tick, e.Interval)
}

func (e *Extractor) tick() time.Duration {
	candidate, err := e.Source.Extract(e.epoch.Next())
	if err != nil {
		nlog.Errorf("extract: %v", err)
		return e.Interval
	}

	prev := e.Store.Snapshot()
	unchanged := prev != nil && !prdbChanged(prev, candidate)
	if prev != nil {
		prev.Release()
	}
	if unchanged {
		return e.Interval
	}

	e.epoch = candidate.Epoch
	e.Store.Publish(candidate)
	if e.Stats != nil {
		e.Stats.Inc(stats.SMDBPublishes)
	}
	if e.Subscribers != nil {
		for _, sub := range e.Subscribers() {
			// PublishEpoch on a Downstream blocks here until that
			// pusher's own update_pending/update_waiting handshake
			// clears (§4.4) before the notification actually goes out.
			if err := sub.PublishEpoch(candidate.Epoch); err != nil {
				nlog.Warningf("extract: push to subscriber failed: %v", err)
			} else if e.Stats != nil {
				e.Stats.Inc(stats.EpochPushes)
			}
		}
	}
	return e.Interval
}
