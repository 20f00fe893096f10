package pipeline

import (
	"context"
	"math/rand"
	"time"

	"github.com/openfabrics/ssad/cmn/nlog"
	"github.com/openfabrics/ssad/core"
	"github.com/openfabrics/ssad/repl"
	"github.com/openfabrics/ssad/stats"
	"github.com/openfabrics/ssad/wire"
	"github.com/openfabrics/ssad/xport"
)

// Upstream drives one connection's join-and-pull lifecycle against a
// parent address (§4.5): dial, pull the full DB, subscribe for epoch push
// notifications, and re-pull whenever one arrives. A dial or protocol
// failure restarts from the top with exponential backoff and jitter
// rather than hammering a parent that denied the join or dropped the
// connection.
type Upstream struct {
	Kind      core.Kind
	Self      core.Identity
	ParentDNS func() string // resolved lazily: the tree manager may reassign parents
	Keepalive time.Duration
	Stats     *stats.Tracker

	// OnDB is called with each freshly pulled DB; the access pipeline
	// wires this to its PRDB recompute trigger, the core wires nothing
	// (a core has no upstream).
	OnDB func(*core.DB)

	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func NewUpstream(kind core.Kind, self core.Identity, parentDNS func() string, st *stats.Tracker, onDB func(*core.DB)) *Upstream {
	return &Upstream{
		Kind: kind, Self: self, ParentDNS: parentDNS, Stats: st, OnDB: onDB,
		MinBackoff: 200 * time.Millisecond, MaxBackoff: 30 * time.Second,
	}
}

// Run loops forever, maintaining one live pull connection to the current
// parent until ctx is canceled.
func (u *Upstream) Run(ctx context.Context) {
	backoff := u.MinBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		if err := u.cycle(ctx); err != nil {
			if u.Stats != nil {
				u.Stats.Inc(stats.ReconnectEvents)
			}
			nlog.Warningf("upstream(%s): %v, retrying in %s", u.Kind, err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitter(backoff)):
			}
			backoff = nextBackoff(backoff, u.MaxBackoff)
			continue
		}
		backoff = u.MinBackoff
	}
}

// cycle dials the parent, runs one Pull, subscribes, and then blocks
// serving epoch-update notifications (each triggering a fresh Pull, since
// deltas are disabled, §6) until the connection errors.
func (u *Upstream) cycle(ctx context.Context) error {
	addr := u.ParentDNS()
	if addr == "" {
		return errNoParentYet
	}
	sock, err := xport.Dial(ctx, addr, u.Keepalive)
	if err != nil {
		return err
	}
	conn := xport.NewConnection(sock, xport.RoleUpstream, u.Kind)
	defer conn.Close()

	puller := repl.NewPuller(conn, u.Kind)
	if err := puller.Identify(u.Self); err != nil {
		return err
	}
	for {
		db, err := puller.Pull()
		if err != nil {
			return err
		}
		if u.OnDB != nil {
			u.OnDB(db)
		}
		if err := puller.Subscribe(); err != nil {
			return err
		}
		h, err := conn.RecvHeader(wire.ClassDB)
		if err != nil {
			return err
		}
		payload, err := conn.RecvPayload(h.Length - wire.FrameHdrSize)
		if err != nil {
			return err
		}
		if _, err := conn.RecvEpochUpdate(payload); err != nil {
			return err
		}
		if u.Stats != nil {
			u.Stats.Inc(stats.EpochPushes)
		}
		// loop: re-pull on notification
	}
}

var errNoParentYet = errNoParent{}

type errNoParent struct{}

func (errNoParent) Error() string { return "no parent address resolved yet" }

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		next = max
	}
	return next
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)/2+1))
}
