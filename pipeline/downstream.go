package pipeline

import (
	"sync"
	"time"

	"github.com/openfabrics/ssad/cmn/nlog"
	"github.com/openfabrics/ssad/core"
	"github.com/openfabrics/ssad/repl"
	"github.com/openfabrics/ssad/stats"
	"github.com/openfabrics/ssad/xport"
)

// Downstream runs the §4.6 accept loop for one replication port (SMDB or
// PRDB), serving whatever Store currently holds and enforcing the
// duplicate-peer takeover rule via xport.Listener. It also plays the
// server side of §4.4's update_prepare/update_waiting handshake: an
// upstream PublishEpoch call blocks here (update_pending) until every
// connection currently mid-transfer returns to Idle (update_waiting)
// before the new epoch is pushed out to registered peers.
type Downstream struct {
	Kind  core.Kind
	Self  core.Identity
	Store *repl.Store
	Stats *stats.Tracker

	listener *xport.Listener

	mu      sync.Mutex
	active  int
	pending bool
	readyCh chan struct{}
}

func NewDownstream(kind core.Kind, self core.Identity, store *repl.Store, st *stats.Tracker) *Downstream {
	return &Downstream{Kind: kind, Self: self, Store: store, Stats: st}
}

// Serve opens addr and runs the accept loop until it errors.
func (d *Downstream) Serve(addr string, keepalive time.Duration) error {
	ln, err := xport.Listen(addr)
	if err != nil {
		return err
	}
	d.listener = xport.NewListener(ln, d.Kind, keepalive, d.handle)
	return d.listener.Serve()
}

func (d *Downstream) handle(c *xport.Connection) {
	defer c.Close()

	gid, lid, err := repl.AcceptIdentity(c)
	if err != nil {
		nlog.Infof("downstream(%s): identify from %s failed: %v", d.Kind, c.RemoteAddr(), err)
		if d.Stats != nil {
			d.Stats.Inc(stats.ProtocolErrors)
		}
		return
	}
	c.PeerGID, c.PeerLID = gid, lid
	d.listener.Register(gid, c)
	defer d.listener.Unregister(gid, c)

	// §4.6: push the currently published epoch to a freshly accepted
	// peer immediately, rather than waiting for the next extractor tick.
	if db := d.Store.Snapshot(); db != nil {
		if err := c.PublishEpoch(db.Epoch); err != nil {
			nlog.Warningf("downstream(%s): accept-time push to %s failed: %v", d.Kind, gid, err)
		}
		db.Release()
	}

	srv := repl.NewServer(c, d.Store)
	srv.OnBusy = d.enterTransfer
	srv.OnIdle = d.leaveTransfer
	if err := srv.Serve(); err != nil {
		nlog.Infof("downstream(%s): connection from %s ended: %v", d.Kind, c.RemoteAddr(), err)
		if d.Stats != nil {
			d.Stats.Inc(stats.ProtocolErrors)
		}
	}
}

func (d *Downstream) enterTransfer() {
	d.mu.Lock()
	d.active++
	d.mu.Unlock()
}

func (d *Downstream) leaveTransfer() {
	d.mu.Lock()
	d.active--
	if d.active < 0 {
		d.active = 0
	}
	if d.active == 0 && d.pending {
		d.pending = false
		if d.readyCh != nil {
			close(d.readyCh)
			d.readyCh = nil
		}
	}
	d.mu.Unlock()
}

// PublishEpoch implements EpochPusher. It is the server side of the §4.4
// update_prepare/update_waiting handshake: if any connection is currently
// mid-transfer it sets update_pending and blocks until the last one
// returns to Idle (update_waiting), then forwards the epoch to every
// registered peer. Exactly one handshake is outstanding at a time -- a
// concurrent caller joins the handshake already pending instead of
// starting a second one.
func (d *Downstream) PublishEpoch(e core.Epoch) error {
	d.mu.Lock()
	if d.active == 0 {
		d.mu.Unlock()
	} else {
		if d.readyCh == nil {
			d.readyCh = make(chan struct{})
		}
		ch := d.readyCh
		d.pending = true
		d.mu.Unlock()
		<-ch
	}

	if d.listener == nil {
		return nil
	}
	var firstErr error
	for _, c := range d.listener.All() {
		if err := c.PublishEpoch(e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
