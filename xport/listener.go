package xport

import (
	"net"
	"sync"
	"time"

	"github.com/openfabrics/ssad/cmn/nlog"
	"github.com/openfabrics/ssad/core"
)

// Listener accepts inbound replication or admin connections and dispatches
// them to a handler, enforcing the §4.6 duplicate-peer rule: a second
// connection from a GID already registered takes over for the first, which
// is closed rather than left to rot.
type Listener struct {
	ln        net.Listener
	kind      core.Kind
	keepalive time.Duration
	handler   func(*Connection)

	mu    sync.Mutex
	byGID map[core.GID]*Connection
}

func NewListener(ln net.Listener, kind core.Kind, keepalive time.Duration, handler func(*Connection)) *Listener {
	return &Listener{ln: ln, kind: kind, keepalive: keepalive, handler: handler, byGID: make(map[core.GID]*Connection)}
}

// Serve runs the accept loop until the listener is closed. Each accepted
// connection is tuned per §4.6 and handed to handler on its own goroutine;
// handler is expected to call Listener.Register once it has identified the
// peer's GID (learned from the first frame, not from the socket).
func (l *Listener) Serve() error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			return err
		}
		AcceptTuning(conn, l.keepalive)
		c := NewConnection(conn, RoleDownstream, l.kind)
		go l.handler(c)
	}
}

// Register associates c with its peer's GID, closing and evicting any
// previously registered connection for that GID (§4.6: "a duplicate
// connection from the same peer GID replaces the prior one").
func (l *Listener) Register(gid core.GID, c *Connection) {
	l.mu.Lock()
	prev, had := l.byGID[gid]
	l.byGID[gid] = c
	l.mu.Unlock()
	if had && prev != c {
		nlog.Infof("xport: duplicate connection from %s, closing prior", gid)
		_ = prev.Close()
	}
}

// Unregister removes c if it is still the registered connection for gid;
// a connection that lost a takeover race must not evict its successor.
func (l *Listener) Unregister(gid core.GID, c *Connection) {
	l.mu.Lock()
	if cur, ok := l.byGID[gid]; ok && cur == c {
		delete(l.byGID, gid)
	}
	l.mu.Unlock()
}

func (l *Listener) Lookup(gid core.GID) (*Connection, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.byGID[gid]
	return c, ok
}

// All returns every currently-registered connection, used to fan an
// Update notification out to every identified peer (§4.6).
func (l *Listener) All() []*Connection {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Connection, 0, len(l.byGID))
	for _, c := range l.byGID {
		out = append(out, c)
	}
	return out
}

func (l *Listener) Close() error { return l.ln.Close() }
