package xport

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/openfabrics/ssad/cmn/atomic"
	"github.com/openfabrics/ssad/cmn/cos"
	"github.com/openfabrics/ssad/cmn/debug"
	"github.com/openfabrics/ssad/core"
	"github.com/openfabrics/ssad/wire"
)

type Role uint8

const (
	RoleListen Role = iota
	RoleUpstream
	RoleDownstream
)

type State uint8

const (
	StateIdle State = iota
	StateListening
	StateConnecting
	StateConnected
)

// Phase tracks where a connection sits in the fixed §4.3 pull sequence; the
// zero value, PhaseIdle, also means "no transfer in progress" for §4.4's
// update-readiness bookkeeping.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseDefs
	PhaseTblDefs
	PhaseFieldDefs
	PhaseData
)

// Connection is the per-link state described in spec §3. Every exported
// field listed there is represented; xport owns I/O and state/phase
// bookkeeping, repl drives the phase transitions, and pipeline owns the
// connection's lifetime.
type Connection struct {
	mu sync.Mutex

	sock Socket
	Role Role
	Kind core.Kind
	state atomic.Int32 // State
	phase atomic.Int32 // Phase

	recvBuf []byte
	recvOff int

	sendBuf  []byte
	sendBuf2 []byte // optional secondary send buffer: header+payload coalescing

	rdmaInProgress atomic.Bool

	// DB referenced while phase != Idle. §3 invariant: on the serving
	// side this holds a retained *core.DB; on the pulling side it holds
	// the DB under reconstruction.
	DB *core.DB

	Local  core.EpochBuf // this side's publishable epoch word
	Remote core.EpochBuf // mirrored copy of the peer's last-seen epoch

	ReconnectCount int

	PeerGID core.GID
	PeerLID core.LID

	ConnectedAt time.Time
}

func NewConnection(sock Socket, role Role, kind core.Kind) *Connection {
	c := &Connection{sock: sock, Role: role, Kind: kind, recvBuf: make([]byte, 64*1024), sendBuf: make([]byte, 64*1024)}
	c.state.Store(int32(StateConnected))
	return c
}

func (c *Connection) State() State { return State(c.state.Load()) }
func (c *Connection) SetState(s State) { c.state.Store(int32(s)) }

func (c *Connection) Phase() Phase     { return Phase(c.phase.Load()) }
func (c *Connection) SetPhase(p Phase) { c.phase.Store(int32(p)) }

// checkInvariants enforces the §3 Connection invariants relevant past the
// connect handshake; called from debug builds at phase transitions.
func (c *Connection) checkInvariants() {
	if !debug.ON() {
		return
	}
	debug.Assert(c.State() != StateConnected || c.sock != nil, "Connected requires a live socket")
	if c.Phase() != PhaseIdle {
		switch c.Role {
		case RoleDownstream:
			debug.Assert(c.DB != nil && c.DB.RefCnt() > 0, "serving phase requires a retained SMDB")
		case RoleUpstream:
			debug.Assert(c.DB != nil, "pulling phase requires a reconstruction DB")
		}
	}
	debug.Assert(c.sendBuf2 == nil || len(c.sendBuf) > 0, "sbuf2 requires a header send in flight")
}

// SendFrame writes header+payload as a single logical frame, always
// coalescing them into one underlying Write (mirrors the teacher's
// header+payload "sbuf2" coalescing in the Connection invariant).
func (c *Connection) SendFrame(f wire.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := f.Encode()
	_, err := c.sock.Write(buf)
	return err
}

// RecvHeader reads and validates exactly one frame header off the wire,
// closing the connection (via the caller) on any §4.1 protocol violation.
func (c *Connection) RecvHeader(class wire.Class) (wire.Header, error) {
	hdrBuf := make([]byte, wire.FrameHdrSize)
	if _, err := io.ReadFull(c.sock, hdrBuf); err != nil {
		return wire.Header{}, err
	}
	return wire.Decode(hdrBuf, class)
}

// RecvPayload reads exactly n bytes of frame payload following a header
// already consumed by RecvHeader.
func (c *Connection) RecvPayload(n uint32) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	_, err := io.ReadFull(c.sock, buf)
	return buf, err
}

// PublishEpoch emulates the one-sided RDMA write described in §3/§4.3/§4.4:
// the server pushes a new epoch to the puller without engaging the puller's
// phase machine. On real RDMA hardware this is a WRITE into mapped peer
// memory; here it rides an unsolicited Update frame that the receive loop
// intercepts ahead of (and independent from) the ordered phase sequence.
func (c *Connection) PublishEpoch(e core.Epoch) error {
	if !c.rdmaInProgress.CompareAndSwap(false, true) {
		return nil // a write is already in flight; the next one supersedes it
	}
	defer c.rdmaInProgress.Store(false)

	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, uint64(e))
	f := wire.Frame{
		Header: wire.Header{
			Version: wire.Version, Class: wire.ClassDB, Opcode: wire.OpUpdate,
			RDMAAddr: uint64(e), RDMALength: 8,
		},
		Payload: payload,
	}
	return c.SendFrame(f)
}

// RecvEpochUpdate decodes a frame produced by PublishEpoch and applies it
// to Local (called on the puller side once OpUpdate is recognized by the
// owning pipeline's dispatch loop -- see repl.Puller).
func (c *Connection) RecvEpochUpdate(payload []byte) (core.Epoch, error) {
	if len(payload) != 8 {
		return 0, wire.NewErrShortFrame(8, len(payload))
	}
	e := core.Epoch(binary.BigEndian.Uint64(payload))
	c.Local.Write(e)
	return e, nil
}

func (c *Connection) RemoteAddr() string {
	if c.sock == nil {
		return ""
	}
	return c.sock.RemoteAddr().String()
}

// Close tears down the socket synchronously on the calling goroutine. Real
// RDMA resource teardown can block for seconds (§5); this package has no
// pool that offloads it.
func (c *Connection) Close() error {
	c.SetState(StateIdle)
	if c.DB != nil && c.Phase() != PhaseIdle {
		c.DB.Release()
	}
	if c.sock == nil {
		return nil
	}
	return c.sock.Close()
}

var _ = cos.GenTie // keep cos imported for callers that tag connections with a tie-breaker id
