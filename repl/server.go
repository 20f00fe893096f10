package repl

import (
	"fmt"
	"sync"

	"github.com/openfabrics/ssad/cmn/cos"
	"github.com/openfabrics/ssad/core"
	"github.com/openfabrics/ssad/wire"
	"github.com/openfabrics/ssad/xport"
)

// Store holds the current published DB of one kind and hands out
// refcounted snapshots to servers. A new snapshot never blocks: a
// connection mid-transfer keeps serving the snapshot it retained when it
// entered Defs, and the old snapshot is freed once the last such
// connection releases it (§5 "SMDB reference on a server-side is
// refcounted"); this is what keeps a publish from ever truncating a
// transfer in progress, without the two sides needing a blocking
// handshake to get there.
type Store struct {
	mu      sync.RWMutex
	current *core.DB
}

func NewStore() *Store { return &Store{} }

// Publish installs db as the new current snapshot. The previous snapshot
// is left to drain via its own refcount.
func (s *Store) Publish(db *core.DB) {
	s.mu.Lock()
	s.current = db
	s.mu.Unlock()
}

// Snapshot returns the current DB retained for the caller; the caller must
// Release it once done (on return to PhaseIdle).
func (s *Store) Snapshot() *core.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	s.current.Retain()
	return s.current
}

// Server answers one downstream Connection's requests by walking it
// through the same fixed phase sequence the Puller drives, but from the
// serving side, enforcing phase monotonicity (§8: a peer cannot request
// QueryDataDataset before QueryTblDefDataset) and StatusRequestDenied when
// there is nothing published yet (§4.2, §6).
type Server struct {
	Conn  *xport.Connection
	Store *Store

	// OnBusy and OnIdle, when set, fire as the connection leaves and
	// returns to PhaseIdle, letting the owning pipeline count active
	// transfers for the §4.4 update_pending/update_waiting gate.
	OnBusy func()
	OnIdle func()
}

func NewServer(c *xport.Connection, store *Store) *Server {
	return &Server{Conn: c, Store: store}
}

func (s *Server) markBusy() {
	if s.Conn.Phase() == xport.PhaseIdle && s.OnBusy != nil {
		s.OnBusy()
	}
}

func (s *Server) markIdle() {
	if s.OnIdle != nil {
		s.OnIdle()
	}
}

// Serve answers requests on Conn until it errors or the peer disconnects.
// It is the mirror image of Puller.Pull, running on the accepting side of
// one replication connection.
func (s *Server) Serve() error {
	defer func() {
		// A connection that drops mid-transfer must still release its
		// slot in the owning pipeline's active-transfer count, or a
		// later update_prepare would wait forever on a peer that's gone.
		if s.Conn.Phase() != xport.PhaseIdle {
			s.markIdle()
		}
	}()
	for {
		h, err := s.Conn.RecvHeader(wire.ClassDB)
		if err != nil {
			return err
		}
		payload, err := s.Conn.RecvPayload(h.Length - wire.FrameHdrSize)
		if err != nil {
			return err
		}
		if err := s.dispatch(h, payload); err != nil {
			return err
		}
	}
}

func (s *Server) dispatch(h wire.Header, _ []byte) error {
	switch h.Opcode {
	case wire.OpQueryDef:
		return s.handleQueryDef(h)
	case wire.OpQueryTblDef:
		return s.handleQueryTblDef(h)
	case wire.OpQueryTblDefDataset:
		return s.handleQueryTblDefDataset(h)
	case wire.OpQueryFieldDefDataset:
		return s.handleFieldDefDataset(h)
	case wire.OpQueryDataDataset:
		return s.handleDataDataset(h)
	case wire.OpPublishEpochBuf:
		return nil // subscription is implicit: PublishEpoch just starts sending Update frames
	default:
		return fmt.Errorf("repl: unexpected opcode %s in Defs..Data sequence", h.Opcode)
	}
}

func (s *Server) expectPhase(want xport.Phase) error {
	// Monotonic: Defs < TblDefs < FieldDefs < Data. A request for phase N
	// is accepted only while the connection is in phase N-1 or N
	// (continuation); QueryDef therefore starts a pull only from Idle (or
	// restarts one still in Defs), and no phase can be skipped or revisited.
	cur := s.Conn.Phase()
	if cur != want && cur != want-1 {
		return fmt.Errorf("repl: phase violation: have %d want %d", cur, want)
	}
	return nil
}

func (s *Server) deny(h wire.Header) error {
	resp := wire.Frame{Header: wire.Header{
		Version: wire.Version, Class: wire.ClassDB, Opcode: h.Opcode,
		Correlation: h.Correlation, Flags: wire.FlagResp, Status: wire.StatusRequestDenied,
	}}
	return s.Conn.SendFrame(resp)
}

func (s *Server) handleQueryDef(h wire.Header) error {
	if err := s.expectPhase(xport.PhaseDefs); err != nil {
		return err
	}
	db := s.Store.Snapshot()
	if db == nil {
		return s.deny(h)
	}
	s.markBusy()
	if s.Conn.DB != nil {
		s.Conn.DB.Release()
	}
	s.Conn.DB = db
	s.Conn.SetPhase(xport.PhaseDefs)
	return s.respond(h, db.Def, 0)
}

func (s *Server) handleQueryTblDef(h wire.Header) error {
	if err := s.expectPhase(xport.PhaseTblDefs); err != nil {
		return err
	}
	s.Conn.SetPhase(xport.PhaseTblDefs)
	return s.respond(h, nil, 0) // per-table def metadata is carried in the dataset frame that follows
}

func (s *Server) handleQueryTblDefDataset(h wire.Header) error {
	db := s.Conn.DB
	if db == nil {
		return s.deny(h)
	}
	names := make([]string, db.TableCount())
	for i := range names {
		t, _ := db.Table(i)
		names[i] = t.Name
	}
	return s.respond(h, encodeTableDir(names), 0)
}

// handleFieldDefDataset iterates one table's field-def payload per call,
// keyed by the request's correlation id as a table index; once the index
// runs past the last table it returns the zero-payload End-flagged frame
// that terminates the per-table stream (§4.4).
func (s *Server) handleFieldDefDataset(h wire.Header) error {
	if err := s.expectPhase(xport.PhaseFieldDefs); err != nil {
		return err
	}
	s.Conn.SetPhase(xport.PhaseFieldDefs)
	db := s.Conn.DB
	idx := int(h.Correlation)
	if idx >= db.TableCount() {
		return s.respondFull(h, nil, 0, 0, wire.FlagEnd)
	}
	t, ok := db.Table(idx)
	if !ok {
		return s.deny(h)
	}
	return s.respond(h, t.Fields, 0)
}

// handleDataDataset is the data-table mirror of handleFieldDefDataset: one
// frame per table, then a zero-payload End frame that releases the SMDB
// refcount and returns the connection to Idle (§4.4) -- only then is it
// safe to swap the server's DB reference for a newer snapshot.
func (s *Server) handleDataDataset(h wire.Header) error {
	if err := s.expectPhase(xport.PhaseData); err != nil {
		return err
	}
	s.Conn.SetPhase(xport.PhaseData)
	db := s.Conn.DB
	idx := int(h.Correlation)
	if idx >= db.TableCount() {
		s.Conn.SetPhase(xport.PhaseIdle)
		db.Release()
		s.Conn.DB = nil
		s.markIdle()
		return s.respondFull(h, nil, 0, 0, wire.FlagEnd)
	}
	t, ok := db.Table(idx)
	if !ok {
		return s.deny(h)
	}

	payload, flags, rdmaLength := t.Data, wire.Flags(0), uint32(0)
	if len(t.Data) > wire.CompressThreshold {
		if compressed, ok := wire.CompressPayload(t.Data); ok {
			payload, flags, rdmaLength = compressed, wire.FlagCompressed, uint32(len(t.Data))
		}
	}
	return s.respondFull(h, payload, uint64(t.Epoch), rdmaLength, flags)
}

func (s *Server) respond(h wire.Header, payload []byte, rdmaAddr uint64) error {
	return s.respondFull(h, payload, rdmaAddr, 0, 0)
}

func (s *Server) respondFull(h wire.Header, payload []byte, rdmaAddr uint64, rdmaLength uint32, extra wire.Flags) error {
	resp := wire.Frame{
		Header: wire.Header{
			Version: wire.Version, Class: wire.ClassDB, Opcode: h.Opcode,
			Correlation: h.Correlation, Flags: wire.FlagResp | extra, Status: wire.StatusSuccess,
			RDMAAddr: rdmaAddr, RDMALength: rdmaLength,
		},
		Payload: payload,
	}
	return s.Conn.SendFrame(resp)
}

var _ = cos.GenCorrelationID // keeps cos imported; replication and admin frames carry a uint32 Correlation and do not use this generator
