package repl

import (
	"fmt"

	"github.com/openfabrics/ssad/cmn/atomic"
	"github.com/openfabrics/ssad/core"
	"github.com/openfabrics/ssad/wire"
	"github.com/openfabrics/ssad/xport"
)

// Puller drives one upstream Connection through the fixed pull sequence
// (§4.3): Idle -> Defs -> TableDefs -> FieldDefs(per table) ->
// Data(per table) -> Idle. One Puller serves exactly one Connection for
// its lifetime; reconnects get a fresh Puller.
type Puller struct {
	Conn *xport.Connection
	Kind core.Kind

	corr atomic.Uint32
}

func NewPuller(c *xport.Connection, kind core.Kind) *Puller {
	return &Puller{Conn: c, Kind: kind}
}

func (p *Puller) nextCorr() uint32 { return p.corr.Add(1) }

// roundTrip sends a request frame and reads back the matching response,
// rejecting a reply whose correlation id doesn't match the request's --
// the fixed pull sequence never has more than one request in flight per
// connection, so a mismatch means the peer is confused or malicious.
func (p *Puller) roundTrip(op wire.Opcode, corr uint32, reqPayload []byte) (wire.Header, []byte, error) {
	req := wire.Frame{
		Header:  wire.Header{Version: wire.Version, Class: wire.ClassDB, Correlation: corr, Opcode: op},
		Payload: reqPayload,
	}
	if err := p.Conn.SendFrame(req); err != nil {
		return wire.Header{}, nil, err
	}
	h, err := p.Conn.RecvHeader(wire.ClassDB)
	if err != nil {
		return wire.Header{}, nil, err
	}
	// An unsolicited Update push may arrive ahead of the response; it is
	// applied to the connection's epoch word and skipped here.
	for h.Opcode == wire.OpUpdate && !h.IsResp() {
		payload, err := p.Conn.RecvPayload(h.Length - wire.FrameHdrSize)
		if err != nil {
			return wire.Header{}, nil, err
		}
		if _, err := p.Conn.RecvEpochUpdate(payload); err != nil {
			return wire.Header{}, nil, err
		}
		if h, err = p.Conn.RecvHeader(wire.ClassDB); err != nil {
			return wire.Header{}, nil, err
		}
	}
	if h.Correlation != corr {
		return h, nil, fmt.Errorf("repl: correlation mismatch: want %d got %d", corr, h.Correlation)
	}
	if h.Status != wire.StatusSuccess {
		return h, nil, fmt.Errorf("repl: request denied (status %d)", h.Status)
	}
	payload, err := p.Conn.RecvPayload(h.Length - wire.FrameHdrSize)
	if err != nil {
		return h, nil, err
	}
	return h, payload, nil
}

// expectEnd issues one more request past the last real table index and
// requires the reply to be the zero-payload End-flagged terminator frame
// that closes a per-table dataset stream (§4.3, §4.4).
func (p *Puller) expectEnd(op wire.Opcode, corr uint32) error {
	h, payload, err := p.roundTrip(op, corr, nil)
	if err != nil {
		return err
	}
	if !h.IsEnd() || len(payload) != 0 {
		return fmt.Errorf("repl: expected End terminator for %s, got flags=%d len=%d", op, h.Flags, len(payload))
	}
	return nil
}

// Pull runs one full pass of the pull sequence and returns the assembled
// DB. The connection's phase is kept in lockstep so a concurrent
// PublishEpoch-driven update (observed via RecvEpochUpdate) never lands
// mid-sequence without the caller knowing -- see §8's phase-monotonicity
// invariant.
func (p *Puller) Pull() (*core.DB, error) {
	p.Conn.SetPhase(xport.PhaseDefs)
	_, def, err := p.roundTrip(wire.OpQueryDef, p.nextCorr(), nil)
	if err != nil {
		p.Conn.SetPhase(xport.PhaseIdle)
		return nil, err
	}

	p.Conn.SetPhase(xport.PhaseTblDefs)
	_, dirPayload, err := p.roundTrip(wire.OpQueryTblDef, p.nextCorr(), nil)
	if err != nil {
		p.Conn.SetPhase(xport.PhaseIdle)
		return nil, err
	}
	_, tdPayload, err := p.roundTrip(wire.OpQueryTblDefDataset, p.nextCorr(), nil)
	if err != nil {
		p.Conn.SetPhase(xport.PhaseIdle)
		return nil, err
	}
	names, err := decodeTableDir(tdPayload)
	if err != nil {
		p.Conn.SetPhase(xport.PhaseIdle)
		return nil, err
	}
	_ = dirPayload // reserved: per-table epoch/def metadata, opaque here

	tables := make([]core.TableDef, len(names))
	for i, name := range names {
		tables[i].Name = name
	}

	p.Conn.SetPhase(xport.PhaseFieldDefs)
	for i := range tables {
		_, fields, err := p.roundTrip(wire.OpQueryFieldDefDataset, uint32(i), nil)
		if err != nil {
			p.Conn.SetPhase(xport.PhaseIdle)
			return nil, err
		}
		tables[i].Fields = fields
	}
	if err := p.expectEnd(wire.OpQueryFieldDefDataset, uint32(len(tables))); err != nil {
		p.Conn.SetPhase(xport.PhaseIdle)
		return nil, err
	}

	p.Conn.SetPhase(xport.PhaseData)
	for i := range tables {
		h, data, err := p.roundTrip(wire.OpQueryDataDataset, uint32(i), nil)
		if err != nil {
			p.Conn.SetPhase(xport.PhaseIdle)
			return nil, err
		}
		if h.Flags.Has(wire.FlagCompressed) {
			data, err = wire.DecompressPayload(data, int(h.RDMALength))
			if err != nil {
				p.Conn.SetPhase(xport.PhaseIdle)
				return nil, err
			}
		}
		tables[i].Data = data
		tables[i].Epoch = core.Epoch(h.RDMAAddr)
	}
	if err := p.expectEnd(wire.OpQueryDataDataset, uint32(len(tables))); err != nil {
		p.Conn.SetPhase(xport.PhaseIdle)
		return nil, err
	}

	db := core.NewDB(p.Kind, core.Epoch(0), def, tables)
	if len(tables) > 0 {
		db.Epoch = tables[0].Epoch
	}
	p.Conn.SetPhase(xport.PhaseIdle)
	return db, nil
}

// Subscribe registers this connection for asynchronous epoch push
// notifications (§3's one-sided-write analog). Must be called once after
// the first successful Pull; PublishEpoch on the server side is otherwise
// meaningless since the puller has nothing to compare its mirrored epoch
// against.
func (p *Puller) Subscribe() error {
	f := wire.Frame{Header: wire.Header{Version: wire.Version, Class: wire.ClassDB, Opcode: wire.OpPublishEpochBuf}}
	return p.Conn.SendFrame(f)
}
