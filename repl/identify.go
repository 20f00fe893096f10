package repl

import (
	"encoding/binary"
	"fmt"

	"github.com/openfabrics/ssad/core"
	"github.com/openfabrics/ssad/wire"
)

// identityPayloadLen is a GID (16 bytes) followed by a big-endian LID
// (2 bytes) -- the minimum a peer must announce before the accepting side
// can record it and enforce duplicate-peer takeover (§4.6).
const identityPayloadLen = 18

func encodeIdentity(id core.Identity) []byte {
	buf := make([]byte, identityPayloadLen)
	copy(buf[:16], id.GID[:])
	binary.BigEndian.PutUint16(buf[16:18], uint16(id.LID))
	return buf
}

func decodeIdentity(buf []byte) (core.GID, core.LID, error) {
	if len(buf) != identityPayloadLen {
		return core.GID{}, 0, fmt.Errorf("repl: short identify payload: %d bytes", len(buf))
	}
	var gid core.GID
	copy(gid[:], buf[:16])
	lid := core.LID(binary.BigEndian.Uint16(buf[16:18]))
	return gid, lid, nil
}

// Identify sends this side's identity as the first frame on a freshly
// dialed replication connection and waits for the accepting side's ack
// (§4.6). It must be called exactly once, before Pull.
func (p *Puller) Identify(self core.Identity) error {
	req := wire.Frame{
		Header:  wire.Header{Version: wire.Version, Class: wire.ClassDB, Opcode: wire.OpIdentify, Correlation: p.nextCorr()},
		Payload: encodeIdentity(self),
	}
	if err := p.Conn.SendFrame(req); err != nil {
		return err
	}
	h, err := p.Conn.RecvHeader(wire.ClassDB)
	if err != nil {
		return err
	}
	if _, err := p.Conn.RecvPayload(h.Length - wire.FrameHdrSize); err != nil {
		return err
	}
	if h.Status != wire.StatusSuccess {
		return fmt.Errorf("repl: identify denied (status %d)", h.Status)
	}
	return nil
}

// AcceptIdentity reads the first frame off a freshly accepted connection,
// which must be OpIdentify, records the peer's GID/LID onto the
// connection, and acks it. Returns the decoded identity for the caller to
// register with its Listener (§4.6).
func AcceptIdentity(c interface {
	RecvHeader(wire.Class) (wire.Header, error)
	RecvPayload(uint32) ([]byte, error)
	SendFrame(wire.Frame) error
}) (core.GID, core.LID, error) {
	h, err := c.RecvHeader(wire.ClassDB)
	if err != nil {
		return core.GID{}, 0, err
	}
	payload, err := c.RecvPayload(h.Length - wire.FrameHdrSize)
	if err != nil {
		return core.GID{}, 0, err
	}
	if h.Opcode != wire.OpIdentify {
		return core.GID{}, 0, fmt.Errorf("repl: expected Identify, got %s", h.Opcode)
	}
	gid, lid, err := decodeIdentity(payload)
	status := wire.StatusSuccess
	if err != nil {
		status = wire.StatusRequestDenied
	}
	resp := wire.Frame{Header: wire.Header{
		Version: wire.Version, Class: wire.ClassDB, Opcode: wire.OpIdentify,
		Correlation: h.Correlation, Flags: wire.FlagResp, Status: status,
	}}
	if sendErr := c.SendFrame(resp); sendErr != nil {
		return core.GID{}, 0, sendErr
	}
	return gid, lid, err
}
