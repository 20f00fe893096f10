package pipeline

import (
	"net"

	jsoniter "github.com/json-iterator/go"

	"github.com/openfabrics/ssad/cmn/nlog"
	"github.com/openfabrics/ssad/core"
	"github.com/openfabrics/ssad/stats"
	"github.com/openfabrics/ssad/wire"
	"github.com/openfabrics/ssad/xport"
)

var adminJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// NodeInfo is the JSON payload OpNodeInfo replies with (§4.9, §6).
type NodeInfo struct {
	GID      string `json:"gid"`
	NodeType string `json:"node_type"`
	SMDBPort int    `json:"smdb_port"`
	PRDBPort int    `json:"prdb_port"`
}

// Admin answers admin-class requests: Ping, Counter, NodeInfo, Disconnect
// (§4.9). It holds no protocol state of its own beyond what's needed to
// answer those four opcodes.
type Admin struct {
	Self  core.Identity
	Stats *stats.Tracker
	Ports struct{ SMDB, PRDB int }

	// OnDisconnect is invoked for an OpDisconnect request naming a peer
	// GID to forcibly drop, e.g. wired to a Listener.Unregister+Close.
	OnDisconnect func(gid core.GID)
}

// Serve answers admin requests on conn until it errors or the peer
// disconnects.
func (a *Admin) Serve(conn *xport.Connection) error {
	for {
		h, err := conn.RecvHeader(wire.ClassAdmin)
		if err != nil {
			return err
		}
		payload, err := conn.RecvPayload(h.Length - wire.FrameHdrSize)
		if err != nil {
			return err
		}
		resp := a.handle(h, payload)
		f := wire.Frame{Header: wire.Header{
			Version: wire.Version, Class: wire.ClassAdmin, Opcode: h.Opcode,
			Correlation: h.Correlation, Flags: wire.FlagResp, Status: resp.Status,
		}, Payload: resp.Payload}
		if err := conn.SendFrame(f); err != nil {
			return err
		}
	}
}

func (a *Admin) handle(h wire.Header, payload []byte) AdminReply {
	switch h.Opcode {
	case wire.OpPing:
		return AdminReply{Status: wire.StatusSuccess}
	case wire.OpCounter:
		snap := a.Stats.Snapshot()
		buf, err := adminJSON.Marshal(snap)
		if err != nil {
			nlog.Errorf("admin: marshal counters: %v", err)
			return AdminReply{Status: wire.StatusRequestDenied}
		}
		return AdminReply{Status: wire.StatusSuccess, Payload: buf}
	case wire.OpNodeInfo:
		info := NodeInfo{
			GID: a.Self.GID.String(), NodeType: a.Self.NodeType.String(),
			SMDBPort: a.Ports.SMDB, PRDBPort: a.Ports.PRDB,
		}
		buf, err := adminJSON.Marshal(info)
		if err != nil {
			return AdminReply{Status: wire.StatusRequestDenied}
		}
		return AdminReply{Status: wire.StatusSuccess, Payload: buf}
	case wire.OpDisconnect:
		if len(payload) >= 16 && a.OnDisconnect != nil {
			var gid core.GID
			copy(gid[:], payload[:16])
			a.OnDisconnect(gid)
		}
		return AdminReply{Status: wire.StatusSuccess}
	default:
		return AdminReply{Status: wire.StatusRequestDenied}
	}
}

// Listen runs the admin accept loop on addr, handing each accepted
// connection to Serve on its own goroutine. One admin client is served at
// a time: accepting a new client closes the previous client's connection.
func (a *Admin) Listen(addr string) error {
	ln, err := xport.Listen(addr)
	if err != nil {
		return err
	}
	var prev net.Conn
	for {
		nc, err := ln.Accept()
		if err != nil {
			return err
		}
		if prev != nil {
			_ = prev.Close()
		}
		prev = nc
		conn := xport.NewConnection(nc, xport.RoleDownstream, core.KindNone)
		go func() {
			if err := a.Serve(conn); err != nil {
				nlog.Infof("admin: connection from %s closed: %v", connRemote(nc), err)
			}
		}()
	}
}

func connRemote(nc net.Conn) string { return nc.RemoteAddr().String() }
