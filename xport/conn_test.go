package xport_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openfabrics/ssad/core"
	"github.com/openfabrics/ssad/wire"
	"github.com/openfabrics/ssad/xport"
)

func pipeConns(t *testing.T) (*xport.Connection, *xport.Connection) {
	t.Helper()
	a, b := net.Pipe()
	return xport.NewConnection(a, xport.RoleUpstream, core.KindSMDB),
		xport.NewConnection(b, xport.RoleDownstream, core.KindSMDB)
}

func TestSendRecvFrame(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() {
		f := wire.Frame{
			Header:  wire.Header{Version: wire.Version, Class: wire.ClassDB, Opcode: wire.OpQueryDef},
			Payload: []byte("abc"),
		}
		done <- client.SendFrame(f)
	}()

	h, err := server.RecvHeader(wire.ClassDB)
	require.NoError(t, err)
	require.Equal(t, wire.OpQueryDef, h.Opcode)

	payload, err := server.RecvPayload(h.Length - wire.FrameHdrSize)
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), payload)
	require.NoError(t, <-done)
}

func TestPublishAndRecvEpochUpdate(t *testing.T) {
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()

	done := make(chan error, 1)
	go func() { done <- server.PublishEpoch(core.Epoch(7)) }()

	h, err := client.RecvHeader(wire.ClassDB)
	require.NoError(t, err)
	require.Equal(t, wire.OpUpdate, h.Opcode)

	payload, err := client.RecvPayload(h.Length - wire.FrameHdrSize)
	require.NoError(t, err)

	got, err := client.RecvEpochUpdate(payload)
	require.NoError(t, err)
	require.Equal(t, core.Epoch(7), got)
	require.Equal(t, core.Epoch(7), client.Local.Read())
	require.NoError(t, <-done)
}

func TestCloseReleasesDB(t *testing.T) {
	client, _ := pipeConns(t)
	db := core.NewDB(core.KindSMDB, core.Epoch(1), nil, nil)
	db.Retain()
	client.DB = db
	client.SetPhase(xport.PhaseData)
	require.NoError(t, client.Close())
	require.Equal(t, int64(0), db.RefCnt())
}
