package pipeline_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openfabrics/ssad/core"
	"github.com/openfabrics/ssad/dbiface"
	"github.com/openfabrics/ssad/pipeline"
	"github.com/openfabrics/ssad/repl"
	"github.com/openfabrics/ssad/stats"
	"github.com/openfabrics/ssad/wire"
	"github.com/openfabrics/ssad/xport"
)

func TestAdminPing(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	self := core.Identity{NodeType: core.TypeCore}
	a := &pipeline.Admin{Self: self, Stats: stats.NewTracker(nil, "core")}
	sc := xport.NewConnection(server, xport.RoleDownstream, core.KindNone)
	go a.Serve(sc)

	cc := xport.NewConnection(client, xport.RoleUpstream, core.KindNone)
	req := wire.Frame{Header: wire.Header{Version: wire.Version, Class: wire.ClassAdmin, Opcode: wire.OpPing, Correlation: 1}}
	require.NoError(t, cc.SendFrame(req))

	h, err := cc.RecvHeader(wire.ClassAdmin)
	require.NoError(t, err)
	require.Equal(t, wire.OpPing, h.Opcode)
	require.Equal(t, wire.StatusSuccess, h.Status)
}

func TestAccessRecomputesOnSMDBUpdate(t *testing.T) {
	access := pipeline.NewAccess(dbiface.ReferencePRDB, stats.NewTracker(nil, "access"), 2)

	consumer := core.Identity{GID: core.GID{1}}
	store := access.RegisterConsumer(consumer)

	smdb, err := dbiface.ReferenceExtractor([]core.Identity{consumer, {GID: core.GID{2}}})(core.Epoch(1))
	require.NoError(t, err)

	access.OnSMDB(smdb)

	require.Eventually(t, func() bool { return store.Snapshot() != nil }, time.Second, 5*time.Millisecond)
	prdb := store.Snapshot()
	require.Equal(t, core.KindPRDB, prdb.Kind)
}

func TestDownstreamServesPublishedSMDB(t *testing.T) {
	a, b := net.Pipe()
	store := repl.NewStore()
	tables := []core.TableDef{{Name: "nodes", Epoch: 1, Fields: []byte("f"), Data: []byte("d")}}
	store.Publish(core.NewDB(core.KindSMDB, 1, []byte("def"), tables))

	self := core.Identity{GID: core.GID{9}, NodeType: core.TypeDistribution}
	down := pipeline.NewDownstream(core.KindSMDB, self, store, stats.NewTracker(nil, "dist"))
	serverConn := xport.NewConnection(b, xport.RoleDownstream, core.KindSMDB)
	go func() {
		srv := repl.NewServer(serverConn, down.Store)
		_ = srv.Serve()
	}()

	clientConn := xport.NewConnection(a, xport.RoleUpstream, core.KindSMDB)
	puller := repl.NewPuller(clientConn, core.KindSMDB)
	db, err := puller.Pull()
	require.NoError(t, err)
	require.Equal(t, core.Epoch(1), db.Epoch)
}
