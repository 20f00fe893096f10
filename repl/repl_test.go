package repl_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openfabrics/ssad/core"
	"github.com/openfabrics/ssad/repl"
	"github.com/openfabrics/ssad/xport"
)

func newPair(t *testing.T) (*xport.Connection, *xport.Connection) {
	t.Helper()
	a, b := net.Pipe()
	return xport.NewConnection(a, xport.RoleUpstream, core.KindSMDB),
		xport.NewConnection(b, xport.RoleDownstream, core.KindSMDB)
}

func sampleDB() *core.DB {
	tables := []core.TableDef{
		{Name: "nodes", Epoch: 5, Fields: []byte("f0"), Data: []byte("d0")},
		{Name: "links", Epoch: 5, Fields: []byte("f1"), Data: []byte("d1")},
	}
	return core.NewDB(core.KindSMDB, 5, []byte("def"), tables)
}

func TestPullRoundTrip(t *testing.T) {
	client, server := newPair(t)
	defer client.Close()
	defer server.Close()

	store := repl.NewStore()
	store.Publish(sampleDB())

	srv := repl.NewServer(server, store)
	go srv.Serve()

	puller := repl.NewPuller(client, core.KindSMDB)
	db, err := puller.Pull()
	require.NoError(t, err)
	require.True(t, db.Equal(sampleDB()))
}

func TestPullDeniedWithNoPublishedDB(t *testing.T) {
	client, server := newPair(t)
	defer client.Close()
	defer server.Close()

	srv := repl.NewServer(server, repl.NewStore())
	go srv.Serve()

	puller := repl.NewPuller(client, core.KindSMDB)
	_, err := puller.Pull()
	require.Error(t, err)
}

func TestServeReleasesDBAfterLastTable(t *testing.T) {
	client, server := newPair(t)
	defer client.Close()
	defer server.Close()

	store := repl.NewStore()
	db := sampleDB()
	store.Publish(db)

	srv := repl.NewServer(server, store)
	go srv.Serve()

	puller := repl.NewPuller(client, core.KindSMDB)
	_, err := puller.Pull()
	require.NoError(t, err)
	require.Equal(t, int64(0), db.RefCnt())
}

func TestInFlightSnapshotSurvivesRepublish(t *testing.T) {
	store := repl.NewStore()
	first := sampleDB()
	store.Publish(first)

	// A connection mid-transfer retains the snapshot current at the time
	// it entered Defs.
	retained := store.Snapshot()
	require.True(t, retained.Equal(first))

	// A concurrent publish must not disturb a retained-but-stale snapshot.
	store.Publish(sampleDB())
	require.True(t, retained.Equal(first))
	require.Equal(t, int64(1), retained.RefCnt())

	retained.Release()
	require.Equal(t, int64(0), retained.RefCnt())
}
