package dumpstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openfabrics/ssad/core"
	"github.com/openfabrics/ssad/dumpstore"
)

func TestPutGetLatest(t *testing.T) {
	dir := t.TempDir()
	store, err := dumpstore.Open(filepath.Join(dir, "dump.db"))
	require.NoError(t, err)
	defer store.Close()

	tables := []core.TableDef{{Name: "nodes", Epoch: 1, Fields: []byte("f"), Data: []byte("d")}}
	db1 := core.NewDB(core.KindSMDB, 1, []byte("def"), tables)
	db2 := core.NewDB(core.KindSMDB, 2, []byte("def"), tables)

	require.NoError(t, store.Put(db1))
	require.NoError(t, store.Put(db2))

	got, ok, err := store.Get(core.KindSMDB, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Equal(db1))

	latest, ok, err := store.Latest(core.KindSMDB)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, latest.Equal(db2))

	_, ok, err = store.Get(core.KindPRDB, 1)
	require.NoError(t, err)
	require.False(t, ok)
}
