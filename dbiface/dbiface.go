// Package dbiface defines the pluggable boundary around the two
// out-of-scope pure functions spec §1 names but does not specify:
// extracting an SMDB from subnet state, and computing a PRDB from an
// SMDB for one consumer. Callers supply an implementation; this package
// also ships a small deterministic reference implementation used by
// tests and by a development build with no real subnet to extract from.
/*
 * Copyright (c) 2024, OpenFabrics Alliance. All rights reserved.
 */
package dbiface

import (
	"sort"

	"github.com/openfabrics/ssad/core"
)

// Extractor produces a fresh SMDB snapshot. The real implementation walks
// live subnet topology and MAD-sourced routing state (out of scope,
// §1); it is supplied by whatever embeds this fabric.
type Extractor interface {
	Extract(epoch core.Epoch) (*core.DB, error)
}

// PRDBFunc computes a per-consumer PRDB from the current SMDB. Pure and
// deterministic in the real fabric (§1 "compute_prdb is a pure function
// of the SMDB and the consumer's identity"); consumers pass a closure
// bound to an actual routing-table algorithm.
type PRDBFunc func(smdb *core.DB, consumer core.Identity, epoch core.Epoch) (*core.DB, error)

// ExtractorFunc adapts a plain function to Extractor.
type ExtractorFunc func(epoch core.Epoch) (*core.DB, error)

func (f ExtractorFunc) Extract(epoch core.Epoch) (*core.DB, error) { return f(epoch) }

// ReferenceExtractor returns a deterministic, content-free SMDB: one
// "nodes" table listing the given identities sorted by GID. It exists so
// the tree/access/extract pipelines can be exercised end to end without a
// real subnet, and is what the test suite in pipeline/ uses.
func ReferenceExtractor(members []core.Identity) ExtractorFunc {
	return func(epoch core.Epoch) (*core.DB, error) {
		sorted := append([]core.Identity(nil), members...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].GID.String() < sorted[j].GID.String() })
		data := make([]byte, 0, len(sorted)*16)
		for _, m := range sorted {
			data = append(data, m.GID[:]...)
		}
		table := core.TableDef{Name: "nodes", Epoch: epoch, Fields: []byte("gid:16"), Data: data}
		return core.NewDB(core.KindSMDB, epoch, []byte("def:nodes"), []core.TableDef{table}), nil
	}
}

// ReferencePRDB computes a trivial PRDB: a copy of the SMDB's "nodes"
// table filtered to entries whose GID differs from the consumer's own
// (a minimal stand-in for a real reachability computation).
func ReferencePRDB(smdb *core.DB, consumer core.Identity, epoch core.Epoch) (*core.DB, error) {
	nt, ok := smdb.Table(0)
	if !ok {
		return core.NewDB(core.KindPRDB, epoch, smdb.Def, nil), nil
	}
	filtered := make([]byte, 0, len(nt.Data))
	for i := 0; i+16 <= len(nt.Data); i += 16 {
		var gid core.GID
		copy(gid[:], nt.Data[i:i+16])
		if gid != consumer.GID {
			filtered = append(filtered, gid[:]...)
		}
	}
	table := core.TableDef{Name: nt.Name, Epoch: epoch, Fields: nt.Fields, Data: filtered}
	return core.NewDB(core.KindPRDB, epoch, smdb.Def, []core.TableDef{table}), nil
}
