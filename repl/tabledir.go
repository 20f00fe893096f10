// Package repl implements the replication protocol's phase sequencing on
// top of xport's frame-level Connection (spec §4.3, §4.4): the fixed pull
// order Idle -> Defs -> TableDefs -> FieldDefs -> Data -> Idle, correlation
// matching, refcounted snapshots that keep a mid-transfer DB from being
// swapped out from under a puller, and the Server.OnBusy/OnIdle hooks that
// pipeline.Downstream's update_prepare/update_waiting handshake counts.
/*
 * Copyright (c) 2024, OpenFabrics Alliance. All rights reserved.
 */
package repl

import (
	"encoding/binary"

	"github.com/openfabrics/ssad/wire"
)

// encodeTableDir serializes the ordered list of table names carried by a
// QueryTblDefDataset response. Table contents themselves (field defs, data)
// are opaque per core.TableDef and travel in their own per-table frames,
// addressed by table index via the frame header's Correlation field.
func encodeTableDir(names []string) []byte {
	buf := make([]byte, 0, 64)
	for _, n := range names {
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(n)))
		buf = append(buf, l[:]...)
		buf = append(buf, n...)
	}
	return buf
}

func decodeTableDir(payload []byte) ([]string, error) {
	var names []string
	for len(payload) > 0 {
		if len(payload) < 2 {
			return nil, wire.NewErrShortFrame(2, len(payload))
		}
		l := int(binary.BigEndian.Uint16(payload[:2]))
		payload = payload[2:]
		if len(payload) < l {
			return nil, wire.NewErrShortFrame(l, len(payload))
		}
		names = append(names, string(payload[:l]))
		payload = payload[l:]
	}
	return names, nil
}
