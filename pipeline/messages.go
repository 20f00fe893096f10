// Package pipeline wires the wire-protocol, connection, replication,
// tree, and admin packages into the running node process described by
// spec §4.5-§4.9: the upstream join state machine, the downstream accept
// loop, the access-node PRDB workers, the core-only extractor, and the
// admin control plane, all coordinated by a per-node Supervisor.
/*
 * Copyright (c) 2024, OpenFabrics Alliance. All rights reserved.
 */
package pipeline

import (
	"github.com/openfabrics/ssad/wire"
)

// AdminReply is the handler-side result for one admin-class request
// (§4.9), turned back into a wire.Frame by Admin.Serve.
type AdminReply struct {
	Status  wire.Status
	Payload []byte
}
