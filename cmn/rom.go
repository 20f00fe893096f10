// Package cmn provides configuration, read-mostly runtime knobs, and error
// types shared by every SSAD package.
/*
 * Copyright (c) 2024, OpenFabrics Alliance. All rights reserved.
 */
package cmn

import "time"

// readMostly holds a handful of hot-path knobs pre-parsed out of *Config so
// the connection engine and pipelines don't re-derive them on every frame.
// Populated once at startup (Rom.Set); the option file is not reloaded.
type readMostly struct {
	joinTimeout time.Duration
	keepalive   time.Duration
	nodeType    NodeType
	deltasOff   bool
}

var Rom readMostly

func (r *readMostly) Set(c *Config) {
	r.joinTimeout = c.JoinTimeout
	r.keepalive = c.Keepalive
	r.nodeType = c.NodeType
	r.deltasOff = !c.SMDBDeltas
}

func (r *readMostly) JoinTimeout() time.Duration { return r.joinTimeout }
func (r *readMostly) Keepalive() time.Duration   { return r.keepalive }
func (r *readMostly) NodeType() NodeType         { return r.nodeType }
func (r *readMostly) DeltasOff() bool            { return r.deltasOff }
