// Package stats tracks the per-node counters the admin pipeline's
// OpCounter request answers (§4.9, §6), and exposes the
// same counters to Prometheus for operators who'd rather scrape than poll
// the admin port.
/*
 * Copyright (c) 2024, OpenFabrics Alliance. All rights reserved.
 */
package stats

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openfabrics/ssad/cmn/atomic"
)

// Names match what OpCounter reports verbatim in its admin payload so a
// CLI and a Prometheus dashboard agree on what a given number means.
const (
	JoinsAccepted   = "joins_accepted"
	JoinsDenied     = "joins_denied"
	Leaves          = "leaves"
	SMDBPublishes   = "smdb_publishes"
	PRDBRecomputes  = "prdb_recomputes"
	EpochPushes     = "epoch_pushes"
	BytesServed     = "bytes_served"
	ProtocolErrors  = "protocol_errors"
	ReconnectEvents = "reconnects"
)

var names = []string{
	JoinsAccepted, JoinsDenied, Leaves, SMDBPublishes,
	PRDBRecomputes, EpochPushes, BytesServed, ProtocolErrors, ReconnectEvents,
}

// Tracker is the counter registry one node process keeps. Safe for
// concurrent use from every pipeline goroutine.
type Tracker struct {
	counters map[string]*atomic.Int64
	gauges   map[string]prometheus.Counter
}

func NewTracker(reg *prometheus.Registry, nodeType string) *Tracker {
	t := &Tracker{counters: make(map[string]*atomic.Int64), gauges: make(map[string]prometheus.Counter)}
	for _, name := range names {
		t.counters[name] = &atomic.Int64{}
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "ssad",
			Subsystem:   nodeType,
			Name:        name,
			Help:        name + " cumulative count",
			ConstLabels: nil,
		})
		if reg != nil {
			reg.MustRegister(c)
		}
		t.gauges[name] = c
	}
	return t
}

func (t *Tracker) Inc(name string)            { t.Add(name, 1) }
func (t *Tracker) Add(name string, delta int64) {
	c, ok := t.counters[name]
	if !ok {
		return
	}
	c.Add(delta)
	if g, ok := t.gauges[name]; ok {
		g.Add(float64(delta))
	}
}

func (t *Tracker) Get(name string) int64 {
	c, ok := t.counters[name]
	if !ok {
		return 0
	}
	return c.Load()
}

// Snapshot returns every counter's current value, the payload OpCounter
// serializes back to an admin caller.
func (t *Tracker) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(t.counters))
	for name, c := range t.counters {
		out[name] = c.Load()
	}
	return out
}
