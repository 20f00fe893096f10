// Package hk provides a mechanism for registering cleanup and periodic
// maintenance functions which are invoked at specified intervals: log
// flushing, stale-connection reaping, epoch-dump rotation, and similar
// background chores shared across the core, distribution, access, and
// admin pipelines.
/*
 * Copyright (c) 2024, OpenFabrics Alliance. All rights reserved.
 */
package hk

import (
	"container/heap"
	"sync"
	"time"

	"github.com/openfabrics/ssad/cmn/cos"
	"github.com/openfabrics/ssad/cmn/nlog"
)

// UnregInterval is a sentinel a callback returns to deregister itself
// instead of being rescheduled.
const UnregInterval = time.Duration(-1)

type request struct {
	name     string
	f        func() time.Duration
	interval time.Duration
	unreg    bool
}

type timedEntry struct {
	name string
	f    func() time.Duration
	due  time.Time
}

type entryHeap []*timedEntry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)         { *h = append(*h, x.(*timedEntry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Housekeeper runs registered callbacks on their own interval, one at a
// time off a single goroutine -- callbacks are expected to be quick or to
// hand long work off to their own goroutine, same as the teacher's
// background-task conventions elsewhere in this fabric.
type Housekeeper struct {
	reqs    chan request
	started chan struct{}
	stopCh  chan struct{}
	once    sync.Once

	entries entryHeap
	byName  map[string]*timedEntry
}

var DefaultHK = New()

func New() *Housekeeper {
	return &Housekeeper{
		reqs:    make(chan request, 64),
		started: make(chan struct{}),
		stopCh:  make(chan struct{}),
		byName:  make(map[string]*timedEntry),
	}
}

// TestInit resets DefaultHK for a fresh test run; production code never
// calls this.
func TestInit() { DefaultHK = New() }

// Reg schedules f to run every interval, starting after interval elapses.
// name must be unique; registering the same name twice replaces the prior
// entry.
func Reg(name string, f func() time.Duration, interval time.Duration) {
	DefaultHK.reqs <- request{name: name, f: f, interval: interval}
}

// Unreg deregisters a previously registered callback by name.
func Unreg(name string) {
	DefaultHK.reqs <- request{name: name, unreg: true}
}

// NameSuffix appends a short tie-breaker so a caller can register
// multiple instances of a logically-named callback (e.g. one per
// connection) without a collision.
func NameSuffix(base string) string { return base + "-" + cos.GenTie() }

// WaitStarted blocks until DefaultHK.Run's goroutine has entered its main
// loop, used by tests that register callbacks immediately after starting it.
func WaitStarted() { <-DefaultHK.started }

// Run is the housekeeper's main loop; callers start it on its own
// goroutine once per process (or once per test, via TestInit).
func (hk *Housekeeper) Run() {
	hk.once.Do(func() { close(hk.started) })
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		hk.resetTimer(timer)
		select {
		case <-hk.stopCh:
			return
		case req := <-hk.reqs:
			hk.handleReq(req)
		case <-timer.C:
			hk.fireDue()
		}
	}
}

func (hk *Housekeeper) Stop() { close(hk.stopCh) }

func (hk *Housekeeper) handleReq(req request) {
	if old, ok := hk.byName[req.name]; ok {
		hk.removeEntry(old)
	}
	if req.unreg {
		return
	}
	e := &timedEntry{name: req.name, f: req.f, due: time.Now().Add(req.interval)}
	hk.byName[req.name] = e
	heap.Push(&hk.entries, e)
}

func (hk *Housekeeper) removeEntry(target *timedEntry) {
	for i, e := range hk.entries {
		if e == target {
			heap.Remove(&hk.entries, i)
			break
		}
	}
	delete(hk.byName, target.name)
}

func (hk *Housekeeper) resetTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	if len(hk.entries) == 0 {
		timer.Reset(time.Hour)
		return
	}
	d := time.Until(hk.entries[0].due)
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

func (hk *Housekeeper) fireDue() {
	now := time.Now()
	for len(hk.entries) > 0 && !hk.entries[0].due.After(now) {
		e := heap.Pop(&hk.entries).(*timedEntry)
		delete(hk.byName, e.name)
		next := e.f()
		if next == UnregInterval {
			continue
		}
		e.due = now.Add(next)
		hk.byName[e.name] = e
		heap.Push(&hk.entries, e)
	}
}

var _ = nlog.Infof // kept for callers that log registration failures inline
