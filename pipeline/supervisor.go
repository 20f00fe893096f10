package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/openfabrics/ssad/cmn"
	"github.com/openfabrics/ssad/cmn/nlog"
	"github.com/openfabrics/ssad/core"
	"github.com/openfabrics/ssad/dbiface"
	"github.com/openfabrics/ssad/hk"
	"github.com/openfabrics/ssad/mad"
	"github.com/openfabrics/ssad/repl"
	"github.com/openfabrics/ssad/stats"
	"github.com/openfabrics/ssad/tree"
)

// Supervisor is component J: it owns every other pipeline for one node
// process and starts the subset appropriate to the node's configured
// NodeType (§4.9) -- a combined core+access node runs all of them, a
// plain access node skips the extractor and tree manager.
type Supervisor struct {
	Cfg  *cmn.Config
	Self core.Identity

	Stats   *prometheus.Registry
	Tracker *stats.Tracker

	SMDBStore *repl.Store
	PRDBStore *repl.Store

	Tree   *tree.Manager
	Access *Access
	Admin  *Admin

	extractor  *Extractor
	downSMDB   *Downstream
	downPRDB   *Downstream
	upSMDB     *Upstream
	parentAddr string
}

// New builds a Supervisor with every sub-pipeline wired but not yet
// started; New never blocks or dials.
func New(cfg *cmn.Config, self core.Identity, mc mad.Client) *Supervisor {
	reg := prometheus.NewRegistry()
	tracker := stats.NewTracker(reg, string(cfg.NodeType))
	sv := &Supervisor{
		Cfg: cfg, Self: self, Stats: reg, Tracker: tracker,
		SMDBStore: repl.NewStore(), PRDBStore: repl.NewStore(),
	}
	if self.NodeType.Has(core.TypeCore) || self.NodeType.Has(core.TypeDistribution) {
		sv.Tree = tree.NewManager(mc, self)
		hk.Reg("ssa-badparent-verify", sv.verifyBadParents, cmn.Rom.Keepalive())
	}
	sv.Access = NewAccess(dbiface.ReferencePRDB, tracker, 4)
	sv.Admin = &Admin{Self: self, Stats: tracker, OnDisconnect: sv.disconnect}
	sv.Admin.Ports.SMDB = cfg.SMDBPort
	sv.Admin.Ports.PRDB = cfg.PRDBPort

	sv.downSMDB = NewDownstream(core.KindSMDB, self, sv.SMDBStore, tracker)
	sv.downPRDB = NewDownstream(core.KindPRDB, self, sv.PRDBStore, tracker)
	return sv
}

func (sv *Supervisor) disconnect(gid core.GID) {
	if sv.Tree != nil {
		orphans := sv.Tree.OnLeave(gid)
		sv.Tree.Rebalance(context.Background(), orphans)
	}
}

// RunCore starts the extractor against src; only meaningful on a node
// whose NodeType includes Core (§4.8 is core-only).
func (sv *Supervisor) RunCore(src dbiface.Extractor) {
	sv.extractor = NewExtractor(src, sv.SMDBStore, sv.Tracker, cmn.Rom.Keepalive()/4)
	sv.extractor.Subscribers = func() []EpochPusher { return []EpochPusher{sv.downSMDB} }
	sv.extractor.Start()
}

// RunUpstream starts the join/pull cycle against parentAddr for the given
// DB kind. A core node never calls this for SMDB (it has no upstream);
// access and distribution nodes call it for both SMDB and PRDB as
// appropriate to their role.
func (sv *Supervisor) RunUpstream(ctx context.Context, kind core.Kind, parentAddr func() string) {
	var onDB func(*core.DB)
	store := sv.SMDBStore
	if kind == core.KindPRDB {
		store = sv.PRDBStore
	}
	onDB = func(db *core.DB) {
		store.Publish(db)
		if kind == core.KindSMDB {
			sv.Access.OnSMDB(db)
		}
	}
	up := NewUpstream(kind, sv.Self, parentAddr, sv.Tracker, onDB)
	up.Keepalive = cmn.Rom.Keepalive()
	go up.Run(ctx)
	if kind == core.KindSMDB {
		sv.upSMDB = up
	}
}

// RunDownstream starts the SMDB, PRDB, and admin accept loops. Each runs
// on its own goroutine and Serve blocks, so RunDownstream itself returns
// immediately.
func (sv *Supervisor) RunDownstream() {
	go sv.serveLogged("smdb-listener", func() error {
		return sv.downSMDB.Serve(fmt.Sprintf(":%d", sv.Cfg.SMDBPort), cmn.Rom.Keepalive())
	})
	go sv.serveLogged("prdb-listener", func() error {
		return sv.downPRDB.Serve(fmt.Sprintf(":%d", sv.Cfg.PRDBPort), cmn.Rom.Keepalive())
	})
	go sv.serveLogged("admin-listener", func() error {
		return sv.Admin.Listen(fmt.Sprintf(":%d", sv.Cfg.AdminPort))
	})
}

func (sv *Supervisor) serveLogged(name string, f func() error) {
	if err := f(); err != nil {
		nlog.Errorf("%s: %v", name, err)
	}
}

// verifyBadParents re-queries path records for every member currently
// flagged bad_parent and rebalances whichever ones just recovered,
// letting a member that stuck to a previous parent (§4.2 step 3) resume
// using it once the fabric heals instead of waiting on the next
// OnLeave-triggered Rebalance.
func (sv *Supervisor) verifyBadParents() time.Duration {
	interval := cmn.Rom.Keepalive()
	recovered := sv.Tree.VerifyBadParents(context.Background())
	if len(recovered) > 0 {
		sv.Tree.Rebalance(context.Background(), recovered)
	}
	return interval
}
