// Command ssad runs one node of the subnet administration distribution
// fabric: a core node or a combined core+access node, as selected by the
// node_type key of the config file named by -f.
/*
 * Copyright (c) 2024, OpenFabrics Alliance. All rights reserved.
 */
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openfabrics/ssad/cmn"
	"github.com/openfabrics/ssad/cmn/nlog"
	"github.com/openfabrics/ssad/core"
	"github.com/openfabrics/ssad/dbiface"
	"github.com/openfabrics/ssad/hk"
	"github.com/openfabrics/ssad/mad"
	"github.com/openfabrics/ssad/pipeline"
)

func main() {
	var (
		configPath string
		foreground bool
	)

	root := &cobra.Command{
		Use:   "ssad",
		Short: "subnet administration distribution fabric node",
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(configPath, foreground)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "f", "/etc/ssad/ssad.conf", "path to the node config file")
	root.Flags().BoolVarP(&foreground, "foreground", "d", false, "accepted for compatibility; ssad always runs in the foreground and never daemonizes")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, _ bool) error {
	cfg, err := cmn.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cmn.Rom.Set(cfg)
	nlog.SetLogDirRole(cfg.LogFile, string(cfg.NodeType))
	defer nlog.Flush(true)

	go hk.DefaultHK.Run()

	self := core.Identity{NodeType: nodeTypeFromConfig(cfg)}
	mc := mad.NewFake(self) // real MAD binding is out of scope (spec §1); swap this for production wiring

	sv := pipeline.New(cfg, self, mc)
	sv.RunDownstream()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if self.NodeType.Has(core.TypeCore) {
		sv.RunCore(dbiface.ReferenceExtractor(nil))
	} else {
		sv.RunUpstream(ctx, core.KindSMDB, func() string { return "" }) // no parent resolver is wired: the address stays empty and Upstream keeps retrying
	}

	nlog.Infof("ssad: %s node started, smdb=%d prdb=%d admin=%d", self.NodeType, cfg.SMDBPort, cfg.PRDBPort, cfg.AdminPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	nlog.Infof("ssad: shutting down")
	return nil
}

func nodeTypeFromConfig(cfg *cmn.Config) core.NodeType {
	switch cfg.NodeType {
	case cmn.NodeCombo:
		return core.TypeCore | core.TypeAccess
	case cmn.NodeCore:
		return core.TypeCore
	}
	return core.TypeAccess
}
