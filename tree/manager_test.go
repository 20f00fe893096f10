package tree_test

import (
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/openfabrics/ssad/core"
	"github.com/openfabrics/ssad/mad"
	"github.com/openfabrics/ssad/tree"
)

func gid(b byte) core.GID {
	var g core.GID
	g[15] = b
	return g
}

var _ = Describe("Manager", func() {
	var (
		self core.Identity
		fake *mad.Fake
		mgr  *tree.Manager
		ctx  = context.Background()
	)

	BeforeEach(func() {
		self = core.Identity{GID: gid(1), NodeType: core.TypeCore}
		fake = mad.NewFake(self)
		mgr = tree.NewManager(fake, self)
	})

	It("parents a Distribution node directly to the local core", func() {
		joining := core.Identity{GID: gid(2), NodeType: core.TypeDistribution}
		parent, err := mgr.OnJoin(ctx, joining)
		Expect(err).NotTo(HaveOccurred())
		Expect(parent).To(Equal(self.GID))
	})

	It("falls back to the core when the distribution list is empty", func() {
		joining := core.Identity{GID: gid(2), NodeType: core.TypeAccess}
		parent, err := mgr.OnJoin(ctx, joining)
		Expect(err).NotTo(HaveOccurred())
		Expect(parent).To(Equal(self.GID))
	})

	It("denies a Consumer join when no Access node exists yet", func() {
		joining := core.Identity{GID: gid(2), NodeType: core.TypeConsumer}
		_, err := mgr.OnJoin(ctx, joining)
		Expect(err).To(MatchError(tree.ErrNoParent))
	})

	It("balances Access joins across the distribution list by child_count", func() {
		d1 := core.Identity{GID: gid(2), NodeType: core.TypeDistribution}
		d2 := core.Identity{GID: gid(3), NodeType: core.TypeDistribution}
		_, err := mgr.OnJoin(ctx, d1)
		Expect(err).NotTo(HaveOccurred())
		_, err = mgr.OnJoin(ctx, d2)
		Expect(err).NotTo(HaveOccurred())

		want := []core.GID{d1.GID, d2.GID, d1.GID, d2.GID}
		for i, w := range want {
			a := core.Identity{GID: gid(byte(10 + i)), NodeType: core.TypeAccess}
			parent, err := mgr.OnJoin(ctx, a)
			Expect(err).NotTo(HaveOccurred())
			Expect(parent).To(Equal(w))
		}
	})

	It("spreads consumers evenly across access nodes by access_child_count (scenario 2)", func() {
		const numAccess = 4
		const numConsumers = 16

		access := make([]core.Identity, numAccess)
		for i := range access {
			access[i] = core.Identity{GID: gid(byte(10 + i)), NodeType: core.TypeAccess}
			_, err := mgr.OnJoin(ctx, access[i])
			Expect(err).NotTo(HaveOccurred())
		}

		for i := 0; i < numConsumers; i++ {
			c := core.Identity{GID: gid(byte(100 + i)), NodeType: core.TypeConsumer}
			_, err := mgr.OnJoin(ctx, c)
			Expect(err).NotTo(HaveOccurred())
		}

		total := int32(0)
		for _, a := range access {
			mem, ok := mgr.Lookup(a.GID)
			Expect(ok).To(BeTrue())
			Expect(mem.AccessChildCount()).To(Equal(int32(numConsumers / numAccess)))
			total += mem.AccessChildCount()
		}
		Expect(total).To(Equal(int32(numConsumers)))
	})

	It("reparents orphans on leave", func() {
		parent := core.Identity{GID: gid(6), NodeType: core.TypeDistribution}
		_, err := mgr.OnJoin(ctx, parent)
		Expect(err).NotTo(HaveOccurred())

		child := core.Identity{GID: gid(7), NodeType: core.TypeAccess}
		got, err := mgr.OnJoin(ctx, child)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(parent.GID))

		orphans := mgr.OnLeave(parent.GID)
		Expect(orphans).To(ContainElement(child.GID))

		mgr.Rebalance(ctx, orphans)
		mem, ok := mgr.Lookup(child.GID)
		Expect(ok).To(BeTrue())
		Expect(mem.Parent).To(Equal(self.GID))
		Expect(mem.BadParent).To(BeFalse())
	})

	It("excludes the previous parent on a bad_parent rejoin (scenario 5)", func() {
		a1 := core.Identity{GID: gid(8), NodeType: core.TypeAccess}
		a2 := core.Identity{GID: gid(9), NodeType: core.TypeAccess}
		_, err := mgr.OnJoin(ctx, a1)
		Expect(err).NotTo(HaveOccurred())
		_, err = mgr.OnJoin(ctx, a2)
		Expect(err).NotTo(HaveOccurred())

		consumer := core.Identity{GID: gid(20), NodeType: core.TypeConsumer}
		parent, err := mgr.OnJoin(ctx, consumer)
		Expect(err).NotTo(HaveOccurred())
		Expect(parent).To(Equal(a1.GID)) // both empty, list order picks a1 first

		// Parent connection lost: the upstream pipeline marks bad_parent
		// against the specific GID that failed and rejoins.
		mem, ok := mgr.Lookup(consumer.GID)
		Expect(ok).To(BeTrue())
		mem.BadParent = true
		mem.BadParentGID = a1.GID
		mem.Parent = core.GID{}

		reparent, err := mgr.OnJoin(ctx, consumer)
		Expect(err).NotTo(HaveOccurred())
		Expect(reparent).To(Equal(a2.GID))
	})

	It("keeps a sticky non-bad current parent across a re-join", func() {
		a1 := core.Identity{GID: gid(8), NodeType: core.TypeAccess}
		_, err := mgr.OnJoin(ctx, a1)
		Expect(err).NotTo(HaveOccurred())

		consumer := core.Identity{GID: gid(20), NodeType: core.TypeConsumer}
		parent, err := mgr.OnJoin(ctx, consumer)
		Expect(err).NotTo(HaveOccurred())
		Expect(parent).To(Equal(a1.GID))

		again, err := mgr.OnJoin(ctx, consumer)
		Expect(err).NotTo(HaveOccurred())
		Expect(again).To(Equal(a1.GID))
	})

	It("clears bad_parent once the path record reports the peer reachable again", func() {
		a1 := core.Identity{GID: gid(8), NodeType: core.TypeAccess}
		_, err := mgr.OnJoin(ctx, a1)
		Expect(err).NotTo(HaveOccurred())

		consumer := core.Identity{GID: gid(20), NodeType: core.TypeConsumer}
		_, err = mgr.OnJoin(ctx, consumer)
		Expect(err).NotTo(HaveOccurred())

		mem, ok := mgr.Lookup(consumer.GID)
		Expect(ok).To(BeTrue())
		mem.BadParent = true
		mem.BadParentGID = a1.GID

		recovered := mgr.VerifyBadParents(ctx)
		Expect(recovered).To(BeEmpty()) // fake has no path record yet: stays unreachable

		fake.Set(consumer.GID, mad.PathRecord{Peer: consumer, Reachable: true})
		recovered = mgr.VerifyBadParents(ctx)
		Expect(recovered).To(ContainElement(consumer.GID))
		Expect(mem.BadParent).To(BeFalse())
	})
})
