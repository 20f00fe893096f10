package hk_test

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/openfabrics/ssad/hk"
)

var _ = Describe("Housekeeper", func() {
	It("fires a registered callback on its interval", func() {
		fired := make(chan struct{}, 1)
		hk.Reg("probe", func() time.Duration {
			select {
			case fired <- struct{}{}:
			default:
			}
			return hk.UnregInterval
		}, 10*time.Millisecond)

		Eventually(fired, time.Second).Should(Receive())
	})

	It("does not fire after Unreg", func() {
		fired := make(chan struct{}, 1)
		name := hk.NameSuffix("probe")
		hk.Reg(name, func() time.Duration {
			fired <- struct{}{}
			return time.Millisecond
		}, time.Hour)
		hk.Unreg(name)

		Consistently(fired, 50*time.Millisecond).ShouldNot(Receive())
	})
})
