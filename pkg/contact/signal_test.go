package contact_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencontact/proximity/pkg/contact"
)

var _ = Describe("Aggregator", func() {
	var agg *contact.Aggregator

	BeforeEach(func() {
		agg = contact.NewAggregator()
	})

	It("returns an empty record for unknown peers", func() {
		rec := agg.Latest("nobody")
		Expect(rec.RSSI).To(BeNil())
		Expect(rec.TxPower).To(BeNil())
		Expect(rec.Timestamp).To(BeNil())
		Expect(rec.PeerTempID).To(BeNil())
	})

	It("keeps the maximum signal strength", func() {
		samples := []float64{-80, -62, -75, -62.5, -90, -61, -70}
		best := samples[0]
		for _, s := range samples {
			agg.Observe("peer", s)
			if s > best {
				best = s
			}
			Expect(*agg.Latest("peer").RSSI).To(Equal(best))
		}
	})

	It("keeps the first transmit power of a window", func() {
		agg.ObserveTxPower("peer", 12)
		agg.ObserveTxPower("peer", -4)
		Expect(*agg.Latest("peer").TxPower).To(Equal(12.0))

		agg.Reset()
		Expect(agg.Latest("peer").TxPower).To(BeNil())
		agg.ObserveTxPower("peer", -4)
		Expect(*agg.Latest("peer").TxPower).To(Equal(-4.0))
	})

	It("returns copies of the aggregate", func() {
		agg.Observe("peer", -50)
		rec := agg.Latest("peer")
		*rec.RSSI = 0
		Expect(*agg.Latest("peer").RSSI).To(Equal(-50.0))
	})

	It("forgets a single peer", func() {
		agg.Observe("a", -50)
		agg.Observe("b", -60)
		agg.Forget("a")
		Expect(agg.Latest("a").RSSI).To(BeNil())
		Expect(*agg.Latest("b").RSSI).To(Equal(-60.0))
	})
})
