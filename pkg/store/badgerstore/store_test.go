package badgerstore_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencontact/proximity/pkg/contact"
	"github.com/opencontact/proximity/pkg/store/badgerstore"
)

var _ = Describe("Store", func() {
	var (
		ctx   context.Context
		store *badgerstore.Store
		t0    time.Time
	)

	record := func(id string, at time.Time) contact.Record {
		return contact.Record{}.WithPeerTempID(id).WithTimestamp(at)
	}

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		store, err = badgerstore.Open(badgerstore.Options{InMemory: true})
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(store.Close)
		t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	})

	It("lists records chronologically", func() {
		Expect(store.Save(ctx, "b", record("late", t0.Add(time.Minute)))).To(Succeed())
		Expect(store.Save(ctx, "a", record("early", t0))).To(Succeed())

		records, err := store.List(ctx, time.Time{})
		Expect(err).ToNot(HaveOccurred())
		Expect(records).To(HaveLen(2))
		Expect(records[0].Peer).To(Equal(contact.PeerID("a")))
		Expect(*records[0].Record.PeerTempID).To(Equal("early"))
		Expect(records[1].Peer).To(Equal(contact.PeerID("b")))
		Expect(records[1].Record.Timestamp.Equal(t0.Add(time.Minute))).To(BeTrue())
	})

	It("keeps records with identical timestamps", func() {
		Expect(store.Save(ctx, "a", record("x", t0))).To(Succeed())
		Expect(store.Save(ctx, "b", record("y", t0))).To(Succeed())
		records, err := store.List(ctx, t0)
		Expect(err).ToNot(HaveOccurred())
		Expect(records).To(HaveLen(2))
	})

	It("filters by start time", func() {
		Expect(store.Save(ctx, "a", record("old", t0))).To(Succeed())
		Expect(store.Save(ctx, "a", record("new", t0.Add(time.Hour)))).To(Succeed())

		records, err := store.List(ctx, t0.Add(time.Second))
		Expect(err).ToNot(HaveOccurred())
		Expect(records).To(HaveLen(1))
		Expect(*records[0].Record.PeerTempID).To(Equal("new"))
	})

	It("preserves optional fields", func() {
		rec := record("x", t0)
		rssi, tx := -58.5, 7.0
		rec.RSSI = &rssi
		rec.TxPower = &tx
		Expect(store.Save(ctx, "a", rec)).To(Succeed())

		records, err := store.List(ctx, time.Time{})
		Expect(err).ToNot(HaveOccurred())
		Expect(*records[0].Record.RSSI).To(Equal(-58.5))
		Expect(*records[0].Record.TxPower).To(Equal(7.0))
	})

	It("rejects records without timestamp", func() {
		Expect(store.Save(ctx, "a", contact.Record{}.WithPeerTempID("x"))).To(MatchError(badgerstore.ErrMissingTimestamp))
	})

	It("honors cancelled contexts", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		Expect(store.Save(cancelled, "a", record("x", t0))).To(MatchError(context.Canceled))
	})
})
