package contact_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencontact/proximity/pkg/contact"
)

var _ = Describe("Gate", func() {
	var (
		history contact.MapRecords
		gate    *contact.Gate
		t0      time.Time
	)

	stamped := func(t time.Time) contact.Record {
		return contact.Record{}.WithTimestamp(t)
	}

	BeforeEach(func() {
		history = contact.MapRecords{}
		gate = contact.NewGate(history, 0)
		t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})

	It("uses the default window", func() {
		Expect(gate.Window).To(Equal(30 * time.Second))
	})

	It("allows the first contact with a peer", func() {
		Expect(gate.ShouldSave(stamped(t0), "peer")).To(BeTrue())
	})

	It("allows a candidate when the prior record has no timestamp", func() {
		history.Put("peer", contact.Record{})
		Expect(gate.ShouldSave(stamped(t0), "peer")).To(BeTrue())
	})

	It("never allows a candidate without timestamp", func() {
		Expect(gate.ShouldSave(contact.Record{}, "unseen")).To(BeFalse())
		history.Put("peer", stamped(t0))
		Expect(gate.ShouldSave(contact.Record{}, "peer")).To(BeFalse())
		history.Put("other", contact.Record{})
		Expect(gate.ShouldSave(contact.Record{}, "other")).To(BeFalse())
	})

	It("rejects candidates inside the window and accepts the first one past it", func() {
		history.Put("peer", stamped(t0))
		Expect(gate.ShouldSave(stamped(t0.Add(29999*time.Millisecond)), "peer")).To(BeFalse())
		Expect(gate.ShouldSave(stamped(t0.Add(30*time.Second)), "peer")).To(BeFalse())
		Expect(gate.ShouldSave(stamped(t0.Add(30001*time.Millisecond)), "peer")).To(BeTrue())
	})

	It("keeps rejecting until a save advances the history", func() {
		history.Put("peer", stamped(t0))
		for i := 1; i < 30; i++ {
			Expect(gate.ShouldSave(stamped(t0.Add(time.Duration(i)*time.Second)), "peer")).To(BeFalse())
		}
		_, ok := history.Get("peer")
		Expect(ok).To(BeTrue())
		Expect(*history["peer"].Timestamp).To(Equal(t0))
	})

	It("tracks peers independently", func() {
		history.Put("a", stamped(t0))
		Expect(gate.ShouldSave(stamped(t0.Add(time.Second)), "a")).To(BeFalse())
		Expect(gate.ShouldSave(stamped(t0.Add(time.Second)), "b")).To(BeTrue())
	})
})

type failingStore struct{}

func (failingStore) Save(context.Context, contact.PeerID, contact.Record) error {
	return errors.New("disk full")
}

var _ = Describe("Recorder", func() {
	var (
		live     contact.MapRecords
		store    *contact.MemoryStore
		recorder *contact.Recorder
		t0       time.Time
	)

	BeforeEach(func() {
		live = contact.MapRecords{}
		store = contact.NewMemoryStore()
		recorder = contact.NewRecorder(contact.NewGate(live, 0), live, store)
		t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})

	It("persists allowed records and advances the live record", func() {
		saved, err := recorder.Record(context.Background(), "peer", contact.Record{}.WithPeerTempID("x").WithTimestamp(t0))
		Expect(err).ToNot(HaveOccurred())
		Expect(saved).To(BeTrue())
		Expect(store.Records()).To(HaveLen(1))
		rec, ok := recorder.Live("peer")
		Expect(ok).To(BeTrue())
		Expect(*rec.PeerTempID).To(Equal("x"))
	})

	It("drops throttled records without touching the live record", func() {
		_, err := recorder.Record(context.Background(), "peer", contact.Record{}.WithPeerTempID("x").WithTimestamp(t0))
		Expect(err).ToNot(HaveOccurred())
		saved, err := recorder.Record(context.Background(), "peer", contact.Record{}.WithPeerTempID("y").WithTimestamp(t0.Add(10*time.Second)))
		Expect(err).ToNot(HaveOccurred())
		Expect(saved).To(BeFalse())
		Expect(store.Records()).To(HaveLen(1))
		Expect(*live["peer"].PeerTempID).To(Equal("x"))
	})

	It("supersedes the live record after the window", func() {
		_, _ = recorder.Record(context.Background(), "peer", contact.Record{}.WithPeerTempID("x").WithTimestamp(t0))
		saved, err := recorder.Record(context.Background(), "peer", contact.Record{}.WithPeerTempID("y").WithTimestamp(t0.Add(31*time.Second)))
		Expect(err).ToNot(HaveOccurred())
		Expect(saved).To(BeTrue())
		Expect(*live["peer"].PeerTempID).To(Equal("y"))
		Expect(store.Records()).To(HaveLen(2))
	})

	It("does not advance the live record when the store fails", func() {
		failing := contact.NewRecorder(contact.NewGate(live, 0), live, failingStore{})
		saved, err := failing.Record(context.Background(), "peer", contact.Record{}.WithTimestamp(t0))
		Expect(err).To(HaveOccurred())
		Expect(saved).To(BeFalse())
		Expect(live).To(BeEmpty())
	})
})
