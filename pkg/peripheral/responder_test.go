package peripheral_test

import (
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencontact/proximity/pkg/connector"
	"github.com/opencontact/proximity/pkg/contact"
	"github.com/opencontact/proximity/pkg/identity"
	"github.com/opencontact/proximity/pkg/peripheral"
	"github.com/opencontact/proximity/pkg/protocol"
)

const central = connector.PeerHandle("33:33:33:33:33:33")

var _ = Describe("Responder", func() {
	var (
		live      contact.MapRecords
		store     *contact.MemoryStore
		signals   *contact.Aggregator
		mockClock *clock.Mock
		ids       identity.Source
		r         *peripheral.Responder
		t0        time.Time
	)

	build := func() {
		r = peripheral.New(peripheral.Config{
			Identity: ids,
			Signals:  signals,
			Recorder: contact.NewRecorder(contact.NewGate(live, 0), live, store),
			Clock:    mockClock,
		})
	}

	write := func(p protocol.Payload) []byte {
		b, err := p.Marshal()
		Expect(err).ToNot(HaveOccurred())
		return b
	}

	BeforeEach(func() {
		live = contact.MapRecords{}
		store = contact.NewMemoryStore()
		signals = contact.NewAggregator()
		mockClock = clock.NewMock()
		t0 = time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)
		mockClock.Set(t0)
		ids = identity.Static("local-id")
		build()
	})

	Describe("OnRead", func() {
		It("returns the encoded identifier", func() {
			payload, err := protocol.DecodePayload(r.OnRead(central, protocol.ContactCharacteristicUUID))
			Expect(err).ToNot(HaveOccurred())
			Expect(payload.EphemeralID).To(Equal("local-id"))
			Expect(payload.RSSI).To(BeNil())
			Expect(store.Records()).To(BeEmpty())
		})

		It("returns nothing without an identifier", func() {
			ids = identity.Static("")
			build()
			Expect(r.OnRead(central, protocol.ContactCharacteristicUUID)).To(BeEmpty())
		})

		It("returns nothing for other characteristics", func() {
			Expect(r.OnRead(central, "other")).To(BeEmpty())
		})
	})

	Describe("OnWrite", func() {
		It("records the central's identifier", func() {
			signals.ObserveTxPower(contact.PeerID(central), 4)
			rssi := -52.0
			Expect(r.OnWrite(central, protocol.ContactCharacteristicUUID, write(protocol.Payload{EphemeralID: "remote", RSSI: &rssi}))).To(BeTrue())

			records := store.Records()
			Expect(records).To(HaveLen(1))
			Expect(records[0].Peer).To(Equal(contact.PeerID(central)))
			rec := records[0].Record
			Expect(*rec.PeerTempID).To(Equal("remote"))
			Expect(*rec.RSSI).To(Equal(-52.0))
			Expect(*rec.TxPower).To(Equal(4.0))
			Expect(rec.Timestamp.Equal(t0)).To(BeTrue())
		})

		It("rejects malformed payloads without changing state", func() {
			Expect(r.OnWrite(central, protocol.ContactCharacteristicUUID, []byte{0x0a, 0x05, 'a'})).To(BeFalse())
			Expect(r.OnWrite(central, protocol.ContactCharacteristicUUID, nil)).To(BeFalse())
			Expect(r.OnWrite(central, protocol.ContactCharacteristicUUID, write(protocol.Payload{EphemeralID: "x"})[:1])).To(BeFalse())
			Expect(store.Records()).To(BeEmpty())
			Expect(live).To(BeEmpty())
		})

		It("rejects writes to other characteristics", func() {
			Expect(r.OnWrite(central, "other", write(protocol.Payload{EphemeralID: "remote"}))).To(BeFalse())
			Expect(store.Records()).To(BeEmpty())
		})

		It("accepts writes regardless of the throttle decision", func() {
			payload := write(protocol.Payload{EphemeralID: "remote"})
			Expect(r.OnWrite(central, protocol.ContactCharacteristicUUID, payload)).To(BeTrue())
			mockClock.Add(5 * time.Second)
			Expect(r.OnWrite(central, protocol.ContactCharacteristicUUID, payload)).To(BeTrue())
			Expect(store.Records()).To(HaveLen(1))

			mockClock.Add(26 * time.Second)
			Expect(r.OnWrite(central, protocol.ContactCharacteristicUUID, payload)).To(BeTrue())
			Expect(store.Records()).To(HaveLen(2))
		})

		It("keeps the live record unchanged after a rejected write", func() {
			Expect(r.OnWrite(central, protocol.ContactCharacteristicUUID, write(protocol.Payload{EphemeralID: "first"}))).To(BeTrue())
			mockClock.Add(time.Minute)
			Expect(r.OnWrite(central, protocol.ContactCharacteristicUUID, []byte("garbage"))).To(BeFalse())
			Expect(*live[contact.PeerID(central)].PeerTempID).To(Equal("first"))
			Expect(live[contact.PeerID(central)].Timestamp.Equal(t0)).To(BeTrue())
		})
	})
})
