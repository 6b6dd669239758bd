package engine_test

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/opencontact/proximity/internal/dispatcher"
	"github.com/opencontact/proximity/mocks"
	"github.com/opencontact/proximity/pkg/connector"
	"github.com/opencontact/proximity/pkg/contact"
	"github.com/opencontact/proximity/pkg/engine"
	"github.com/opencontact/proximity/pkg/identity"
	"github.com/opencontact/proximity/pkg/protocol"
)

const (
	service = protocol.ServiceUUID
	char    = protocol.ContactCharacteristicUUID
	remote  = connector.PeerHandle("44:44:44:44:44:44")
)

func encoded(id string) []byte {
	p := protocol.Payload{EphemeralID: id}
	b, err := p.Marshal()
	Expect(err).ToNot(HaveOccurred())
	return b
}

var _ = Describe("Engine", func() {
	var (
		ctrl      *gomock.Controller
		central   *mocks.ConnectorCentral
		periph    *mocks.ConnectorPeripheral
		store     *contact.MemoryStore
		mockClock *clock.Mock
		e         *engine.Engine
		transport connector.CentralDelegate
		handler   connector.PeripheralHandler
		t0        time.Time
	)

	// sync waits for everything posted so far to run on the dispatcher.
	sync := func() engine.Status {
		status, err := e.Status(context.Background())
		Expect(err).ToNot(HaveOccurred())
		return status
	}

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		DeferCleanup(ctrl.Finish)
		central = mocks.NewConnectorCentral(ctrl)
		periph = mocks.NewConnectorPeripheral(ctrl)
		store = contact.NewMemoryStore()
		mockClock = clock.NewMock()
		t0 = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
		mockClock.Set(t0)

		var err error
		e, err = engine.New(engine.DefaultConfig(), engine.Dependencies{
			Central:    central,
			Peripheral: periph,
			Store:      store,
			Identity:   identity.Static("local-id"),
			Clock:      mockClock,
		})
		Expect(err).ToNot(HaveOccurred())

		central.EXPECT().SetDelegate(gomock.Any()).Do(func(d connector.CentralDelegate) {
			transport = d
		})
		Expect(e.Start(context.Background())).To(Succeed())
		DeferCleanup(func() {
			central.EXPECT().StopScanning().AnyTimes()
			periph.EXPECT().StopAdvertising().AnyTimes()
			e.Close()
		})
	})

	powerOn := func() {
		central.EXPECT().StartScanning([]string{service})
		periph.EXPECT().StartAdvertising(service, []string{char}, gomock.Any()).DoAndReturn(
			func(_ string, _ []string, h connector.PeripheralHandler) error {
				handler = h
				return nil
			})
		Expect(e.TurnOn()).To(Succeed())
		transport.DidUpdateState(connector.RadioStatePoweredOn)
		status := sync()
		Expect(status.On).To(BeTrue())
		Expect(status.Advertising).To(BeTrue())
		Expect(status.Central.Scanning).To(BeTrue())
	}

	It("requires its collaborators", func() {
		_, err := engine.New(engine.DefaultConfig(), engine.Dependencies{Store: store, Identity: identity.Static("x")})
		Expect(err).To(MatchError(engine.ErrNoCentral))
		_, err = engine.New(engine.DefaultConfig(), engine.Dependencies{Central: central, Identity: identity.Static("x")})
		Expect(err).To(MatchError(engine.ErrNoStore))
		_, err = engine.New(engine.DefaultConfig(), engine.Dependencies{Central: central, Store: store})
		Expect(err).To(MatchError(engine.ErrNoIdentity))
	})

	Describe("radio state", func() {
		It("waits for the radio before scanning", func() {
			Expect(e.TurnOn()).To(Succeed())
			status := sync()
			Expect(status.On).To(BeTrue())
			Expect(status.Central.Scanning).To(BeFalse())
			Expect(status.Advertising).To(BeFalse())
			Expect(e.IsRadioOn()).To(BeFalse())
		})

		It("reports state changes once per change", func() {
			var seen []connector.RadioState
			e.OnRadioStateChange(func(s connector.RadioState) { seen = append(seen, s) })

			transport.DidUpdateState(connector.RadioStatePoweredOff)
			transport.DidUpdateState(connector.RadioStatePoweredOff)
			transport.DidUpdateState(connector.RadioStateUnauthorized)
			Expect(seen).To(Equal([]connector.RadioState{connector.RadioStatePoweredOff, connector.RadioStateUnauthorized}))
			Expect(e.IsRadioAuthorized()).To(BeFalse())
			Expect(e.IsRadioOn()).To(BeFalse())
		})

		It("scans and advertises once the radio is on", func() {
			powerOn()
			Expect(e.IsRadioOn()).To(BeTrue())
			Expect(e.IsRadioAuthorized()).To(BeTrue())
		})

		It("resumes advertising when the radio comes back", func() {
			powerOn()
			transport.DidUpdateState(connector.RadioStatePoweredOff)
			Expect(sync().Advertising).To(BeFalse())

			central.EXPECT().StartScanning([]string{service})
			periph.EXPECT().StartAdvertising(service, []string{char}, gomock.Any()).Return(nil)
			transport.DidUpdateState(connector.RadioStatePoweredOn)
			Expect(sync().Advertising).To(BeTrue())
		})
	})

	Describe("TurnOn and TurnOff", func() {
		It("ignores repeated TurnOn", func() {
			powerOn()
			Expect(e.TurnOn()).To(Succeed())
			Expect(sync().Central.Scanning).To(BeTrue())
		})

		It("stops scanning and advertising on TurnOff", func() {
			powerOn()
			central.EXPECT().StopScanning()
			periph.EXPECT().StopAdvertising()
			Expect(e.TurnOff()).To(Succeed())
			status := sync()
			Expect(status.On).To(BeFalse())
			Expect(status.Central.Scanning).To(BeFalse())
			Expect(status.Advertising).To(BeFalse())
			Expect(e.TurnOff()).To(Succeed())
		})

		It("rejects calls after Close", func() {
			e.Close()
			Expect(e.TurnOn()).To(MatchError(dispatcher.ErrStopped))
			_, err := e.Status(context.Background())
			Expect(err).To(MatchError(dispatcher.ErrStopped))
		})
	})

	Describe("central role", func() {
		It("records a contact after a full exchange", func() {
			powerOn()
			var written []byte
			central.EXPECT().Connect(remote).Do(func(h connector.PeerHandle) {
				transport.DidConnect(h)
			})
			central.EXPECT().DiscoverCharacteristics(remote, service, []string{char}).Do(func(h connector.PeerHandle, _ string, _ []string) {
				transport.DidDiscoverCharacteristics(h, nil)
			})
			central.EXPECT().ReadSignalStrength(remote).Do(func(h connector.PeerHandle) {
				transport.DidReadSignalStrength(h, -58, nil)
			})
			central.EXPECT().WriteCharacteristic(remote, char, gomock.Any()).Do(func(h connector.PeerHandle, c string, v []byte) {
				written = v
				transport.DidWriteCharacteristic(h, c, nil)
			})
			central.EXPECT().ReadCharacteristic(remote, char).Do(func(h connector.PeerHandle, c string) {
				transport.DidReadCharacteristic(h, c, encoded("remote-id"), nil)
			})
			central.EXPECT().Disconnect(remote).Do(func(h connector.PeerHandle) {
				transport.DidDisconnect(h, nil)
			})

			transport.DidDiscover(connector.Advertisement{Handle: remote, RSSI: -70})
			Eventually(store.Records).Should(HaveLen(1))
			Eventually(func() int { return sync().Central.Peers }).Should(BeZero())

			rec := store.Records()[0]
			Expect(rec.Peer).To(Equal(contact.PeerID(remote)))
			Expect(*rec.Record.PeerTempID).To(Equal("remote-id"))
			Expect(*rec.Record.RSSI).To(Equal(-58.0))
			Expect(rec.Record.Timestamp.Equal(t0)).To(BeTrue())

			payload, err := protocol.DecodePayload(written)
			Expect(err).ToNot(HaveOccurred())
			Expect(payload.EphemeralID).To(Equal("local-id"))
			Expect(*payload.RSSI).To(Equal(-58.0))
			Expect(sync().KnownPeers).To(Equal(1))
		})

		It("restarts scanning periodically by default", func() {
			Expect(engine.DefaultConfig().ScanRestartInterval).To(BeNumerically(">", 0))
		})

		It("contacts a fingerprinted peer again after the scan restart interval", func() {
			powerOn()
			var connects atomic.Int32
			central.EXPECT().Connect(remote).Do(func(h connector.PeerHandle) {
				connects.Add(1)
				transport.DidFailToConnect(h, errors.New("page timeout"))
			}).Times(2)

			adv := connector.Advertisement{Handle: remote, ManufacturerData: []byte{0x4c, 0x00, 0x02}, RSSI: -70}
			transport.DidDiscover(adv)
			sync()
			transport.DidDiscover(adv)
			sync()
			Expect(connects.Load()).To(Equal(int32(1)))

			restarted := make(chan struct{})
			gomock.InOrder(
				central.EXPECT().StopScanning(),
				central.EXPECT().StartScanning([]string{service}).Do(func([]string) { close(restarted) }),
			)
			mockClock.Add(engine.DefaultConfig().ScanRestartInterval)
			Eventually(restarted).Should(BeClosed())

			transport.DidDiscover(adv)
			sync()
			Expect(connects.Load()).To(Equal(int32(2)))
		})
	})

	Describe("peripheral role", func() {
		BeforeEach(func() {
			powerOn()
		})

		It("serves our identifier", func() {
			payload, err := protocol.DecodePayload(handler.OnRead(remote, char))
			Expect(err).ToNot(HaveOccurred())
			Expect(payload.EphemeralID).To(Equal("local-id"))
		})

		It("records written identifiers and throttles repeats", func() {
			Expect(handler.OnWrite(remote, char, encoded("remote-id"))).To(BeTrue())
			Expect(handler.OnWrite(remote, char, encoded("remote-id"))).To(BeTrue())
			Expect(store.Records()).To(HaveLen(1))
			Expect(e.Records().Len()).To(Equal(1))
		})

		It("rejects malformed writes", func() {
			Expect(handler.OnWrite(remote, char, []byte{0xff})).To(BeFalse())
			Expect(store.Records()).To(BeEmpty())
		})

		It("rejects requests after Close", func() {
			central.EXPECT().StopScanning()
			periph.EXPECT().StopAdvertising()
			e.Close()
			Expect(handler.OnWrite(remote, char, encoded("remote-id"))).To(BeFalse())
			Expect(handler.OnRead(remote, char)).To(BeNil())
		})
	})
})
