package central_test

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/opencontact/proximity/mocks"
	"github.com/opencontact/proximity/pkg/background"
	"github.com/opencontact/proximity/pkg/central"
	"github.com/opencontact/proximity/pkg/connector"
	"github.com/opencontact/proximity/pkg/contact"
	"github.com/opencontact/proximity/pkg/identity"
	"github.com/opencontact/proximity/pkg/protocol"
)

const (
	service = protocol.ServiceUUID
	char    = protocol.ContactCharacteristicUUID
	h1      = connector.PeerHandle("11:11:11:11:11:11")
	h2      = connector.PeerHandle("22:22:22:22:22:22")
)

var errLinkLost = errors.New("link lost")

// fakeHost records timers and continuations so specs can fire them at will.
type fakeHost struct {
	*mocks.BackgroundHost

	nextTimer     background.Timer
	nextToken     background.Token
	timers        map[background.Timer]func()
	continuations map[background.Token]func()
	ended         []background.Token
	cancelled     []background.Timer
	delays        []time.Duration
	durations     []time.Duration
}

func newFakeHost(mock *mocks.BackgroundHost) *fakeHost {
	f := &fakeHost{
		BackgroundHost: mock,
		timers:         make(map[background.Timer]func()),
		continuations:  make(map[background.Token]func()),
	}
	mock.EXPECT().ScheduleOnce(gomock.Any(), gomock.Any()).DoAndReturn(func(d time.Duration, fn func()) background.Timer {
		f.nextTimer++
		f.timers[f.nextTimer] = fn
		f.delays = append(f.delays, d)
		return f.nextTimer
	}).AnyTimes()
	mock.EXPECT().CancelTimer(gomock.Any()).Do(func(t background.Timer) {
		delete(f.timers, t)
		f.cancelled = append(f.cancelled, t)
	}).AnyTimes()
	mock.EXPECT().RequestContinuation(gomock.Any(), gomock.Any()).DoAndReturn(func(d time.Duration, fn func()) background.Token {
		f.nextToken++
		f.continuations[f.nextToken] = fn
		f.durations = append(f.durations, d)
		return f.nextToken
	}).AnyTimes()
	mock.EXPECT().EndContinuation(gomock.Any()).Do(func(t background.Token) {
		delete(f.continuations, t)
		f.ended = append(f.ended, t)
	}).AnyTimes()
	return f
}

func (f *fakeHost) fireTimer(t background.Timer) {
	fn, ok := f.timers[t]
	Expect(ok).To(BeTrue(), "timer %d is not pending", t)
	delete(f.timers, t)
	fn()
}

func (f *fakeHost) expire(t background.Token) {
	fn, ok := f.continuations[t]
	Expect(ok).To(BeTrue(), "continuation %d is not active", t)
	delete(f.continuations, t)
	fn()
}

func encodedPayload(id string) []byte {
	b, err := (&protocol.Payload{EphemeralID: id}).Marshal()
	Expect(err).ToNot(HaveOccurred())
	return b
}

var _ = Describe("Orchestrator", func() {
	var (
		ctrl      *gomock.Controller
		transport *mocks.ConnectorCentral
		host      *fakeHost
		store     *contact.MemoryStore
		signals   *contact.Aggregator
		mockClock *clock.Mock
		cfg       central.Config
		o         *central.Orchestrator
		t0        time.Time
	)

	build := func() {
		live := contact.MapRecords{}
		o = central.New(cfg, central.Dependencies{
			Transport: transport,
			Host:      host,
			Signals:   signals,
			Recorder:  contact.NewRecorder(contact.NewGate(live, 0), live, store),
			Identity:  identity.Static("local-id"),
			Clock:     mockClock,
		})
	}

	powerOn := func() {
		transport.EXPECT().StartScanning([]string{service})
		o.Start()
		o.DidUpdateState(connector.RadioStatePoweredOn)
	}

	advertise := func(h connector.PeerHandle, manufacturerData []byte) {
		o.DidDiscover(connector.Advertisement{Handle: h, ManufacturerData: manufacturerData, RSSI: -80})
	}

	// runExchange drives a connected peer through the whole exchange, replying with remoteID.
	runExchange := func(h connector.PeerHandle, remoteID string) {
		gomock.InOrder(
			transport.EXPECT().DiscoverCharacteristics(h, service, []string{char}),
			transport.EXPECT().ReadSignalStrength(h),
			transport.EXPECT().WriteCharacteristic(h, char, gomock.Any()),
			transport.EXPECT().ReadCharacteristic(h, char),
			transport.EXPECT().Disconnect(h),
		)
		o.DidConnect(h)
		o.DidDiscoverCharacteristics(h, nil)
		o.DidReadSignalStrength(h, -60, nil)
		o.DidWriteCharacteristic(h, char, nil)
		o.DidReadCharacteristic(h, char, encodedPayload(remoteID), nil)
		o.DidDisconnect(h, nil)
	}

	BeforeEach(func() {
		ctrl = gomock.NewController(GinkgoT())
		transport = mocks.NewConnectorCentral(ctrl)
		host = newFakeHost(mocks.NewBackgroundHost(ctrl))
		store = contact.NewMemoryStore()
		signals = contact.NewAggregator()
		mockClock = clock.NewMock()
		t0 = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
		mockClock.Set(t0)
		cfg = central.Config{}
		build()
		DeferCleanup(func() {
			ctrl.Finish()
		})
	})

	It("computes fingerprints from the first 16 digest bytes", func() {
		fp := central.Fingerprint([]byte("manufacturer"))
		Expect(fp).To(HaveLen(32))
		Expect(fp).To(Equal(central.Fingerprint([]byte("manufacturer"))))
		Expect(fp).ToNot(Equal(central.Fingerprint([]byte("other"))))
	})

	Context("scanning", func() {
		It("waits for the radio before scanning", func() {
			o.Start()
			Expect(o.Status().Scanning).To(BeFalse())

			transport.EXPECT().StartScanning([]string{service})
			o.DidUpdateState(connector.RadioStatePoweredOn)
			Expect(o.Status().Scanning).To(BeTrue())
		})

		It("ignores redundant turn on requests", func() {
			powerOn()
			o.Start()
			o.DidUpdateState(connector.RadioStatePoweredOn)
		})

		It("stops scanning on turn off", func() {
			powerOn()
			transport.EXPECT().StopScanning()
			o.Stop()
			Expect(o.Status().Scanning).To(BeFalse())

			// Discoveries that race with the stop do not connect.
			advertise(h1, nil)
			Expect(o.Status().Peers).To(BeZero())
		})

		It("stops scanning when the radio powers off", func() {
			powerOn()
			transport.EXPECT().Connect(h1)
			advertise(h1, nil)

			o.DidUpdateState(connector.RadioStatePoweredOff)
			Expect(o.Status().Scanning).To(BeFalse())
			Expect(o.Status().Peers).To(BeZero())
		})
	})

	Context("deduplication", func() {
		It("connects once per fingerprint per scan window", func() {
			powerOn()
			transport.EXPECT().Connect(h1).Times(1)
			advertise(h1, []byte{0xca, 0xfe})
			advertise(h1, []byte{0xca, 0xfe})
			// Another handle carrying the same data is the same peer.
			advertise(h2, []byte{0xca, 0xfe})
			Expect(o.Status().Peers).To(Equal(1))

			runExchange(h1, "remote")
			advertise(h1, []byte{0xca, 0xfe})
			Expect(o.Status().Peers).To(BeZero())
		})

		It("connects again after a scan restart", func() {
			powerOn()
			transport.EXPECT().Connect(h1).Times(2)
			advertise(h1, []byte{0xca, 0xfe})

			o.DidUpdateState(connector.RadioStatePoweredOff)
			transport.EXPECT().StartScanning([]string{service})
			o.DidUpdateState(connector.RadioStatePoweredOn)
			advertise(h1, []byte{0xca, 0xfe})
			Expect(o.Status().Peers).To(Equal(1))
		})

		It("resets peers and the dedup window on periodic restarts", func() {
			cfg.ScanRestartInterval = time.Minute
			build()
			powerOn()
			Expect(host.delays).To(Equal([]time.Duration{time.Minute}))

			transport.EXPECT().Connect(h1).Times(2)
			advertise(h1, []byte{0x01})

			gomock.InOrder(
				transport.EXPECT().StopScanning(),
				transport.EXPECT().Disconnect(h1),
				transport.EXPECT().StartScanning([]string{service}),
			)
			host.fireTimer(1)
			Expect(o.Status().Peers).To(BeZero())
			Expect(host.timers).To(HaveLen(1), "restart timer is re-armed")

			advertise(h1, []byte{0x01})
			Expect(o.Status().Peers).To(Equal(1))
		})

		It("reconnects peers without manufacturer data once they are dropped", func() {
			powerOn()
			transport.EXPECT().Connect(h1).Times(2)
			advertise(h1, nil)
			transport.EXPECT().DiscoverCharacteristics(h1, service, []string{char})
			transport.EXPECT().Disconnect(h1)
			o.DidConnect(h1)
			o.DidDiscoverCharacteristics(h1, errLinkLost)
			advertise(h1, nil)
		})

		It("recovers a peer when the previous connection closes during a reconnect", func() {
			powerOn()
			transport.EXPECT().Connect(h1).Times(3)
			advertise(h1, nil)
			runExchange(h1, "remote")

			// The peer advertises again before the transport reports the requested disconnect.
			advertise(h1, nil)
			Expect(o.Status().Peers).To(Equal(1))
			transport.EXPECT().Disconnect(h1)
			o.DidDisconnect(h1, nil)
			Expect(o.Status().Peers).To(BeZero())
			Expect(host.continuations).To(BeEmpty())

			advertise(h1, nil)
			Expect(o.Status().Peers).To(Equal(1))
		})

		It("lets a fingerprinted peer be rediscovered after an abandoned connect", func() {
			powerOn()
			transport.EXPECT().Connect(h1).Times(2)
			advertise(h1, []byte{0xbe, 0xef})

			transport.EXPECT().Disconnect(h1)
			o.DidDisconnect(h1, nil)
			Expect(o.Status().Peers).To(BeZero())

			advertise(h1, []byte{0xbe, 0xef})
			Expect(o.Status().Peers).To(Equal(1))
		})
	})

	Context("exchange", func() {
		It("writes our identifier and records the peer's", func() {
			powerOn()
			transport.EXPECT().Connect(h1)
			o.DidDiscover(connector.Advertisement{
				Handle:           h1,
				ManufacturerData: []byte{0x01, 0x02},
				TxPower:          func() *float64 { v := 7.0; return &v }(),
				RSSI:             -80,
			})

			var written []byte
			gomock.InOrder(
				transport.EXPECT().DiscoverCharacteristics(h1, service, []string{char}),
				transport.EXPECT().ReadSignalStrength(h1),
				transport.EXPECT().WriteCharacteristic(h1, char, gomock.Any()).Do(func(_ connector.PeerHandle, _ string, v []byte) {
					written = v
				}),
				transport.EXPECT().ReadCharacteristic(h1, char),
				transport.EXPECT().Disconnect(h1),
			)
			o.DidConnect(h1)
			o.DidDiscoverCharacteristics(h1, nil)
			o.DidReadSignalStrength(h1, -55, nil)

			sent, err := protocol.DecodePayload(written)
			Expect(err).ToNot(HaveOccurred())
			Expect(sent.EphemeralID).To(Equal("local-id"))
			Expect(*sent.RSSI).To(Equal(-55.0))

			o.DidWriteCharacteristic(h1, char, nil)
			o.DidReadCharacteristic(h1, char, encodedPayload("remote-id"), nil)

			records := store.Records()
			Expect(records).To(HaveLen(1))
			Expect(records[0].Peer).To(Equal(contact.PeerID(central.Fingerprint([]byte{0x01, 0x02}))))
			rec := records[0].Record
			Expect(*rec.PeerTempID).To(Equal("remote-id"))
			Expect(*rec.RSSI).To(Equal(-55.0))
			Expect(*rec.TxPower).To(Equal(7.0))
			Expect(rec.Timestamp.Equal(t0)).To(BeTrue())
			Expect(o.Status().Peers).To(BeZero())
		})

		It("throttles a second exchange inside the window", func() {
			powerOn()
			transport.EXPECT().Connect(h1).Times(2)
			advertise(h1, nil)
			runExchange(h1, "remote")
			mockClock.Add(10 * time.Second)
			advertise(h1, nil)
			runExchange(h1, "remote")
			Expect(store.Records()).To(HaveLen(1))
		})

		It("disconnects when the signal measurement fails", func() {
			powerOn()
			transport.EXPECT().Connect(h1)
			advertise(h1, nil)
			gomock.InOrder(
				transport.EXPECT().DiscoverCharacteristics(h1, service, []string{char}),
				transport.EXPECT().ReadSignalStrength(h1),
				transport.EXPECT().Disconnect(h1),
			)
			o.DidConnect(h1)
			o.DidDiscoverCharacteristics(h1, nil)
			o.DidReadSignalStrength(h1, 0, errLinkLost)
			Expect(o.Status().Peers).To(BeZero())
			Expect(host.continuations).To(BeEmpty())
		})

		It("disconnects when the peer's payload is malformed", func() {
			powerOn()
			transport.EXPECT().Connect(h1)
			advertise(h1, nil)
			gomock.InOrder(
				transport.EXPECT().DiscoverCharacteristics(h1, service, []string{char}),
				transport.EXPECT().ReadSignalStrength(h1),
				transport.EXPECT().WriteCharacteristic(h1, char, gomock.Any()),
				transport.EXPECT().ReadCharacteristic(h1, char),
				transport.EXPECT().Disconnect(h1),
			)
			o.DidConnect(h1)
			o.DidDiscoverCharacteristics(h1, nil)
			o.DidReadSignalStrength(h1, -60, nil)
			o.DidWriteCharacteristic(h1, char, errLinkLost)
			o.DidReadCharacteristic(h1, char, []byte{0xff, 0xff}, nil)
			Expect(store.Records()).To(BeEmpty())
		})

		It("drops peers that fail to connect without a long session", func() {
			powerOn()
			transport.EXPECT().Connect(h1)
			advertise(h1, nil)
			o.DidFailToConnect(h1, errLinkLost)
			Expect(o.Status().Peers).To(BeZero())
			Expect(host.continuations).To(BeEmpty())
		})

		It("disconnects connections it does not track", func() {
			powerOn()
			transport.EXPECT().Disconnect(h2)
			o.DidConnect(h2)
		})
	})

	Context("long sessions", func() {
		// dropMidExchange connects h1 and loses the link after the write.
		dropMidExchange := func() {
			powerOn()
			transport.EXPECT().Connect(h1)
			advertise(h1, nil)
			transport.EXPECT().DiscoverCharacteristics(h1, service, []string{char})
			transport.EXPECT().ReadSignalStrength(h1)
			transport.EXPECT().WriteCharacteristic(h1, char, gomock.Any())
			o.DidConnect(h1)
			o.DidDiscoverCharacteristics(h1, nil)
			o.DidReadSignalStrength(h1, -60, nil)
			o.DidDisconnect(h1, errLinkLost)

			Expect(host.durations).To(Equal([]time.Duration{central.DefaultContinuationDuration}))
			Expect(host.delays).To(Equal([]time.Duration{central.DefaultReconnectDelay}))
			Expect(o.Status().LongSessions).To(Equal(1))
		}

		It("reconnects exactly once when the timer fires", func() {
			dropMidExchange()
			transport.EXPECT().Connect(h1).Times(1)
			host.fireTimer(1)
			Expect(o.Status().LongSessions).To(BeZero())
			Expect(o.Status().Peers).To(Equal(1))
			Expect(host.timers).To(BeEmpty())
			Expect(host.continuations).To(HaveKey(background.Token(1)), "continuation is carried by the peer")

			runExchange(h1, "remote")
			Expect(store.Records()).To(HaveLen(1))
			Expect(host.ended).To(Equal([]background.Token{1}))
		})

		It("cancels the connection when the continuation expires first", func() {
			dropMidExchange()
			transport.EXPECT().Disconnect(h1)
			host.expire(1)
			Expect(o.Status().LongSessions).To(BeZero())
			Expect(host.cancelled).To(Equal([]background.Timer{1}))
			Expect(host.timers).To(BeEmpty())
		})

		It("cancels a reconnect that outlives the continuation", func() {
			dropMidExchange()
			transport.EXPECT().Connect(h1)
			host.fireTimer(1)

			transport.EXPECT().Disconnect(h1)
			host.expire(1)
			Expect(o.Status().Peers).To(BeZero())
			Expect(host.ended).To(BeEmpty(), "an expired continuation is not ended again")
		})

		It("is superseded by a rediscovery", func() {
			dropMidExchange()
			transport.EXPECT().Connect(h1).Times(1)
			advertise(h1, nil)
			Expect(o.Status().LongSessions).To(BeZero())
			Expect(host.cancelled).To(Equal([]background.Timer{1}))
			Expect(host.ended).To(Equal([]background.Token{1}))
			Expect(host.timers).To(BeEmpty())
		})

		It("survives turn off", func() {
			dropMidExchange()
			transport.EXPECT().StopScanning()
			o.Stop()
			Expect(o.Status().LongSessions).To(Equal(1))

			transport.EXPECT().Connect(h1)
			host.fireTimer(1)
		})

		It("is released when the radio powers off", func() {
			dropMidExchange()
			o.DidUpdateState(connector.RadioStatePoweredOff)
			Expect(o.Status().LongSessions).To(BeZero())
			Expect(host.ended).To(Equal([]background.Token{1}))
		})

		It("ignores requested disconnects", func() {
			powerOn()
			transport.EXPECT().Connect(h1)
			advertise(h1, nil)
			runExchange(h1, "remote")
			Expect(host.continuations).To(BeEmpty())
		})
	})
})
