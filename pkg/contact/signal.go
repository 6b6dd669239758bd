package contact

type signalState struct {
	rssi    *float64
	txPower *float64
}

// Aggregator tracks the best observed signal strength and the advertised transmit power of each
// peer.
//
// Signal strength is noisy, so the Aggregator optimistically remembers the strongest sample seen
// (the best line-of-sight reading). Transmit power can only be read from advertisements, so the
// first value seen in a discovery window wins.
//
// An Aggregator is not safe for concurrent use; the engine confines it to its dispatcher.
type Aggregator struct {
	peers map[PeerID]*signalState
}

func NewAggregator() *Aggregator {
	return &Aggregator{peers: make(map[PeerID]*signalState)}
}

func (a *Aggregator) state(peer PeerID) *signalState {
	s, ok := a.peers[peer]
	if !ok {
		s = &signalState{}
		a.peers[peer] = s
	}
	return s
}

// Observe records a signal strength sample. The stored value never decreases.
func (a *Aggregator) Observe(peer PeerID, rssi float64) {
	s := a.state(peer)
	if s.rssi == nil || rssi > *s.rssi {
		s.rssi = float64Ptr(rssi)
	}
}

// ObserveTxPower records the advertised transmit power unless one is already known for peer.
func (a *Aggregator) ObserveTxPower(peer PeerID, power float64) {
	s := a.state(peer)
	if s.txPower == nil {
		s.txPower = float64Ptr(power)
	}
}

// Latest returns the current aggregate for peer as a Record. Unknown peers yield an empty Record.
func (a *Aggregator) Latest(peer PeerID) Record {
	var r Record
	if s, ok := a.peers[peer]; ok {
		if s.rssi != nil {
			r.RSSI = float64Ptr(*s.rssi)
		}
		if s.txPower != nil {
			r.TxPower = float64Ptr(*s.txPower)
		}
	}
	return r
}

// Forget drops everything known about peer.
func (a *Aggregator) Forget(peer PeerID) {
	delete(a.peers, peer)
}

// Reset starts a new discovery window.
func (a *Aggregator) Reset() {
	a.peers = make(map[PeerID]*signalState)
}
