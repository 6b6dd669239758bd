package contact

import "time"

// DefaultThrottleWindow is the minimum spacing between two persisted records of the same peer.
// Peers that stay nearby are rediscovered every few seconds; the window keeps a long encounter as
// a time series instead of a flood of writes.
const DefaultThrottleWindow = 30 * time.Second

// Gate decides whether a new observation of a peer is worth persisting. It never mutates the
// history it consults: callers advance the stored record only after ShouldSave returns true.
type Gate struct {
	Window  time.Duration
	history LiveRecords
}

// NewGate returns a Gate consulting history for prior records. A non-positive window selects
// DefaultThrottleWindow.
func NewGate(history LiveRecords, window time.Duration) *Gate {
	if window <= 0 {
		window = DefaultThrottleWindow
	}
	return &Gate{Window: window, history: history}
}

// ShouldSave returns true if candidate should be persisted for peer.
//
// A candidate without a timestamp is never eligible, even for a peer without history.
func (g *Gate) ShouldSave(candidate Record, peer PeerID) bool {
	if candidate.Timestamp == nil {
		return false
	}
	prior, ok := g.history.Get(peer)
	if !ok || prior.Timestamp == nil {
		return true
	}
	return candidate.Timestamp.Sub(*prior.Timestamp) > g.Window
}
