package central

import (
	"github.com/opencontact/proximity/internal/log"
	"github.com/opencontact/proximity/pkg/background"
	"github.com/opencontact/proximity/pkg/connector"
	"github.com/opencontact/proximity/pkg/contact"
	"github.com/opencontact/proximity/pkg/metrics"
)

// longSession keeps an unexpectedly disconnected peer alive until it can be reconnected.
type longSession struct {
	handle connector.PeerHandle
	id     contact.PeerID
	token  background.Token
	timer  background.Timer
}

func (o *Orchestrator) startSession(h connector.PeerHandle, id contact.PeerID) {
	if s, ok := o.sessions[h]; ok {
		o.releaseSession(s)
	}
	s := &longSession{handle: h, id: id}
	s.token = o.deps.Host.RequestContinuation(o.cfg.ContinuationDuration, func() {
		o.post(func() { o.sessionExpired(s) })
	})
	s.timer = o.deps.Host.ScheduleOnce(o.cfg.ReconnectDelay, func() {
		o.post(func() { o.sessionFired(s) })
	})
	o.sessions[h] = s
	o.deps.Metrics.LongSession(metrics.SessionStarted)
	log.Debug("[%s] Long session started, reconnecting in %s", h, o.cfg.ReconnectDelay)
}

// releaseSession cancels the reconnect timer and ends the continuation.
func (o *Orchestrator) releaseSession(s *longSession) {
	if o.sessions[s.handle] != s {
		return
	}
	delete(o.sessions, s.handle)
	o.deps.Host.CancelTimer(s.timer)
	o.deps.Host.EndContinuation(s.token)
}

// sessionFired reconnects once. The continuation moves to the reconnecting peer.
func (o *Orchestrator) sessionFired(s *longSession) {
	if o.sessions[s.handle] != s {
		return
	}
	delete(o.sessions, s.handle)
	if !o.radio.On() {
		log.Debug("[%s] Radio off, abandoning long session", s.handle)
		o.deps.Host.EndContinuation(s.token)
		return
	}
	if p, tracked := o.peers[s.handle]; tracked {
		// Unreachable while rediscovery supersedes sessions, but never track a handle twice.
		log.Warning("[%s] Long session fired for tracked peer %s", s.handle, p)
		o.deps.Host.EndContinuation(s.token)
		return
	}
	log.Info("[%s] Reconnecting", s.handle)
	o.deps.Metrics.LongSession(metrics.SessionReconnected)
	o.connect(&peer{
		handle:          s.handle,
		id:              s.id,
		continuation:    s.token,
		hasContinuation: true,
	})
}

// sessionExpired forcibly cancels the connection the session was keeping alive, whether the
// session is still waiting to reconnect or its peer is already reconnecting.
func (o *Orchestrator) sessionExpired(s *longSession) {
	if o.sessions[s.handle] == s {
		delete(o.sessions, s.handle)
		o.deps.Host.CancelTimer(s.timer)
		log.Info("[%s] Long session expired before reconnecting", s.handle)
		o.deps.Metrics.LongSession(metrics.SessionExpired)
		o.deps.Transport.Disconnect(s.handle)
		return
	}
	p, ok := o.peers[s.handle]
	if !ok || !p.hasContinuation || p.continuation != s.token {
		return
	}
	// The host already revoked the continuation; do not end it again.
	p.hasContinuation = false
	log.Info("[%s] Long session expired during reconnect", p)
	o.deps.Metrics.LongSession(metrics.SessionExpired)
	o.dropPeer(p, true)
}
