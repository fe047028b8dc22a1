// Package router implements component G: it takes one accepted
// PUBLISH, updates the retained store if the retain flag is set,
// matches the topic against the subscription trie, and fans the
// message out to every matching session at its own effective QoS
// (§4.G).
//
// Like internal/trie and internal/retained this has no locks of its
// own; the matching/fan-out work happens directly in the caller's
// goroutine (a Session's run loop, or the $SYS publisher's ticker) —
// the trie and retained store are themselves coordinator-backed, so
// concurrent Publish calls only ever contend on those two channels,
// never on router state (there is none).
package router

import "github.com/pyr33x/mqttd/internal/packet"

// Trie is the subset of trie.Trie the router needs to find matching
// subscribers. Defined locally so this package never imports
// internal/trie's concrete type, avoiding a cycle with internal/server
// wiring both.
type Trie interface {
	MatchTopic(topic string) []Match
}

// Match mirrors trie.Match structurally (SessionID, QoSMax) so this
// package's Trie interface can be satisfied by *trie.Trie without an
// import.
type Match struct {
	SessionID string
	QoSMax    byte
}

// RetainedStore is the subset of retained.Store the router needs.
type RetainedStore interface {
	Store(msg RetainedMessage)
}

// RetainedMessage mirrors retained.Message structurally.
type RetainedMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
}

// Sink is anything that can accept a fanned-out PUBLISH — satisfied
// structurally by *session.Session without importing internal/session.
type Sink interface {
	ID() string
	Deliver(msg *packet.PublishPacket) error
}

// SessionLookup resolves a subscriber's session_id to a Sink. The
// top-level server package supplies an adapter over *session.Store.
type SessionLookup interface {
	Get(sessionID string) (Sink, bool)
}

// Metrics is the subset of sysmetrics.Counters the router updates
// directly (§4.H: "msgs_in, msgs_out").
type Metrics interface {
	AddMsgIn()
	AddMsgOut()
}

// Router is component G.
type Router struct {
	trie     Trie
	retained RetainedStore
	sessions SessionLookup
	metrics  Metrics
}

func New(trie Trie, retained RetainedStore, sessions SessionLookup, metrics Metrics) *Router {
	return &Router{trie: trie, retained: retained, sessions: sessions, metrics: metrics}
}

// Publish implements §4.G's steps: update retained state if requested,
// match subscribers, and deliver one per-subscriber copy at
// min(msg.qos, subscriber.qos_max), with retain always cleared on the
// delivered copy (retain is a subscribe-time-only signal, §3).
// sourceSessionID is accepted for future loop-prevention/logging use;
// MQTT 3.1.1 has no no-local option, so it is not used to skip the
// publisher itself.
func (r *Router) Publish(msg *packet.PublishPacket, sourceSessionID string) {
	r.metrics.AddMsgIn()

	if msg.Retain {
		r.retained.Store(RetainedMessage{Topic: msg.Topic, Payload: msg.Payload, QoS: byte(msg.QoS)})
	}

	for _, m := range r.trie.MatchTopic(msg.Topic) {
		sink, ok := r.sessions.Get(m.SessionID)
		if !ok {
			continue
		}

		effQoS := byte(msg.QoS)
		if m.QoSMax < effQoS {
			effQoS = m.QoSMax
		}

		out := &packet.PublishPacket{
			Topic:   msg.Topic,
			Payload: msg.Payload,
			QoS:     packet.QoSLevel(effQoS),
			Retain:  false,
			DUP:     false,
		}

		if sink.Deliver(out) == nil {
			r.metrics.AddMsgOut()
		}
	}
}

// PublishSys satisfies sysmetrics.BrokerPublisher: it republishes one
// $SYS counter as a QoS 0, retained PUBLISH with no originating
// session (§4.H: "source_session_id=None"), routed through the same
// Publish path as any other message so it also lands in the Retained
// Store.
func (r *Router) PublishSys(topic string, payload []byte) {
	r.Publish(&packet.PublishPacket{Topic: topic, Payload: payload, QoS: packet.QoSAtMostOnce, Retain: true}, "")
}
