package server

import (
	"github.com/pyr33x/mqttd/internal/retained"
	"github.com/pyr33x/mqttd/internal/router"
	"github.com/pyr33x/mqttd/internal/session"
	"github.com/pyr33x/mqttd/internal/trie"
)

// The coordinators (trie.Trie, retained.Store, session.Store) each
// define their own result types structurally identical to what
// internal/router expects, but Go's interface satisfaction requires
// exact method signatures, not just structurally-equal types — these
// thin adapters are the only place that bridges them, so none of the
// leaf packages needs to import another's types.

// trieAdapter satisfies router.Trie over a *trie.Trie.
type trieAdapter struct{ t *trie.Trie }

func (a trieAdapter) MatchTopic(topic string) []router.Match {
	matches := a.t.MatchTopic(topic)
	out := make([]router.Match, len(matches))
	for i, m := range matches {
		out[i] = router.Match{SessionID: m.SessionID, QoSMax: m.QoSMax}
	}
	return out
}

// retainedAdapter satisfies router.RetainedStore over a *retained.Store.
type retainedAdapter struct{ r *retained.Store }

func (a retainedAdapter) Store(msg router.RetainedMessage) {
	a.r.Store(retained.Message{Topic: msg.Topic, Payload: msg.Payload, QoS: msg.QoS})
}

// sessionLookupAdapter satisfies router.SessionLookup over a
// *session.Store, wrapping the returned *session.Session as a
// router.Sink value.
type sessionLookupAdapter struct{ s *session.Store }

func (a sessionLookupAdapter) Get(sessionID string) (router.Sink, bool) {
	sess, ok := a.s.Get(sessionID)
	if !ok {
		return nil, false
	}
	return sess, true
}
