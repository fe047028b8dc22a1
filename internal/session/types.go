package session

import (
	"context"
	"net"

	"github.com/pyr33x/mqttd/internal/packet"
	"github.com/pyr33x/mqttd/internal/retained"
)

// Will is the message stored at CONNECT and published by the Router
// if the session terminates ungracefully (§4.E).
type Will struct {
	Topic   string
	Payload []byte
	QoS     packet.QoSLevel
	Retain  bool
}

type outPhase int

const (
	phaseAwaitAck  outPhase = iota // QoS 1: waiting for PUBACK
	phaseAwaitRec                  // QoS 2: waiting for PUBREC
	phaseAwaitComp                 // QoS 2: PUBREL sent, waiting for PUBCOMP
)

type outFlow struct {
	msg   *packet.PublishPacket
	phase outPhase
}

// Authenticator is the subset of auth.Authenticator the handshake and
// ACL checks need. Defined here (not imported from internal/auth) so
// this package has no dependency on that package's concrete type.
type Authenticator interface {
	Authenticate(ctx context.Context, clientID string, username, password *string, remoteIP net.IP) error
	Authorize(clientID, topic string, write bool) bool
}

// Metrics is the subset of sysmetrics.Counters a Session updates
// directly (§4.H: "bytes_in, bytes_out ... updated by Sessions").
type Metrics interface {
	AddBytesIn(n int)
	AddBytesOut(n int)
}

// Trie is the subset of trie.Trie a Session needs for its own
// subscribe/unsubscribe/cleanup calls.
type Trie interface {
	Subscribe(sessionID, filter string, qosMax byte)
	Unsubscribe(sessionID, filter string)
	RemoveSession(sessionID string)
}

// Retained is the subset of retained.Store a Session consults at
// subscribe-time (§4.C).
type Retained interface {
	DeliverMatching(filter string) []retained.Message
}

// Router is what a Session needs from component G to submit a
// received PUBLISH for fan-out.
type Router interface {
	Publish(msg *packet.PublishPacket, sourceSessionID string)
}

// Conn is the capability set every transport (TCP/TLS/WS) presents
// (§9 "Dynamic dispatch across transports").
type Conn interface {
	ReadPacket() (*packet.ParsedPacket, error)
	WritePacket(raw []byte) error
	Close() error
	PeerAddr() string
}
