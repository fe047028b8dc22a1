// Package transport implements component I: the byte-stream listeners
// (TCP, TLS, WebSocket) that accept sockets and hand off decoded MQTT
// packets to a caller-supplied handler, with no dependency on
// internal/session — it only deals in the Conn capability interface
// session.Conn also describes structurally (§9 "Dynamic dispatch
// across transports"). TCP and TLS share one accept loop, WS accepts
// through net/http, and all three share one connection wrapper, so
// none of them duplicates the read loop.
package transport

import (
	"bufio"
	"net"

	"github.com/pyr33x/mqttd/internal/packet"
)

// Conn is the capability set handed to a Handler: every transport
// (TCP, TLS, WS) presents the same four operations regardless of the
// underlying net.Conn, mirroring session.Conn structurally so a
// *netConn needs no adapter on the way into session.Session.Attach
// (§9 "Dynamic dispatch across transports").
type Conn interface {
	ReadPacket() (*packet.ParsedPacket, error)
	WritePacket(raw []byte) error
	Close() error
	PeerAddr() string
}

// netConn adapts any net.Conn (plain TCP, *tls.Conn, or a WebSocket
// wrapped via websocket.NetConn — all implement net.Conn) into the
// ReadPacket/WritePacket/Close/PeerAddr shape sessions consume.
type netConn struct {
	raw    net.Conn
	reader *bufio.Reader
}

func newConn(raw net.Conn) *netConn {
	return &netConn{raw: raw, reader: bufio.NewReader(raw)}
}

func (c *netConn) ReadPacket() (*packet.ParsedPacket, error) {
	raw, err := packet.ReadRaw(c.reader)
	if err != nil {
		return nil, err
	}
	return packet.Parse(raw)
}

func (c *netConn) WritePacket(raw []byte) error {
	_, err := c.raw.Write(raw)
	return err
}

func (c *netConn) Close() error {
	return c.raw.Close()
}

func (c *netConn) PeerAddr() string {
	return c.raw.RemoteAddr().String()
}
