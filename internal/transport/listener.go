package transport

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/pyr33x/mqttd/internal/logger"
)

// Handler is invoked once per accepted connection, already wrapped as
// a session.Conn-shaped Conn. The server's handler runs the CONNECT
// handshake, hands the Conn to session.Session.Attach and returns; from
// then on the Session's own goroutines read and write the connection.
type Handler func(conn Conn)

// AdmitFunc reports whether a new connection may be accepted (§7:
// "server connection cap exceeded" — over the configured
// max_connections, the accept is refused, not queued).
type AdmitFunc func() bool

// serve runs the accept loop shared by TCP and TLS (the WS listener
// accepts through its own net/http server instead): accept,
// check the connection cap, wrap, hand off to handler in its own
// goroutine. It returns when ctx is canceled or the listener is
// closed.
func serve(ctx context.Context, ln net.Listener, admit AdmitFunc, handler Handler, log *logger.Logger, proto string) {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var refused atomic.Int64
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.LogError(err, "accept error", logger.String("proto", proto))
				continue
			}
		}

		if admit != nil && !admit() {
			refused.Add(1)
			_ = conn.Close()
			continue
		}

		go handler(newConn(conn))
	}
}
