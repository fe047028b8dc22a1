// Package server implements component J: it wires components A-I
// together, enforces the connection cap, and drives graceful
// shutdown (§4.J).
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pyr33x/mqttd/internal/auth"
	"github.com/pyr33x/mqttd/internal/config"
	"github.com/pyr33x/mqttd/internal/logger"
	"github.com/pyr33x/mqttd/internal/packet"
	"github.com/pyr33x/mqttd/internal/retained"
	"github.com/pyr33x/mqttd/internal/router"
	"github.com/pyr33x/mqttd/internal/session"
	"github.com/pyr33x/mqttd/internal/sysmetrics"
	"github.com/pyr33x/mqttd/internal/topicmatch"
	"github.com/pyr33x/mqttd/internal/transport"
	"github.com/pyr33x/mqttd/internal/trie"
	"github.com/pyr33x/mqttd/pkg/er"
)

// Server owns every shared component and the connection cap.
type Server struct {
	cfg      *config.Config
	log      *logger.Logger
	trie     *trie.Trie
	retained *retained.Store
	store    *session.Store
	authn    *auth.Authenticator
	metrics  *sysmetrics.Counters
	router   *router.Router
	sysPub   *sysmetrics.Publisher
	registry *prometheus.Registry

	liveConns int64
}

// New constructs every component and wires them per §2's data-flow
// table, but starts nothing — call Start to begin accepting.
func New(cfg *config.Config, authFile *auth.File, log *logger.Logger) *Server {
	t := trie.New()
	rs := retained.New()
	st := session.NewStore()
	registry := prometheus.NewRegistry()
	metrics := sysmetrics.NewCounters(registry)

	authn := auth.New(authFile, cfg.AnonymousAllowed, cfg.AuthExternalURL, cfg.AuthTimeout())

	r := router.New(trieAdapter{t}, retainedAdapter{rs}, sessionLookupAdapter{st}, metrics)

	srv := &Server{
		cfg:      cfg,
		log:      log,
		trie:     t,
		retained: rs,
		store:    st,
		authn:    authn,
		metrics:  metrics,
		router:   r,
		registry: registry,
	}

	if cfg.SysTopicsEnabled() {
		srv.sysPub = sysmetrics.NewPublisher(metrics, r, time.Duration(cfg.SysTopicsUpdateInterval)*time.Second, log)
	}

	return srv
}

// Start begins accepting on every configured transport and the $SYS
// ticker; it returns once listeners are up, or the first fatal bind
// error (§6 "non-zero on fatal startup error").
func (srv *Server) Start(ctx context.Context) error {
	if err := transport.ListenTCP(ctx, srv.cfg.TCPPort, srv.admit, srv.handleConn, srv.log); err != nil {
		return err
	}

	if srv.cfg.TLSEnabled() {
		if err := transport.ListenTLS(ctx, srv.cfg.TLSPort, srv.cfg.CertFile, srv.cfg.KeyFile, srv.admit, srv.handleConn, srv.log); err != nil {
			return err
		}
	} else {
		srv.log.Info("tls cert_file not configured, tls listener not started")
	}

	if srv.cfg.WSEnabled() {
		if err := transport.ListenWS(ctx, srv.cfg.WSPort, srv.admit, srv.handleConn, srv.log); err != nil {
			return err
		}
	}

	if srv.sysPub != nil {
		srv.sysPub.Start(ctx)
	}

	if srv.cfg.MetricsAddr != "" {
		sysmetrics.ServeMetrics(srv.cfg.MetricsAddr, srv.registry, srv.log)
	}

	return nil
}

// Shutdown implements §4.J's graceful-shutdown sequence: stop
// accepting happens by the caller canceling ctx before calling this;
// here we drive every session through Shutdown (closing its socket,
// flushing nothing further since state is in-memory only per the
// Non-goals) and stop the $SYS ticker.
func (srv *Server) Shutdown() {
	if srv.sysPub != nil {
		srv.sysPub.Stop()
	}
	srv.store.ShutdownAll()
	srv.trie.Close()
	srv.retained.Close()
}

// admit enforces max_connections (§5, §7 ConnectionCapExceeded): a
// rejected accept gets no response at all, per §6's "disconnect
// without CONNACK for connection-cap rejection."
func (srv *Server) admit() bool {
	for {
		cur := atomic.LoadInt64(&srv.liveConns)
		if cur >= int64(srv.cfg.MaxConnections) {
			return false
		}
		if atomic.CompareAndSwapInt64(&srv.liveConns, cur, cur+1) {
			srv.metrics.SetClientsConnected(int(cur + 1))
			return true
		}
	}
}

func (srv *Server) release() {
	n := atomic.AddInt64(&srv.liveConns, -1)
	if n < 0 {
		atomic.StoreInt64(&srv.liveConns, 0)
		n = 0
	}
	srv.metrics.SetClientsConnected(int(n))
}

// countedConn decrements the live-connection count exactly once, no
// matter which path closes the socket (handshake rejection, a read
// error deep in the session's run loop, or graceful shutdown).
type countedConn struct {
	transport.Conn
	once sync.Once
	dec  func()
}

func (c *countedConn) Close() error {
	err := c.Conn.Close()
	c.once.Do(c.dec)
	return err
}

// handleConn is component E's Handshake phase (§4.E): it owns the
// connection up until a successful CONNECT is attached to a Session,
// at which point the Session's own goroutine takes over.
func (srv *Server) handleConn(raw transport.Conn) {
	conn := &countedConn{Conn: raw, dec: srv.release}

	pkt, err := conn.ReadPacket()
	if err != nil {
		if errors.Is(err, er.ErrUnsupportedProtocolName) || errors.Is(err, er.ErrUnsupportedProtocolLevel) {
			_ = conn.WritePacket(packet.NewConnAck(false, packet.UnacceptableProtocolVersion))
		}
		_ = conn.Close()
		return
	}
	if pkt.Type != packet.CONNECT || pkt.Connect == nil {
		_ = conn.Close()
		return
	}
	cp := pkt.Connect

	clientID := cp.ClientID
	switch {
	case clientID == "" && !cp.CleanSession:
		srv.reject(conn, packet.IdentifierRejected)
		return
	case clientID == "":
		clientID = uuid.NewString()
	case len(clientID) > 65535:
		srv.reject(conn, packet.IdentifierRejected)
		return
	}

	if err := srv.authn.Authenticate(context.Background(), clientID, cp.Username, cp.Password, remoteIP(conn)); err != nil {
		code := byte(packet.NotAuthorized)
		if errors.Is(err, er.ErrBadUsernameOrPassword) {
			code = packet.BadUsernameOrPassword
		}
		srv.log.LogAuth(clientID, usernameOf(cp.Username), false, err.Error())
		srv.reject(conn, code)
		return
	}
	srv.log.LogAuth(clientID, usernameOf(cp.Username), true, "accepted")

	var will *session.Will
	if cp.WillFlag {
		if err := topicmatch.ValidateName(*cp.WillTopic); err != nil || topicmatch.IsReserved(*cp.WillTopic) {
			_ = conn.Close()
			return
		}
		will = &session.Will{
			Topic:   *cp.WillTopic,
			Payload: []byte(*cp.WillMessage),
			QoS:     packet.QoSLevel(cp.WillQoS),
			Retain:  cp.WillRetain,
		}
	}

	factory := func() *session.Session {
		return session.New(clientID, srv.router, srv.trie, srv.retained, srv.authn, srv.metrics, srv.log, func() {
			srv.store.Remove(clientID)
		})
	}
	sess, sessionPresent := srv.store.TakeOrCreate(clientID, cp.CleanSession, factory)

	if err := conn.WritePacket(packet.NewConnAck(sessionPresent, packet.ConnectionAccepted)); err != nil {
		_ = conn.Close()
		return
	}

	srv.log.LogClientConnection(clientID, conn.PeerAddr(), "connected", logger.Bool("session_present", sessionPresent))

	keepAlive := time.Duration(cp.KeepAlive) * time.Second
	sess.Attach(conn, cp.CleanSession, keepAlive, will)
}

func (srv *Server) reject(conn *countedConn, code byte) {
	_ = conn.WritePacket(packet.NewConnAck(false, code))
	_ = conn.Close()
}

func usernameOf(u *string) string {
	if u == nil {
		return ""
	}
	return *u
}

func remoteIP(conn transport.Conn) net.IP {
	host, _, err := net.SplitHostPort(conn.PeerAddr())
	if err != nil {
		host = conn.PeerAddr()
	}
	return net.ParseIP(host)
}

// BrokerID returns the configured broker_id, falling back to §6's
// documented default when unset.
func (srv *Server) BrokerID() string {
	if srv.cfg.BrokerID == "" {
		return "<undefined>"
	}
	return srv.cfg.BrokerID
}
