// Package session implements components D (Session Store) and E
// (Session State Machine): the directory of active/clean sessions
// keyed by client-id, and the per-client protocol state machine with
// its QoS 1/2 in-flight tables, keep-alive, and will handling.
//
// Each Session runs its own goroutine from creation until it is
// discarded, mirroring §5's "each active connection runs as an
// independent task" for the connected phase and, while a non-clean
// session sits disconnected, continuing to serve as the in-memory
// home for its queued messages (§4.E "pending_out").
package session

import (
	"sort"
	"time"

	"github.com/pyr33x/mqttd/internal/logger"
	"github.com/pyr33x/mqttd/internal/packet"
	"github.com/pyr33x/mqttd/internal/topicmatch"
	"github.com/pyr33x/mqttd/pkg/er"
)

const (
	// inFlightWindow bounds inflight_in/inflight_out (§5: "bounded
	// (e.g., 64)"). Rather than a full read-pause scheduler (which would
	// need a cancelable blocking-read abstraction this codec doesn't
	// expose), exceeding the window closes the connection with
	// ErrInternalBackpressure.
	inFlightWindow = 64

	// outboundQueueBound is the per-session bounded outbound queue
	// (§5, §9 Open Question (a)).
	outboundQueueBound = 256
)

type ctlKind int

const (
	ctlKill     ctlKind = iota // close the live socket, keep state, stay offline
	ctlDiscard                 // close the live socket, drop all state, exit for good
	ctlShutdown                // graceful server shutdown: close socket, exit
)

type controlMsg struct {
	kind  ctlKind
	reply chan struct{}
}

type queryMsg struct {
	reply chan bool
}

type attachMsg struct {
	conn      Conn
	clean     bool
	keepAlive time.Duration
	will      *Will
	reply     chan struct{}
}

type readResult struct {
	pkt *packet.ParsedPacket
	err error
}

// Session is the per-client_id state machine (component E) and also
// the in-memory record the Session Store (component D) holds for a
// non-clean client while it is offline.
type Session struct {
	id string

	router   Router
	trie     Trie
	retained Retained
	authn    Authenticator
	metrics  Metrics
	log      *logger.Logger

	onSelfClose func()

	attachCh    chan attachMsg
	outboundCh  chan *packet.PublishPacket
	controlCh   chan controlMsg
	connQueryCh chan queryMsg
	forceKillCh chan struct{}
	closed      chan struct{}

	// Fields below are owned exclusively by run(); nothing outside
	// this goroutine touches them directly.
	clean         bool
	connected     bool
	conn          Conn
	readCh        chan readResult
	lastActivity  time.Time
	keepAlive     time.Duration
	keepaliveTick *time.Timer

	subscriptions map[string]byte
	inflightOut   map[uint16]*outFlow
	inflightIn    map[uint16]*inboundQoS2
	pendingOut    []*packet.PublishPacket
	will          *Will
	nextID        uint16
}

type inboundQoS2 struct {
	msg        *packet.PublishPacket
	authorized bool
}

// ID returns the session's client_id — satisfies router.Sink
// structurally so the router never imports this package.
func (s *Session) ID() string { return s.id }

// New constructs a Session and starts its goroutine. onSelfClose is
// invoked (from the session's own goroutine) when a clean session
// tears itself down, so the Session Store can drop its map entry.
func New(id string, router Router, trie Trie, retained Retained, authn Authenticator, metrics Metrics, log *logger.Logger, onSelfClose func()) *Session {
	s := &Session{
		id:            id,
		router:        router,
		trie:          trie,
		retained:      retained,
		authn:         authn,
		metrics:       metrics,
		log:           log,
		onSelfClose:   onSelfClose,
		attachCh:      make(chan attachMsg),
		outboundCh:    make(chan *packet.PublishPacket, outboundQueueBound),
		controlCh:     make(chan controlMsg),
		connQueryCh:   make(chan queryMsg),
		forceKillCh:   make(chan struct{}, 1),
		closed:        make(chan struct{}),
		subscriptions: make(map[string]byte),
		inflightOut:   make(map[uint16]*outFlow),
		inflightIn:    make(map[uint16]*inboundQoS2),
	}
	go s.run()
	return s
}

// Attach binds conn as this session's live connection, draining any
// queued pending_out (FIFO) before resuming ordinary traffic.
// session_present is a Store-level concern (§4.D formula
// !clean && wasPresent) and is not decided here.
func (s *Session) Attach(conn Conn, clean bool, keepAlive time.Duration, will *Will) {
	reply := make(chan struct{})
	select {
	case s.attachCh <- attachMsg{conn: conn, clean: clean, keepAlive: keepAlive, will: will, reply: reply}:
		<-reply
	case <-s.closed:
	}
}

// IsConnected reports whether a live socket is currently attached —
// used by the Session Store to decide if a takeover must evict an
// existing connection (§4.D).
func (s *Session) IsConnected() bool {
	reply := make(chan bool, 1)
	select {
	case s.connQueryCh <- queryMsg{reply: reply}:
		return <-reply
	case <-s.closed:
		return false
	}
}

// Kill closes any live socket, keeping the session's state (used on
// takeover when the incoming CONNECT is clean=false, or by the old
// session being displaced before a clean=true replacement is created).
// Per §4.E the will is published, since takeover is an ungraceful
// termination.
func (s *Session) Kill() {
	s.sendControl(ctlKill)
}

// Discard closes any live socket, removes every trie subscription,
// and stops the session's goroutine for good (used when a takeover's
// new CONNECT is clean=true). A clean session that loses its own
// connection discards itself through transition instead.
func (s *Session) Discard() {
	s.sendControl(ctlDiscard)
}

// Shutdown is Discard's graceful-server-shutdown counterpart (§4.J): it
// closes any live socket and stops the session's goroutine, but unlike
// Discard it does not publish the will and does not remove the
// session's trie subscriptions.
func (s *Session) Shutdown() {
	s.sendControl(ctlShutdown)
}

func (s *Session) sendControl(kind ctlKind) {
	reply := make(chan struct{})
	select {
	case s.controlCh <- controlMsg{kind: kind, reply: reply}:
		<-reply
	case <-s.closed:
	}
}

// Deliver satisfies router.Sink: it is how the Router hands this
// session a message matched against its subscriptions. router.Publish
// calls this on the caller's own goroutine, which for a self-subscribed
// session (publishing to a topic it is itself subscribed to) is this
// session's own run() goroutine — so the overflow path below must never
// block waiting on anything run() itself is responsible for servicing.
func (s *Session) Deliver(msg *packet.PublishPacket) error {
	select {
	case s.outboundCh <- msg:
		return nil
	default:
		if msg.QoS == packet.QoSAtMostOnce {
			select {
			case <-s.outboundCh:
			default:
			}
			select {
			case s.outboundCh <- msg:
			default:
			}
			return nil
		}
		select {
		case s.forceKillCh <- struct{}{}:
		default:
		}
		return &er.Err{Context: "session.Deliver", Message: er.ErrInternalBackpressure}
	}
}

func (s *Session) run() {
	defer close(s.closed)

	for {
		var readCh <-chan readResult
		var keepaliveC <-chan time.Time
		if s.connected {
			readCh = s.readCh
			if s.keepaliveTick != nil {
				keepaliveC = s.keepaliveTick.C
			}
		}

		select {
		case msg := <-s.attachCh:
			exit := s.handleAttach(msg)
			close(msg.reply)
			if exit {
				return
			}

		case q := <-s.connQueryCh:
			q.reply <- s.connected

		case ctl := <-s.controlCh:
			exit := s.handleControl(ctl.kind)
			close(ctl.reply)
			if exit {
				return
			}

		case <-s.forceKillCh:
			// Same effect as ctlKill, but reachable from inside run()'s
			// own call stack (Deliver's overflow path), so it can't go
			// through the synchronous controlCh/reply handshake.
			s.teardownConnPublishingWill(true, nil)

		case out := <-s.outboundCh:
			if s.sendOrQueue(out) {
				return
			}

		case rr, ok := <-readCh:
			if !ok {
				continue
			}
			if s.handleRead(rr) {
				return
			}

		case <-keepaliveC:
			if s.handleKeepaliveTimeout() {
				return
			}
		}
	}
}

func (s *Session) handleAttach(msg attachMsg) bool {
	if s.connected {
		// Shouldn't happen: the Store evicts via Kill before Attach.
		s.teardownConn()
	}

	if msg.clean {
		// A fresh clean session starts with no carried-over state;
		// non-clean resumes keep subscriptions/pendingOut as-is.
		s.subscriptions = make(map[string]byte)
		s.pendingOut = nil
		s.inflightOut = make(map[uint16]*outFlow)
		s.inflightIn = make(map[uint16]*inboundQoS2)
	}

	s.clean = msg.clean
	s.keepAlive = msg.keepAlive
	s.will = msg.will
	s.conn = msg.conn
	s.connected = true
	s.lastActivity = time.Now()
	s.resetKeepalive()

	s.readCh = make(chan readResult, 1)
	go s.readLoop(msg.conn, s.readCh)

	if s.resendInflightOut() {
		return true
	}

	return s.drainPendingOut()
}

// resendInflightOut retransmits every in-flight QoS 1/2 message still
// awaiting acknowledgment across a non-clean reattach (§4.E: "On
// reconnect (non-clean), resend with DUP=1"). AwaitAck and AwaitRec
// both resend the original PUBLISH with DUP set — AwaitRec unchanged
// otherwise, since no PUBREC was ever received for it. AwaitComp
// instead resends PUBREL: per MQTT 3.1.1 the client already has the
// message and is only waiting on the release/complete handshake.
// Iterates in packet-id order for deterministic wire output. Reports
// whether run() should exit (a write failure during resend can cause
// the session to self-discard, same as any other writeRaw caller).
func (s *Session) resendInflightOut() bool {
	if len(s.inflightOut) == 0 {
		return false
	}

	ids := make([]uint16, 0, len(s.inflightOut))
	for id := range s.inflightOut {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		flow := s.inflightOut[id]
		switch flow.phase {
		case phaseAwaitAck, phaseAwaitRec:
			dup := *flow.msg
			dup.DUP = true
			if s.writeRaw(dup.Encode()) {
				return true
			}
		case phaseAwaitComp:
			if s.writeRaw(packet.NewPubRel(id).Encode()) {
				return true
			}
		}
	}
	return false
}

func (s *Session) readLoop(conn Conn, out chan<- readResult) {
	for {
		pkt, err := conn.ReadPacket()
		out <- readResult{pkt: pkt, err: err}
		if err != nil {
			return
		}
	}
}

func (s *Session) resetKeepalive() {
	if s.keepaliveTick != nil {
		s.keepaliveTick.Stop()
	}
	if s.keepAlive <= 0 {
		s.keepaliveTick = nil
		return
	}
	s.keepaliveTick = time.NewTimer(time.Duration(float64(s.keepAlive) * 1.5))
}

// drainPendingOut flushes queued messages, stopping early (and
// reporting that run() should exit) if doing so causes the session to
// self-discard, e.g. a freshly attached clean session immediately
// exceeding its in-flight window.
func (s *Session) drainPendingOut() bool {
	queued := s.pendingOut
	s.pendingOut = nil
	for _, msg := range queued {
		if s.sendOrQueue(msg) {
			return true
		}
	}
	return false
}

// sendOrQueue writes msg to the live socket if connected, assigning a
// packet id and recording in-flight state for QoS>0; otherwise it
// appends to pending_out (bounded, §9 Open Question (a)). It reports
// whether this call caused the session to self-discard.
func (s *Session) sendOrQueue(msg *packet.PublishPacket) bool {
	if !s.connected {
		s.enqueuePending(msg)
		return false
	}

	out := *msg
	if out.QoS != packet.QoSAtMostOnce {
		if len(s.inflightOut) >= inFlightWindow {
			return s.transition(false, er.ErrInternalBackpressure)
		}
		id := s.allocatePacketID()
		out.PacketID = &id
		phase := phaseAwaitAck
		if out.QoS == packet.QoSExactlyOnce {
			phase = phaseAwaitRec
		}
		s.inflightOut[id] = &outFlow{msg: &out, phase: phase}
	}

	raw := out.Encode()
	if err := s.conn.WritePacket(raw); err != nil {
		return s.transition(false, err)
	}
	s.metrics.AddBytesOut(len(raw))
	return false
}

func (s *Session) enqueuePending(msg *packet.PublishPacket) {
	if len(s.pendingOut) >= outboundQueueBound {
		if msg.QoS == packet.QoSAtMostOnce && len(s.pendingOut) > 0 {
			s.pendingOut = s.pendingOut[1:]
		} else if len(s.pendingOut) > 0 {
			// No live connection to disconnect; documented
			// simplification for the offline-overflow case (§9 Open
			// Question (a) only specifies the online behavior).
			s.log.Warn("pending_out overflow, dropping oldest", logger.ClientID(s.id))
			s.pendingOut = s.pendingOut[1:]
		}
	}
	s.pendingOut = append(s.pendingOut, msg)
}

func (s *Session) allocatePacketID() uint16 {
	for i := 0; i < 65535; i++ {
		s.nextID++
		if s.nextID == 0 {
			s.nextID = 1
		}
		if _, inUse := s.inflightOut[s.nextID]; !inUse {
			return s.nextID
		}
	}
	return s.nextID
}

// handleControl applies a control message and reports whether run()
// should exit. ctlDiscard is always issued by the Store (Session.Kill
// already ran first for any live connection), which removes its own
// map entry right after this call returns — so, unlike a self-discard
// from transition(), it must NOT invoke onSelfClose, or the Store's
// single coordinator goroutine deadlocks waiting on itself.
func (s *Session) handleControl(kind ctlKind) bool {
	switch kind {
	case ctlKill:
		s.teardownConnPublishingWill(true, nil)
		return false
	case ctlDiscard:
		s.teardownConnPublishingWill(true, nil)
		s.trie.RemoveSession(s.id)
		return true
	case ctlShutdown:
		s.teardownConnPublishingWill(false, nil)
		return true
	}
	return false
}

// transition tears down the live connection in response to something
// the session noticed on its own (read error, keep-alive timeout,
// graceful DISCONNECT, a PUBLISH/backpressure protocol violation) —
// as opposed to handleControl, which reacts to a Store-issued command.
// It reports whether run() should exit: a clean session that loses its
// connection has nothing left to resume, so it fully discards itself,
// including notifying the Store via onSelfClose so the map entry is
// dropped (safe here since the Store is not the caller on this path).
func (s *Session) transition(publishWillOnKill bool, cause error) bool {
	s.teardownConnPublishingWill(publishWillOnKill, cause)

	if s.clean {
		s.trie.RemoveSession(s.id)
		if s.onSelfClose != nil {
			s.onSelfClose()
		}
		return true
	}
	return false
}

// teardownConnPublishingWill closes the live connection, publishing
// the stored will first when this is an ungraceful termination
// (publishWillOnKill true, or cause non-nil).
func (s *Session) teardownConnPublishingWill(publishWillOnKill bool, cause error) {
	ungraceful := cause != nil || publishWillOnKill
	if ungraceful && s.will != nil {
		s.publishWill()
	}
	s.teardownConn()
}

func (s *Session) publishWill() {
	w := s.will
	s.will = nil
	pp := &packet.PublishPacket{Topic: w.Topic, Payload: w.Payload, QoS: w.QoS, Retain: w.Retain}
	s.router.Publish(pp, s.id)
}

func (s *Session) teardownConn() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.conn = nil
	s.connected = false
	s.readCh = nil
	if s.keepaliveTick != nil {
		s.keepaliveTick.Stop()
		s.keepaliveTick = nil
	}
}

func (s *Session) handleKeepaliveTimeout() bool {
	s.log.Warn("keep-alive timeout", logger.ClientID(s.id))
	return s.transition(true, &er.Err{Context: "session.handleKeepaliveTimeout", Message: er.ErrKeepAliveTimeout})
}

// handleRead dispatches one decoded packet and reports whether run()
// should exit (the connection was torn down and, for a clean session,
// fully discarded).
func (s *Session) handleRead(rr readResult) bool {
	if rr.err != nil {
		return s.transition(true, rr.err)
	}

	s.lastActivity = time.Now()
	if s.keepaliveTick != nil {
		s.resetKeepalive()
	}
	s.metrics.AddBytesIn(len(rr.pkt.Raw))

	switch rr.pkt.Type {
	case packet.PUBLISH:
		return s.handlePublish(rr.pkt.Publish)
	case packet.PUBACK:
		s.handlePuback(rr.pkt.Puback)
	case packet.PUBREC:
		return s.handlePubrec(rr.pkt.Pubrec)
	case packet.PUBREL:
		return s.handlePubrel(rr.pkt.Pubrel)
	case packet.PUBCOMP:
		s.handlePubcomp(rr.pkt.Pubcomp)
	case packet.SUBSCRIBE:
		return s.handleSubscribe(rr.pkt.Subscribe)
	case packet.UNSUBSCRIBE:
		return s.handleUnsubscribe(rr.pkt.Unsubscribe)
	case packet.PINGREQ:
		return s.handlePingreq()
	case packet.DISCONNECT:
		return s.handleDisconnect()
	case packet.CONNECT:
		// A second CONNECT on an already-handshaken connection is a
		// protocol violation (§7).
		return s.transition(false, &er.Err{Context: "session.handleRead", Message: er.ErrProtocolViolation})
	}
	return false
}

func (s *Session) handlePublish(pp *packet.PublishPacket) bool {
	authorized := !topicmatch.IsReserved(pp.Topic) && s.authn.Authorize(s.id, pp.Topic, true)

	switch pp.QoS {
	case packet.QoSAtMostOnce:
		if authorized {
			s.router.Publish(pp, s.id)
		}
		return false

	case packet.QoSAtLeastOnce:
		if authorized {
			s.router.Publish(pp, s.id)
		}
		if pp.PacketID != nil {
			return s.writeRaw(packet.NewPubAck(*pp.PacketID).Encode())
		}
		return false

	case packet.QoSExactlyOnce:
		if pp.PacketID == nil {
			return false
		}
		id := *pp.PacketID
		if _, dup := s.inflightIn[id]; !dup {
			if len(s.inflightIn) >= inFlightWindow {
				return s.transition(false, &er.Err{Context: "session.handlePublish", Message: er.ErrInternalBackpressure})
			}
			s.inflightIn[id] = &inboundQoS2{msg: pp, authorized: authorized}
		}
		return s.writeRaw(packet.NewPubRec(id).Encode())
	}
	return false
}

func (s *Session) handlePuback(pa *packet.PubAckPacket) {
	if flow, ok := s.inflightOut[pa.PacketID]; ok && flow.phase == phaseAwaitAck {
		delete(s.inflightOut, pa.PacketID)
	}
}

func (s *Session) handlePubrec(pr *packet.PubRecPacket) bool {
	flow, ok := s.inflightOut[pr.PacketID]
	if !ok || flow.phase != phaseAwaitRec {
		return false
	}
	flow.phase = phaseAwaitComp
	return s.writeRaw(packet.NewPubRel(pr.PacketID).Encode())
}

func (s *Session) handlePubrel(pr *packet.PubRelPacket) bool {
	if entry, ok := s.inflightIn[pr.PacketID]; ok {
		if entry.authorized {
			s.router.Publish(entry.msg, s.id)
		}
		delete(s.inflightIn, pr.PacketID)
	}
	return s.writeRaw(packet.NewPubComp(pr.PacketID).Encode())
}

func (s *Session) handlePubcomp(pc *packet.PubCompPacket) {
	if flow, ok := s.inflightOut[pc.PacketID]; ok && flow.phase == phaseAwaitComp {
		delete(s.inflightOut, pc.PacketID)
	}
}

func (s *Session) handleSubscribe(sp *packet.SubscribePacket) bool {
	codes := make([]byte, len(sp.Filters))

	for i, f := range sp.Filters {
		if !s.authn.Authorize(s.id, f.Topic, false) {
			codes[i] = packet.SubackFailure
			continue
		}

		qos := byte(f.QoS)
		s.trie.Subscribe(s.id, f.Topic, qos)
		s.subscriptions[f.Topic] = qos
		codes[i] = qos

		for _, rm := range s.retained.DeliverMatching(f.Topic) {
			effQoS := rm.QoS
			if qos < effQoS {
				effQoS = qos
			}
			if s.sendOrQueue(&packet.PublishPacket{
				Topic:   rm.Topic,
				Payload: rm.Payload,
				QoS:     packet.QoSLevel(effQoS),
				Retain:  true,
			}) {
				return true
			}
		}
	}

	return s.writeRaw(packet.NewSubAck(sp, codes).Encode())
}

func (s *Session) handleUnsubscribe(up *packet.UnsubscribePacket) bool {
	for _, filter := range up.TopicFilters {
		s.trie.Unsubscribe(s.id, filter)
		delete(s.subscriptions, filter)
	}
	return s.writeRaw(packet.NewUnsubAck(up).Encode())
}

func (s *Session) handlePingreq() bool {
	return s.writeRaw(packet.CreatePingresp().Encode())
}

func (s *Session) handleDisconnect() bool {
	// Graceful: the will must not fire (§4.E).
	s.will = nil
	return s.transition(false, nil)
}

// writeRaw reports whether this write's failure caused the session to
// self-discard (see transition).
func (s *Session) writeRaw(raw []byte) bool {
	if s.conn == nil {
		return false
	}
	if err := s.conn.WritePacket(raw); err != nil {
		return s.transition(false, err)
	}
	s.metrics.AddBytesOut(len(raw))
	return false
}
