package session

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pyr33x/mqttd/internal/logger"
	"github.com/pyr33x/mqttd/internal/packet"
	"github.com/pyr33x/mqttd/internal/retained"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Output: io.Discard})
}

// fakeConn feeds ReadPacket from an incoming channel and records every
// WritePacket call, so a test can drive a Session through its public
// Attach/Deliver surface and observe what would hit the wire.
type fakeConn struct {
	mu      sync.Mutex
	in      chan *packet.ParsedPacket
	written [][]byte
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan *packet.ParsedPacket, 8)}
}

func (c *fakeConn) ReadPacket() (*packet.ParsedPacket, error) {
	pkt, ok := <-c.in
	if !ok {
		return nil, io.EOF
	}
	return pkt, nil
}

func (c *fakeConn) WritePacket(raw []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, raw)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.in)
	}
	return nil
}

func (c *fakeConn) PeerAddr() string { return "127.0.0.1:1234" }

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.written)
}

func (c *fakeConn) lastWrite() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.written) == 0 {
		return nil
	}
	return c.written[len(c.written)-1]
}

// blockingConn wraps fakeConn so WritePacket stalls until release is
// closed — used to hold run() busy inside sendOrQueue's write call
// long enough to fill outboundCh from another goroutine.
type blockingConn struct {
	*fakeConn
	release chan struct{}
}

func newBlockingConn() *blockingConn {
	return &blockingConn{fakeConn: newFakeConn(), release: make(chan struct{})}
}

func (c *blockingConn) WritePacket(raw []byte) error {
	<-c.release
	return c.fakeConn.WritePacket(raw)
}

type fakeAuthn struct {
	authorize func(clientID, topic string, write bool) bool
}

func (a *fakeAuthn) Authenticate(context.Context, string, *string, *string, net.IP) error { return nil }

func (a *fakeAuthn) Authorize(clientID, topic string, write bool) bool {
	if a.authorize != nil {
		return a.authorize(clientID, topic, write)
	}
	return true
}

type fakeMetrics struct{}

func (fakeMetrics) AddBytesIn(int)  {}
func (fakeMetrics) AddBytesOut(int) {}

type fakeTrie struct {
	mu   sync.Mutex
	subs map[string]byte
}

func newFakeTrie() *fakeTrie { return &fakeTrie{subs: make(map[string]byte)} }

func (t *fakeTrie) Subscribe(sessionID, filter string, qosMax byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[filter] = qosMax
}

func (t *fakeTrie) Unsubscribe(sessionID, filter string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, filter)
}

func (t *fakeTrie) RemoveSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = make(map[string]byte)
}

type fakeRetained struct {
	msgs []retained.Message
}

func (r *fakeRetained) DeliverMatching(filter string) []retained.Message { return r.msgs }

type fakeRouter struct {
	mu        sync.Mutex
	published []*packet.PublishPacket
}

func (r *fakeRouter) Publish(msg *packet.PublishPacket, sourceSessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, msg)
}

func (r *fakeRouter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published)
}

func newTestSession(router Router, trie Trie, retained Retained) *Session {
	return New("client1", router, trie, retained, &fakeAuthn{}, fakeMetrics{}, testLogger(), nil)
}

func waitForWriteCount(t *testing.T, conn *fakeConn, n int) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		if conn.writeCount() >= n {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d writes, got %d", n, conn.writeCount())
		case <-time.After(time.Millisecond):
		}
	}
}

func TestSessionAttachAndPingPong(t *testing.T) {
	router := &fakeRouter{}
	trie := newFakeTrie()
	s := newTestSession(router, trie, &fakeRetained{})
	defer s.Discard()

	conn := newFakeConn()
	s.Attach(conn, true, 0, nil)

	conn.in <- &packet.ParsedPacket{Type: packet.PINGREQ, Pingreq: &packet.PingreqPacket{}}
	waitForWriteCount(t, conn, 1)

	got := conn.lastWrite()
	want := packet.CreatePingresp().Encode()
	if string(got) != string(want) {
		t.Errorf("PINGREQ response = %x, want %x", got, want)
	}
}

func TestSessionPublishQoS1SendsPuback(t *testing.T) {
	router := &fakeRouter{}
	trie := newFakeTrie()
	s := newTestSession(router, trie, &fakeRetained{})
	defer s.Discard()

	conn := newFakeConn()
	s.Attach(conn, true, 0, nil)

	id := uint16(7)
	conn.in <- &packet.ParsedPacket{
		Type: packet.PUBLISH,
		Publish: &packet.PublishPacket{
			Topic: "a/b", Payload: []byte("hi"), QoS: packet.QoSAtLeastOnce, PacketID: &id,
		},
	}
	waitForWriteCount(t, conn, 1)

	want := packet.NewPubAck(id).Encode()
	if got := conn.lastWrite(); string(got) != string(want) {
		t.Errorf("PUBACK = %x, want %x", got, want)
	}
	if router.count() != 1 {
		t.Errorf("router.Publish called %d times, want 1", router.count())
	}
}

func TestSessionPublishQoS2DuplicateSuppressed(t *testing.T) {
	router := &fakeRouter{}
	trie := newFakeTrie()
	s := newTestSession(router, trie, &fakeRetained{})
	defer s.Discard()

	conn := newFakeConn()
	s.Attach(conn, true, 0, nil)

	id := uint16(42)
	pub := &packet.PublishPacket{Topic: "a/b", Payload: []byte("x"), QoS: packet.QoSExactlyOnce, PacketID: &id}
	conn.in <- &packet.ParsedPacket{Type: packet.PUBLISH, Publish: pub}
	waitForWriteCount(t, conn, 1)
	if got := conn.lastWrite(); string(got) != string(packet.NewPubRec(id).Encode()) {
		t.Fatalf("first PUBLISH should get a PUBREC, got %x", got)
	}

	// Duplicate PUBLISH with the same packet id before PUBREL: must get
	// another PUBREC but must not be stored/forwarded a second time.
	conn.in <- &packet.ParsedPacket{Type: packet.PUBLISH, Publish: pub}
	waitForWriteCount(t, conn, 2)

	conn.in <- &packet.ParsedPacket{Type: packet.PUBREL, Pubrel: &packet.PubRelPacket{PacketID: id}}
	waitForWriteCount(t, conn, 3)
	if got := conn.lastWrite(); string(got) != string(packet.NewPubComp(id).Encode()) {
		t.Errorf("PUBREL should get a PUBCOMP, got %x", got)
	}

	if router.count() != 1 {
		t.Errorf("router.Publish called %d times for a duplicate QoS2 PUBLISH, want exactly 1", router.count())
	}
}

func TestSessionSubscribeDeliversRetainedAndSendsSuback(t *testing.T) {
	router := &fakeRouter{}
	trie := newFakeTrie()
	ret := &fakeRetained{msgs: []retained.Message{
		{Topic: "a/b", Payload: []byte("retained"), QoS: 1},
	}}
	s := newTestSession(router, trie, ret)
	defer s.Discard()

	conn := newFakeConn()
	s.Attach(conn, true, 0, nil)

	conn.in <- &packet.ParsedPacket{
		Type: packet.SUBSCRIBE,
		Subscribe: &packet.SubscribePacket{
			PacketID: 1,
			Filters:  []packet.SubscribeFilter{{Topic: "a/b", QoS: packet.QoSAtLeastOnce}},
		},
	}

	// Expect: one retained PUBLISH, then SUBACK.
	waitForWriteCount(t, conn, 2)
}

func TestSessionGracefulDisconnectSuppressesWill(t *testing.T) {
	router := &fakeRouter{}
	trie := newFakeTrie()
	s := newTestSession(router, trie, &fakeRetained{})

	conn := newFakeConn()
	will := &Will{Topic: "status", Payload: []byte("offline"), QoS: 0}
	s.Attach(conn, true, 0, will)

	conn.in <- &packet.ParsedPacket{Type: packet.DISCONNECT, Disconnect: &packet.DisconnectPacket{}}

	// A clean session with no connection left fully discards itself;
	// give the goroutine a moment to process the DISCONNECT.
	time.Sleep(20 * time.Millisecond)

	if router.count() != 0 {
		t.Errorf("graceful DISCONNECT must not publish the will, router.Publish called %d times", router.count())
	}
}

func TestSessionUngracefulCloseWithWillPublishes(t *testing.T) {
	router := &fakeRouter{}
	trie := newFakeTrie()
	s := newTestSession(router, trie, &fakeRetained{})

	conn := newFakeConn()
	will := &Will{Topic: "status", Payload: []byte("offline"), QoS: 0}
	s.Attach(conn, true, 0, will)

	// Simulate an ungraceful disconnect: the read loop sees an error.
	conn.Close()

	deadline := time.After(time.Second)
	for router.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the will to be published")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestSessionIsConnected(t *testing.T) {
	router := &fakeRouter{}
	trie := newFakeTrie()
	s := newTestSession(router, trie, &fakeRetained{})
	defer s.Discard()

	if s.IsConnected() {
		t.Error("a fresh session should not be connected before Attach")
	}
	conn := newFakeConn()
	s.Attach(conn, true, 0, nil)
	if !s.IsConnected() {
		t.Error("session should be connected after Attach")
	}
}

func TestSessionDeliverOverflowDoesNotBlockCaller(t *testing.T) {
	router := &fakeRouter{}
	trie := newFakeTrie()
	s := newTestSession(router, trie, &fakeRetained{})
	defer s.Discard()

	conn := newBlockingConn()
	s.Attach(conn, true, 0, nil)

	// Put run() inside the blocking WritePacket call, then fill
	// outboundCh to capacity from this goroutine so run() can't drain
	// it until conn.release is closed.
	if err := s.Deliver(&packet.PublishPacket{Topic: "a", QoS: packet.QoSAtLeastOnce}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	for i := 0; i < outboundQueueBound; i++ {
		s.outboundCh <- &packet.PublishPacket{Topic: "filler", QoS: packet.QoSAtLeastOnce}
	}

	done := make(chan error, 1)
	go func() {
		done <- s.Deliver(&packet.PublishPacket{Topic: "overflow", QoS: packet.QoSAtLeastOnce})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Deliver blocked on a full outboundCh while run() was busy elsewhere")
	}

	close(conn.release)
}

func TestSessionResendsInflightQoS1OnReconnect(t *testing.T) {
	router := &fakeRouter{}
	trie := newFakeTrie()
	s := newTestSession(router, trie, &fakeRetained{})
	defer s.Discard()

	conn1 := newFakeConn()
	s.Attach(conn1, false, 0, nil)

	if err := s.Deliver(&packet.PublishPacket{Topic: "a/b", Payload: []byte("hi"), QoS: packet.QoSAtLeastOnce}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	waitForWriteCount(t, conn1, 1)

	sent := &packet.PublishPacket{}
	if err := sent.Parse(conn1.lastWrite()); err != nil {
		t.Fatalf("failed to parse first PUBLISH: %v", err)
	}
	if sent.DUP {
		t.Fatalf("first send should not be DUP")
	}

	// Network drop before PUBACK arrives: the message stays in-flight.
	conn1.Close()
	time.Sleep(20 * time.Millisecond)

	conn2 := newFakeConn()
	s.Attach(conn2, false, 0, nil)
	waitForWriteCount(t, conn2, 1)

	resent := &packet.PublishPacket{}
	if err := resent.Parse(conn2.lastWrite()); err != nil {
		t.Fatalf("failed to parse resent PUBLISH: %v", err)
	}
	if !resent.DUP {
		t.Errorf("resent PUBLISH on reconnect must have DUP=1")
	}
	if resent.Topic != "a/b" || string(resent.Payload) != "hi" {
		t.Errorf("resent PUBLISH = %+v, want topic a/b payload hi", resent)
	}
	if resent.PacketID == nil || *resent.PacketID != *sent.PacketID {
		t.Errorf("resent packet id = %v, want the original %v", resent.PacketID, sent.PacketID)
	}
}

func TestSessionResendsPubrelOnReconnect(t *testing.T) {
	router := &fakeRouter{}
	trie := newFakeTrie()
	s := newTestSession(router, trie, &fakeRetained{})
	defer s.Discard()

	conn1 := newFakeConn()
	s.Attach(conn1, false, 0, nil)

	if err := s.Deliver(&packet.PublishPacket{Topic: "a/b", Payload: []byte("x"), QoS: packet.QoSExactlyOnce}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	waitForWriteCount(t, conn1, 1)

	sent := &packet.PublishPacket{}
	if err := sent.Parse(conn1.lastWrite()); err != nil {
		t.Fatalf("failed to parse first PUBLISH: %v", err)
	}

	// Client's PUBREC arrives, advancing the flow to AwaitComp, before
	// the connection drops and the PUBCOMP never comes.
	conn1.in <- &packet.ParsedPacket{Type: packet.PUBREC, Pubrec: &packet.PubRecPacket{PacketID: *sent.PacketID}}
	waitForWriteCount(t, conn1, 2)
	if got := conn1.lastWrite(); string(got) != string(packet.NewPubRel(*sent.PacketID).Encode()) {
		t.Fatalf("PUBREC should get a PUBREL, got %x", got)
	}

	conn1.Close()
	time.Sleep(20 * time.Millisecond)

	conn2 := newFakeConn()
	s.Attach(conn2, false, 0, nil)
	waitForWriteCount(t, conn2, 1)

	want := packet.NewPubRel(*sent.PacketID).Encode()
	if got := conn2.lastWrite(); string(got) != string(want) {
		t.Errorf("reconnect should resend PUBREL %x, got %x", want, got)
	}
}

func TestSessionID(t *testing.T) {
	s := newTestSession(&fakeRouter{}, newFakeTrie(), &fakeRetained{})
	defer s.Discard()
	if s.ID() != "client1" {
		t.Errorf("ID() = %q, want client1", s.ID())
	}
}
