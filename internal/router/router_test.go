package router

import (
	"testing"

	"github.com/pyr33x/mqttd/internal/packet"
)

type fakeTrie struct {
	matches []Match
}

func (f *fakeTrie) MatchTopic(topic string) []Match { return f.matches }

type fakeRetained struct {
	stored []RetainedMessage
}

func (f *fakeRetained) Store(msg RetainedMessage) { f.stored = append(f.stored, msg) }

type fakeSink struct {
	id        string
	delivered []*packet.PublishPacket
	failNext  bool
}

func (s *fakeSink) ID() string { return s.id }

func (s *fakeSink) Deliver(msg *packet.PublishPacket) error {
	if s.failNext {
		return errDeliverFailed
	}
	s.delivered = append(s.delivered, msg)
	return nil
}

type fakeLookup struct {
	sinks map[string]*fakeSink
}

func (f *fakeLookup) Get(sessionID string) (Sink, bool) {
	s, ok := f.sinks[sessionID]
	if !ok {
		return nil, false
	}
	return s, true
}

type fakeMetrics struct {
	msgsIn, msgsOut int
}

func (m *fakeMetrics) AddMsgIn()  { m.msgsIn++ }
func (m *fakeMetrics) AddMsgOut() { m.msgsOut++ }

type stubErr string

func (e stubErr) Error() string { return string(e) }

const errDeliverFailed = stubErr("deliver failed")

func TestPublishFanOutAndQoSDowngrade(t *testing.T) {
	sinkA := &fakeSink{id: "a"}
	sinkB := &fakeSink{id: "b"}
	trie := &fakeTrie{matches: []Match{
		{SessionID: "a", QoSMax: 0},
		{SessionID: "b", QoSMax: 2},
	}}
	retained := &fakeRetained{}
	lookup := &fakeLookup{sinks: map[string]*fakeSink{"a": sinkA, "b": sinkB}}
	metrics := &fakeMetrics{}

	r := New(trie, retained, lookup, metrics)
	r.Publish(&packet.PublishPacket{Topic: "a/b", Payload: []byte("hi"), QoS: packet.QoSExactlyOnce}, "src")

	if len(sinkA.delivered) != 1 || sinkA.delivered[0].QoS != packet.QoSAtMostOnce {
		t.Errorf("sinkA should receive qos 0 (min(2,0)), got %+v", sinkA.delivered)
	}
	if len(sinkB.delivered) != 1 || sinkB.delivered[0].QoS != packet.QoSExactlyOnce {
		t.Errorf("sinkB should receive qos 2 (min(2,2)), got %+v", sinkB.delivered)
	}
	if metrics.msgsIn != 1 || metrics.msgsOut != 2 {
		t.Errorf("msgsIn=%d msgsOut=%d, want 1 and 2", metrics.msgsIn, metrics.msgsOut)
	}
}

func TestPublishClearsRetainOnDeliveredCopy(t *testing.T) {
	sink := &fakeSink{id: "a"}
	trie := &fakeTrie{matches: []Match{{SessionID: "a", QoSMax: 2}}}
	retained := &fakeRetained{}
	lookup := &fakeLookup{sinks: map[string]*fakeSink{"a": sink}}
	metrics := &fakeMetrics{}

	r := New(trie, retained, lookup, metrics)
	r.Publish(&packet.PublishPacket{Topic: "a/b", Payload: []byte("x"), QoS: packet.QoSAtMostOnce, Retain: true}, "")

	if len(retained.stored) != 1 {
		t.Fatalf("expected one retained store call, got %d", len(retained.stored))
	}
	if len(sink.delivered) != 1 || sink.delivered[0].Retain {
		t.Errorf("delivered copy should never carry retain=true, got %+v", sink.delivered)
	}
}

func TestPublishSkipsUnknownSubscriberWithoutError(t *testing.T) {
	trie := &fakeTrie{matches: []Match{{SessionID: "ghost", QoSMax: 0}}}
	retained := &fakeRetained{}
	lookup := &fakeLookup{sinks: map[string]*fakeSink{}}
	metrics := &fakeMetrics{}

	r := New(trie, retained, lookup, metrics)
	r.Publish(&packet.PublishPacket{Topic: "a/b", Payload: []byte("x")}, "")

	if metrics.msgsOut != 0 {
		t.Errorf("msgsOut = %d, want 0 for a subscriber with no live sink", metrics.msgsOut)
	}
}

func TestPublishSys(t *testing.T) {
	sink := &fakeSink{id: "a"}
	trie := &fakeTrie{matches: []Match{{SessionID: "a", QoSMax: 0}}}
	retained := &fakeRetained{}
	lookup := &fakeLookup{sinks: map[string]*fakeSink{"a": sink}}
	metrics := &fakeMetrics{}

	r := New(trie, retained, lookup, metrics)
	r.PublishSys("$SYS/broker/uptime", []byte("42"))

	if len(retained.stored) != 1 || retained.stored[0].Topic != "$SYS/broker/uptime" {
		t.Errorf("PublishSys should store a retained message, got %+v", retained.stored)
	}
	if len(sink.delivered) != 1 {
		t.Errorf("PublishSys should fan out like any other publish")
	}
}
