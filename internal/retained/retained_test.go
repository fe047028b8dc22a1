package retained

import "testing"

func TestStoreAndDeliverMatching(t *testing.T) {
	s := New()
	defer s.Close()

	s.Store(Message{Topic: "a/b", Payload: []byte("hello"), QoS: 1})
	s.Store(Message{Topic: "a/c", Payload: []byte("world"), QoS: 0})

	got := s.DeliverMatching("a/+")
	if len(got) != 2 {
		t.Fatalf("DeliverMatching(a/+) returned %d messages, want 2", len(got))
	}

	got = s.DeliverMatching("a/b")
	if len(got) != 1 || string(got[0].Payload) != "hello" {
		t.Fatalf("DeliverMatching(a/b) = %v, want [hello]", got)
	}
}

func TestStoreEmptyPayloadDeletes(t *testing.T) {
	s := New()
	defer s.Close()

	s.Store(Message{Topic: "a/b", Payload: []byte("hello"), QoS: 0})
	if s.Count() != 1 {
		t.Fatalf("Count = %d, want 1", s.Count())
	}

	s.Store(Message{Topic: "a/b", Payload: nil, QoS: 0})
	if s.Count() != 0 {
		t.Errorf("Count after empty-payload store = %d, want 0", s.Count())
	}
	if got := s.DeliverMatching("a/b"); len(got) != 0 {
		t.Errorf("DeliverMatching after delete = %v, want none", got)
	}
}

func TestClear(t *testing.T) {
	s := New()
	defer s.Close()

	s.Store(Message{Topic: "a/b", Payload: []byte("x"), QoS: 0})
	s.Clear("a/b")

	if s.Count() != 0 {
		t.Errorf("Count after Clear = %d, want 0", s.Count())
	}
}

func TestDeliverMatchingRespectsSysCarveOut(t *testing.T) {
	s := New()
	defer s.Close()

	s.Store(Message{Topic: "$SYS/broker/uptime", Payload: []byte("1"), QoS: 0})

	if got := s.DeliverMatching("#"); len(got) != 0 {
		t.Errorf("DeliverMatching(#) matched a $SYS topic: %v", got)
	}
	if got := s.DeliverMatching("$SYS/#"); len(got) != 1 {
		t.Errorf("DeliverMatching($SYS/#) = %v, want one match", got)
	}
}
