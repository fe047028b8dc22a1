package packet

import "testing"

func TestPublishEncodeParseRoundTripQoS0(t *testing.T) {
	pp := &PublishPacket{Topic: "a/b", Payload: []byte("hello"), QoS: QoSAtMostOnce}
	raw := pp.Encode()

	var got PublishPacket
	if err := got.Parse(raw); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Topic != pp.Topic || string(got.Payload) != string(pp.Payload) || got.QoS != pp.QoS {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, pp)
	}
	if got.PacketID != nil {
		t.Error("QoS 0 PUBLISH should carry no packet id")
	}
}

func TestPublishEncodeParseRoundTripQoS1(t *testing.T) {
	id := uint16(123)
	pp := &PublishPacket{Topic: "a/b/c", Payload: []byte("payload"), QoS: QoSAtLeastOnce, PacketID: &id, Retain: true}
	raw := pp.Encode()

	var got PublishPacket
	if err := got.Parse(raw); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.PacketID == nil || *got.PacketID != id {
		t.Errorf("PacketID = %v, want %d", got.PacketID, id)
	}
	if !got.Retain {
		t.Error("retain flag lost in round trip")
	}
}

func TestPublishParseRejectsWildcardTopic(t *testing.T) {
	pp := &PublishPacket{Topic: "a/+", Payload: []byte("x")}
	raw := pp.Encode()

	var got PublishPacket
	if err := got.Parse(raw); err == nil {
		t.Error("PUBLISH to a wildcard topic should fail to parse")
	}
}

func TestPublishParseRejectsDUPOnQoS0(t *testing.T) {
	raw := (&PublishPacket{Topic: "a/b", QoS: QoSAtLeastOnce, PacketID: uint16Ptr(1)}).Encode()
	raw[0] = raw[0] | 0x08 // set DUP
	raw[0] = raw[0] &^ 0x06 // force QoS back to 0 while DUP stays set

	var got PublishPacket
	if err := got.Parse(raw); err == nil {
		t.Error("DUP=1 with QoS=0 should be rejected as an invalid combination")
	}
}

func uint16Ptr(v uint16) *uint16 { return &v }
