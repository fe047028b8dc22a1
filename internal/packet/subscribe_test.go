package packet

import (
	"testing"

	"github.com/pyr33x/mqttd/internal/packet/utils"
)

func buildSubscribe(packetID uint16, filters []SubscribeFilter) []byte {
	var body []byte
	body = append(body, utils.EncodePacketID(packetID)...)
	for _, f := range filters {
		body = append(body, utils.EncodeString(f.Topic)...)
		body = append(body, byte(f.QoS))
	}

	out := make([]byte, 0, 2+len(body))
	out = append(out, byte(SUBSCRIBE)|0x02)
	out = append(out, utils.EncodeRemainingLength(len(body))...)
	out = append(out, body...)
	return out
}

func TestSubscribeParse(t *testing.T) {
	raw := buildSubscribe(10, []SubscribeFilter{
		{Topic: "a/b", QoS: QoSAtLeastOnce},
		{Topic: "c/+/d", QoS: QoSExactlyOnce},
	})

	var sp SubscribePacket
	if err := sp.Parse(raw); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if sp.PacketID != 10 || len(sp.Filters) != 2 {
		t.Fatalf("got %+v", sp)
	}
	if sp.Filters[0].Topic != "a/b" || sp.Filters[0].QoS != QoSAtLeastOnce {
		t.Errorf("filter 0 = %+v", sp.Filters[0])
	}
	if sp.Filters[1].Topic != "c/+/d" || sp.Filters[1].QoS != QoSExactlyOnce {
		t.Errorf("filter 1 = %+v", sp.Filters[1])
	}
}

func TestSubscribeParseRejectsNoFilters(t *testing.T) {
	raw := buildSubscribe(1, nil)
	var sp SubscribePacket
	if err := sp.Parse(raw); err == nil {
		t.Error("SUBSCRIBE with zero topic filters should be rejected")
	}
}

func TestSubscribeParseRejectsInvalidFilterSyntax(t *testing.T) {
	raw := buildSubscribe(1, []SubscribeFilter{{Topic: "a/#/b", QoS: QoSAtMostOnce}})
	var sp SubscribePacket
	if err := sp.Parse(raw); err == nil {
		t.Error("a # not in the final level should be rejected")
	}
}

func TestSubAckEncode(t *testing.T) {
	sp := &SubscribePacket{PacketID: 5}
	ack := NewSubAck(sp, []byte{SubackMaxQoS1, SubackFailure})
	raw := ack.Encode()

	var got SubackPacket
	if err := got.Parse(raw); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.PacketID != 5 {
		t.Errorf("PacketID = %d, want 5", got.PacketID)
	}
	if len(got.ReturnCodes) != 2 || got.ReturnCodes[0] != SubackMaxQoS1 || got.ReturnCodes[1] != SubackFailure {
		t.Errorf("ReturnCodes = %v", got.ReturnCodes)
	}
}
