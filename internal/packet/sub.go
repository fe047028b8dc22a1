package packet

import (
	"github.com/pyr33x/mqttd/internal/packet/utils"
	"github.com/pyr33x/mqttd/pkg/er"
)

// SUBACK return codes
const (
	SubackMaxQoS0 byte = 0x00
	SubackMaxQoS1 byte = 0x01
	SubackMaxQoS2 byte = 0x02
	SubackFailure byte = 0x80
)

type SubackPacket struct {
	PacketID    uint16
	ReturnCodes []byte
}

// NewSubAck builds the SUBACK for subscribePacket, granting the qos in
// returnCodes (already downgraded by the session layer against the
// server's max supported qos before this is called).
func NewSubAck(subscribePacket *SubscribePacket, returnCodes []byte) *SubackPacket {
	return &SubackPacket{
		PacketID:    subscribePacket.PacketID,
		ReturnCodes: returnCodes,
	}
}

func (p *SubackPacket) Encode() []byte {
	var body []byte
	body = append(body, utils.EncodePacketID(p.PacketID)...)
	body = append(body, p.ReturnCodes...)

	out := make([]byte, 0, 2+len(body))
	out = append(out, byte(SUBACK))
	out = append(out, utils.EncodeRemainingLength(len(body))...)
	out = append(out, body...)
	return out
}

func (p *SubackPacket) Parse(raw []byte) error {
	if len(raw) < 4 {
		return &er.Err{Context: "SUBACK", Message: er.ErrShortBuffer}
	}
	if Type(raw[0]) != SUBACK {
		return &er.Err{Context: "SUBACK", Message: er.ErrInvalidPacketType}
	}

	remainingLength, lenBytes, err := utils.ParseRemainingLength(raw[1:])
	if err != nil {
		return err
	}
	if len(raw) != 1+lenBytes+remainingLength {
		return &er.Err{Context: "SUBACK", Message: er.ErrInvalidPacketLength}
	}
	offset := 1 + lenBytes

	id, err := utils.ParsePacketID(raw[offset:])
	if err != nil {
		return err
	}
	p.PacketID = id
	offset += 2

	p.ReturnCodes = make([]byte, remainingLength-2)
	copy(p.ReturnCodes, raw[offset:])
	return nil
}
