package packet

import (
	"github.com/pyr33x/mqttd/internal/packet/utils"
	"github.com/pyr33x/mqttd/pkg/er"
)

type UnsubackPacket struct {
	PacketID uint16
}

func NewUnsubAck(unsubscribePacket *UnsubscribePacket) *UnsubackPacket {
	return &UnsubackPacket{PacketID: unsubscribePacket.PacketID}
}

func (p *UnsubackPacket) Parse(raw []byte) error {
	if len(raw) < 4 {
		return &er.Err{Context: "UNSUBACK", Message: er.ErrShortBuffer}
	}
	if Type(raw[0]) != UNSUBACK {
		return &er.Err{Context: "UNSUBACK", Message: er.ErrInvalidPacketType}
	}
	if raw[1] != 0x02 {
		return &er.Err{Context: "UNSUBACK", Message: er.ErrInvalidPacketLength}
	}

	id, err := utils.ParsePacketID(raw[2:4])
	if err != nil {
		return err
	}
	p.PacketID = id
	return nil
}

func (p *UnsubackPacket) Encode() []byte {
	out := make([]byte, 0, 4)
	out = append(out, byte(UNSUBACK))
	out = append(out, 0x02)
	out = append(out, utils.EncodePacketID(p.PacketID)...)
	return out
}
