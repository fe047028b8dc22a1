package packet

import (
	"github.com/pyr33x/mqttd/internal/packet/utils"
	"github.com/pyr33x/mqttd/pkg/er"
)

// PubAckPacket, PubRecPacket, PubRelPacket and PubCompPacket are the
// four QoS 1/2 acknowledgement packets. All four share PUBACK's
// 4-byte wire shape (type byte, remaining length 0x02, packet id) —
// only PUBREL sets reserved flags 0010 in its fixed header, per the
// MQTT 3.1.1 fixed-header table.

type PubAckPacket struct {
	PacketID uint16
}

func NewPubAck(packetID uint16) *PubAckPacket {
	return &PubAckPacket{PacketID: packetID}
}

func (p *PubAckPacket) Parse(raw []byte) error {
	return parseAckPacket(raw, PUBACK, 0x00, &p.PacketID)
}

func (p *PubAckPacket) Encode() []byte {
	return encodeAckPacket(PUBACK, 0x00, p.PacketID)
}

type PubRecPacket struct {
	PacketID uint16
}

func NewPubRec(packetID uint16) *PubRecPacket {
	return &PubRecPacket{PacketID: packetID}
}

func (p *PubRecPacket) Parse(raw []byte) error {
	return parseAckPacket(raw, PUBREC, 0x00, &p.PacketID)
}

func (p *PubRecPacket) Encode() []byte {
	return encodeAckPacket(PUBREC, 0x00, p.PacketID)
}

type PubRelPacket struct {
	PacketID uint16
}

func NewPubRel(packetID uint16) *PubRelPacket {
	return &PubRelPacket{PacketID: packetID}
}

func (p *PubRelPacket) Parse(raw []byte) error {
	return parseAckPacket(raw, PUBREL, 0x02, &p.PacketID)
}

func (p *PubRelPacket) Encode() []byte {
	return encodeAckPacket(PUBREL, 0x02, p.PacketID)
}

type PubCompPacket struct {
	PacketID uint16
}

func NewPubComp(packetID uint16) *PubCompPacket {
	return &PubCompPacket{PacketID: packetID}
}

func (p *PubCompPacket) Parse(raw []byte) error {
	return parseAckPacket(raw, PUBCOMP, 0x00, &p.PacketID)
}

func (p *PubCompPacket) Encode() []byte {
	return encodeAckPacket(PUBCOMP, 0x00, p.PacketID)
}

func parseAckPacket(raw []byte, want PacketType, wantFlags byte, id *uint16) error {
	if len(raw) != 4 {
		return &er.Err{Context: "AckPacket, Packet Length", Message: er.ErrInvalidPacketLength}
	}
	if Type(raw[0]) != want {
		return &er.Err{Context: "AckPacket", Message: er.ErrInvalidPacketType}
	}
	if raw[0]&0x0F != wantFlags {
		return &er.Err{Context: "AckPacket, Fixed Header", Message: er.ErrInvalidPacketType}
	}
	if raw[1] != 0x02 {
		return &er.Err{Context: "AckPacket, Remaining Length", Message: er.ErrInvalidPacketLength}
	}

	parsedID, err := utils.ParsePacketID(raw[2:4])
	if err != nil {
		return err
	}
	*id = parsedID
	return nil
}

func encodeAckPacket(t PacketType, flags byte, id uint16) []byte {
	out := make([]byte, 0, 4)
	out = append(out, byte(t)|flags)
	out = append(out, 0x02)
	out = append(out, utils.EncodePacketID(id)...)
	return out
}
