package packet

import "github.com/pyr33x/mqttd/pkg/er"

type PingreqPacket struct {
	// PINGREQ has no variable header or payload
	Raw []byte
}

type PingrespPacket struct{}

func (pp *PingreqPacket) Parse(raw []byte) error {
	if len(raw) != 2 {
		return &er.Err{Context: "Pingreq, Packet Length", Message: er.ErrInvalidPacketLength}
	}
	if Type(raw[0]) != PINGREQ {
		return &er.Err{Context: "Pingreq", Message: er.ErrInvalidPingreqPacket}
	}
	if raw[0]&0x0F != 0x00 {
		return &er.Err{Context: "Pingreq, Fixed Header", Message: er.ErrInvalidPingreqFlags}
	}
	if raw[1] != 0x00 {
		return &er.Err{Context: "Pingreq, Remaining Length", Message: er.ErrInvalidPingreqLength}
	}

	pp.Raw = raw
	return nil
}

// CreatePingresp builds the PINGRESP sent in reply to every PINGREQ.
func CreatePingresp() *PingrespPacket {
	return &PingrespPacket{}
}

func (p *PingrespPacket) Encode() []byte {
	return []byte{byte(PINGRESP), 0x00}
}
