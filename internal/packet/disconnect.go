package packet

import "github.com/pyr33x/mqttd/pkg/er"

// DisconnectPacket signals a graceful client-initiated close: the will
// must not be published for this session (§4.E/§7).
type DisconnectPacket struct{}

func (dp *DisconnectPacket) Parse(raw []byte) error {
	if len(raw) != 2 {
		return &er.Err{Context: "Disconnect, Packet Length", Message: er.ErrInvalidDisconnectPacket}
	}
	if Type(raw[0]) != DISCONNECT {
		return &er.Err{Context: "Disconnect, Control", Message: er.ErrInvalidDisconnectPacket}
	}
	if raw[1] != 0x00 {
		return &er.Err{Context: "Disconnect, Remaining Length", Message: er.ErrInvalidDisconnectPacket}
	}
	return nil
}
