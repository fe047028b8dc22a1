package packet

import (
	"encoding/binary"

	"github.com/pyr33x/mqttd/pkg/er"
)

// ConnectPacket is the decoded CONNECT variable header + payload.
// Client-id length/emptiness validation against §3's 1-65535 byte
// rule, and minting a replacement id, are the session state
// machine's job (4.E Handshake) — this package only decodes bytes.
type ConnectPacket struct {
	ProtocolName  string
	ProtocolLevel byte
	UsernameFlag  bool
	PasswordFlag  bool
	WillRetain    bool
	WillQoS       byte
	WillFlag      bool
	CleanSession  bool
	KeepAlive     uint16

	ClientID    string
	WillTopic   *string
	WillMessage *string
	Username    *string
	Password    *string

	Raw []byte
}

func (cp *ConnectPacket) Parse(raw []byte) error {
	if len(raw) < 10 {
		return &er.Err{Context: "Connect", Message: er.ErrInvalidConnPacket}
	}
	if Type(raw[0]) != CONNECT {
		return &er.Err{Context: "Connect", Message: er.ErrInvalidConnPacket}
	}

	cp.Raw = raw
	offset := 2 // skip fixed header type byte + first remaining-length byte

	if offset+2 > len(raw) {
		return &er.Err{Context: "Connect", Message: er.ErrInvalidConnPacket}
	}
	protoLen := binary.BigEndian.Uint16(raw[offset : offset+2])
	offset += 2
	if offset+int(protoLen) > len(raw) {
		return &er.Err{Context: "Connect", Message: er.ErrInvalidConnPacket}
	}
	cp.ProtocolName = string(raw[offset : offset+int(protoLen)])
	offset += int(protoLen)

	if cp.ProtocolName != "MQTT" {
		return &er.Err{Context: "Connect, ProtocolName", Message: er.ErrUnsupportedProtocolName}
	}

	if offset >= len(raw) {
		return &er.Err{Context: "Connect", Message: er.ErrInvalidConnPacket}
	}
	cp.ProtocolLevel = raw[offset]
	offset++
	if cp.ProtocolLevel != 4 {
		return &er.Err{Context: "Connect, ProtocolLevel", Message: er.ErrUnsupportedProtocolLevel}
	}

	if offset >= len(raw) {
		return &er.Err{Context: "Connect", Message: er.ErrInvalidConnPacket}
	}
	flags := raw[offset]
	offset++

	cp.UsernameFlag = flags&0x80 != 0
	cp.PasswordFlag = flags&0x40 != 0
	cp.WillRetain = flags&0x20 != 0
	cp.WillQoS = (flags & 0x18) >> 3
	cp.WillFlag = flags&0x04 != 0
	cp.CleanSession = flags&0x02 != 0

	if flags&0x01 != 0 {
		return &er.Err{Context: "Connect, Flags", Message: er.ErrInvalidConnPacket}
	}
	if cp.WillFlag && cp.WillQoS > 2 {
		return &er.Err{Context: "Connect, WillQos", Message: er.ErrInvalidWillQos}
	}

	if offset+2 > len(raw) {
		return &er.Err{Context: "Connect", Message: er.ErrInvalidConnPacket}
	}
	cp.KeepAlive = binary.BigEndian.Uint16(raw[offset : offset+2])
	offset += 2

	if offset+2 > len(raw) {
		return &er.Err{Context: "Connect", Message: er.ErrInvalidConnPacket}
	}
	clientIDLen := binary.BigEndian.Uint16(raw[offset : offset+2])
	offset += 2
	if offset+int(clientIDLen) > len(raw) {
		return &er.Err{Context: "Connect", Message: er.ErrInvalidConnPacket}
	}
	cp.ClientID = string(raw[offset : offset+int(clientIDLen)])
	offset += int(clientIDLen)

	if cp.WillFlag {
		if offset+2 > len(raw) {
			return &er.Err{Context: "Connect, WillFlag", Message: er.ErrInvalidConnPacket}
		}
		wtLen := binary.BigEndian.Uint16(raw[offset : offset+2])
		offset += 2
		if offset+int(wtLen) > len(raw) {
			return &er.Err{Context: "Connect, WillTopic", Message: er.ErrInvalidConnPacket}
		}
		wt := string(raw[offset : offset+int(wtLen)])
		cp.WillTopic = &wt
		offset += int(wtLen)

		if offset+2 > len(raw) {
			return &er.Err{Context: "Connect, WillTopic", Message: er.ErrInvalidConnPacket}
		}
		wmLen := binary.BigEndian.Uint16(raw[offset : offset+2])
		offset += 2
		if offset+int(wmLen) > len(raw) {
			return &er.Err{Context: "Connect, WillMessage", Message: er.ErrInvalidConnPacket}
		}
		wm := string(raw[offset : offset+int(wmLen)])
		cp.WillMessage = &wm
		offset += int(wmLen)
	}

	if !cp.UsernameFlag && cp.PasswordFlag {
		return &er.Err{Context: "Connect, UsernameFlag+PasswordFlag", Message: er.ErrInvalidConnPacket}
	}

	if cp.UsernameFlag {
		if offset+2 > len(raw) {
			return &er.Err{Context: "Connect, UsernameFlag", Message: er.ErrInvalidConnPacket}
		}
		ulen := binary.BigEndian.Uint16(raw[offset : offset+2])
		offset += 2
		if offset+int(ulen) > len(raw) {
			return &er.Err{Context: "Connect, Username", Message: er.ErrInvalidConnPacket}
		}
		u := string(raw[offset : offset+int(ulen)])
		cp.Username = &u
		offset += int(ulen)
	}

	if cp.PasswordFlag {
		if offset+2 > len(raw) {
			return &er.Err{Context: "Connect, PasswordFlag", Message: er.ErrInvalidConnPacket}
		}
		plen := binary.BigEndian.Uint16(raw[offset : offset+2])
		offset += 2
		if offset+int(plen) > len(raw) {
			return &er.Err{Context: "Connect, Password", Message: er.ErrInvalidConnPacket}
		}
		p := string(raw[offset : offset+int(plen)])
		cp.Password = &p
		offset += int(plen)
	}

	return nil
}
