package packet

import (
	"github.com/pyr33x/mqttd/internal/packet/utils"
	"github.com/pyr33x/mqttd/internal/topicmatch"
	"github.com/pyr33x/mqttd/pkg/er"
)

// QoSLevel is one of the three MQTT delivery guarantees.
type QoSLevel uint8

const (
	QoSAtMostOnce  QoSLevel = 0
	QoSAtLeastOnce QoSLevel = 1
	QoSExactlyOnce QoSLevel = 2

	// MaxPayloadSize is the MQTT 3.1.1 remaining-length cap, 256MB - 1.
	MaxPayloadSize = 268435455
)

// PublishPacket is the decoded or to-be-encoded PUBLISH.
type PublishPacket struct {
	// Fixed Header
	DUP    bool
	QoS    QoSLevel
	Retain bool

	// Variable Header
	Topic    string
	PacketID *uint16 // nil for QoS 0, pointer to ID for QoS 1/2

	// Payload
	Payload []byte

	// Raw
	Raw []byte
}

func (pp *PublishPacket) Parse(raw []byte) error {
	if len(raw) < 2 {
		return &er.Err{Context: "Publish", Message: er.ErrInvalidPublishPacket}
	}
	if Type(raw[0]) != PUBLISH {
		return &er.Err{Context: "Publish", Message: er.ErrInvalidPublishPacket}
	}

	pp.Raw = raw

	remainingLength, lenBytes, err := utils.ParseRemainingLength(raw[1:])
	if err != nil {
		return err
	}
	if len(raw) != 1+lenBytes+remainingLength {
		return &er.Err{Context: "Publish, Packet Length", Message: er.ErrInvalidPacketLength}
	}
	offset := 1 + lenBytes

	fixedHeader := raw[0]
	pp.DUP = fixedHeader&0x08 != 0
	pp.QoS = QoSLevel((fixedHeader & 0x06) >> 1)
	pp.Retain = fixedHeader&0x01 != 0

	if pp.QoS > QoSExactlyOnce {
		return &er.Err{Context: "Publish, QoS", Message: er.ErrInvalidQoSLevel}
	}
	if pp.DUP && pp.QoS == QoSAtMostOnce {
		return &er.Err{Context: "Publish, DUP Flag", Message: er.ErrInvalidDUPFlag}
	}

	topic, n, err := utils.ParseString(raw[offset:])
	if err != nil {
		return err
	}
	if n == 2 {
		return &er.Err{Context: "Publish, Topic", Message: er.ErrEmptyTopic}
	}
	pp.Topic = topic
	offset += n

	if err := topicmatch.ValidateName(pp.Topic); err != nil {
		return err
	}

	if pp.QoS != QoSAtMostOnce {
		id, err := utils.ParsePacketID(raw[offset:])
		if err != nil {
			return &er.Err{Context: "Publish, PacketID", Message: er.ErrMissingPacketID}
		}
		pp.PacketID = &id
		offset += 2
	}

	if offset < len(raw) {
		payloadLen := len(raw) - offset
		if payloadLen > MaxPayloadSize {
			return &er.Err{Context: "Publish, Payload", Message: er.ErrPayloadTooLarge}
		}
		pp.Payload = make([]byte, payloadLen)
		copy(pp.Payload, raw[offset:])
	}

	return nil
}

// Encode serializes pp to wire bytes. Each outbound copy the router
// fans out gets its own Topic/Payload/PacketID/QoS/Retain/DUP fields
// rewritten before this produces the frame actually written to the
// socket.
func (pp *PublishPacket) Encode() []byte {
	var body []byte
	body = append(body, utils.EncodeString(pp.Topic)...)
	if pp.QoS != QoSAtMostOnce && pp.PacketID != nil {
		body = append(body, utils.EncodePacketID(*pp.PacketID)...)
	}
	body = append(body, pp.Payload...)

	fixed := byte(PUBLISH)
	if pp.DUP {
		fixed |= 0x08
	}
	fixed |= byte(pp.QoS) << 1
	if pp.Retain {
		fixed |= 0x01
	}

	out := make([]byte, 0, 2+len(body))
	out = append(out, fixed)
	out = append(out, utils.EncodeRemainingLength(len(body))...)
	out = append(out, body...)
	return out
}
