package packet

import (
	"github.com/pyr33x/mqttd/internal/packet/utils"
	"github.com/pyr33x/mqttd/internal/topicmatch"
	"github.com/pyr33x/mqttd/pkg/er"
)

type SubscribeFilter struct {
	Topic string
	QoS   QoSLevel
}

type SubscribePacket struct {
	// Fixed Header (flags are reserved and must be 0010)

	// Variable Header
	PacketID uint16

	// Payload
	Filters []SubscribeFilter

	// Raw
	Raw []byte
}

func (sp *SubscribePacket) Parse(raw []byte) error {
	if len(raw) < 2 {
		return &er.Err{Context: "Subscribe", Message: er.ErrInvalidSubscribePacket}
	}
	if Type(raw[0]) != SUBSCRIBE {
		return &er.Err{Context: "Subscribe", Message: er.ErrInvalidSubscribePacket}
	}
	if raw[0]&0x0F != 0x02 {
		return &er.Err{Context: "Subscribe, Fixed Header", Message: er.ErrInvalidSubscribeFlags}
	}

	sp.Raw = raw

	remainingLength, lenBytes, err := utils.ParseRemainingLength(raw[1:])
	if err != nil {
		return err
	}
	if len(raw) != 1+lenBytes+remainingLength {
		return &er.Err{Context: "Subscribe, Packet Length", Message: er.ErrInvalidPacketLength}
	}
	offset := 1 + lenBytes

	if remainingLength < 6 {
		return &er.Err{Context: "Subscribe", Message: er.ErrInvalidSubscribePacket}
	}

	id, err := utils.ParsePacketID(raw[offset:])
	if err != nil {
		return &er.Err{Context: "Subscribe, PacketID", Message: er.ErrMissingPacketID}
	}
	sp.PacketID = id
	offset += 2

	sp.Filters = make([]SubscribeFilter, 0)

	for offset < len(raw) {
		topicFilter, n, err := utils.ParseString(raw[offset:])
		if err != nil {
			return err
		}
		if n == 2 {
			return &er.Err{Context: "Subscribe, Topic Filter", Message: er.ErrEmptyTopicFilter}
		}
		offset += n

		if err := topicmatch.ValidateFilter(topicFilter); err != nil {
			return err
		}

		if offset >= len(raw) {
			return &er.Err{Context: "Subscribe, QoS", Message: er.ErrMissingQoSByte}
		}
		qosByte := raw[offset]
		if qosByte&0xFC != 0 {
			return &er.Err{Context: "Subscribe, QoS", Message: er.ErrInvalidQoSReservedBits}
		}
		qos := QoSLevel(qosByte & 0x03)
		if qos > QoSExactlyOnce {
			return &er.Err{Context: "Subscribe, QoS", Message: er.ErrInvalidQoSLevel}
		}
		offset++

		sp.Filters = append(sp.Filters, SubscribeFilter{Topic: topicFilter, QoS: qos})
	}

	if len(sp.Filters) == 0 {
		return &er.Err{Context: "Subscribe", Message: er.ErrNoTopicFilters}
	}

	return nil
}
