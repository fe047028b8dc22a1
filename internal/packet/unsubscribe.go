package packet

import (
	"github.com/pyr33x/mqttd/internal/packet/utils"
	"github.com/pyr33x/mqttd/internal/topicmatch"
	"github.com/pyr33x/mqttd/pkg/er"
)

type UnsubscribePacket struct {
	// Fixed Header (flags are reserved and must be 0010)

	// Variable Header
	PacketID uint16

	// Payload
	TopicFilters []string

	// Raw
	Raw []byte
}

func (up *UnsubscribePacket) Parse(raw []byte) error {
	if len(raw) < 2 {
		return &er.Err{Context: "Unsubscribe", Message: er.ErrInvalidUnsubscribePacket}
	}
	if Type(raw[0]) != UNSUBSCRIBE {
		return &er.Err{Context: "Unsubscribe", Message: er.ErrInvalidUnsubscribePacket}
	}
	if raw[0]&0x0F != 0x02 {
		return &er.Err{Context: "Unsubscribe, Fixed Header", Message: er.ErrInvalidUnsubscribeFlags}
	}

	up.Raw = raw

	remainingLength, lenBytes, err := utils.ParseRemainingLength(raw[1:])
	if err != nil {
		return err
	}
	if len(raw) != 1+lenBytes+remainingLength {
		return &er.Err{Context: "Unsubscribe, Packet Length", Message: er.ErrInvalidPacketLength}
	}
	offset := 1 + lenBytes

	if remainingLength < 4 {
		return &er.Err{Context: "Unsubscribe", Message: er.ErrInvalidUnsubscribePacket}
	}

	id, err := utils.ParsePacketID(raw[offset:])
	if err != nil {
		return &er.Err{Context: "Unsubscribe, PacketID", Message: er.ErrMissingPacketID}
	}
	up.PacketID = id
	offset += 2

	up.TopicFilters = make([]string, 0)

	for offset < len(raw) {
		topicFilter, n, err := utils.ParseString(raw[offset:])
		if err != nil {
			return err
		}
		if n == 2 {
			return &er.Err{Context: "Unsubscribe, Topic Filter", Message: er.ErrEmptyTopicFilter}
		}
		offset += n

		if err := topicmatch.ValidateFilter(topicFilter); err != nil {
			return err
		}

		up.TopicFilters = append(up.TopicFilters, topicFilter)
	}

	if len(up.TopicFilters) == 0 {
		return &er.Err{Context: "Unsubscribe", Message: er.ErrNoTopicFilters}
	}

	return nil
}
