// Package utils holds the wire-level primitives shared across packet
// types: the variable-length remaining-length field and length-prefixed
// UTF-8 strings. Topic validation itself lives in internal/topicmatch
// (component A) — this package only moves bytes.
package utils

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/pyr33x/mqttd/pkg/er"
)

// EncodeRemainingLength encodes length using the MQTT variable-length
// scheme (up to 4 bytes, max value 268,435,455).
func EncodeRemainingLength(length int) []byte {
	if length < 0 {
		return []byte{0}
	}

	var encoded []byte
	for {
		b := byte(length % 128)
		length /= 128
		if length > 0 {
			b |= 0x80
		}
		encoded = append(encoded, b)
		if length == 0 || len(encoded) >= 4 {
			break
		}
	}
	return encoded
}

// ParseRemainingLength decodes the remaining-length field from data,
// returning the length, bytes consumed, and any error.
func ParseRemainingLength(data []byte) (int, int, error) {
	var length, multiplier, offset int

	for {
		if offset >= len(data) {
			return 0, 0, &er.Err{Context: "ParseRemainingLength", Message: er.ErrShortBuffer}
		}
		if offset >= 4 {
			return 0, 0, &er.Err{Context: "ParseRemainingLength", Message: er.ErrRemainingLengthExceeded}
		}

		b := data[offset]
		length += int(b&0x7F) * pow128(multiplier)
		if length > 268435455 {
			return 0, 0, &er.Err{Context: "ParseRemainingLength", Message: er.ErrRemainingLengthExceeded}
		}

		multiplier++
		offset++
		if b&0x80 == 0 {
			break
		}
	}

	return length, offset, nil
}

func pow128(n int) int {
	m := 1
	for i := 0; i < n; i++ {
		m *= 128
	}
	return m
}

// ParseString parses a UTF-8 string with a 2-byte big-endian length
// prefix, returning the string, bytes consumed, and any error.
func ParseString(data []byte) (string, int, error) {
	if len(data) < 2 {
		return "", 0, &er.Err{Context: "ParseString", Message: er.ErrShortBuffer}
	}

	length := binary.BigEndian.Uint16(data[0:2])
	if len(data) < int(2+length) {
		return "", 0, &er.Err{Context: "ParseString", Message: er.ErrShortBuffer}
	}

	str := string(data[2 : 2+length])
	if !utf8.ValidString(str) {
		return "", 0, &er.Err{Context: "ParseString", Message: er.ErrInvalidUTF8String}
	}

	return str, int(2 + length), nil
}

// EncodeString encodes s with a 2-byte big-endian length prefix.
func EncodeString(s string) []byte {
	out := make([]byte, 2+len(s))
	binary.BigEndian.PutUint16(out[0:2], uint16(len(s)))
	copy(out[2:], s)
	return out
}

// EncodePacketID encodes a 16-bit packet ID, big-endian.
func EncodePacketID(id uint16) []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, id)
	return out
}

// ParsePacketID parses a 16-bit packet ID, big-endian, rejecting 0
// (reserved: MQTT packet ids are never zero).
func ParsePacketID(data []byte) (uint16, error) {
	if len(data) < 2 {
		return 0, &er.Err{Context: "ParsePacketID", Message: er.ErrShortBuffer}
	}
	id := binary.BigEndian.Uint16(data[0:2])
	if id == 0 {
		return 0, &er.Err{Context: "ParsePacketID", Message: er.ErrInvalidPacketID}
	}
	return id, nil
}
