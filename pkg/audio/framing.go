// ABOUTME: Length-prefixed packet framing for compressed timeslices
// ABOUTME: Each packet is preceded by its size as a big-endian uint16
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// AppendFramedPacket appends packet to dst with its uint16 length prefix
func AppendFramedPacket(dst, packet []byte) ([]byte, error) {
	if len(packet) > math.MaxUint16 {
		return dst, fmt.Errorf("packet too large to frame: %d bytes", len(packet))
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(packet)))
	return append(dst, packet...), nil
}

// SplitFramedPackets splits a timeslice back into its packets
func SplitFramedPackets(data []byte) ([][]byte, error) {
	var packets [][]byte
	for len(data) > 0 {
		if len(data) < 2 {
			return packets, fmt.Errorf("truncated packet length")
		}
		size := int(binary.BigEndian.Uint16(data))
		data = data[2:]
		if len(data) < size {
			return packets, fmt.Errorf("truncated packet: want %d bytes, have %d", size, len(data))
		}
		packets = append(packets, data[:size])
		data = data[size:]
	}
	return packets, nil
}
