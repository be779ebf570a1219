package protocol

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"netspectra-core/internal/model"
)

// ParsePacket extracts the five-tuple and length of a decoded packet.
// Only IPv4 packets carrying TCP or UDP are supported; anything else is
// rejected so callers can skip it without inspecting layers themselves.
func ParsePacket(packet gopacket.Packet) (*model.PacketInfo, error) {
	info := &model.PacketInfo{
		Timestamp: time.Now(),
		Length:    len(packet.Data()),
	}

	if meta := packet.Metadata(); meta != nil {
		info.Timestamp = meta.Timestamp
	}

	var fiveTuple model.FiveTuple

	l, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ok {
		return nil, fmt.Errorf("not an IPv4 packet")
	}
	fiveTuple.SrcIP = l.SrcIP
	fiveTuple.DstIP = l.DstIP
	fiveTuple.Protocol = uint8(l.Protocol)

	if tcpLayer, ok := packet.Layer(layers.LayerTypeTCP).(*layers.TCP); ok {
		fiveTuple.SrcPort = uint16(tcpLayer.SrcPort)
		fiveTuple.DstPort = uint16(tcpLayer.DstPort)
	} else if udpLayer, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
		fiveTuple.SrcPort = uint16(udpLayer.SrcPort)
		fiveTuple.DstPort = uint16(udpLayer.DstPort)
	} else {
		return nil, fmt.Errorf("not a TCP or UDP packet")
	}

	info.FiveTuple = fiveTuple
	return info, nil
}
