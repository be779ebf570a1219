package probe

import (
	"log"

	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"netspectra-core/internal/config"
	"netspectra-core/internal/model"
)

// Publisher publishes captured packet metadata to a NATS subject.
type Publisher struct {
	nc      *nats.Conn
	subject string
}

// NewPublisher creates a new NATS publisher.
func NewPublisher(cfg config.ProbeConfig) (*Publisher, error) {
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.NATSURL)
	return &Publisher{nc: nc, subject: cfg.Subject}, nil
}

// packetToStruct encodes a PacketInfo as a structpb.Struct so it can be
// carried as a protobuf well-known type without a generated schema.
func packetToStruct(info *model.PacketInfo) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"timestamp": timestamppb.New(info.Timestamp).AsTime().Format(protoTimeLayout),
		"length":    float64(info.Length),
		"src_ip":    info.FiveTuple.SrcIP.String(),
		"dst_ip":    info.FiveTuple.DstIP.String(),
		"src_port":  float64(info.FiveTuple.SrcPort),
		"dst_port":  float64(info.FiveTuple.DstPort),
		"protocol":  float64(info.FiveTuple.Protocol),
	})
}

const protoTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Publish serializes a PacketInfo and publishes it to the configured NATS subject.
func (p *Publisher) Publish(packetInfo *model.PacketInfo) error {
	msg, err := packetToStruct(packetInfo)
	if err != nil {
		return err
	}

	data, err := proto.Marshal(msg)
	if err != nil {
		return err
	}

	return p.nc.Publish(p.subject, data)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		log.Println("NATS connection drained and closed.")
	}
}
