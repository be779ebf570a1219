package probe

import (
	"log"
	"net"
	"time"

	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"netspectra-core/internal/config"
	"netspectra-core/internal/model"
)

// PacketHandler is a function that processes a received PacketInfo.
type PacketHandler func(info model.PacketInfo)

// Subscriber subscribes to a NATS subject and processes packet messages.
type Subscriber struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
}

// NewSubscriber creates a new NATS subscriber.
func NewSubscriber(cfg config.ProbeConfig) (*Subscriber, error) {
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, err
	}
	log.Printf("Connected to NATS server at %s", cfg.NATSURL)
	return &Subscriber{nc: nc, subject: cfg.Subject}, nil
}

func structToPacket(s *structpb.Struct) model.PacketInfo {
	fields := s.GetFields()
	ts, _ := time.Parse(protoTimeLayout, fields["timestamp"].GetStringValue())
	return model.PacketInfo{
		Timestamp: ts,
		Length:    int(fields["length"].GetNumberValue()),
		FiveTuple: model.FiveTuple{
			SrcIP:    net.ParseIP(fields["src_ip"].GetStringValue()),
			DstIP:    net.ParseIP(fields["dst_ip"].GetStringValue()),
			SrcPort:  uint16(fields["src_port"].GetNumberValue()),
			DstPort:  uint16(fields["dst_port"].GetNumberValue()),
			Protocol: uint8(fields["protocol"].GetNumberValue()),
		},
	}
}

// Start subscribes to the configured subject and processes messages with handler.
func (s *Subscriber) Start(handler PacketHandler) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		var pbPacket structpb.Struct
		if err := proto.Unmarshal(msg.Data, &pbPacket); err != nil {
			log.Printf("Error unmarshalling packet message: %v", err)
			return
		}
		handler(structToPacket(&pbPacket))
	})
	if err != nil {
		return err
	}
	s.sub = sub
	log.Printf("Subscribed to '%s'. Waiting for messages...", s.subject)
	return nil
}

// Close unsubscribes and closes the NATS connection.
func (s *Subscriber) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
		log.Println("NATS connection closed.")
	}
}
