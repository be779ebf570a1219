package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/nats-io/nats.go"

	"netspectra-core/internal/config"
	"netspectra-core/internal/engine/protocol"
	"netspectra-core/internal/model"
	"netspectra-core/internal/probe"
)

const (
	snapshotLen int32 = 1600
	promiscuous       = true
	timeout           = pcap.BlockForever
)

func main() {
	mode := flag.String("mode", "sub", "Operating mode: 'pub' to capture and publish, 'sub' to subscribe and print.")
	iface := flag.String("iface", "", "Interface to capture packets from (required for pub mode).")
	flag.Parse()

	cfg := config.ProbeConfig{NATSURL: nats.DefaultURL, Subject: "ns.packets.raw"}

	switch *mode {
	case "pub":
		runProbe(*iface, cfg)
	case "sub":
		runSubscriber(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Invalid mode: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

func runProbe(interfaceName string, cfg config.ProbeConfig) {
	if interfaceName == "" {
		log.Println("Error: -iface flag is required for probe mode.")
		flag.Usage()
		os.Exit(1)
	}
	log.Printf("Starting ns-probe in PROBE mode on interface: %s", interfaceName)

	pub, err := probe.NewPublisher(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer pub.Close()

	handle, err := pcap.OpenLive(interfaceName, snapshotLen, promiscuous, timeout)
	if err != nil {
		log.Fatalf("Error opening device %s: %v", interfaceName, err)
	}
	defer handle.Close()

	log.Println("Capture started successfully. Publishing packets to NATS...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
		packetsPublished := 0
		for packet := range packetSource.Packets() {
			info, err := protocol.ParsePacket(packet)
			if err != nil {
				continue
			}
			if err := pub.Publish(info); err != nil {
				log.Printf("Failed to publish packet: %v", err)
			}
			packetsPublished++
			if packetsPublished%1000 == 0 {
				log.Printf("%d packets published...", packetsPublished)
			}
		}
	}()

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
}

func runSubscriber(cfg config.ProbeConfig) {
	log.Println("Starting ns-probe in SUBSCRIBER mode...")

	sub, err := probe.NewSubscriber(cfg)
	if err != nil {
		log.Fatalf("Failed to create subscriber: %v", err)
	}
	defer sub.Close()

	handler := func(info model.PacketInfo) {
		log.Printf("Received Packet: %+v", info)
	}

	if err := sub.Start(handler); err != nil {
		log.Fatalf("Subscriber failed to start: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
}
