// Command ns-gateway is a small demo that exposes the query engine over a
// raw TCP line protocol: each line a client sends is compiled and
// evaluated as a query, and the JSON-encoded result rows are written back
// as a single line. It exists to exercise netsvc end to end (accept,
// multi-session dispatch, queued writes) against the query engine rather
// than a synthetic handler.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"netspectra-core/internal/netsvc"
	"netspectra-core/internal/query/datasource"
	"netspectra-core/internal/query/lang"
)

func main() {
	addr := flag.String("addr", ":9999", "TCP address to listen on")
	flag.Parse()

	ds := datasource.NewMemory()
	seedDemoData(ds)

	handler := &gatewayHandler{ds: ds}
	svc := netsvc.New(netsvc.Config{
		OutputBufferSize:    4096,
		MaxPackagesPerWrite: 50,
		InputBufferSize:     8192,
		ConnectionTimeout:   5 * time.Minute,
	}, handler)
	handler.svc = svc

	ctx := context.Background()
	if err := svc.ListenTCP(ctx, *addr); err != nil {
		log.Fatalf("Failed to listen on %s: %v", *addr, err)
	}
	log.Printf("ns-gateway listening on %s (send a query, newline-terminated)", *addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
}

func seedDemoData(ds *datasource.Memory) {
	ds.Load("flows", []lang.Row{
		{"src_ip": "10.0.0.1", "dst_ip": "10.0.0.2", "bytes": float64(1200), "protocol": float64(6)},
		{"src_ip": "10.0.0.3", "dst_ip": "10.0.0.2", "bytes": float64(340), "protocol": float64(17)},
		{"src_ip": "10.0.0.1", "dst_ip": "10.0.0.4", "bytes": float64(9000), "protocol": float64(6)},
	})
}

// gatewayHandler implements netsvc.Handler, turning each inbound line
// into a query-engine evaluation.
type gatewayHandler struct {
	svc *netsvc.Service
	ds  lang.DataSource
}

func (h *gatewayHandler) OnAccept(channel *netsvc.Channel) error {
	return nil
}

func (h *gatewayHandler) OnSessionStart(session *netsvc.Session) {
	log.Printf("session %s started", session.ID)
}

func (h *gatewayHandler) OnConnect(session *netsvc.Session) {
	log.Printf("session %s connected", session.ID)
}

func (h *gatewayHandler) OnWrite(session *netsvc.Session, p *netsvc.Package) {
	if p.Status != netsvc.StatusOK {
		log.Printf("session %s write %s", session.ID, p.Status)
	}
}

func (h *gatewayHandler) OnDisconnect(session *netsvc.Session) {
	log.Printf("session %s disconnected", session.ID)
}

func (h *gatewayHandler) OnRead(session *netsvc.Session, data []byte) {
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		h.runQuery(session, string(line))
	}
}

func (h *gatewayHandler) runQuery(session *netsvc.Session, text string) {
	reply := func(payload interface{}) {
		out, err := json.Marshal(payload)
		if err != nil {
			return
		}
		out = append(out, '\n')
		h.svc.WriteSession(session.ID, out)
	}

	q, err := lang.Compile(text)
	if err != nil {
		reply(map[string]string{"error": err.Error()})
		return
	}
	rows, err := lang.Evaluate(context.Background(), q, h.ds)
	if err != nil {
		reply(map[string]string{"error": err.Error()})
		return
	}
	reply(rows)
}
