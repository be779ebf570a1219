package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"google.golang.org/grpc"

	"netspectra-core/internal/config"
	"netspectra-core/internal/query/datasource"
	"netspectra-core/internal/query/grpcapi"
	"netspectra-core/internal/query/lang"
)

func main() {
	cfg, err := config.LoadConfig("configs/config.yaml")
	if err != nil {
		log.Printf("Failed to load configuration, using defaults: %v", err)
		cfg = config.Default()
	}

	ds, err := datasource.NewClickHouse(cfg.ClickHouse)
	if err != nil {
		log.Fatalf("Failed to create ClickHouse data source: %v", err)
	}

	httpServer := &http.Server{
		Addr:    cfg.API.HTTPListenAddr,
		Handler: newHTTPHandler(ds),
	}
	go func() {
		log.Printf("HTTP query API starting on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	grpcServer := grpc.NewServer()
	grpcapi.Register(grpcServer, &grpcapi.Server{DataSource: ds})
	lis, err := net.Listen("tcp", cfg.API.GRPCListenAddr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", cfg.API.GRPCListenAddr, err)
	}
	go func() {
		log.Printf("gRPC query API starting on %s", cfg.API.GRPCListenAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatalf("Failed to serve gRPC: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("API server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	grpcServer.GracefulStop()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("API server exited.")
}

// queryRequest is the body of POST /api/v1/query: a single query-language
// statement to compile and evaluate against the configured data source.
type queryRequest struct {
	Query string `json:"query"`
}

func newHTTPHandler(ds lang.DataSource) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/query", func(w http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to read request body: %v", err), http.StatusBadRequest)
			return
		}
		var qr queryRequest
		if err := json.Unmarshal(body, &qr); err != nil {
			http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
			return
		}

		q, err := lang.Compile(qr.Query)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to compile query: %v", err), http.StatusBadRequest)
			return
		}
		rows, err := lang.Evaluate(req.Context(), q, ds)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to evaluate query: %v", err), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(rows)
	}).Methods("POST")

	return r
}
