package datasource

import (
	"context"
	"testing"

	"netspectra-core/internal/query/lang"
)

func TestMemoryLoadAndFetch(t *testing.T) {
	m := NewMemory()
	m.Load("flows", []lang.Row{
		{"src_ip": "10.0.0.1", "bytes": float64(100)},
		{"src_ip": "10.0.0.2", "bytes": float64(200)},
	})

	res, err := m.Resource(context.Background(), "flows")
	if err != nil {
		t.Fatalf("Resource: %v", err)
	}
	rows, err := res.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	// Mutating a fetched row must not affect the store (Fetch clones).
	rows[0]["bytes"] = float64(999)
	again, _ := res.Fetch(context.Background())
	if again[0]["bytes"].(float64) != 100 {
		t.Fatalf("expected store to be unaffected by mutation of fetched row, got %v", again[0]["bytes"])
	}
}

func TestMemoryAppend(t *testing.T) {
	m := NewMemory()
	m.Append("hosts", lang.Row{"ip": "10.0.0.1"})
	m.Append("hosts", lang.Row{"ip": "10.0.0.2"})

	res, err := m.Resource(context.Background(), "hosts")
	if err != nil {
		t.Fatalf("Resource: %v", err)
	}
	rows, _ := res.Fetch(context.Background())
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows after two appends, got %d", len(rows))
	}
}

func TestMemoryUnknownResource(t *testing.T) {
	m := NewMemory()
	if _, err := m.Resource(context.Background(), "nope"); err == nil {
		t.Fatal("expected an error for an unknown resource")
	}
}
