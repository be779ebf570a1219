package lang

import (
	"context"
	"testing"
)

type memRows map[string][]Row

type memDS struct{ data memRows }

type memResource struct {
	name string
	rows []Row
}

func (r *memResource) Name() string                          { return r.name }
func (r *memResource) Fetch(context.Context) ([]Row, error) { return r.rows, nil }

func (d *memDS) Resource(_ context.Context, name string) (Resource, error) {
	return &memResource{name: name, rows: d.data[name]}, nil
}

func flowsDS() *memDS {
	return &memDS{data: memRows{
		"flows": {
			{"src_ip": "10.0.0.1", "bytes": float64(1200), "protocol": float64(6)},
			{"src_ip": "10.0.0.3", "bytes": float64(340), "protocol": float64(17)},
			{"src_ip": "10.0.0.1", "bytes": float64(9000), "protocol": float64(6)},
		},
		"hosts": {
			{"ip": "10.0.0.1", "zone": "dmz"},
			{"ip": "10.0.0.3", "zone": "internal"},
		},
	}}
}

func mustCompile(t *testing.T, text string) *Query {
	t.Helper()
	q, err := Compile(text)
	if err != nil {
		t.Fatalf("Compile(%q): %v", text, err)
	}
	return q
}

func TestEvaluateFilterAndOrder(t *testing.T) {
	q := mustCompile(t, "SELECT src_ip, bytes FROM flows WHERE protocol = 6 ORDER BY bytes DESC")
	rows, err := Evaluate(context.Background(), q, flowsDS())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(rows), rows)
	}
	if rows[0]["bytes"].(float64) != 9000 {
		t.Fatalf("expected highest bytes first, got %+v", rows[0])
	}
}

func TestEvaluateLimit(t *testing.T) {
	q := mustCompile(t, "SELECT * FROM flows LIMIT 1")
	rows, err := Evaluate(context.Background(), q, flowsDS())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
}

func TestEvaluateLimitZeroYieldsEmpty(t *testing.T) {
	q := mustCompile(t, "SELECT * FROM flows LIMIT 0")
	rows, err := Evaluate(context.Background(), q, flowsDS())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected LIMIT 0 to yield no rows, got %d", len(rows))
	}
}

func TestEvaluateAggregate(t *testing.T) {
	q := mustCompile(t, "SELECT sum(bytes) AS total FROM flows")
	rows, err := Evaluate(context.Background(), q, flowsDS())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected a single aggregate row, got %d", len(rows))
	}
	total, ok := rows[0]["total"].(float64)
	if !ok || total != 1200+340+9000 {
		t.Fatalf("expected total 10540, got %+v", rows[0]["total"])
	}
}

func TestEvaluateGroupBy(t *testing.T) {
	q := mustCompile(t, "SELECT src_ip, bytes FROM flows GROUP BY src_ip")
	rows, err := Evaluate(context.Background(), q, flowsDS())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 groups, got %d: %+v", len(rows), rows)
	}
	for _, row := range rows {
		if row["src_ip"] == "10.0.0.1" {
			if row["bytes"].(float64) != 1200+9000 {
				t.Fatalf("expected grouped bytes to sum, got %+v", row)
			}
		}
	}
}

func TestEvaluateJoin(t *testing.T) {
	q := mustCompile(t, "SELECT * FROM flows JOIN hosts ON flows.src_ip = hosts.ip WHERE hosts.zone = 'dmz'")
	rows, err := Evaluate(context.Background(), q, flowsDS())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 flows joined to the dmz host, got %d: %+v", len(rows), rows)
	}
}

func TestEvaluateIn(t *testing.T) {
	q := mustCompile(t, "SELECT * FROM flows WHERE protocol IN (17)")
	rows, err := Evaluate(context.Background(), q, flowsDS())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
}
