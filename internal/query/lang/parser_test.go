package lang

import "testing"

func TestCompileBasicSelect(t *testing.T) {
	q, err := Compile("SELECT src_ip, bytes FROM flows WHERE bytes > 100 ORDER BY bytes DESC LIMIT 10")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if q.Resource != "flows" {
		t.Fatalf("expected resource flows, got %q", q.Resource)
	}
	if len(q.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(q.Fields))
	}
	if q.Limit == nil || *q.Limit != 10 {
		t.Fatalf("expected limit 10, got %v", q.Limit)
	}
	if len(q.OrderBy) != 1 || q.OrderBy[0].Direction != Descending {
		t.Fatalf("expected one descending order field, got %+v", q.OrderBy)
	}
}

func TestCompileStarSelect(t *testing.T) {
	q, err := Compile("SELECT * FROM flows")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(q.Fields) != 0 {
		t.Fatalf("expected no explicit fields for SELECT *, got %d", len(q.Fields))
	}
}

func TestCompileAndOrPrecedence(t *testing.T) {
	q, err := Compile("SELECT * FROM flows WHERE protocol = 6 AND bytes > 500 OR protocol = 17")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	coll, ok := q.Where.(*EvaluatorCollection)
	if !ok || coll.Operator != Or {
		t.Fatalf("expected top-level OR collection, got %#v", q.Where)
	}
	if len(coll.Evaluators) != 2 {
		t.Fatalf("expected 2 OR branches, got %d", len(coll.Evaluators))
	}
	left, ok := coll.Evaluators[0].(*EvaluatorCollection)
	if !ok || left.Operator != And {
		t.Fatalf("expected left branch to be an AND collection, got %#v", coll.Evaluators[0])
	}
}

func TestCompileIn(t *testing.T) {
	q, err := Compile("SELECT * FROM flows WHERE protocol IN (6, 17)")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	fe, ok := q.Where.(*FieldEvaluator)
	if !ok || fe.Operator != OpIn {
		t.Fatalf("expected an IN field evaluator, got %#v", q.Where)
	}
}

func TestCompileJoin(t *testing.T) {
	q, err := Compile("SELECT * FROM flows JOIN hosts ON flows.src_ip = hosts.ip WHERE hosts.zone = 'dmz'")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(q.Joins) != 1 || q.Joins[0].Resource != "hosts" {
		t.Fatalf("expected one join on hosts, got %+v", q.Joins)
	}
}

func TestCompileAggregate(t *testing.T) {
	q, err := Compile("SELECT count(*) AS total FROM flows")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(q.Fields) != 1 || q.Fields[0].Aggregate != "count" || q.Fields[0].Alias != "total" {
		t.Fatalf("expected one count aggregate aliased total, got %+v", q.Fields)
	}
}

func TestCompileArithmeticOperand(t *testing.T) {
	q, err := Compile("SELECT bytes * 2 AS doubled FROM flows")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	fn, ok := q.Fields[0].Operand.(*QueryFunction)
	if !ok || fn.Name != "multiply" {
		t.Fatalf("expected a multiply function operand, got %#v", q.Fields[0].Operand)
	}
}
