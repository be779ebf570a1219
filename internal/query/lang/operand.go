package lang

import (
	"context"
	"fmt"
)

// Env bundles the objects an operand or evaluator needs beyond the current
// row: the context for sub-query execution, the data source sub-queries
// run against, the function registry, and the per-evaluation skip cache
// that keeps an AND/OR chain from re-testing an evaluator it has already
// resolved for a given row.
type Env struct {
	Ctx        context.Context
	DataSource DataSource
	Functions  *FunctionRegistry
	skip       map[Evaluator]map[string]bool
	skipAll    map[Evaluator]bool
}

func newEnv(ctx context.Context, ds DataSource, fns *FunctionRegistry) *Env {
	return &Env{
		Ctx:        ctx,
		DataSource: ds,
		Functions:  fns,
		skip:       make(map[Evaluator]map[string]bool),
		skipAll:    make(map[Evaluator]bool),
	}
}

func (e *Env) skipped(ev Evaluator, rowID string) bool {
	if e.skipAll[ev] {
		return true
	}
	m, ok := e.skip[ev]
	if !ok {
		return false
	}
	return m[rowID]
}

func (e *Env) markSkip(ev Evaluator, rowID string) {
	m, ok := e.skip[ev]
	if !ok {
		m = make(map[string]bool)
		e.skip[ev] = m
	}
	m[rowID] = true
}

// markSkipAll marks ev as satisfied for every row, regardless of identity.
// Used for a join seed's pushed-down predicates: once a predicate has
// already filtered the seed resource's rows, every row reaching the final
// WHERE evaluation is guaranteed to have come from a row that passed it, so
// re-checking it per row is redundant.
func (e *Env) markSkipAll(ev Evaluator) {
	e.skipAll[ev] = true
}

// Operand resolves to a value given a row.
type Operand interface {
	Resolve(row Row, env *Env) (interface{}, error)
	String() string
}

// Literal is a constant value parsed directly out of the query text.
type Literal struct {
	Value interface{}
}

func (l *Literal) Resolve(Row, *Env) (interface{}, error) { return l.Value, nil }
func (l *Literal) String() string                         { return fmt.Sprintf("%v", l.Value) }

// QueryField reads a named field off the current row. A dotted name
// ("a.b") walks into a nested Row.
type QueryField struct {
	Name string
	Path []string
}

func (f *QueryField) Resolve(row Row, _ *Env) (interface{}, error) {
	if v, ok := row[f.Name]; ok {
		return v, nil
	}

	var cur interface{} = row
	for _, p := range f.Path {
		m, ok := cur.(Row)
		if !ok {
			cur = nil
			break
		}
		cur = m[p]
	}
	if cur != nil {
		return cur, nil
	}

	// A dotted reference to the base (un-joined) resource, e.g.
	// "flows.src_ip", has no "flows" nesting to walk since only joined
	// resources get wrapped under their alias — the base row's own
	// fields stay flat. Fall back to the last path segment as a plain
	// field name.
	if len(f.Path) > 1 {
		if v, ok := row[f.Path[len(f.Path)-1]]; ok {
			return v, nil
		}
	}
	return nil, nil
}

func (f *QueryField) String() string { return f.Name }

// QueryFunction invokes a registered function by name with resolved
// operand arguments.
type QueryFunction struct {
	Name string
	Args []Operand
}

func (fn *QueryFunction) Resolve(row Row, env *Env) (interface{}, error) {
	if env == nil || env.Functions == nil {
		return nil, fmt.Errorf("query: no function registry available for %q", fn.Name)
	}
	impl, ok := env.Functions.Lookup(fn.Name)
	if !ok {
		return nil, fmt.Errorf("query: unknown function %q", fn.Name)
	}
	args := make([]interface{}, len(fn.Args))
	for i, a := range fn.Args {
		v, err := a.Resolve(row, env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return impl(args)
}

func (fn *QueryFunction) String() string { return fn.Name + "(...)" }

// SubQuery embeds a nested query whose result set is used as this
// operand's value (a single scalar column when used inside a comparison).
type SubQuery struct {
	Query *Query
	// Field selects which projected column of the sub-query's first
	// result row becomes the operand value. When empty, the value of one
	// column of that row is taken; which one is not defined unless the row
	// has a single column.
	Field string
}

func (s *SubQuery) Resolve(row Row, env *Env) (interface{}, error) {
	if env == nil || env.DataSource == nil {
		return nil, fmt.Errorf("query: sub-query requires a data source")
	}
	rows, err := Evaluate(env.Ctx, s.Query, env.DataSource)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if s.Field != "" {
		return rows[0][s.Field], nil
	}
	for _, v := range rows[0] {
		return v, nil
	}
	return nil, nil
}

func (s *SubQuery) String() string { return "(subquery)" }

// LiteralCollection is a parenthesized list of literals, used with IN.
type LiteralCollection struct {
	Values []Operand
}

func (l *LiteralCollection) Resolve(row Row, env *Env) (interface{}, error) {
	out := make([]interface{}, len(l.Values))
	for i, v := range l.Values {
		val, err := v.Resolve(row, env)
		if err != nil {
			return nil, err
		}
		out[i] = val
	}
	return out, nil
}

func (l *LiteralCollection) String() string { return "(...)" }
