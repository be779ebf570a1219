package lang

import (
	"context"
	"fmt"
	"sort"
)

// Evaluate runs a fully parsed query against a data source: it fetches the
// FROM resource (and any joined resources), applies the WHERE clause,
// groups, orders, limits, and finally projects the SELECT list.
func Evaluate(ctx context.Context, q *Query, ds DataSource) ([]Row, error) {
	return EvaluateWithFunctions(ctx, q, ds, NewFunctionRegistry())
}

// EvaluateWithFunctions is Evaluate with an explicit function registry, so
// callers can install additional or overriding functions (e.g. a ref()
// resolver bound to a specific store).
func EvaluateWithFunctions(ctx context.Context, q *Query, ds DataSource, fns *FunctionRegistry) ([]Row, error) {
	if ds == nil {
		return nil, fmt.Errorf("query: data source is required")
	}

	env := newEnv(ctx, ds, fns)

	resource, err := ds.Resource(ctx, q.Resource)
	if err != nil {
		return nil, fmt.Errorf("query: resolving resource %q: %w", q.Resource, err)
	}
	rows, err := resource.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("query: fetching resource %q: %w", q.Resource, err)
	}

	// A predicate that only touches the base (seed) resource's own fields
	// can be applied before any join runs, shrinking the seed side of the
	// join up front. Those conjuncts are then marked satisfied so the
	// final WHERE pass below doesn't recheck them against every joined
	// row.
	where := q.Where
	if where != nil && len(q.Joins) > 0 {
		excluded := joinRoots(q.Joins)
		var seedConjuncts, remaining []Evaluator
		for _, c := range splitConjuncts(where) {
			if referencesOnlyBase(c, excluded) {
				seedConjuncts = append(seedConjuncts, c)
			} else {
				remaining = append(remaining, c)
			}
		}
		if len(seedConjuncts) > 0 {
			seedFilter := combineAnd(seedConjuncts)
			filtered := make([]Row, 0, len(rows))
			for _, row := range rows {
				ok, err := seedFilter.Evaluate(row, env)
				if err != nil {
					return nil, err
				}
				if ok {
					filtered = append(filtered, row)
				}
			}
			rows = filtered
			for _, c := range seedConjuncts {
				env.markSkipAll(c)
			}
		}
		where = combineAnd(remaining)
	}

	for _, join := range q.Joins {
		jr, err := ds.Resource(ctx, join.Resource)
		if err != nil {
			return nil, fmt.Errorf("query: resolving joined resource %q: %w", join.Resource, err)
		}
		jrows, err := jr.Fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("query: fetching joined resource %q: %w", join.Resource, err)
		}
		rows, err = joinRows(rows, jrows, join, env)
		if err != nil {
			return nil, err
		}
	}

	if where != nil {
		filtered := make([]Row, 0, len(rows))
		for _, row := range rows {
			ok, err := where.Evaluate(row, env)
			if err != nil {
				return nil, err
			}
			if ok {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}

	if len(q.GroupBy) > 0 {
		rows = groupRows(rows, q.GroupBy)
	}

	if len(q.OrderBy) > 0 {
		if err := orderRows(rows, q.OrderBy, env); err != nil {
			return nil, err
		}
	}

	rows, err = paginate(rows, q, env)
	if err != nil {
		return nil, err
	}

	return project(rows, q, env)
}

// paginate applies LIMIT/START; a Query with ReturnAll set is returned
// whole. Compile never sets ReturnAll.
func paginate(rows []Row, q *Query, env *Env) ([]Row, error) {
	if q.ReturnAll {
		return rows, nil
	}
	start := 0
	if q.Start != nil {
		start = *q.Start
	}
	if start < 0 {
		start = 0
	}
	if start >= len(rows) {
		return nil, nil
	}
	rows = rows[start:]
	if q.Limit != nil {
		limit := *q.Limit
		if limit <= 0 {
			return nil, nil
		}
		if limit < len(rows) {
			rows = rows[:limit]
		}
	}
	return rows, nil
}

// orderRows sorts rows in place by the ORDER BY fields, with nil values
// first, breaking ties with each row's identity hash so the result order is
// stable and reproducible across runs of an otherwise-tied query.
func orderRows(rows []Row, order []OrderField, env *Env) error {
	var sortErr error
	sort.SliceStable(rows, func(i, j int) bool {
		if sortErr != nil {
			return false
		}
		for _, o := range order {
			a, err := o.Field.Resolve(rows[i], env)
			if err != nil {
				sortErr = err
				return false
			}
			b, err := o.Field.Resolve(rows[j], env)
			if err != nil {
				sortErr = err
				return false
			}
			if (a == nil) != (b == nil) {
				return a == nil
			}
			cmp, comparable := compareValues(a, b)
			if !comparable || cmp == 0 {
				continue
			}
			if o.Direction == Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return identityHash(rows[i]) < identityHash(rows[j])
	})
	return sortErr
}

// project applies the SELECT list, evaluating aggregates over the whole
// row set and per-row operands otherwise. An empty field list passes rows
// through unchanged (SELECT *).
func project(rows []Row, q *Query, env *Env) ([]Row, error) {
	if len(q.Fields) == 0 {
		return rows, nil
	}

	hasAggregate := false
	for _, f := range q.Fields {
		if f.Aggregate != "" {
			hasAggregate = true
			break
		}
	}

	if hasAggregate {
		out := Row{}
		for _, f := range q.Fields {
			name := projectionName(f)
			if f.Aggregate == "" {
				if len(rows) == 0 {
					out[name] = nil
					continue
				}
				v, err := f.Operand.Resolve(rows[0], env)
				if err != nil {
					return nil, err
				}
				out[name] = v
				continue
			}
			agg, ok := lookupAggregate(f.Aggregate)
			if !ok {
				return nil, fmt.Errorf("query: unknown aggregate function %q", f.Aggregate)
			}
			v, err := agg(rows, f.Operand, env)
			if err != nil {
				return nil, err
			}
			out[name] = v
		}
		return []Row{out}, nil
	}

	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		projected := Row{}
		for _, f := range q.Fields {
			v, err := f.Operand.Resolve(row, env)
			if err != nil {
				return nil, err
			}
			projected[projectionName(f)] = v
		}
		out = append(out, projected)
	}
	return out, nil
}

func projectionName(f Projectable) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Operand.String()
}
