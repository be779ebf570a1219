package lang

// splitConjuncts flattens a top-level AND-tree into its leaf conjuncts,
// recursing through nested EvaluatorCollections that are themselves AND'd.
// An OR at any level stops the flattening (its whole subtree becomes one
// conjunct) since an OR's branches aren't individually implied by the
// collection as a whole.
func splitConjuncts(ev Evaluator) []Evaluator {
	if coll, ok := ev.(*EvaluatorCollection); ok && coll.Operator == And {
		var out []Evaluator
		for _, e := range coll.Evaluators {
			out = append(out, splitConjuncts(e)...)
		}
		return out
	}
	return []Evaluator{ev}
}

// combineAnd rebuilds a single evaluator from a set of conjuncts, or nil if
// there are none.
func combineAnd(evs []Evaluator) Evaluator {
	switch len(evs) {
	case 0:
		return nil
	case 1:
		return evs[0]
	default:
		return &EvaluatorCollection{Operator: And, Evaluators: evs}
	}
}

// referencesOnlyBase reports whether ev's operands never reach into one of
// excludedRoots (a joined resource's alias or name), meaning it is safe to
// evaluate against the base resource's rows before any join runs.
// Sub-queries are treated conservatively as unsafe, since they may resolve
// against any resource.
func referencesOnlyBase(ev Evaluator, excludedRoots map[string]bool) bool {
	safe := true
	visitEvaluatorOperands(ev, func(op Operand) {
		switch o := op.(type) {
		case *QueryField:
			if len(o.Path) > 0 && excludedRoots[o.Path[0]] {
				safe = false
			}
		case *SubQuery:
			safe = false
		}
	})
	return safe
}

// joinRoots collects the alias (or bare resource name, absent an alias)
// each join in joins is addressed by.
func joinRoots(joins []*Join) map[string]bool {
	roots := make(map[string]bool, len(joins))
	for _, j := range joins {
		name := j.Alias
		if name == "" {
			name = j.Resource
		}
		roots[name] = true
	}
	return roots
}

func visitOperand(op Operand, visit func(Operand)) {
	visit(op)
	switch v := op.(type) {
	case *QueryFunction:
		for _, a := range v.Args {
			visitOperand(a, visit)
		}
	case *LiteralCollection:
		for _, a := range v.Values {
			visitOperand(a, visit)
		}
	}
}

func visitEvaluatorOperands(ev Evaluator, visit func(Operand)) {
	switch v := ev.(type) {
	case *EvaluatorCollection:
		for _, e := range v.Evaluators {
			visitEvaluatorOperands(e, visit)
		}
	case *FieldEvaluator:
		visitOperand(v.Left, visit)
		visitOperand(v.Right, visit)
	case *BooleanEvaluator:
		visitOperand(v.Operand, visit)
	case *negated:
		visitEvaluatorOperands(v.inner, visit)
	}
}
