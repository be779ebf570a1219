package lang

// joinRows combines the left result set (already fetched and merged with
// any earlier joins) with a newly fetched resource's rows, keeping only
// combinations that satisfy the join's ON evaluator. The joined resource's
// fields are merged into the left row under its alias namespace as well as
// directly, so ON clauses and later predicates can reference bare field
// names when they are unambiguous. A LeftJoin keeps an unmatched left row
// (right side implicitly null); a RightJoin keeps an unmatched right row
// (left side implicitly null) instead — the join type just picks which
// side is the outer one.
func joinRows(left []Row, right []Row, join *Join, env *Env) ([]Row, error) {
	alias := join.Alias
	if alias == "" {
		alias = join.Resource
	}

	matchedRight := make([]bool, len(right))
	out := make([]Row, 0, len(left))
	for _, l := range left {
		matchedAny := false
		for ri, r := range right {
			combined := l.Clone()
			nested := r.Clone()
			combined[alias] = nested
			for k, v := range r {
				if _, exists := combined[k]; !exists {
					combined[k] = v
				}
			}

			ok := true
			if join.On != nil {
				var err error
				ok, err = join.On.Evaluate(combined, env)
				if err != nil {
					return nil, err
				}
			}
			if ok {
				matchedAny = true
				matchedRight[ri] = true
				out = append(out, combined)
			}
		}
		if !matchedAny && join.Type == LeftJoin {
			out = append(out, l.Clone())
		}
	}

	if join.Type == RightJoin {
		for ri, r := range right {
			if matchedRight[ri] {
				continue
			}
			combined := r.Clone()
			combined[alias] = r.Clone()
			out = append(out, combined)
		}
	}

	return out, nil
}
