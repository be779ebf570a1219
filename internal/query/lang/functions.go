package lang

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// Function implements a query-language function: it receives already
// resolved arguments and returns a value or an error.
type Function func(args []interface{}) (interface{}, error)

// FunctionRegistry maps a function name to its implementation. New
// functions can be registered by embedding modules (aggregation, storage
// adapters) without changing the parser or evaluator.
type FunctionRegistry struct {
	fns map[string]Function
	// refCache memoizes expensive reference-resolution lookups (the ref()
	// function) so a query that dereferences the same key many times in a
	// result set does not repeat the lookup.
	refCache *lru.Cache
	resolver func(key string) (interface{}, error)
}

// NewFunctionRegistry builds a registry preloaded with the standard
// math, string, date, collection, object and reference (ref) functions.
// Aggregate functions (count, sum, product, mean) are not registered here;
// evaluation resolves them through lookupAggregate.
func NewFunctionRegistry() *FunctionRegistry {
	cache, _ := lru.New(1024)
	r := &FunctionRegistry{fns: make(map[string]Function), refCache: cache}
	registerMathFunctions(r)
	registerStringFunctions(r)
	registerDateFunctions(r)
	registerCollectionFunctions(r)
	registerObjectFunctions(r)
	registerReferenceFunctions(r)
	return r
}

// Register adds or replaces a function under name.
func (r *FunctionRegistry) Register(name string, fn Function) {
	r.fns[strings.ToLower(name)] = fn
}

// Lookup returns the function registered under name, case-insensitively.
func (r *FunctionRegistry) Lookup(name string) (Function, bool) {
	fn, ok := r.fns[strings.ToLower(name)]
	return fn, ok
}

func argFloat(args []interface{}, i int) (float64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("query: missing argument %d", i)
	}
	f, ok := toFloat(args[i])
	if !ok {
		return 0, fmt.Errorf("query: argument %d is not numeric: %v", i, args[i])
	}
	return f, nil
}

func argString(args []interface{}, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("query: missing argument %d", i)
	}
	return fmt.Sprintf("%v", args[i]), nil
}

// registerMathFunctions registers arithmetic helpers used both directly
// and by the parser's math-expression operand.
func registerMathFunctions(r *FunctionRegistry) {
	binary := func(op func(a, b float64) float64) Function {
		return func(args []interface{}) (interface{}, error) {
			a, err := argFloat(args, 0)
			if err != nil {
				return nil, err
			}
			b, err := argFloat(args, 1)
			if err != nil {
				return nil, err
			}
			return op(a, b), nil
		}
	}
	r.Register("add", binary(func(a, b float64) float64 { return a + b }))
	r.Register("subtract", binary(func(a, b float64) float64 { return a - b }))
	r.Register("multiply", binary(func(a, b float64) float64 { return a * b }))
	r.Register("divide", binary(func(a, b float64) float64 { return a / b }))
	r.Register("mod", binary(math.Mod))
	r.Register("pow", binary(math.Pow))
	r.Register("abs", func(args []interface{}) (interface{}, error) {
		a, err := argFloat(args, 0)
		if err != nil {
			return nil, err
		}
		return math.Abs(a), nil
	})
	r.Register("sqrt", func(args []interface{}) (interface{}, error) {
		a, err := argFloat(args, 0)
		if err != nil {
			return nil, err
		}
		return math.Sqrt(a), nil
	})
	// mathEval evaluates an arithmetic expression string made of numeric
	// literals ("1 + 2 * 3"). The parser does not use it: arithmetic in
	// query text is compiled into add/subtract/multiply/divide calls.
	r.Register("mathEval", func(args []interface{}) (interface{}, error) {
		expr, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		return evalMathExpression(expr)
	})
}

func registerStringFunctions(r *FunctionRegistry) {
	r.Register("concat", func(args []interface{}) (interface{}, error) {
		var b strings.Builder
		for _, a := range args {
			b.WriteString(fmt.Sprintf("%v", a))
		}
		return b.String(), nil
	})
	r.Register("upper", func(args []interface{}) (interface{}, error) {
		s, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		return strings.ToUpper(s), nil
	})
	r.Register("lower", func(args []interface{}) (interface{}, error) {
		s, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		return strings.ToLower(s), nil
	})
	r.Register("trim", func(args []interface{}) (interface{}, error) {
		s, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		return strings.TrimSpace(s), nil
	})
	r.Register("length", func(args []interface{}) (interface{}, error) {
		s, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		return float64(len(s)), nil
	})
	r.Register("isEmpty", func(args []interface{}) (interface{}, error) {
		if len(args) == 0 || args[0] == nil {
			return true, nil
		}
		s, ok := args[0].(string)
		if ok {
			return len(s) == 0, nil
		}
		return false, nil
	})
}

func registerDateFunctions(r *FunctionRegistry) {
	r.Register("now", func(args []interface{}) (interface{}, error) {
		return time.Now(), nil
	})
	r.Register("parseDate", func(args []interface{}) (interface{}, error) {
		s, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		layout := time.RFC3339
		if len(args) > 1 {
			layout, err = argString(args, 1)
			if err != nil {
				return nil, err
			}
		}
		return time.Parse(layout, s)
	})
	r.Register("year", func(args []interface{}) (interface{}, error) {
		t, ok := args[0].(time.Time)
		if !ok {
			return nil, fmt.Errorf("query: year() expects a date")
		}
		return float64(t.Year()), nil
	})
}

func registerCollectionFunctions(r *FunctionRegistry) {
	r.Register("size", func(args []interface{}) (interface{}, error) {
		switch v := args[0].(type) {
		case []interface{}:
			return float64(len(v)), nil
		case []Row:
			return float64(len(v)), nil
		default:
			return float64(0), nil
		}
	})
	r.Register("contains", func(args []interface{}) (interface{}, error) {
		return containsValue(args[0], args[1]), nil
	})
}

func registerObjectFunctions(r *FunctionRegistry) {
	r.Register("get", func(args []interface{}) (interface{}, error) {
		row, ok := args[0].(Row)
		if !ok {
			return nil, nil
		}
		key, err := argString(args, 1)
		if err != nil {
			return nil, err
		}
		return row[key], nil
	})
	r.Register("toString", func(args []interface{}) (interface{}, error) {
		return fmt.Sprintf("%v", args[0]), nil
	})
	r.Register("toNumber", func(args []interface{}) (interface{}, error) {
		if f, ok := toFloat(args[0]); ok {
			return f, nil
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("query: cannot convert to number")
		}
		return strconv.ParseFloat(s, 64)
	})
}

// registerReferenceFunctions registers ref(), which looks a value up in
// the registry's LRU cache, falling back to the resolver function
// installed by SetReferenceResolver. This backs cross-resource lookups
// that would otherwise require a full join for a single scalar.
func registerReferenceFunctions(r *FunctionRegistry) {
	r.Register("ref", func(args []interface{}) (interface{}, error) {
		key, err := argString(args, 0)
		if err != nil {
			return nil, err
		}
		if v, ok := r.refCache.Get(key); ok {
			return v, nil
		}
		if r.resolver == nil {
			return nil, nil
		}
		v, err := r.resolver(key)
		if err != nil {
			return nil, err
		}
		r.refCache.Add(key, v)
		return v, nil
	})
}

// SetReferenceResolver installs the callback ref() uses on a cache miss.
func (r *FunctionRegistry) SetReferenceResolver(fn func(key string) (interface{}, error)) {
	r.resolver = fn
}
