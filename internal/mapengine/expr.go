package mapengine

import (
	"fmt"
	"math"
	"strconv"
)

// Expression builders for data-driven paint properties and filters. The
// output is the JSON array form renderers consume.

func Get(prop string) []any      { return []any{"get", prop} }
func Has(prop string) []any      { return []any{"has", prop} }
func Not(e any) []any            { return []any{"!", e} }
func Gt(a, b any) []any          { return []any{">", a, b} }
func Eq(a, b any) []any          { return []any{"==", a, b} }
func Coalesce(vals ...any) []any { return append([]any{"coalesce"}, vals...) }
func Case(cond, then, otherwise any) []any {
	return []any{"case", cond, then, otherwise}
}

// Stop is one input/output pair of an interpolation.
type Stop struct {
	In  float64
	Out float64
}

// Interpolate builds a linear interpolation of input over stops.
func Interpolate(input any, stops ...Stop) []any {
	e := []any{"interpolate", []any{"linear"}, input}
	for _, s := range stops {
		e = append(e, s.In, s.Out)
	}
	return e
}

// Step builds a step expression: base below the first threshold, then the
// output paired with the highest threshold not above the input.
func Step(input any, base any, pairs ...any) []any {
	return append([]any{"step", input, base}, pairs...)
}

// Evaluate computes an expression against feature properties. It covers
// the operators the builders above produce and is what memengine and the
// tests use to check paint expressions.
func Evaluate(expr any, props map[string]any) (any, error) {
	arr, ok := expr.([]any)
	if !ok || len(arr) == 0 {
		return expr, nil
	}
	op, ok := arr[0].(string)
	if !ok {
		return expr, nil
	}

	switch op {
	case "get":
		if len(arr) != 2 {
			return nil, fmt.Errorf("get: want 1 argument, got %d", len(arr)-1)
		}
		key, _ := arr[1].(string)
		return props[key], nil
	case "has":
		key, _ := arr[1].(string)
		_, ok := props[key]
		return ok, nil
	case "!":
		v, err := Evaluate(arr[1], props)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	case "all":
		for _, sub := range arr[1:] {
			v, err := Evaluate(sub, props)
			if err != nil {
				return nil, err
			}
			if !truthy(v) {
				return false, nil
			}
		}
		return true, nil
	case "coalesce":
		for _, sub := range arr[1:] {
			v, err := Evaluate(sub, props)
			if err != nil {
				return nil, err
			}
			if v != nil {
				return v, nil
			}
		}
		return nil, nil
	case "==", ">", ">=", "<", "<=":
		a, err := Evaluate(arr[1], props)
		if err != nil {
			return nil, err
		}
		b, err := Evaluate(arr[2], props)
		if err != nil {
			return nil, err
		}
		return compare(op, a, b), nil
	case "case":
		for i := 1; i+1 < len(arr); i += 2 {
			c, err := Evaluate(arr[i], props)
			if err != nil {
				return nil, err
			}
			if truthy(c) {
				return Evaluate(arr[i+1], props)
			}
		}
		return Evaluate(arr[len(arr)-1], props)
	case "interpolate":
		return evalInterpolate(arr, props)
	case "step":
		return evalStep(arr, props)
	}
	return nil, fmt.Errorf("unsupported expression operator %q", op)
}

// EvalFilter evaluates a layer filter; a nil filter matches everything.
func EvalFilter(filter []any, props map[string]any) bool {
	if len(filter) == 0 {
		return true
	}
	v, err := Evaluate(filter, props)
	return err == nil && truthy(v)
}

func evalInterpolate(arr []any, props map[string]any) (any, error) {
	if len(arr) < 5 || (len(arr)-3)%2 != 0 {
		return nil, fmt.Errorf("interpolate: malformed stops")
	}
	in, err := Evaluate(arr[2], props)
	if err != nil {
		return nil, err
	}
	x, ok := ToFloat(in)
	if !ok {
		return nil, fmt.Errorf("interpolate: non-numeric input %v", in)
	}

	var ins, outs []float64
	for i := 3; i+1 < len(arr); i += 2 {
		a, _ := ToFloat(arr[i])
		b, _ := ToFloat(arr[i+1])
		ins = append(ins, a)
		outs = append(outs, b)
	}
	if x <= ins[0] {
		return outs[0], nil
	}
	last := len(ins) - 1
	if x >= ins[last] {
		return outs[last], nil
	}
	for i := 1; i <= last; i++ {
		if x <= ins[i] {
			t := (x - ins[i-1]) / (ins[i] - ins[i-1])
			return outs[i-1] + t*(outs[i]-outs[i-1]), nil
		}
	}
	return outs[last], nil
}

func evalStep(arr []any, props map[string]any) (any, error) {
	if len(arr) < 3 {
		return nil, fmt.Errorf("step: malformed")
	}
	in, err := Evaluate(arr[1], props)
	if err != nil {
		return nil, err
	}
	x, _ := ToFloat(in)
	out := arr[2]
	for i := 3; i+1 < len(arr); i += 2 {
		th, _ := ToFloat(arr[i])
		if x >= th {
			out = arr[i+1]
		}
	}
	return out, nil
}

func compare(op string, a, b any) bool {
	af, aok := ToFloat(a)
	bf, bok := ToFloat(b)
	if aok && bok {
		switch op {
		case "==":
			return af == bf
		case ">":
			return af > bf
		case ">=":
			return af >= bf
		case "<":
			return af < bf
		case "<=":
			return af <= bf
		}
	}
	if op == "==" {
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
	return false
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	default:
		f, ok := ToFloat(v)
		return !ok || (f != 0 && !math.IsNaN(f))
	}
}

// ToFloat converts JSON-ish numeric values, including numeric strings.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint32:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}
