package calc

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/MinBZK/par-dpia-form/internal/answer"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// Lookup resolves the answer of the first instance of a task.
type Lookup interface {
	Answer(taskID string) answer.Value
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(taskID string) answer.Value

// Answer implements Lookup.
func (f LookupFunc) Answer(taskID string) answer.Value { return f(taskID) }

// CELEvaluator evaluates expressions as CEL with the form helper functions
// answers, truthy, count, weightedCountMap and countSelectedOptions.
// Compiled programs are cached per expression and variable set.
type CELEvaluator struct {
	base   *cel.Env
	lookup Lookup

	mu       sync.RWMutex
	envs     map[string]*cel.Env
	prgCache map[string]cel.Program
}

// NewCELEvaluator creates an evaluator whose answers() reads from lookup.
func NewCELEvaluator(lookup Lookup) (*CELEvaluator, error) {
	e := &CELEvaluator{
		lookup:   lookup,
		envs:     make(map[string]*cel.Env),
		prgCache: make(map[string]cel.Program),
	}
	env, err := cel.NewEnv(
		cel.CrossTypeNumericComparisons(true),
		cel.Function("answers",
			cel.Overload("answers_string", []*cel.Type{cel.StringType}, cel.DynType,
				cel.UnaryBinding(e.answers))),
		cel.Function("truthy",
			cel.Overload("truthy_dyn", []*cel.Type{cel.DynType}, cel.BoolType,
				cel.UnaryBinding(func(v ref.Val) ref.Val { return types.Bool(isTrue(toNative(v))) }))),
		cel.Function("count",
			cel.Overload("count_dyn", []*cel.Type{cel.DynType}, cel.IntType,
				cel.UnaryBinding(count))),
		cel.Function("weightedCountMap",
			cel.Overload("weighted_count_map_dyn_dyn_dyn", []*cel.Type{cel.DynType, cel.DynType, cel.DynType}, cel.DoubleType,
				cel.FunctionBinding(weightedCountMap))),
		cel.Function("countSelectedOptions",
			cel.Overload("count_selected_options_string", []*cel.Type{cel.StringType}, cel.IntType,
				cel.UnaryBinding(func(v ref.Val) ref.Val { return count(e.answers(v)) }))),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	e.base = env
	return e, nil
}

// Evaluate compiles (or reuses) expr and evaluates it against vars. Every key
// of vars is declared as a dynamic variable. Run-time failures wrap
// ErrUnresolved; compile failures do not.
func (e *CELEvaluator) Evaluate(expr string, vars map[string]any) (any, error) {
	prg, err := e.program(expr, vars)
	if err != nil {
		return nil, err
	}
	if vars == nil {
		vars = map[string]any{}
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w: %w", expr, ErrUnresolved, err)
	}
	return toNative(out), nil
}

func (e *CELEvaluator) program(expr string, vars map[string]any) (cel.Program, error) {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	envKey := strings.Join(names, ",")
	cacheKey := envKey + "\x00" + expr

	e.mu.RLock()
	prg, hit := e.prgCache[cacheKey]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.prgCache[cacheKey]; hit {
		return prg, nil
	}
	env, ok := e.envs[envKey]
	if !ok {
		opts := make([]cel.EnvOption, 0, len(names))
		for _, name := range names {
			opts = append(opts, cel.Variable(name, cel.DynType))
		}
		var err error
		env, err = e.base.Extend(opts...)
		if err != nil {
			return nil, fmt.Errorf("declare variables: %w", err)
		}
		e.envs[envKey] = env
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	e.prgCache[cacheKey] = prg
	return prg, nil
}

func (e *CELEvaluator) answers(arg ref.Val) ref.Val {
	taskID, ok := arg.(types.String)
	if !ok {
		return types.NewErr("answers: task id must be a string")
	}
	if e.lookup == nil {
		return types.NullValue
	}
	switch v := e.lookup.Answer(string(taskID)).Native().(type) {
	case string:
		return types.String(v)
	case []string:
		return types.NewStringList(types.DefaultTypeAdapter, v)
	default:
		return types.NullValue
	}
}

func count(v ref.Val) ref.Val {
	if l, ok := v.(traits.Lister); ok {
		return l.Size()
	}
	return types.Int(0)
}

func weightedCountMap(args ...ref.Val) ref.Val {
	if len(args) != 3 {
		return types.NewErr("weightedCountMap: want 3 arguments, got %d", len(args))
	}
	values, ok := args[0].(traits.Lister)
	if !ok {
		return types.Double(0)
	}
	keys, kok := toNative(args[1]).([]any)
	weights, wok := toNative(args[2]).([]any)
	if !kok || !wok {
		return types.NewErr("weightedCountMap: keys and weights must be lists")
	}

	weight := make(map[string]float64, len(keys))
	for i, k := range keys {
		key, ok := k.(string)
		if !ok {
			continue
		}
		if i < len(weights) {
			if w, ok := toFloat(weights[i]); ok {
				weight[key] = w
			}
		}
	}

	var total float64
	it := values.Iterator()
	for it.HasNext() == types.True {
		if s, ok := it.Next().(types.String); ok {
			total += weight[string(s)]
		}
	}
	return types.Double(total)
}

// toNative converts CEL values to plain Go values: bool, float64, string,
// nil, []any and map[string]any.
func toNative(v ref.Val) any {
	switch t := v.(type) {
	case types.Bool:
		return bool(t)
	case types.Int:
		return float64(t)
	case types.Uint:
		return float64(t)
	case types.Double:
		return float64(t)
	case types.String:
		return string(t)
	case types.Null:
		return nil
	case traits.Lister:
		out := []any{}
		it := t.Iterator()
		for it.HasNext() == types.True {
			out = append(out, toNative(it.Next()))
		}
		return out
	case traits.Mapper:
		out := map[string]any{}
		it := t.Iterator()
		for it.HasNext() == types.True {
			k := it.Next()
			out[fmt.Sprint(toNative(k))] = toNative(t.Get(k))
		}
		return out
	default:
		return v.Value()
	}
}

func toFloat(x any) (float64, bool) {
	switch n := x.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// isTrue is the truthy() helper: only true and "true" count.
func isTrue(x any) bool {
	return x == true || x == "true"
}

// Truthy applies the form's truthiness rules: false, nil, 0, "" and "false"
// are false.
func Truthy(x any) bool {
	switch v := x.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	case string:
		return v != "" && v != "false"
	default:
		return true
	}
}
