// Package selector picks leaves of a state tree with expr-lang expressions.
//
// An expression sees one leaf at a time and must evaluate to a bool:
//
//	key startsWith "encoder." && trainable
//	depth == 2 && dtype == "float32" && numel > 1000
//	segments[0] in ["0", "1"] && key endsWith ".weight"
//
// Selecting a sub-namespace this way and passing the result to Tree.Load
// gives a partial merge without touching the unselected leaves.
package selector

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/born-ml/statetree/internal/state"
	"github.com/born-ml/statetree/internal/tensor"
	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// Env is the variable set an expression is evaluated against.
type Env struct {
	Key       string   `expr:"key"`
	Segments  []string `expr:"segments"`
	Depth     int      `expr:"depth"`
	DType     string   `expr:"dtype"`
	Shape     []int    `expr:"shape"`
	Numel     int      `expr:"numel"`
	Trainable bool     `expr:"trainable"`
}

// NewEnv describes the leaf stored under key. The cell is locked only
// while its metadata is read.
func NewEnv(key string, cell state.Cell) Env {
	segments := strings.Split(key, state.Separator)
	env := Env{Key: key, Segments: segments, Depth: len(segments)}
	cell.Lock(func(v *tensor.RawTensor) {
		env.DType = v.DType().String()
		env.Shape = []int(v.Shape().Clone())
		env.Numel = v.NumElements()
		env.Trainable = v.RequiresGrad()
	})
	return env
}

// Selector is a compiled leaf predicate. It is safe for concurrent use.
type Selector struct {
	expression string
	program    *exprvm.Program
}

// Compile parses and type-checks expression.
func Compile(expression string) (*Selector, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, fmt.Errorf("selector: expression must not be empty")
	}
	program, err := exprlang.Compile(expression, exprlang.Env(Env{}), exprlang.AsBool())
	if err != nil {
		return nil, fmt.Errorf("selector: compile %q: %w", expression, err)
	}
	return &Selector{expression: expression, program: program}, nil
}

// MustCompile is Compile that panics on error.
func MustCompile(expression string) *Selector {
	s, err := Compile(expression)
	if err != nil {
		panic(err)
	}
	return s
}

// String returns the source expression.
func (s *Selector) String() string {
	return s.expression
}

// Match evaluates the selector against one environment.
func (s *Selector) Match(env Env) (bool, error) {
	out, err := exprlang.Run(s.program, env)
	if err != nil {
		return false, fmt.Errorf("selector: evaluate %q on %s: %w", s.expression, env.Key, err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("selector: %q returned %T, want bool", s.expression, out)
	}
	return ok, nil
}

// Filter returns the entries of flat the selector matches. Cells are
// shared with flat, not copied.
func (s *Selector) Filter(flat map[string]state.Cell) (map[string]state.Cell, error) {
	out := make(map[string]state.Cell)
	for _, key := range slices.Sorted(maps.Keys(flat)) {
		ok, err := s.Match(NewEnv(key, flat[key]))
		if err != nil {
			return nil, err
		}
		if ok {
			out[key] = flat[key]
		}
	}
	return out, nil
}

// Select builds a tree of the leaves of tree the selector matches.
func (s *Selector) Select(tree *state.Tree) (*state.Tree, error) {
	flat, err := s.Filter(tree.ToFlatMap())
	if err != nil {
		return nil, err
	}
	return state.FromFlatMap(flat), nil
}
