// Package filter compiles and evaluates the CEL expressions attached to
// dispatch targets and status queries. Expressions see a single `body`
// variable holding the webhook payload.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

var ErrInvalidFilter = errors.New("invalid filter expression")

var env *cel.Env

func init() {
	var err error
	env, err = cel.NewEnv(
		cel.Variable("body", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		panic(fmt.Sprintf("filter: creating CEL environment: %v", err))
	}
}

// Expression is an immutable compiled filter. The zero-cost MatchAll
// expression has a nil program and matches every payload.
type Expression struct {
	source  string
	program cel.Program
}

// MatchAll matches every payload unconditionally.
var MatchAll = &Expression{}

// Compile parses a filter expression. An empty source compiles to MatchAll;
// any other source that does not parse fails with ErrInvalidFilter, so a bad
// expression surfaces at configuration load and never mid-dispatch.
func Compile(source string) (*Expression, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return MatchAll, nil
	}

	ast, issues := env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFilter, issues.Err())
	}
	switch ast.OutputType() {
	case cel.BoolType, cel.DynType:
	default:
		return nil, fmt.Errorf("%w: expression must yield a boolean, got %s", ErrInvalidFilter, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}

	return &Expression{source: source, program: program}, nil
}

// Eval evaluates the expression against a payload. Evaluation is pure and
// total: an absent path or a non-boolean result evaluates to false rather
// than raising.
func (e *Expression) Eval(body map[string]interface{}) bool {
	if e == nil || e.program == nil {
		return true
	}
	if body == nil {
		body = map[string]interface{}{}
	}

	result, _, err := e.program.Eval(map[string]interface{}{"body": body})
	if err != nil {
		return false
	}

	matched, ok := result.Value().(bool)
	return ok && matched
}

// IsMatchAll reports whether the expression matches unconditionally.
func (e *Expression) IsMatchAll() bool {
	return e == nil || e.program == nil
}

// Source returns the original expression text, empty for MatchAll.
func (e *Expression) Source() string {
	if e == nil {
		return ""
	}
	return e.source
}
