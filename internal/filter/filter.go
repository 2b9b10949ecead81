// Package filter builds typed filter expressions for the content API and
// serializes them to its nested JSON comparison tree.
//
//	filter.AllOf(
//		filter.Gte("prima_attestazione_anno", 1500),
//		filter.Lte("prima_attestazione_anno", 1600),
//	)
//
// encodes to
//
//	{"_and":[{"prima_attestazione_anno":{"_gte":1500}},{"prima_attestazione_anno":{"_lte":1600}}]}
package filter

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/movatlas/movements/internal/util"
)

var (
	ErrEmptyField      = errors.New("filter: empty field")
	ErrUnknownOperator = errors.New("filter: unknown operator")
	ErrInvalidValue    = errors.New("filter: invalid value")
	ErrEmptyGroup      = errors.New("filter: empty logical group")
)

// Op is a comparison operator.
type Op string

const (
	OpEq        Op = "_eq"
	OpNeq       Op = "_neq"
	OpLt        Op = "_lt"
	OpLte       Op = "_lte"
	OpGt        Op = "_gt"
	OpGte       Op = "_gte"
	OpIn        Op = "_in"
	OpNin       Op = "_nin"
	OpContains  Op = "_contains"
	OpIContains Op = "_icontains"
	OpNull      Op = "_null"
	OpNNull     Op = "_nnull"
	OpBetween   Op = "_between"
)

// Expr is a node of a filter tree: a comparison or a logical group.
type Expr interface {
	Validate() error
	tree() any
}

// Cmp compares the value at a dotted field path.
type Cmp struct {
	Field string
	Op    Op
	Value any
}

// And matches when every child matches.
type And []Expr

// Or matches when any child matches.
type Or []Expr

// Validate checks the operator is known and the value has the arity the
// operator expects.
func (c Cmp) Validate() error {
	if len(util.SplitPath(c.Field)) == 0 {
		return ErrEmptyField
	}
	switch c.Op {
	case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte:
		if c.Value == nil || isList(c.Value) {
			return fmt.Errorf("%w: %s on %s needs a scalar", ErrInvalidValue, c.Op, c.Field)
		}
	case OpContains, OpIContains:
		if s, ok := c.Value.(string); !ok || s == "" {
			return fmt.Errorf("%w: %s on %s needs a non-empty string", ErrInvalidValue, c.Op, c.Field)
		}
	case OpIn, OpNin:
		if n := listLen(c.Value); n <= 0 {
			return fmt.Errorf("%w: %s on %s needs a non-empty list", ErrInvalidValue, c.Op, c.Field)
		}
	case OpBetween:
		if listLen(c.Value) != 2 {
			return fmt.Errorf("%w: %s on %s needs exactly two bounds", ErrInvalidValue, c.Op, c.Field)
		}
	case OpNull, OpNNull:
		if _, ok := c.Value.(bool); !ok {
			return fmt.Errorf("%w: %s on %s needs a bool", ErrInvalidValue, c.Op, c.Field)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperator, c.Op)
	}
	return nil
}

func (c Cmp) tree() any {
	return util.Nest(c.Field, map[string]any{string(c.Op): c.Value})
}

// Validate checks the group and all its children.
func (a And) Validate() error { return validateGroup("_and", a) }

func (a And) tree() any { return map[string]any{"_and": children(a)} }

// Validate checks the group and all its children.
func (o Or) Validate() error { return validateGroup("_or", o) }

func (o Or) tree() any { return map[string]any{"_or": children(o)} }

func validateGroup(name string, exprs []Expr) error {
	if len(exprs) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyGroup, name)
	}
	for i, e := range exprs {
		if e == nil {
			return fmt.Errorf("%w: %s[%d] is nil", ErrEmptyGroup, name, i)
		}
		if err := e.Validate(); err != nil {
			return fmt.Errorf("%s[%d]: %w", name, i, err)
		}
	}
	return nil
}

func children(exprs []Expr) []any {
	out := make([]any, len(exprs))
	for i, e := range exprs {
		out[i] = e.tree()
	}
	return out
}

func isList(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func listLen(v any) int {
	if !isList(v) {
		return -1
	}
	return reflect.ValueOf(v).Len()
}

// Filter is a validated expression ready to be sent.
type Filter struct {
	root Expr
}

// Build validates e and wraps it.
func Build(e Expr) (*Filter, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil expression", ErrEmptyGroup)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &Filter{root: e}, nil
}

// Expr returns the validated root expression.
func (f *Filter) Expr() Expr {
	return f.root
}

// MarshalJSON encodes the nested comparison tree.
func (f *Filter) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.root.tree())
}

// String is the JSON encoding, as sent in the filter query parameter.
func (f *Filter) String() string {
	data, err := f.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(data)
}
