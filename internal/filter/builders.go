package filter

func Eq(field string, v any) Cmp  { return Cmp{Field: field, Op: OpEq, Value: v} }
func Neq(field string, v any) Cmp { return Cmp{Field: field, Op: OpNeq, Value: v} }
func Lt(field string, v any) Cmp  { return Cmp{Field: field, Op: OpLt, Value: v} }
func Lte(field string, v any) Cmp { return Cmp{Field: field, Op: OpLte, Value: v} }
func Gt(field string, v any) Cmp  { return Cmp{Field: field, Op: OpGt, Value: v} }
func Gte(field string, v any) Cmp { return Cmp{Field: field, Op: OpGte, Value: v} }

func In(field string, vs ...any) Cmp    { return Cmp{Field: field, Op: OpIn, Value: vs} }
func NotIn(field string, vs ...any) Cmp { return Cmp{Field: field, Op: OpNin, Value: vs} }

func Contains(field, s string) Cmp  { return Cmp{Field: field, Op: OpContains, Value: s} }
func IContains(field, s string) Cmp { return Cmp{Field: field, Op: OpIContains, Value: s} }

func IsNull(field string) Cmp  { return Cmp{Field: field, Op: OpNull, Value: true} }
func NotNull(field string) Cmp { return Cmp{Field: field, Op: OpNNull, Value: true} }

// Between matches lo <= field <= hi.
func Between(field string, lo, hi any) Cmp {
	return Cmp{Field: field, Op: OpBetween, Value: []any{lo, hi}}
}

// AllOf is And with a variadic signature.
func AllOf(exprs ...Expr) And { return And(exprs) }

// AnyOf is Or with a variadic signature.
func AnyOf(exprs ...Expr) Or { return Or(exprs) }

// ExpandVirtual rewrites comparisons on virtual fields into an Or over the
// real paths they alias. A search on "luogo" that aliases
// "f_luoghi_id.nome_localita" and "f_luoghi_id.nome_alternativo" matches
// either column. Unknown fields are left untouched.
func ExpandVirtual(e Expr, virtual map[string][]string) Expr {
	switch n := e.(type) {
	case Cmp:
		paths, ok := virtual[n.Field]
		if !ok || len(paths) == 0 {
			return n
		}
		if len(paths) == 1 {
			n.Field = paths[0]
			return n
		}
		out := make(Or, len(paths))
		for i, p := range paths {
			out[i] = Cmp{Field: p, Op: n.Op, Value: n.Value}
		}
		return out
	case And:
		out := make(And, len(n))
		for i, c := range n {
			out[i] = ExpandVirtual(c, virtual)
		}
		return out
	case Or:
		out := make(Or, len(n))
		for i, c := range n {
			out[i] = ExpandVirtual(c, virtual)
		}
		return out
	}
	return e
}
