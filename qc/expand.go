// Copyright 2019 sift.run. All rights reserved.
// Use of this source code is governed by an AGPL license that can be found in the LICENSE file.
package qc

import (
	"fmt"

	"github.com/siftdb/sift/definitions"
	"github.com/siftdb/sift/qc/err"
	"github.com/siftdb/sift/qc/sch"
	"github.com/siftdb/sift/qc/xpr"
)

// Expand rewrites a raw expression tree into the core calculus,
// expanding all syntactic sugar. The resolver supplies signatures of
// user-defined rules and may be nil.
func Expand(r sch.Resolver, x xpr.Expr) (xpr.Expr, err.Error) {
	ex := &expander{r: r, gen: &genctx{}}
	return ex.expandOne(x)
}

type expander struct {
	r   sch.Resolver
	gen *genctx
}

// expandOne expands an expression that must rewrite to exactly one
// form.
func (ex *expander) expandOne(x xpr.Expr) (xpr.Expr, err.Error) {
	out, e := ex.expand(x)
	if e != nil {
		return nil, e
	}
	if len(out) != 1 {
		return nil, err.SyntaxError{
			Problem: fmt.Sprintf("expected a single expression, expansion produced %d", len(out)),
			Expr_:   x,
		}
	}
	return out[0], nil
}

// expand rewrites one expression, possibly into several spliced forms
// (fact sugar over multiple attribute pairs, retraction pairs).
func (ex *expander) expand(x xpr.Expr) ([]xpr.Expr, err.Error) {

	if xpr.Atom(x) {
		return []xpr.Expr{x}, nil
	}

	if v, ok := x.(xpr.Vec); ok {
		out := make(xpr.Vec, 0, len(v))
		for _, item := range v {
			sub, e := ex.expand(item)
			if e != nil {
				return nil, e
			}
			out = append(out, sub...)
		}
		return []xpr.Expr{out}, nil
	}

	f := x.(xpr.Form)
	op, ok := f.Operator()
	if !ok {
		return nil, err.SyntaxError{
			Problem: "expected an operator symbol",
			Expr_:   f,
		}
	}

	switch xpr.OperatorOf(op) {

	case xpr.OpQuery:
		q, e := ex.expandQuery(f)
		if e != nil {
			return nil, e
		}
		return []xpr.Expr{q}, nil

	case xpr.OpDefine:
		d, e := ex.expandDefine(f)
		if e != nil {
			return nil, e
		}
		return []xpr.Expr{d}, nil

	case xpr.OpUnion, xpr.OpChoose:
		u, e := ex.expandUnionChoose(f, string(op))
		if e != nil {
			return nil, e
		}
		return []xpr.Expr{u}, nil

	case xpr.OpNot:
		body, e := ex.expandBody(f.Args())
		if e != nil {
			return nil, e
		}
		out := xpr.Form{Items: append([]xpr.Expr{xpr.Symbol("not")}, body...), Span: f.Span}
		return []xpr.Expr{out}, nil

	case xpr.OpContext:
		return ex.expandContext(f)

	case xpr.OpFact, xpr.OpInsertFact, xpr.OpRemoveFact, xpr.OpRemoveByT, xpr.OpIf, xpr.OpDefineUI:
		steps, e := ex.sugar(f)
		if e != nil {
			return nil, e
		}
		out := make([]xpr.Expr, 0, len(steps))
		for _, step := range steps {
			sub, e := ex.expand(step)
			if e != nil {
				return nil, e
			}
			out = append(out, sub...)
		}
		return out, nil
	}

	// schema-directed call, including recursive rule calls
	schema := sch.Lookup(ex.r, string(op))
	if schema == nil {
		return nil, err.SemanticError{
			Problem: fmt.Sprintf("unknown operator: %s", op),
			Expr_:   f,
		}
	}
	out, e := ex.expandCall(schema, f)
	if e != nil {
		return nil, e
	}
	return []xpr.Expr{out}, nil
}

// expandBody expands a list of sub-forms, splicing multi-form
// expansions.
func (ex *expander) expandBody(items []xpr.Expr) ([]xpr.Expr, err.Error) {
	out := make([]xpr.Expr, 0, len(items))
	for _, item := range items {
		sub, e := ex.expand(item)
		if e != nil {
			return nil, e
		}
		out = append(out, sub...)
	}
	return out, nil
}

// params validates and returns a parameter vector's variable names.
func (ex *expander) params(v xpr.Vec, enclosing xpr.Expr) (xpr.Vec, err.Error) {
	for _, p := range v {
		if _, ok := p.(xpr.Symbol); !ok {
			return nil, err.SyntaxError{
				Problem: fmt.Sprintf("invalid variable name: %s", p),
				Expr_:   enclosing,
			}
		}
	}
	return v, nil
}

func (ex *expander) expandQuery(f xpr.Form) (xpr.Expr, err.Error) {
	args := f.Args()
	params := xpr.Vec{}
	body := args
	if len(args) > 0 {
		if v, ok := args[0].(xpr.Vec); ok {
			var e err.Error
			if params, e = ex.params(v, f); e != nil {
				return nil, e
			}
			body = args[1:]
		}
	}
	expanded, e := ex.expandBody(body)
	if e != nil {
		return nil, e
	}
	items := append([]xpr.Expr{xpr.Symbol("query"), params}, expanded...)
	return xpr.Form{Items: items, Span: f.Span}, nil
}

func (ex *expander) expandDefine(f xpr.Form) (xpr.Expr, err.Error) {
	args := f.Args()
	items := []xpr.Expr{xpr.Symbol("define!")}

	i := 0
	aliases := 0
	for i+1 < len(args) {
		name, ok := args[i].(xpr.Symbol)
		if !ok {
			break
		}
		exports, ok := args[i+1].(xpr.Vec)
		if !ok {
			if aliases == 0 {
				return nil, err.SyntaxError{
					Problem: "define! alias must be followed by a vector of exported variables",
					Expr_:   f,
				}
			}
			break
		}
		if _, e := ex.params(exports, f); e != nil {
			return nil, e
		}
		items = append(items, name, exports)
		aliases++
		i += 2
	}
	if aliases == 0 {
		return nil, err.SyntaxError{
			Problem: "define! requires at least one alias",
			Expr_:   f,
		}
	}

	body, e := ex.expandBody(args[i:])
	if e != nil {
		return nil, e
	}
	items = append(items, body...)
	return xpr.Form{Items: items, Span: f.Span}, nil
}

func (ex *expander) expandUnionChoose(f xpr.Form, name string) (xpr.Expr, err.Error) {
	args := f.Args()
	if len(args) == 0 {
		return nil, err.SyntaxError{
			Problem: name + " requires a parameter vector",
			Expr_:   f,
		}
	}
	v, ok := args[0].(xpr.Vec)
	if !ok {
		return nil, err.SyntaxError{
			Problem: name + " requires a parameter vector",
			Expr_:   f,
		}
	}
	params, e := ex.params(v, f)
	if e != nil {
		return nil, e
	}
	arms, e := ex.expandBody(args[1:])
	if e != nil {
		return nil, e
	}
	for _, arm := range arms {
		if _, ok := xpr.FormOf(arm, "query"); !ok {
			return nil, err.SemanticError{
				Problem: name + " arm must be a query",
				Expr_:   arm,
			}
		}
	}
	items := append([]xpr.Expr{xpr.Symbol(name), params}, arms...)
	return xpr.Form{Items: items, Span: f.Span}, nil
}

func (ex *expander) expandContext(f xpr.Form) ([]xpr.Expr, err.Error) {
	schema := sch.Lookup(nil, "context")
	bound, e := sch.Bind(schema, f)
	if e != nil {
		return nil, e
	}
	if e := sch.Validate(bound); e != nil {
		return nil, e
	}
	items := []xpr.Expr{xpr.Symbol("context")}
	for _, kw := range []string{"bag", "tick"} {
		if v, ok := bound.Args[kw]; ok {
			vx, e := ex.expandOne(v)
			if e != nil {
				return nil, e
			}
			items = append(items, xpr.Keyword(kw), vx)
		}
	}
	body, e := ex.expandBody(bound.Body)
	if e != nil {
		return nil, e
	}
	items = append(items, body...)
	return []xpr.Expr{xpr.Form{Items: items, Span: f.Span}}, nil
}

// expandCall re-emits a schema-directed call in canonical keyword
// form: declared positional names first, then keyword names, then
// rest, each value expanded.
func (ex *expander) expandCall(schema *sch.Schema, f xpr.Form) (xpr.Expr, err.Error) {
	bound, e := sch.Bind(schema, f)
	if e != nil {
		return nil, e
	}
	if e := sch.Validate(bound); e != nil {
		return nil, e
	}

	order := make([]string, 0, len(schema.Args)+len(schema.Keywords)+1)
	order = append(order, schema.Args...)
	order = append(order, schema.Keywords...)
	if schema.Rest != "" {
		order = append(order, schema.Rest)
	}

	items := []xpr.Expr{xpr.Symbol(schema.Name)}
	for _, name := range order {
		v, ok := bound.Args[name]
		if !ok {
			continue
		}
		vx, e := ex.expandOne(v)
		if e != nil {
			return nil, e
		}
		items = append(items, xpr.Keyword(name), vx)
	}
	return xpr.Form{Items: items, Span: f.Span}, nil
}

// triple is one parsed entity/attribute/value group of the fact
// sugar.
type triple struct {
	entity    xpr.Expr
	attribute xpr.Expr
	value     xpr.Expr
}

// parseTriples parses the (fact entity :attr value ...) grammar.
// Attributes are keywords or string literals. A keyword attribute
// immediately followed by another keyword (or by nothing) binds an
// implicit variable of its own name; inserts and removals refuse the
// implicit form since they require alternating attribute/value pairs.
func (ex *expander) parseTriples(f xpr.Form, allowImplicit bool) ([]triple, err.Error) {
	args := f.Args()
	if len(args) == 0 {
		return nil, err.SyntaxError{
			Problem: "fact requires an entity",
			Expr_:   f,
		}
	}
	entity := args[0]
	out := []triple{}

	for i := 1; i < len(args); {
		var attr xpr.Expr
		var name string
		switch a := args[i].(type) {
		case xpr.Keyword:
			attr, name = xpr.String(a), string(a)
		case xpr.String:
			attr, name = a, string(a)
		default:
			return nil, err.SyntaxError{
				Problem: fmt.Sprintf("expected a keyword attribute, got %s", args[i]),
				Expr_:   f,
			}
		}
		i++

		implicit := i >= len(args)
		if !implicit {
			if _, ok := args[i].(xpr.Keyword); ok {
				implicit = true
			}
		}

		if implicit {
			if !allowImplicit {
				op, _ := f.Operator()
				return nil, err.ArgumentError{
					Problem:  "missing required argument",
					Argument: name,
					Operator: string(op),
					Expr_:    f,
				}
			}
			out = append(out, triple{entity, attr, xpr.Symbol(name)})
			continue
		}

		out = append(out, triple{entity, attr, args[i]})
		i++
	}

	if len(out) == 0 {
		return nil, err.SyntaxError{
			Problem: "fact requires at least one attribute",
			Expr_:   f,
		}
	}
	return out, nil
}

// sugar performs a single rewrite step of the sugared forms. The
// results may need further expansion (macroexpand-1 discipline).
func (ex *expander) sugar(f xpr.Form) ([]xpr.Expr, err.Error) {

	op, _ := f.Operator()

	switch xpr.OperatorOf(op) {

	case xpr.OpFact:
		triples, e := ex.parseTriples(f, true)
		if e != nil {
			return nil, e
		}
		out := make([]xpr.Expr, 0, len(triples))
		for _, t := range triples {
			out = append(out, xpr.NewForm("fact-btu",
				xpr.Keyword("entity"), t.entity,
				xpr.Keyword("attribute"), t.attribute,
				xpr.Keyword("value"), t.value,
			).At(f.Span))
		}
		return out, nil

	case xpr.OpInsertFact:
		triples, e := ex.parseTriples(f, false)
		if e != nil {
			return nil, e
		}
		out := make([]xpr.Expr, 0, len(triples))
		for _, t := range triples {
			out = append(out, xpr.NewForm("insert-fact-btu!",
				xpr.Keyword("entity"), t.entity,
				xpr.Keyword("attribute"), t.attribute,
				xpr.Keyword("value"), t.value,
			).At(f.Span))
		}
		return out, nil

	case xpr.OpRemoveFact:
		triples, e := ex.parseTriples(f, false)
		if e != nil {
			return nil, e
		}
		out := make([]xpr.Expr, 0, len(triples)*2)
		for _, t := range triples {
			tick := ex.gen.gensym("tick")
			out = append(out,
				xpr.NewForm("insert-fact-btu!",
					xpr.Keyword("entity"), t.entity,
					xpr.Keyword("attribute"), t.attribute,
					xpr.Keyword("value"), xpr.String(definitions.RetractionMarker),
					xpr.Keyword("tick"), tick,
				).At(f.Span),
				xpr.NewForm("remove-by-t!", tick).At(f.Span),
			)
		}
		return out, nil

	case xpr.OpRemoveByT:
		schema := sch.Lookup(nil, "remove-by-t!")
		bound, e := sch.Bind(schema, f)
		if e != nil {
			return nil, e
		}
		if e := sch.Validate(bound); e != nil {
			return nil, e
		}
		return []xpr.Expr{xpr.NewForm("insert-fact-btu!",
			xpr.Keyword("entity"), bound.Args["tick"],
			xpr.Keyword("attribute"), xpr.String(definitions.RetractionAttribute),
			xpr.Keyword("value"), xpr.String(definitions.RetractionMarker),
			xpr.Keyword("bag"), xpr.Null{},
		).At(f.Span)}, nil

	case xpr.OpIf:
		return ex.sugarIf(f)

	case xpr.OpDefineUI:
		return ex.sugarDefineUI(f)
	}

	return nil, err.SemanticError{
		Problem: fmt.Sprintf("unknown operator: %s", op),
		Expr_:   f,
	}
}

// sugarIf desugars (if cond then else) into a two-armed choose over
// the single output variable `return`.
func (ex *expander) sugarIf(f xpr.Form) ([]xpr.Expr, err.Error) {
	args := f.Args()
	if len(args) != 3 {
		return nil, err.SyntaxError{
			Problem: "if requires a condition, a then-branch and an else-branch",
			Expr_:   f,
		}
	}

	cond, e := ex.expandOne(args[0])
	if e != nil {
		return nil, e
	}

	ret := xpr.Symbol(definitions.ReturnName)
	params := xpr.Vec{ret}

	coerce := func(branch xpr.Expr, prepend xpr.Expr) (xpr.Expr, err.Error) {
		if q, ok := xpr.FormOf(branch, "query"); ok {
			qx, e := ex.expandOne(q)
			if e != nil {
				return nil, e
			}
			if prepend == nil {
				return qx, nil
			}
			qf := qx.(xpr.Form)
			items := make([]xpr.Expr, 0, len(qf.Items)+1)
			items = append(items, qf.Items[:2]...)
			items = append(items, prepend)
			items = append(items, qf.Items[2:]...)
			return xpr.Form{Items: items, Span: qf.Span}, nil
		}
		bx, e := ex.expandOne(branch)
		if e != nil {
			return nil, e
		}
		binding := xpr.NewForm("=", xpr.Keyword("a"), ret, xpr.Keyword("b"), bx)
		items := []xpr.Expr{xpr.Symbol("query"), params}
		if prepend != nil {
			items = append(items, prepend)
		}
		items = append(items, binding)
		return xpr.Form{Items: items, Span: f.Span}, nil
	}

	thenArm, e := coerce(args[1], cond)
	if e != nil {
		return nil, e
	}
	elseArm, e := coerce(args[2], nil)
	if e != nil {
		return nil, e
	}

	return []xpr.Expr{xpr.NewForm("choose", params, thenArm, elseArm).At(f.Span)}, nil
}

// sugarDefineUI splits a define-ui body into ui groups and ordinary
// query terms, producing a define! for the main projection plus one
// define! per ui group unioning the generated element facts.
func (ex *expander) sugarDefineUI(f xpr.Form) ([]xpr.Expr, err.Error) {
	args := f.Args()
	if len(args) < 2 {
		return nil, err.SyntaxError{
			Problem: "define-ui requires a name and a parameter vector",
			Expr_:   f,
		}
	}
	name, ok := args[0].(xpr.Symbol)
	if !ok {
		return nil, err.SyntaxError{
			Problem: "define-ui name must be a symbol",
			Expr_:   f,
		}
	}
	params, ok := args[1].(xpr.Vec)
	if !ok {
		return nil, err.SyntaxError{
			Problem: "define-ui requires a parameter vector",
			Expr_:   f,
		}
	}
	if _, e := ex.params(params, f); e != nil {
		return nil, e
	}

	var uis []xpr.Form
	var terms []xpr.Expr
	for _, item := range args[2:] {
		if u, ok := xpr.FormOf(item, "ui"); ok {
			uis = append(uis, u)
			continue
		}
		terms = append(terms, item)
	}

	out := []xpr.Expr{}
	mainItems := append([]xpr.Expr{xpr.Symbol("define!"), name, params}, terms...)
	out = append(out, xpr.Form{Items: mainItems, Span: f.Span})

	for n, u := range uis {
		uargs := u.Args()
		if len(uargs) == 0 {
			return nil, err.SyntaxError{
				Problem: "ui group requires an element name",
				Expr_:   f,
			}
		}
		elem, ok := uargs[0].(xpr.Symbol)
		if !ok {
			return nil, err.SyntaxError{
				Problem: "ui element name must be a symbol",
				Expr_:   u,
			}
		}

		row := ex.gen.gensym("row")
		// row id: the definition name, the element, and every
		// projected variable, concatenated
		rowID := xpr.NewForm("str",
			xpr.Keyword("return"), row,
			xpr.Keyword("args"), append(xpr.Vec{xpr.String(string(name) + "-" + string(elem))}, params...),
		).At(u.Span)
		group := []xpr.Expr{
			rowID,
			xpr.NewForm("=", xpr.Keyword("a"), elem, xpr.Keyword("b"), row),
			xpr.NewForm("insert-fact-btu!",
				xpr.Keyword("entity"), elem,
				xpr.Keyword("attribute"), xpr.String("tag"),
				xpr.Keyword("value"), xpr.String("ui"),
			).At(u.Span),
		}

		for i := 1; i < len(uargs); i += 2 {
			k, ok := uargs[i].(xpr.Keyword)
			if !ok {
				return nil, err.SyntaxError{
					Problem: "ui attributes must be keyword/value pairs",
					Expr_:   u,
				}
			}
			if i+1 >= len(uargs) {
				return nil, err.SyntaxError{
					Problem: "ui attribute is missing a value",
					Expr_:   u,
				}
			}
			group = append(group, xpr.NewForm("insert-fact-btu!",
				xpr.Keyword("entity"), elem,
				xpr.Keyword("attribute"), xpr.String(string(k)),
				xpr.Keyword("value"), uargs[i+1],
			).At(u.Span))
		}

		alias := xpr.Symbol(fmt.Sprintf("%s-ui%d", name, n))
		arm := xpr.Form{Items: append([]xpr.Expr{xpr.Symbol("query"), params}, group...), Span: u.Span}
		def := xpr.NewForm("define!", alias, params,
			xpr.NewForm("union", params, arm).At(u.Span),
		).At(u.Span)
		out = append(out, def)
	}

	return out, nil
}
