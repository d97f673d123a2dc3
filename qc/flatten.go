// Copyright 2019 sift.run. All rights reserved.
// Use of this source code is governed by an AGPL license that can be found in the LICENSE file.
package qc

import (
	"github.com/siftdb/sift/qc/err"
	"github.com/siftdb/sift/qc/sch"
	"github.com/siftdb/sift/qc/xpr"
)

// The flattener (unpacker) eliminates nested value-returning
// expressions: after it runs, every term's operands are atoms, and
// intermediate results flow through explicit :return bindings on
// hoisted terms. It always yields exactly one inline result plus zero
// or more extracted terms that must precede it.

type flattener struct {
	r   sch.Resolver
	gen *genctx
}

// returnable reports whether x is a call to an operator whose schema
// marks :return as optional, i.e. a value-returning expression.
func (fl *flattener) returnable(x xpr.Expr) (xpr.Form, bool) {
	f, ok := x.(xpr.Form)
	if !ok {
		return xpr.Form{}, false
	}
	op, ok := f.Operator()
	if !ok {
		return xpr.Form{}, false
	}
	schema := sch.Lookup(fl.r, string(op))
	if schema == nil || !schema.Returnable() {
		return xpr.Form{}, false
	}
	return f, true
}

// declaredReturn returns the :return binding of a form when it names
// a variable.
func declaredReturn(f xpr.Form) (xpr.Symbol, bool) {
	v, ok := f.Keyword("return")
	if !ok {
		return "", false
	}
	s, ok := v.(xpr.Symbol)
	return s, ok
}

// hoist extracts a value-returning form into its own term and returns
// the variable its result is bound to, reusing a declared :return
// binding when present.
func (fl *flattener) hoist(f xpr.Form) (xpr.Symbol, []xpr.Expr, err.Error) {
	inline, terms, e := fl.flatten(f)
	if e != nil {
		return "", nil, e
	}
	hf := inline.(xpr.Form)
	v, ok := declaredReturn(hf)
	if !ok {
		v = fl.gen.gensym("ret")
		hf.SetKeyword("return", v)
	}
	return v, append(terms, hf), nil
}

// structuralOps are the core forms whose sub-forms flatten in place:
// the form itself never escapes as an extracted term.
func structural(op xpr.Op) bool {
	switch op {
	case xpr.OpQuery, xpr.OpDefine, xpr.OpNot, xpr.OpContext, xpr.OpChoose, xpr.OpUnion:
		return true
	}
	return false
}

// flatten returns x's single inline result and the extracted terms
// that must be evaluated before it, in order.
func (fl *flattener) flatten(x xpr.Expr) (xpr.Expr, []xpr.Expr, err.Error) {

	if xpr.Atom(x) {
		return x, nil, nil
	}

	if v, ok := x.(xpr.Vec); ok {
		out := make(xpr.Vec, 0, len(v))
		var terms []xpr.Expr
		for _, item := range v {
			if sub, ok := fl.returnable(item); ok {
				rv, hoisted, e := fl.hoist(sub)
				if e != nil {
					return nil, nil, e
				}
				terms = append(terms, hoisted...)
				out = append(out, rv)
				continue
			}
			inline, sub, e := fl.flatten(item)
			if e != nil {
				return nil, nil, e
			}
			terms = append(terms, sub...)
			out = append(out, inline)
		}
		return out, terms, nil
	}

	f := x.(xpr.Form)
	op, ok := f.Operator()
	if !ok {
		return nil, nil, err.SyntaxError{
			Problem: "expected an operator symbol",
			Expr_:   f,
		}
	}

	switch o := xpr.OperatorOf(op); {

	case structural(o):
		return fl.flattenStructural(f, o)

	case o == xpr.OpEqual:
		return fl.flattenEquality(f)

	default:
		// generic term: hoist returnable arguments, recurse into
		// the rest
		items := make([]xpr.Expr, len(f.Items))
		copy(items, f.Items)
		var terms []xpr.Expr
		for i := 1; i < len(items); i++ {
			if _, ok := items[i].(xpr.Keyword); ok {
				continue
			}
			if sub, ok := fl.returnable(items[i]); ok {
				v, hoisted, e := fl.hoist(sub)
				if e != nil {
					return nil, nil, e
				}
				terms = append(terms, hoisted...)
				items[i] = v
				continue
			}
			inline, sub, e := fl.flatten(items[i])
			if e != nil {
				return nil, nil, e
			}
			terms = append(terms, sub...)
			items[i] = inline
		}
		return xpr.Form{Items: items, Span: f.Span}, terms, nil
	}
}

// flattenStructural rebuilds a core form, splicing each sub-form's
// extracted terms immediately before its own inline result inside the
// body, preserving evaluation order.
func (fl *flattener) flattenStructural(f xpr.Form, op xpr.Op) (xpr.Expr, []xpr.Expr, err.Error) {

	// the head of the form (operator, parameter vectors, aliases,
	// context keyword pairs) is carried over verbatim
	head := 1
	switch op {
	case xpr.OpQuery, xpr.OpUnion, xpr.OpChoose:
		head = 2 // operator + parameter vector
	case xpr.OpDefine:
		for head+1 < len(f.Items) {
			if _, ok := f.Items[head].(xpr.Symbol); !ok {
				break
			}
			if _, ok := f.Items[head+1].(xpr.Vec); !ok {
				break
			}
			head += 2
		}
	case xpr.OpContext:
		for head+1 < len(f.Items) {
			if _, ok := f.Items[head].(xpr.Keyword); !ok {
				break
			}
			head += 2
		}
	}
	if head > len(f.Items) {
		head = len(f.Items)
	}

	items := make([]xpr.Expr, 0, len(f.Items))
	items = append(items, f.Items[:head]...)

	for _, sub := range f.Items[head:] {
		inline, terms, e := fl.flatten(sub)
		if e != nil {
			return nil, nil, e
		}
		items = append(items, terms...)
		items = append(items, inline)
	}

	return xpr.Form{Items: items, Span: f.Span}, nil, nil
}

// flattenEquality resolves = as either a runtime filter or a
// compile-time unification folded into a return slot.
func (fl *flattener) flattenEquality(f xpr.Form) (xpr.Expr, []xpr.Expr, err.Error) {

	a, aok := f.Keyword("a")
	b, bok := f.Keyword("b")
	if !aok || !bok {
		return nil, nil, err.SyntaxError{
			Problem: "= requires two operands",
			Expr_:   f,
		}
	}

	aForm, aRet := fl.returnable(a)
	bForm, bRet := fl.returnable(b)

	switch {

	case aRet && bRet:
		va, aTerms, e := fl.hoist(aForm)
		if e != nil {
			return nil, nil, e
		}
		inline, bTerms, e := fl.flatten(bForm)
		if e != nil {
			return nil, nil, e
		}
		hb := inline.(xpr.Form)
		terms := append(aTerms, bTerms...)
		if vb, ok := declaredReturn(hb); ok {
			// both sides resolved independently: the tie between
			// the two variables is the residual
			terms = append(terms, hb,
				xpr.NewForm("=", xpr.Keyword("a"), va, xpr.Keyword("b"), vb).At(f.Span))
			return va, terms, nil
		}
		hb.SetKeyword("return", va)
		return va, append(terms, hb), nil

	case aRet || bRet:
		side, other := aForm, b
		if bRet {
			side, other = bForm, a
		}
		inline, terms, e := fl.flatten(side)
		if e != nil {
			return nil, nil, e
		}
		hf := inline.(xpr.Form)
		if rv, ok := declaredReturn(hf); ok && !rv.Equals(other) {
			// a declared return keeps its binding; tie it to the
			// other operand
			terms = append(terms, hf,
				xpr.NewForm("=", xpr.Keyword("a"), rv, xpr.Keyword("b"), other).At(f.Span))
			return other, terms, nil
		}
		// unification folds into the return slot, no filter term
		hf.SetKeyword("return", other)
		return other, append(terms, hf), nil

	default:
		ia, aTerms, e := fl.flatten(a)
		if e != nil {
			return nil, nil, e
		}
		ib, bTerms, e := fl.flatten(b)
		if e != nil {
			return nil, nil, e
		}
		out := xpr.NewForm("=", xpr.Keyword("a"), ia, xpr.Keyword("b"), ib).At(f.Span)
		return out, append(aTerms, bTerms...), nil
	}
}
