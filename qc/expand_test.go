// Copyright 2019 sift.run. All rights reserved.
// Use of this source code is governed by an AGPL license that can be found in the LICENSE file.
package qc

import (
	"testing"

	"github.com/kr/pretty"

	"github.com/siftdb/sift/qc/err"
	"github.com/siftdb/sift/qc/xpr"
)

func TestExpandFactSugar(t *testing.T) {
	x := xpr.NewForm("query", xpr.Vec{xpr.Symbol("p")},
		xpr.NewForm("fact", xpr.Symbol("p"),
			xpr.Keyword("company"), xpr.String("kodowa"),
			xpr.Keyword("name"),
		),
	)
	out, e := Expand(nil, x)
	if e != nil {
		t.Fatalf("%v", e)
	}
	expect := xpr.NewForm("query", xpr.Vec{xpr.Symbol("p")},
		xpr.NewForm("fact-btu",
			xpr.Keyword("entity"), xpr.Symbol("p"),
			xpr.Keyword("attribute"), xpr.String("company"),
			xpr.Keyword("value"), xpr.String("kodowa"),
		),
		xpr.NewForm("fact-btu",
			xpr.Keyword("entity"), xpr.Symbol("p"),
			xpr.Keyword("attribute"), xpr.String("name"),
			xpr.Keyword("value"), xpr.Symbol("name"),
		),
	)
	if !out.Equals(expect) {
		t.Fatalf("diff: %v", pretty.Diff(expect, out))
	}
}

func TestExpandInsertFactRequiresValues(t *testing.T) {
	x := xpr.NewForm("query",
		xpr.NewForm("insert-fact!", xpr.Symbol("a"),
			xpr.Keyword("b"), xpr.Symbol("c"),
			xpr.Keyword("d"), xpr.Int(2),
			xpr.Keyword("e"),
		),
	)
	_, e := Expand(nil, x)
	if e == nil {
		t.Fatal("expected an error")
	}
	ae, ok := e.(err.ArgumentError)
	if !ok || ae.Problem != "missing required argument" || ae.Argument != "e" {
		t.Fatalf("%#v", e)
	}
}

func TestExpandIf(t *testing.T) {
	x := xpr.NewForm("if",
		xpr.NewForm("<", xpr.Symbol("x"), xpr.Int(10)),
		xpr.Int(1),
		xpr.Int(2),
	)
	out, e := Expand(nil, x)
	if e != nil {
		t.Fatalf("%v", e)
	}
	ret := xpr.Symbol("return")
	params := xpr.Vec{ret}
	cond := xpr.NewForm("<", xpr.Keyword("a"), xpr.Symbol("x"), xpr.Keyword("b"), xpr.Int(10))
	expect := xpr.NewForm("choose", params,
		xpr.NewForm("query", params,
			cond,
			xpr.NewForm("=", xpr.Keyword("a"), ret, xpr.Keyword("b"), xpr.Int(1)),
		),
		xpr.NewForm("query", params,
			xpr.NewForm("=", xpr.Keyword("a"), ret, xpr.Keyword("b"), xpr.Int(2)),
		),
	)
	if !out.Equals(expect) {
		t.Fatalf("diff: %v", pretty.Diff(expect, out))
	}
}

func TestExpandRemoveFact(t *testing.T) {
	x := xpr.NewForm("query",
		xpr.NewForm("remove-fact!", xpr.Symbol("e"),
			xpr.Keyword("name"), xpr.String("v"),
		),
	)
	out, e := Expand(nil, x)
	if e != nil {
		t.Fatalf("%v", e)
	}
	tick := xpr.Symbol("tick-1")
	expect := xpr.NewForm("query", xpr.Vec{},
		xpr.NewForm("insert-fact-btu!",
			xpr.Keyword("entity"), xpr.Symbol("e"),
			xpr.Keyword("attribute"), xpr.String("name"),
			xpr.Keyword("value"), xpr.String("sift:remove"),
			xpr.Keyword("tick"), tick,
		),
		xpr.NewForm("insert-fact-btu!",
			xpr.Keyword("entity"), tick,
			xpr.Keyword("attribute"), xpr.String("sift:retracted"),
			xpr.Keyword("value"), xpr.String("sift:remove"),
			xpr.Keyword("bag"), xpr.Null{},
		),
	)
	if !out.Equals(expect) {
		t.Fatalf("diff: %v", pretty.Diff(expect, out))
	}
}

func TestExpandUnknownOperator(t *testing.T) {
	x := xpr.NewForm("frobnicate", xpr.Symbol("x"))
	_, e := Expand(nil, x)
	if e == nil {
		t.Fatal("expected an error")
	}
	if _, ok := e.(err.SemanticError); !ok {
		t.Fatalf("%#v", e)
	}
}

func TestExpandUnionArms(t *testing.T) {
	{
		x := xpr.NewForm("union", xpr.Vec{xpr.Symbol("x")},
			xpr.NewForm("fact-btu", xpr.Keyword("entity"), xpr.Symbol("x")),
		)
		if _, e := Expand(nil, x); e == nil {
			t.Fatal("case 1: expected non-query arm error")
		}
	}
	{
		x := xpr.NewForm("union", xpr.Vec{xpr.Symbol("x")},
			xpr.NewForm("query", xpr.Vec{xpr.Symbol("x")},
				xpr.NewForm("fact-btu", xpr.Keyword("entity"), xpr.Symbol("x")),
			),
		)
		if _, e := Expand(nil, x); e != nil {
			t.Fatalf("case 2: %v", e)
		}
	}
	{
		x := xpr.NewForm("union",
			xpr.NewForm("query", xpr.Vec{}),
		)
		if _, e := Expand(nil, x); e == nil {
			t.Fatal("case 3: expected missing parameter vector error")
		}
	}
}

func TestExpandDefine(t *testing.T) {
	{
		x := xpr.NewForm("define!",
			xpr.Symbol("ancestor"), xpr.Vec{xpr.Symbol("a"), xpr.Symbol("b")},
			xpr.NewForm("fact", xpr.Symbol("a"), xpr.Keyword("parent"), xpr.Symbol("b")),
		)
		out, e := Expand(nil, x)
		if e != nil {
			t.Fatalf("case 1: %v", e)
		}
		expect := xpr.NewForm("define!",
			xpr.Symbol("ancestor"), xpr.Vec{xpr.Symbol("a"), xpr.Symbol("b")},
			xpr.NewForm("fact-btu",
				xpr.Keyword("entity"), xpr.Symbol("a"),
				xpr.Keyword("attribute"), xpr.String("parent"),
				xpr.Keyword("value"), xpr.Symbol("b"),
			),
		)
		if !out.Equals(expect) {
			t.Fatalf("case 1 diff: %v", pretty.Diff(expect, out))
		}
	}
	{
		x := xpr.NewForm("define!", xpr.NewForm("fact", xpr.Symbol("a")))
		if _, e := Expand(nil, x); e == nil {
			t.Fatal("case 2: expected missing alias error")
		}
	}
}

func TestExpandIdempotent(t *testing.T) {
	// a canonical core form survives re-expansion unchanged
	x := xpr.NewForm("query", xpr.Vec{xpr.Symbol("p")},
		xpr.NewForm("fact-btu",
			xpr.Keyword("entity"), xpr.Symbol("p"),
			xpr.Keyword("attribute"), xpr.String("company"),
		),
		xpr.NewForm("+",
			xpr.Keyword("a"), xpr.Int(1),
			xpr.Keyword("b"), xpr.Int(2),
			xpr.Keyword("return"), xpr.Symbol("r"),
		),
	)
	out, e := Expand(nil, x)
	if e != nil {
		t.Fatalf("%v", e)
	}
	if !out.Equals(x) {
		t.Fatalf("diff: %v", pretty.Diff(x, out))
	}
}

func TestExpandContext(t *testing.T) {
	x := xpr.NewForm("context",
		xpr.Keyword("bag"), xpr.Symbol("b"),
		xpr.NewForm("fact", xpr.Symbol("e"), xpr.Keyword("name")),
	)
	out, e := Expand(nil, x)
	if e != nil {
		t.Fatalf("%v", e)
	}
	expect := xpr.NewForm("context",
		xpr.Keyword("bag"), xpr.Symbol("b"),
		xpr.NewForm("fact-btu",
			xpr.Keyword("entity"), xpr.Symbol("e"),
			xpr.Keyword("attribute"), xpr.String("name"),
			xpr.Keyword("value"), xpr.Symbol("name"),
		),
	)
	if !out.Equals(expect) {
		t.Fatalf("diff: %v", pretty.Diff(expect, out))
	}
}

func TestExpandDefineUI(t *testing.T) {
	ex := &expander{gen: &genctx{}}
	out, e := ex.expand(xpr.NewForm("define-ui",
		xpr.Symbol("app"), xpr.Vec{xpr.Symbol("x")},
		xpr.NewForm("fact", xpr.Symbol("u"), xpr.Keyword("user"), xpr.Symbol("x")),
		xpr.NewForm("ui", xpr.Symbol("div"), xpr.Keyword("text"), xpr.Symbol("x")),
	))
	if e != nil {
		t.Fatalf("%v", e)
	}
	if len(out) != 2 {
		t.Fatalf("%# v", pretty.Formatter(out))
	}

	// the query terms become the main definition
	main, ok := xpr.FormOf(out[0], "define!")
	if !ok || !main.Items[1].Equals(xpr.Symbol("app")) {
		t.Fatalf("%# v", pretty.Formatter(out[0]))
	}
	if _, ok := xpr.FormOf(main.Items[3], "fact-btu"); !ok {
		t.Fatalf("%# v", pretty.Formatter(main.Items[3]))
	}

	// each ui group becomes its own definition unioning element facts
	uiDef, ok := xpr.FormOf(out[1], "define!")
	if !ok || !uiDef.Items[1].Equals(xpr.Symbol("app-ui0")) {
		t.Fatalf("%# v", pretty.Formatter(out[1]))
	}
	union, ok := xpr.FormOf(uiDef.Items[3], "union")
	if !ok {
		t.Fatalf("%# v", pretty.Formatter(uiDef.Items[3]))
	}
	arm, ok := xpr.FormOf(union.Items[2], "query")
	if !ok {
		t.Fatalf("%# v", pretty.Formatter(union.Items[2]))
	}

	attrs := map[string]xpr.Expr{}
	for _, item := range arm.Items[2:] {
		ins, ok := xpr.FormOf(item, "insert-fact-btu!")
		if !ok {
			continue
		}
		a, _ := ins.Keyword("attribute")
		v, _ := ins.Keyword("value")
		attrs[string(a.(xpr.String))] = v
	}
	if v, ok := attrs["tag"]; !ok || !v.Equals(xpr.String("ui")) {
		t.Fatalf("%# v", pretty.Formatter(arm))
	}
	if v, ok := attrs["text"]; !ok || !v.Equals(xpr.Symbol("x")) {
		t.Fatalf("%# v", pretty.Formatter(arm))
	}

	// the element id is the concatenation of definition, element and
	// projected variables
	str, ok := xpr.FormOf(arm.Items[2], "str")
	if !ok {
		t.Fatalf("%# v", pretty.Formatter(arm.Items[2]))
	}
	args, _ := str.Keyword("args")
	if !args.(xpr.Vec)[0].Equals(xpr.String("app-div")) {
		t.Fatalf("%# v", pretty.Formatter(args))
	}
}
