// Copyright 2019 sift.run. All rights reserved.
// Use of this source code is governed by an AGPL license that can be found in the LICENSE file.
package xpr

import (
	"testing"
)

func TestEquals(t *testing.T) {
	{
		a := NewForm("fact-btu", Keyword("entity"), Symbol("e"))
		b := NewForm("fact-btu", Keyword("entity"), Symbol("e")).At(&Span{Line: 3, Col: 9})
		if !a.Equals(b) {
			t.Fatal("case 1: spans must not participate in equality")
		}
	}
	{
		a := Vec{Int(1), String("1")}
		b := Vec{Int(1), Int(1)}
		if a.Equals(b) {
			t.Fatal("case 2: string and int literals must not compare equal")
		}
	}
	{
		if Symbol("x").Equals(Keyword("x")) {
			t.Fatal("case 3: symbol and keyword must not compare equal")
		}
	}
	{
		a := NewForm("=", Keyword("a"), Symbol("x"), Keyword("b"), Int(1))
		b := NewForm("=", Keyword("a"), Symbol("x"), Keyword("b"), Int(2))
		if a.Equals(b) {
			t.Fatal("case 4")
		}
	}
}

func TestString(t *testing.T) {
	x := NewForm("insert-fact-btu!",
		Keyword("entity"), Symbol("e"),
		Keyword("value"), String("kodowa"),
		Keyword("tick"), Int(42),
	)
	expect := `(insert-fact-btu! :entity e :value "kodowa" :tick 42)`
	if s := x.String(); s != expect {
		t.Fatalf("expected %s, got %s", expect, s)
	}
	if s := (Vec{Symbol("a"), Null{}, Bool(true)}).String(); s != "[a nil true]" {
		t.Fatalf("got %s", s)
	}
}

func TestKeywordAccess(t *testing.T) {
	f := NewForm("+", Keyword("a"), Int(1), Keyword("b"), Int(2))
	{
		v, ok := f.Keyword("b")
		if !ok || !v.Equals(Int(2)) {
			t.Fatalf("case 1: %#v", v)
		}
	}
	{
		if _, ok := f.Keyword("return"); ok {
			t.Fatal("case 2: absent keyword reported present")
		}
	}
	{
		f.SetKeyword("return", Symbol("r"))
		v, ok := f.Keyword("return")
		if !ok || !v.Equals(Symbol("r")) {
			t.Fatalf("case 3: %#v", v)
		}
	}
	{
		f.SetKeyword("a", Int(7))
		v, _ := f.Keyword("a")
		if !v.Equals(Int(7)) {
			t.Fatalf("case 4: %#v", v)
		}
		if len(f.Items) != 7 {
			t.Fatalf("case 4: overwrite must not append, got %d items", len(f.Items))
		}
	}
}

func TestTransform(t *testing.T) {
	x := NewForm("query", Vec{Symbol("p")}, NewForm("fact", Symbol("p")))
	y := x.Transform(func(e Expr) Expr {
		if s, ok := e.(Symbol); ok && s == "p" {
			return Symbol("q")
		}
		return e
	})
	expect := NewForm("query", Vec{Symbol("q")}, NewForm("fact", Symbol("q")))
	if !y.Equals(expect) {
		t.Fatalf("got %s", y)
	}
	// the original is untouched
	if !x.Equals(NewForm("query", Vec{Symbol("p")}, NewForm("fact", Symbol("p")))) {
		t.Fatalf("input mutated: %s", x)
	}
}

func TestWildcard(t *testing.T) {
	if !Symbol("_").Wildcard() {
		t.Fatal("case 1")
	}
	if Symbol("x").Wildcard() {
		t.Fatal("case 2")
	}
}
