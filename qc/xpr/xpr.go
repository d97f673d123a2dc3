// Copyright 2019 sift.run. All rights reserved.
// Use of this source code is governed by an AGPL license that can be found in the LICENSE file.
package xpr

import (
	"fmt"
	"strconv"
	"strings"
)

// Expr is a node of a rule/query expression tree. Atoms are symbols,
// keywords and literals; Form is an operator application; Vec is a
// literal sequence such as a parameter vector.
type Expr interface {
	Equals(Expr) bool
	Transform(f func(Expr) Expr) Expr
	String() string
}

// TransformIdentity is the identity function for Exprs.
func TransformIdentity(x Expr) Expr {
	return x
}

// Span is optional source position metadata. It never participates
// in Equals; it exists for diagnostics only.
type Span struct {
	Line, Col       int
	EndLine, EndCol int
}

func (s *Span) String() string {
	if s == nil {
		return "unknown position"
	}
	return fmt.Sprintf("line %d, column %d", s.Line, s.Col)
}

// WildcardName is the don't-care symbol.
const WildcardName = `_`

type Symbol string

func (x Symbol) Equals(y Expr) bool {
	s, ok := y.(Symbol)
	return ok && s == x
}
func (x Symbol) Transform(f func(Expr) Expr) Expr {
	return f(x)
}
func (x Symbol) String() string {
	return string(x)
}
func (x Symbol) Wildcard() bool {
	return x == WildcardName
}

type Keyword string

func (x Keyword) Equals(y Expr) bool {
	k, ok := y.(Keyword)
	return ok && k == x
}
func (x Keyword) Transform(f func(Expr) Expr) Expr {
	return f(x)
}
func (x Keyword) String() string {
	return ":" + string(x)
}

type String string

func (x String) Equals(y Expr) bool {
	s, ok := y.(String)
	return ok && s == x
}
func (x String) Transform(f func(Expr) Expr) Expr {
	return f(x)
}
func (x String) String() string {
	return strconv.Quote(string(x))
}

type Int int64

func (x Int) Equals(y Expr) bool {
	i, ok := y.(Int)
	return ok && i == x
}
func (x Int) Transform(f func(Expr) Expr) Expr {
	return f(x)
}
func (x Int) String() string {
	return strconv.FormatInt(int64(x), 10)
}

type Float float64

func (x Float) Equals(y Expr) bool {
	g, ok := y.(Float)
	return ok && g == x
}
func (x Float) Transform(f func(Expr) Expr) Expr {
	return f(x)
}
func (x Float) String() string {
	return strconv.FormatFloat(float64(x), 'g', -1, 64)
}

type Bool bool

func (x Bool) Equals(y Expr) bool {
	b, ok := y.(Bool)
	return ok && b == x
}
func (x Bool) Transform(f func(Expr) Expr) Expr {
	return f(x)
}
func (x Bool) String() string {
	return strconv.FormatBool(bool(x))
}

type Null struct{}

func (Null) Equals(y Expr) bool {
	_, ok := y.(Null)
	return ok
}
func (x Null) Transform(f func(Expr) Expr) Expr {
	return f(x)
}
func (Null) String() string {
	return "nil"
}

// Atom reports whether x is not a Form or Vec.
func Atom(x Expr) bool {
	switch x.(type) {
	case Form, Vec:
		return false
	}
	return true
}

// Vec is a literal sequence, e.g. a query's parameter vector.
type Vec []Expr

func (x Vec) Equals(y Expr) bool {
	v, ok := y.(Vec)
	if !ok || len(v) != len(x) {
		return false
	}
	for i, e := range x {
		if !e.Equals(v[i]) {
			return false
		}
	}
	return true
}

func (x Vec) Transform(f func(Expr) Expr) Expr {
	c := make(Vec, len(x))
	for i, e := range x {
		c[i] = e.Transform(f)
	}
	return f(c)
}

func (x Vec) String() string {
	parts := make([]string, len(x))
	for i, e := range x {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// Form is an operator application. Items[0] is the operator symbol,
// the remainder are its arguments (or body forms). The span tags the
// whole form and propagates through rewriting.
type Form struct {
	Items []Expr
	Span  *Span
}

func NewForm(op string, args ...Expr) Form {
	items := make([]Expr, 0, len(args)+1)
	items = append(items, Symbol(op))
	items = append(items, args...)
	return Form{Items: items}
}

// At returns a copy of f tagged with the given span.
func (f Form) At(s *Span) Form {
	f.Span = s
	return f
}

func (f Form) Equals(y Expr) bool {
	g, ok := y.(Form)
	if !ok || len(g.Items) != len(f.Items) {
		return false
	}
	for i, e := range f.Items {
		if !e.Equals(g.Items[i]) {
			return false
		}
	}
	return true // spans are diagnostics, not identity
}

func (f Form) Transform(fn func(Expr) Expr) Expr {
	c := Form{Items: make([]Expr, len(f.Items)), Span: f.Span}
	for i, e := range f.Items {
		c.Items[i] = e.Transform(fn)
	}
	return fn(c)
}

func (f Form) String() string {
	parts := make([]string, len(f.Items))
	for i, e := range f.Items {
		parts[i] = e.String()
	}
	return "(" + strings.Join(parts, " ") + ")"
}

// Operator returns the head symbol of the form.
func (f Form) Operator() (Symbol, bool) {
	if len(f.Items) == 0 {
		return "", false
	}
	s, ok := f.Items[0].(Symbol)
	return s, ok
}

// Args returns the elements after the operator.
func (f Form) Args() []Expr {
	if len(f.Items) == 0 {
		return nil
	}
	return f.Items[1:]
}

// Keyword scans the form's arguments for a (:name value) pair, the
// shape every canonical post-expansion call uses.
func (f Form) Keyword(name string) (Expr, bool) {
	args := f.Args()
	for i := 0; i < len(args)-1; i++ {
		if k, ok := args[i].(Keyword); ok && string(k) == name {
			return args[i+1], true
		}
	}
	return nil, false
}

// SetKeyword rewrites (or appends) a (:name value) pair in place.
func (f *Form) SetKeyword(name string, value Expr) {
	args := f.Args()
	for i := 0; i < len(args)-1; i++ {
		if k, ok := args[i].(Keyword); ok && string(k) == name {
			args[i+1] = value
			return
		}
	}
	f.Items = append(f.Items, Keyword(name), value)
}

// FormOf asserts x is a form with the given operator.
func FormOf(x Expr, op string) (Form, bool) {
	f, ok := x.(Form)
	if !ok {
		return Form{}, false
	}
	s, ok := f.Operator()
	return f, ok && string(s) == op
}
