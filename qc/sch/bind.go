// Copyright 2019 sift.run. All rights reserved.
// Use of this source code is governed by an AGPL license that can be found in the LICENSE file.
package sch

import (
	"github.com/siftdb/sift/qc/err"
	"github.com/siftdb/sift/qc/xpr"
)

// Bound is a name → expression mapping produced by Bind. It keeps a
// reference to the originating form and schema for error reporting.
type Bound struct {
	Schema *Schema
	Form   xpr.Form
	Args   map[string]xpr.Expr
	Body   []xpr.Expr // trailing sub-expressions when the schema is a body form
}

// Bind maps the form's arguments onto the schema's parameter names.
// The trailing elements are processed left to right with a one-item
// lookahead: a pending keyword captures the next value, unless that
// value is itself a keyword, in which case the pending key binds an
// implicit variable of its own name. Positional slots are consumed in
// declaration order, tracked by a descending counter, and consumption
// stops permanently at the first keyword. Leftover positional values
// accumulate into the rest parameter when one is declared.
func Bind(s *Schema, form xpr.Form) (Bound, err.Error) {

	b := Bound{Schema: s, Form: form, Args: make(map[string]xpr.Expr, len(s.Args)+len(s.Keywords))}

	values := form.Args()
	remaining := len(s.Args) // descending positional counter

	pending, pendingSet := "", false
	var rest []xpr.Expr
	inRest := false

	for i := 0; i < len(values); i++ {
		v := values[i]

		if pendingSet {
			if k, ok := v.(xpr.Keyword); ok {
				// the pending key had no value: it names itself
				b.Args[pending] = xpr.Symbol(pending)
				pending = string(k)
				continue
			}
			b.Args[pending] = v
			pendingSet = false
			continue
		}

		if k, ok := v.(xpr.Keyword); ok {
			if inRest {
				return b, err.SyntaxError{
					Problem: "keyword arguments must come before rest arguments",
					Expr_:   form,
				}
			}
			pending, pendingSet = string(k), true
			remaining = 0
			continue
		}

		if remaining > 0 {
			name := s.Args[len(s.Args)-remaining]
			remaining--
			b.Args[name] = v
			continue
		}

		if s.Rest != "" {
			inRest = true
			rest = append(rest, v)
			continue
		}

		if s.Body {
			b.Body = values[i:]
			break
		}

		return b, err.SyntaxError{
			Problem: "too many positional arguments",
			Expr_:   form,
		}
	}

	if pendingSet {
		b.Args[pending] = xpr.Symbol(pending)
	}
	if inRest {
		b.Args[s.Rest] = xpr.Vec(rest)
	}

	return b, nil
}

// Validate checks a bound mapping against its schema: every bound key
// must be declared, every non-optional parameter must be present, and
// the schema's own validator (if any) runs last.
func Validate(b Bound) err.Error {

	s := b.Schema

	for key := range b.Args {
		if !s.Declared(key) {
			return err.ArgumentError{
				Problem:  "invalid keyword argument",
				Argument: key,
				Operator: s.Name,
				Expr_:    b.Form,
			}
		}
	}

	required := make([]string, 0, len(s.Args)+len(s.Keywords))
	required = append(required, s.Args...)
	required = append(required, s.Keywords...)
	for _, name := range required {
		if s.Optional[name] {
			continue
		}
		if _, ok := b.Args[name]; !ok {
			return err.ArgumentError{
				Problem:  "missing required argument",
				Argument: name,
				Operator: s.Name,
				Expr_:    b.Form,
			}
		}
	}

	if s.Check != nil {
		return s.Check(b)
	}
	return nil
}
