// Copyright 2019 sift.run. All rights reserved.
// Use of this source code is governed by an AGPL license that can be found in the LICENSE file.
package sch

import (
	"github.com/siftdb/sift/qc/err"
	"github.com/siftdb/sift/qc/xpr"
)

// Resolver supplies signatures of user-defined rules. The fact/rule
// store implements it; a nil Resolver restricts Lookup to built-ins.
type Resolver interface {
	RuleSignature(name string) ([]string, bool)
}

// Schema describes the argument shape of one operator.
type Schema struct {
	Name     string
	Args     []string // positional parameters, declaration order
	Keywords []string // keyword-only parameters
	Rest     string   // absorbs trailing positional values, "" if none
	Optional map[string]bool
	Body     bool // trailing forms are a sub-expression list, not arguments
	Check    func(Bound) err.Error
}

// Declared reports whether name is a positional, keyword or rest
// parameter of the schema.
func (s *Schema) Declared(name string) bool {
	for _, a := range s.Args {
		if a == name {
			return true
		}
	}
	for _, k := range s.Keywords {
		if k == name {
			return true
		}
	}
	return s.Rest != "" && s.Rest == name
}

// Returnable reports whether the operator's schema marks :return as
// an optional parameter, i.e. whether calls to it produce a value
// that the flattener may need to materialize.
func (s *Schema) Returnable() bool {
	for _, k := range s.Keywords {
		if k == "return" {
			return s.Optional["return"]
		}
	}
	return false
}

func optional(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

var builtins = map[string]*Schema{
	"query": {
		Name:     "query",
		Args:     []string{"params"},
		Optional: optional("params"),
		Body:     true,
	},
	"union": {
		Name: "union",
		Args: []string{"params"},
		Body: true,
	},
	"choose": {
		Name: "choose",
		Args: []string{"params"},
		Body: true,
	},
	"not": {
		Name: "not",
		Body: true,
	},
	"context": {
		Name:     "context",
		Keywords: []string{"bag", "tick"},
		Optional: optional("bag", "tick"),
		Body:     true,
	},
	"fact-btu": {
		Name:     "fact-btu",
		Args:     []string{"entity", "attribute", "value", "bag", "tick"},
		Optional: optional("entity", "attribute", "value", "bag", "tick"),
	},
	"full-fact-btu": {
		Name:     "full-fact-btu",
		Args:     []string{"entity", "attribute", "value", "bag", "tick"},
		Optional: optional("entity", "attribute", "value", "bag", "tick"),
	},
	"insert-fact-btu!": {
		Name:     "insert-fact-btu!",
		Args:     []string{"entity", "attribute", "value", "bag", "tick"},
		Optional: optional("bag", "tick"),
	},
	"remove-by-t!": {
		Name: "remove-by-t!",
		Args: []string{"tick"},
	},
	"=":    {Name: "=", Args: []string{"a", "b"}},
	"not=": {Name: "not=", Args: []string{"a", "b"}},
	"<":    {Name: "<", Args: []string{"a", "b"}},
	">":    {Name: ">", Args: []string{"a", "b"}},
	"<=":   {Name: "<=", Args: []string{"a", "b"}},
	">=":   {Name: ">=", Args: []string{"a", "b"}},
	"+": {
		Name:     "+",
		Args:     []string{"a", "b"},
		Keywords: []string{"return"},
		Optional: optional("return"),
	},
	"-": {
		Name:     "-",
		Args:     []string{"a", "b"},
		Keywords: []string{"return"},
		Optional: optional("return"),
	},
	"*": {
		Name:     "*",
		Args:     []string{"a", "b"},
		Keywords: []string{"return"},
		Optional: optional("return"),
	},
	"/": {
		Name:     "/",
		Args:     []string{"a", "b"},
		Keywords: []string{"return"},
		Optional: optional("return"),
	},
	"str": {
		Name:     "str",
		Rest:     "args",
		Keywords: []string{"return"},
		Optional: optional("args", "return"),
	},
	"hash": {
		Name:     "hash",
		Args:     []string{"a"},
		Keywords: []string{"return"},
		Optional: optional("return"),
	},
	"sum": {
		Name:     "sum",
		Args:     []string{"a"},
		Keywords: []string{"return"},
		Optional: optional("return"),
	},
	"sort": {
		Name:     "sort",
		Args:     []string{"sorting"},
		Keywords: []string{"return"},
		Optional: optional("return"),
		Check:    checkSorting,
	},
}

// checkSorting requires the sorting argument to be a vector of
// alternating variable / direction pairs.
func checkSorting(b Bound) err.Error {
	arg, ok := b.Args["sorting"]
	if !ok {
		return nil
	}
	v, ok := arg.(xpr.Vec)
	if !ok || len(v)%2 != 0 {
		return err.ArgumentError{
			Problem:  "sorting must be a vector of variable/direction pairs",
			Argument: "sorting",
			Operator: b.Schema.Name,
			Expr_:    b.Form,
		}
	}
	for i := 0; i < len(v); i += 2 {
		if _, ok := v[i].(xpr.Symbol); !ok {
			return err.ArgumentError{
				Problem:  "sorting variable must be a symbol",
				Argument: "sorting",
				Operator: b.Schema.Name,
				Expr_:    b.Form,
			}
		}
		dir, ok := v[i+1].(xpr.Keyword)
		if !ok || (dir != "ascending" && dir != "descending") {
			return err.ArgumentError{
				Problem:  "sorting direction must be :ascending or :descending",
				Argument: "sorting",
				Operator: b.Schema.Name,
				Expr_:    b.Form,
			}
		}
	}
	return nil
}

// Lookup resolves the schema for an operator. Built-ins come from the
// static table. Otherwise, when a resolver is supplied, a schema is
// derived from a previously defined rule with that name: the rule's
// parameters become positional arguments, all optional, since a call
// may omit arguments used purely as outputs. Returns nil when no
// schema exists.
func Lookup(r Resolver, operator string) *Schema {
	if s, ok := builtins[operator]; ok {
		return s
	}
	if r == nil {
		return nil
	}
	params, ok := r.RuleSignature(operator)
	if !ok {
		return nil
	}
	s := &Schema{
		Name:     operator,
		Args:     params,
		Optional: optional(params...),
	}
	return s
}
