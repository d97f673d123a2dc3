// Copyright 2019 sift.run. All rights reserved.
// Use of this source code is governed by an AGPL license that can be found in the LICENSE file.
package err

import (
	"fmt"

	"github.com/siftdb/sift/qc/xpr"
)

func banner(title, problem string, x xpr.Expr, child Error) string {
	out := title + "\n"
	for range title {
		out += "="
	}
	out += "\n" + problem + "\n"
	if x != nil {
		out += "in expression\n  " + x.String() + "\n"
		if f, ok := x.(xpr.Form); ok {
			out += "at " + f.Span.String() + "\n"
		}
	}
	if child != nil {
		out += "\n" + child.String()
	}
	return out
}

// SyntaxError reports a malformed expression: bad argument shapes,
// missing aliases, non-keyword attributes and the like.
type SyntaxError struct {
	Problem string
	Expr_   xpr.Expr
	Child_  Error
}

func (e SyntaxError) Error() string  { return e.String() }
func (e SyntaxError) Expr() xpr.Expr { return e.Expr_ }
func (e SyntaxError) Child() Error   { return e.Child_ }
func (e SyntaxError) String() string {
	return banner("Syntax Error", e.Problem, e.Expr_, e.Child_)
}

// ArgumentError reports a bound-argument mapping that fails schema
// validation, or a binding that cannot be produced at all.
type ArgumentError struct {
	Problem  string
	Argument string // offending parameter name, may be empty
	Operator string // schema name
	Expr_    xpr.Expr
	Child_   Error
}

func (e ArgumentError) Error() string  { return e.String() }
func (e ArgumentError) Expr() xpr.Expr { return e.Expr_ }
func (e ArgumentError) Child() Error   { return e.Child_ }
func (e ArgumentError) String() string {
	problem := e.Problem
	if e.Argument != "" {
		problem += fmt.Sprintf(": %q", e.Argument)
	}
	if e.Operator != "" {
		problem += fmt.Sprintf(" (operator %s)", e.Operator)
	}
	return banner("Argument Error", problem, e.Expr_, e.Child_)
}

// SemanticError reports a well-formed expression the compiler cannot
// give meaning to: unknown operators, non-query union arms,
// unresolvable equality ordering, references to never-bound names.
type SemanticError struct {
	Problem string
	Expr_   xpr.Expr
	Child_  Error
}

func (e SemanticError) Error() string  { return e.String() }
func (e SemanticError) Expr() xpr.Expr { return e.Expr_ }
func (e SemanticError) Child() Error   { return e.Child_ }
func (e SemanticError) String() string {
	return banner("Semantic Error", e.Problem, e.Expr_, e.Child_)
}

// ResourceError reports exhausted compiler resources: register frame
// overflow, or a rule referenced with zero defined arms.
type ResourceError struct {
	Problem     string
	Environment string // signature of the environment involved, may be empty
	Expr_       xpr.Expr
	Child_      Error
}

func (e ResourceError) Error() string  { return e.String() }
func (e ResourceError) Expr() xpr.Expr { return e.Expr_ }
func (e ResourceError) Child() Error   { return e.Child_ }
func (e ResourceError) String() string {
	problem := e.Problem
	if e.Environment != "" {
		problem += " (in " + e.Environment + ")"
	}
	return banner("Resource Error", problem, e.Expr_, e.Child_)
}

// CodecError reports undecodable stored bytes.
type CodecError struct {
	Problem string
	Offset  int // byte offset into the undecodable input
	Child_  Error
}

func (e CodecError) Error() string  { return e.String() }
func (e CodecError) Expr() xpr.Expr { return nil }
func (e CodecError) Child() Error   { return e.Child_ }
func (e CodecError) String() string {
	return banner("Codec Error", fmt.Sprintf("%s (at byte %d)", e.Problem, e.Offset), nil, e.Child_)
}

// StorageError wraps a failure from the persistence layer.
type StorageError struct {
	Problem string
	Child_  Error
}

func (e StorageError) Error() string  { return e.String() }
func (e StorageError) Expr() xpr.Expr { return nil }
func (e StorageError) Child() Error   { return e.Child_ }
func (e StorageError) String() string {
	return banner("Storage Error", e.Problem, nil, e.Child_)
}
