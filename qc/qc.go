// Copyright 2019 sift.run. All rights reserved.
// Use of this source code is governed by an AGPL license that can be found in the LICENSE file.

// Package qc is the front end and code generator of the sift query
// language: it normalizes sugared rule expressions into a small core
// calculus, flattens nested value expressions into conjunctive term
// lists, and compiles those into named instruction blocks for the
// dataflow execution engine.
package qc

import (
	"fmt"

	"github.com/siftdb/sift/qc/xpr"
)

// genctx owns the fresh-name counter of one top-level compile.
// Generated names are monotonic and never reused within a compile.
type genctx struct {
	n int
}

func (g *genctx) gensym(prefix string) xpr.Symbol {
	g.n++
	return xpr.Symbol(fmt.Sprintf("%s-%d", prefix, g.n))
}
