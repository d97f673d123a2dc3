// Copyright 2019 sift.run. All rights reserved.
// Use of this source code is governed by an AGPL license that can be found in the LICENSE file.
package qc

import (
	"sort"
	"strings"

	"github.com/siftdb/sift/definitions"
	"github.com/siftdb/sift/qc/err"
	"github.com/siftdb/sift/qc/inst"
	"github.com/siftdb/sift/qc/xpr"
)

// environ is the mutable per-scope state of one compile: variable →
// register bindings, register allocation counters, the dependency
// set, the input/output projection, and the accumulated instruction
// blocks. Environments are transient compiler state, torn down with
// the compile call.
type environ struct {
	name   string
	parent *environ
	gen    *genctx

	regs     map[string]inst.Operand
	next     int // next free primary register
	overnext int // next free overflow slot

	deps map[string]struct{}

	in  []string // bound on entry
	out []string // the environment's projection

	blocks []inst.Block

	ambientBag  inst.Operand // set by context, inherited by children
	ambientTick inst.Operand
}

// signature derives the deterministic block label of an environment:
// relation name plus its sorted bound and free variable sets. Two
// environments with structurally identical projections collapse to
// the same label.
func signature(base string, in, out []string) string {
	i := append([]string(nil), in...)
	o := append([]string(nil), out...)
	sort.Strings(i)
	sort.Strings(o)
	return base + "|" + strings.Join(i, ",") + "|" + strings.Join(o, ",")
}

func newRoot(gen *genctx, projection []string) *environ {
	return &environ{
		name: definitions.MainBlock,
		gen:  gen,
		regs: make(map[string]inst.Operand),
		deps: make(map[string]struct{}),
		out:  append([]string(nil), projection...),
	}
}

// child spawns an environment for a nested scope, partitioning the
// projection into input names (already bound in the parent) and
// output names (free), and eagerly allocating a register for every
// input.
func (p *environ) child(projection []string, base string) (*environ, err.Error) {
	var in, out []string
	for _, n := range projection {
		if p.boundName(n) {
			in = append(in, n)
		} else {
			out = append(out, n)
		}
	}
	c := &environ{
		name:        signature(base, in, out),
		parent:      p,
		gen:         p.gen,
		regs:        make(map[string]inst.Operand),
		deps:        make(map[string]struct{}),
		in:          in,
		out:         out,
		ambientBag:  p.ambientBag,
		ambientTick: p.ambientTick,
	}
	for _, n := range in {
		if _, e := c.allocate(n); e != nil {
			return nil, e
		}
	}
	return c, nil
}

// childFromCall spawns an arm environment for a recursive rule call,
// keyed by the callee's parameter names: a parameter is an input when
// the caller passes a literal or an already-bound variable for it.
func (p *environ) childFromCall(params []string, callerArgs map[string]xpr.Expr, base string) (*environ, err.Error) {
	var in, out []string
	for _, n := range params {
		arg, ok := callerArgs[n]
		if !ok {
			out = append(out, n)
			continue
		}
		if s, ok := arg.(xpr.Symbol); ok && !s.Wildcard() && !p.boundName(string(s)) {
			out = append(out, n)
			continue
		}
		in = append(in, n)
	}
	c := &environ{
		name:        signature(base, in, out),
		parent:      p,
		gen:         p.gen,
		regs:        make(map[string]inst.Operand),
		deps:        make(map[string]struct{}),
		in:          in,
		out:         out,
		ambientBag:  p.ambientBag,
		ambientTick: p.ambientTick,
	}
	for _, n := range in {
		if _, e := c.allocate(n); e != nil {
			return nil, e
		}
	}
	return c, nil
}

// shared spawns a child that shares the parent's current bindings and
// frame (negation bodies, choose arm snapshots). The binding map is
// copied, so bindings made inside do not leak back.
func (p *environ) shared(base string) *environ {
	regs := make(map[string]inst.Operand, len(p.regs))
	for k, v := range p.regs {
		regs[k] = v
	}
	return &environ{
		name:        signature(base, p.boundNames(), nil),
		parent:      p,
		gen:         p.gen,
		regs:        regs,
		next:        p.next,
		overnext:    p.overnext,
		deps:        make(map[string]struct{}),
		in:          p.boundNames(),
		ambientBag:  p.ambientBag,
		ambientTick: p.ambientTick,
	}
}

func (e *environ) boundName(n string) bool {
	_, ok := e.regs[n]
	return ok
}

// boundNames returns the currently bound variable names, sorted.
func (e *environ) boundNames() []string {
	names := make([]string, 0, len(e.regs))
	for n := range e.regs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// boundRegisters returns the operands of all currently bound
// variables that live in registers, in sorted name order.
func (e *environ) boundRegisters() []inst.Operand {
	var out []inst.Operand
	for _, n := range e.boundNames() {
		switch op := e.regs[n]; op.(type) {
		case inst.Reg, inst.Overflow:
			out = append(out, op)
		}
	}
	return out
}

// lookup resolves an expression to a runtime operand: bound variables
// resolve to their register, literals pass through as constants, and
// the wildcard is the don't-care operand. Referencing an unbound
// variable is fatal.
func (e *environ) lookup(x xpr.Expr) (inst.Operand, err.Error) {
	switch v := x.(type) {
	case xpr.Symbol:
		if v.Wildcard() {
			return inst.Any{}, nil
		}
		e.addDep(string(v))
		if op, ok := e.regs[string(v)]; ok {
			return op, nil
		}
		return nil, err.SemanticError{
			Problem: "unbound name: " + string(v),
			Expr_:   v,
		}
	case xpr.Form, xpr.Vec:
		return nil, err.SemanticError{
			Problem: "expected an atom, got a compound expression",
			Expr_:   x,
		}
	}
	return inst.Const{Value: x}, nil
}

// bind merges new name → location bindings.
func (e *environ) bind(bindings map[string]inst.Operand) err.Error {
	for n, op := range bindings {
		if n == "" {
			return err.SemanticError{
				Problem: "cannot bind a null name",
			}
		}
		e.regs[n] = op
		e.addDep(n)
	}
	return nil
}

// allocate assigns the next free register to name, routing to the
// overflow extension once the primary frame is exhausted. Exhausting
// the overflow frame as well is fatal.
func (e *environ) allocate(name string) (inst.Operand, err.Error) {
	var op inst.Operand
	switch {
	case e.next < definitions.FrameSize:
		op = inst.Reg(e.next)
		e.next++
	case e.overnext < definitions.OverflowSize:
		op = inst.Overflow{Frame: definitions.OverflowRegister, Slot: e.overnext}
		e.overnext++
	default:
		return nil, err.ResourceError{
			Problem:     "register frame overflow",
			Environment: e.name,
		}
	}
	if name != "" {
		e.regs[name] = op
	}
	return op, nil
}

// temp allocates an anonymous intermediate register.
func (e *environ) temp() (inst.Operand, err.Error) {
	return e.allocate(string(e.gen.gensym("tmp")))
}

func (e *environ) addDep(names ...string) {
	for _, n := range names {
		e.deps[n] = struct{}{}
	}
}

// bindOutward propagates a child's outputs upward: every output name
// not yet bound in e gets a register.
func (e *environ) bindOutward(c *environ) err.Error {
	return e.bindFresh(c.out)
}

// bindFresh allocates a register for every listed name not yet bound
// in e. Rule calls use it directly, since callee parameters and caller
// variables differ in name.
func (e *environ) bindFresh(names []string) err.Error {
	for _, n := range names {
		if e.boundName(n) {
			continue
		}
		if _, er := e.allocate(n); er != nil {
			return er
		}
	}
	return nil
}

// record registers a named instruction block. Labels are signatures,
// so a block recorded twice is the same block: the first wins.
func (e *environ) record(label string, code inst.Sequence) {
	for _, b := range e.blocks {
		if b.Label == label {
			return
		}
	}
	e.blocks = append(e.blocks, inst.Block{Label: label, Code: code})
}

// mergeChild hoists a child's accumulated blocks into e.
func (e *environ) mergeChild(c *environ) {
	for _, b := range c.blocks {
		e.record(b.Label, b.Code)
	}
}
