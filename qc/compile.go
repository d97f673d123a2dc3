// Copyright 2019 sift.run. All rights reserved.
// Use of this source code is governed by an AGPL license that can be found in the LICENSE file.
package qc

import (
	"fmt"
	"sort"

	"github.com/siftdb/sift/definitions"
	"github.com/siftdb/sift/qc/err"
	"github.com/siftdb/sift/qc/inst"
	"github.com/siftdb/sift/qc/xpr"
)

// cont produces the instructions that follow the term currently being
// compiled. Compilation is continuation-passing: every term emits its
// own instructions followed by its continuation's.
type cont func() (inst.Sequence, err.Error)

type compiler struct {
	store Store
	gen   *genctx

	// labels of rule-arm blocks already compiled, or being compiled,
	// during this compile. A recursive call whose environment carries
	// the same signature resolves to the existing block.
	arms map[string]struct{}
}

// Compile expands, flattens and compiles a top-level query into the
// ordered set of named instruction blocks consumed by the dataflow
// engine. The outermost form must be a query. A failed compile
// produces no blocks and no side effects.
func Compile(store Store, raw xpr.Expr) (inst.Program, err.Error) {

	gen := &genctx{}

	ex := &expander{r: store, gen: gen}
	expanded, e := ex.expandOne(raw)
	if e != nil {
		return inst.Program{}, e
	}

	q, ok := xpr.FormOf(expanded, "query")
	if !ok {
		return inst.Program{}, err.SemanticError{
			Problem: "program must be a query",
			Expr_:   expanded,
		}
	}

	fl := &flattener{r: store, gen: gen}
	flat, _, e := fl.flatten(q) // structural: no terms escape
	if e != nil {
		return inst.Program{}, e
	}
	qf := flat.(xpr.Form)

	names, e := paramNames(qf.Items[1].(xpr.Vec), qf)
	if e != nil {
		return inst.Program{}, e
	}

	root := newRoot(gen, names)
	c := &compiler{store: store, gen: gen, arms: map[string]struct{}{}}

	seq, e := c.conjunction(root, qf.Items[2:], func() (inst.Sequence, err.Error) {
		out := inst.Sequence{}
		regs := make([]inst.Operand, 0, len(names))
		for _, n := range names {
			op, e := root.lookup(xpr.Symbol(n))
			if e != nil {
				return nil, e
			}
			regs = append(regs, op)
		}
		if len(regs) > 0 {
			out = append(out, inst.DeltaC{Regs: regs})
		}
		dest, e := root.temp()
		if e != nil {
			return nil, e
		}
		out = append(out,
			inst.Tuple{Dest: dest, Values: regs},
			inst.Send{Target: definitions.OutputSink, Source: dest})
		return out, nil
	})
	if e != nil {
		return inst.Program{}, e
	}

	blocks := make([]inst.Block, 0, len(root.blocks)+1)
	blocks = append(blocks, inst.Block{Label: definitions.MainBlock, Code: seq})
	blocks = append(blocks, root.blocks...)
	return inst.Program{Blocks: blocks}, nil
}

// Define expands a define! form and registers each alias as a rule
// arm in the store.
func Define(store RuleWriter, raw xpr.Expr) err.Error {

	gen := &genctx{}
	ex := &expander{r: store, gen: gen}
	expanded, e := ex.expandOne(raw)
	if e != nil {
		return e
	}
	d, ok := xpr.FormOf(expanded, "define!")
	if !ok {
		return err.SemanticError{
			Problem: "expected a define! form",
			Expr_:   expanded,
		}
	}

	items := d.Items
	i := 1
	type alias struct {
		name    string
		exports []string
	}
	var aliases []alias
	for i+1 < len(items) {
		name, ok := items[i].(xpr.Symbol)
		if !ok {
			break
		}
		vec, ok := items[i+1].(xpr.Vec)
		if !ok {
			break
		}
		exports, e := paramNames(vec, d)
		if e != nil {
			return e
		}
		aliases = append(aliases, alias{string(name), exports})
		i += 2
	}
	body := items[i:]

	for _, a := range aliases {
		if e := store.DefineRule(a.name, a.exports, body); e != nil {
			return e
		}
	}
	return nil
}

func paramNames(v xpr.Vec, enclosing xpr.Expr) ([]string, err.Error) {
	names := make([]string, 0, len(v))
	for _, p := range v {
		s, ok := p.(xpr.Symbol)
		if !ok {
			return nil, err.SyntaxError{
				Problem: fmt.Sprintf("invalid variable name: %s", p),
				Expr_:   enclosing,
			}
		}
		names = append(names, string(s))
	}
	return names, nil
}

// prepareBody expands and flattens the stored body of a rule arm.
func (c *compiler) prepareBody(body []xpr.Expr) ([]xpr.Expr, err.Error) {
	ex := &expander{r: c.store, gen: c.gen}
	expanded, e := ex.expandBody(body)
	if e != nil {
		return nil, e
	}
	fl := &flattener{r: c.store, gen: c.gen}
	out := make([]xpr.Expr, 0, len(expanded))
	for _, item := range expanded {
		inline, terms, e := fl.flatten(item)
		if e != nil {
			return nil, e
		}
		out = append(out, terms...)
		out = append(out, inline)
	}
	return out, nil
}

// conjunction compiles terms in order; an empty list simply invokes
// the continuation.
func (c *compiler) conjunction(env *environ, terms []xpr.Expr, k cont) (inst.Sequence, err.Error) {

	if len(terms) == 0 {
		return k()
	}

	rest := func() (inst.Sequence, err.Error) {
		return c.conjunction(env, terms[1:], k)
	}

	t := terms[0]

	if xpr.Atom(t) {
		// residual inline results (already-bound variables,
		// literals) carry no instructions
		if s, ok := t.(xpr.Symbol); ok && !s.Wildcard() {
			env.addDep(string(s))
		}
		return rest()
	}
	if _, ok := t.(xpr.Vec); ok {
		return rest()
	}

	f := t.(xpr.Form)
	op, ok := f.Operator()
	if !ok {
		return nil, err.SyntaxError{
			Problem: "expected an operator symbol",
			Expr_:   f,
		}
	}

	switch o := xpr.OperatorOf(op); o {

	case xpr.OpEqual:
		return c.equality(env, f, rest)

	case xpr.OpNotEqual, xpr.OpLess, xpr.OpGreater, xpr.OpLessEqual, xpr.OpGreaterEqual:
		return c.filterTerm(env, f, string(op), rest)

	case xpr.OpFactBTU:
		return c.scan(env, f, true, rest)

	case xpr.OpFullFactBTU:
		return c.scan(env, f, false, rest)

	case xpr.OpInsertFactBTU:
		return c.insert(env, f, rest)

	case xpr.OpNot:
		return c.negation(env, f, rest)

	case xpr.OpUnion:
		return c.fanout(env, f, false, rest)

	case xpr.OpChoose:
		return c.fanout(env, f, true, rest)

	case xpr.OpQuery:
		// a bare nested query behaves as a one-armed union
		u := xpr.Form{Items: []xpr.Expr{xpr.Symbol("union"), f.Items[1], f}, Span: f.Span}
		return c.fanout(env, u, false, rest)

	case xpr.OpContext:
		return c.context(env, f, rest)

	case xpr.OpAdd, xpr.OpSub, xpr.OpMul, xpr.OpDiv, xpr.OpHash, xpr.OpStr:
		return c.primitive(env, f, string(op), false, rest)

	case xpr.OpSum:
		return c.primitive(env, f, string(op), true, rest)

	case xpr.OpSort:
		return c.sortTerm(env, f, rest)

	case xpr.OpUserRule:
		return c.call(env, f, string(op), rest)
	}

	return nil, err.SemanticError{
		Problem: fmt.Sprintf("%s is not allowed inside a query body", op),
		Expr_:   f,
	}
}

// resolveSide classifies one equality operand: its operand when bound
// (or a literal), or the unbound variable name.
func (c *compiler) resolveSide(env *environ, x xpr.Expr) (op inst.Operand, unbound string, e err.Error) {
	if s, ok := x.(xpr.Symbol); ok {
		if s.Wildcard() {
			return inst.Any{}, "", nil
		}
		env.addDep(string(s))
		if r, ok := env.regs[string(s)]; ok {
			return r, "", nil
		}
		return nil, string(s), nil
	}
	if !xpr.Atom(x) {
		return nil, "", err.SemanticError{
			Problem: "expected an atom, got a compound expression",
			Expr_:   x,
		}
	}
	return inst.Const{Value: x}, "", nil
}

func (c *compiler) equality(env *environ, f xpr.Form, k cont) (inst.Sequence, err.Error) {

	a, aok := f.Keyword("a")
	b, bok := f.Keyword("b")
	if !aok || !bok {
		return nil, err.SyntaxError{
			Problem: "= requires two operands",
			Expr_:   f,
		}
	}

	aOp, aName, e := c.resolveSide(env, a)
	if e != nil {
		return nil, e
	}
	bOp, bName, e := c.resolveSide(env, b)
	if e != nil {
		return nil, e
	}

	switch {
	case aOp != nil && bOp != nil:
		rest, e := k()
		if e != nil {
			return nil, e
		}
		return append(inst.Sequence{inst.Filter{Op: "=", A: aOp, B: bOp}}, rest...), nil

	case aOp != nil:
		// compile-time unification, no instruction
		if e := env.bind(map[string]inst.Operand{bName: aOp}); e != nil {
			return nil, e
		}
		return k()

	case bOp != nil:
		if e := env.bind(map[string]inst.Operand{aName: bOp}); e != nil {
			return nil, e
		}
		return k()
	}

	return nil, err.SemanticError{
		Problem: "reordering necessary, not implemented",
		Expr_:   f,
	}
}

func (c *compiler) filterTerm(env *environ, f xpr.Form, op string, k cont) (inst.Sequence, err.Error) {
	a, aok := f.Keyword("a")
	b, bok := f.Keyword("b")
	if !aok || !bok {
		return nil, err.SyntaxError{
			Problem: op + " requires two operands",
			Expr_:   f,
		}
	}
	aOp, e := env.lookup(a)
	if e != nil {
		return nil, e
	}
	bOp, e := env.lookup(b)
	if e != nil {
		return nil, e
	}
	rest, e := k()
	if e != nil {
		return nil, e
	}
	return append(inst.Sequence{inst.Filter{Op: op, A: aOp, B: bOp}}, rest...), nil
}

// scanPositions are the fact positions addressable from a fact-btu
// form, in index position order.
var scanPositions = []Position{PosEntity, PosAttribute, PosValue, PosBag, PosTick}

// scan compiles a fact-btu/full-fact-btu term: index selection keyed
// by the set of bound positions, tuple assembly for the index's
// required inputs, the scan itself, filters re-checking bound output
// columns, fresh registers for unbound ones, and a deduplicating
// delta-e for the collapsed variant.
func (c *compiler) scan(env *environ, f xpr.Form, collapse bool, k cont) (inst.Sequence, err.Error) {

	var bound PositionSet
	vals := map[Position]inst.Operand{}
	toBind := map[Position]string{}
	wild := map[Position]bool{}

	for _, pos := range scanPositions {
		x, ok := f.Keyword(pos.String())
		if !ok {
			continue
		}
		if s, ok := x.(xpr.Symbol); ok {
			if s.Wildcard() {
				wild[pos] = true
				continue
			}
			env.addDep(string(s))
			if op, ok := env.regs[string(s)]; ok {
				bound = bound.With(pos)
				vals[pos] = op
			} else {
				toBind[pos] = string(s)
			}
			continue
		}
		if !xpr.Atom(x) {
			return nil, err.SemanticError{
				Problem: "expected an atom, got a compound expression",
				Expr_:   x,
			}
		}
		bound = bound.With(pos)
		vals[pos] = inst.Const{Value: x}
	}

	// an enclosing tick context pins otherwise unconstrained scans to
	// that point in time; an explicit tick argument or wildcard opts out
	if env.ambientTick != nil && !wild[PosTick] {
		if _, ok := vals[PosTick]; !ok {
			if _, ok := toBind[PosTick]; !ok {
				bound = bound.With(PosTick)
				vals[PosTick] = env.ambientTick
			}
		}
	}

	idx := c.store.IndexOf(bound)

	seq := inst.Sequence{}

	var src inst.Operand
	if len(idx.Inputs) > 0 {
		ins := make([]inst.Operand, 0, len(idx.Inputs))
		for _, pos := range idx.Inputs {
			op, ok := vals[pos]
			if !ok {
				return nil, err.SemanticError{
					Problem: fmt.Sprintf("index %s requires %s, which is not bound", idx.Name, pos),
					Expr_:   f,
				}
			}
			ins = append(ins, op)
		}
		var e err.Error
		if src, e = env.temp(); e != nil {
			return nil, e
		}
		seq = append(seq, inst.Tuple{Dest: src, Values: ins})
	}

	inputs := map[Position]bool{}
	for _, pos := range idx.Inputs {
		inputs[pos] = true
	}

	outs := make([]inst.Operand, len(idx.Outputs))
	for i := range idx.Outputs {
		r, e := env.temp()
		if e != nil {
			return nil, e
		}
		outs[i] = r
	}
	seq = append(seq, inst.Scan{Index: idx.Name, Source: src, Dest: outs})

	for i, pos := range idx.Outputs {
		if inputs[pos] {
			continue // already constrained by the index itself
		}
		if op, ok := vals[pos]; ok {
			seq = append(seq, inst.Filter{Op: "=", A: outs[i], B: op})
			continue
		}
		if name, ok := toBind[pos]; ok {
			if e := env.bind(map[string]inst.Operand{name: outs[i]}); e != nil {
				return nil, e
			}
		}
	}

	if collapse {
		seq = append(seq, inst.DeltaE{Regs: outs})
	}

	rest, e := k()
	if e != nil {
		return nil, e
	}
	return append(seq, rest...), nil
}

// negation compiles a not term: a child sharing the parent's current
// bindings, a body continuation that emits nothing, and a not
// instruction projected over the child's dependencies that the parent
// has bound.
func (c *compiler) negation(env *environ, f xpr.Form, k cont) (inst.Sequence, err.Error) {

	child := env.shared(env.name + ">not")

	body, e := c.conjunction(child, f.Args(), func() (inst.Sequence, err.Error) {
		return nil, nil
	})
	if e != nil {
		return nil, e
	}

	var proj []inst.Operand
	for _, n := range sortedNames(child.deps) {
		if env.boundName(n) {
			proj = append(proj, env.regs[n])
		}
	}
	env.mergeChild(child)

	rest, e := k()
	if e != nil {
		return nil, e
	}
	return append(inst.Sequence{inst.Not{Body: body, Projection: proj}}, rest...), nil
}

func sortedNames(set map[string]struct{}) []string {
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// context compiles its body with the ambient bag/tick rebound,
// restoring them before the continuation.
func (c *compiler) context(env *environ, f xpr.Form, k cont) (inst.Sequence, err.Error) {

	args := f.Args()
	i := 0
	oldBag, oldTick := env.ambientBag, env.ambientTick
	for i+1 < len(args) {
		kw, ok := args[i].(xpr.Keyword)
		if !ok {
			break
		}
		op, e := env.lookup(args[i+1])
		if e != nil {
			return nil, e
		}
		switch kw {
		case "bag":
			env.ambientBag = op
		case "tick":
			env.ambientTick = op
		}
		i += 2
	}

	return c.conjunction(env, args[i:], func() (inst.Sequence, err.Error) {
		env.ambientBag, env.ambientTick = oldBag, oldTick
		return k()
	})
}

// retOperand resolves a term's :return binding: an unbound variable
// gets a fresh register, anything else resolves as usual. Terms
// without a return slot produce no register.
func (c *compiler) retOperand(env *environ, f xpr.Form) (inst.Operand, err.Error) {
	x, ok := f.Keyword("return")
	if !ok {
		return nil, nil
	}
	if s, ok := x.(xpr.Symbol); ok && !s.Wildcard() && !env.boundName(string(s)) {
		return env.allocate(string(s))
	}
	return env.lookup(x)
}

// primitive compiles a single value-producing operation. Aggregation
// additionally emits a delta-c grouping boundary over the
// environment's currently bound variables.
func (c *compiler) primitive(env *environ, f xpr.Form, op string, aggregate bool, k cont) (inst.Sequence, err.Error) {

	var args []inst.Operand
	if op == "str" {
		if v, ok := f.Keyword("args"); ok {
			vec, ok := v.(xpr.Vec)
			if !ok {
				return nil, err.SyntaxError{
					Problem: "str arguments must be a sequence",
					Expr_:   f,
				}
			}
			for _, item := range vec {
				o, e := env.lookup(item)
				if e != nil {
					return nil, e
				}
				args = append(args, o)
			}
		}
	} else {
		for _, name := range []string{"a", "b"} {
			x, ok := f.Keyword(name)
			if !ok {
				continue
			}
			o, e := env.lookup(x)
			if e != nil {
				return nil, e
			}
			args = append(args, o)
		}
	}

	seq := inst.Sequence{}
	if aggregate {
		seq = append(seq, inst.DeltaC{Regs: env.boundRegisters()})
	}

	ret, e := c.retOperand(env, f)
	if e != nil {
		return nil, e
	}
	seq = append(seq, inst.Primitive{Op: op, Args: args, Return: ret})

	rest, e := k()
	if e != nil {
		return nil, e
	}
	return append(seq, rest...), nil
}

// sortTerm compiles a sort: a delta-c grouping boundary followed by
// the sort instruction itself.
func (c *compiler) sortTerm(env *environ, f xpr.Form, k cont) (inst.Sequence, err.Error) {

	seq := inst.Sequence{inst.DeltaC{Regs: env.boundRegisters()}}

	var pairs []inst.SortPair
	if v, ok := f.Keyword("sorting"); ok {
		vec, ok := v.(xpr.Vec)
		if !ok || len(vec)%2 != 0 {
			return nil, err.SyntaxError{
				Problem: "sorting must be a vector of variable/direction pairs",
				Expr_:   f,
			}
		}
		for i := 0; i < len(vec); i += 2 {
			op, e := env.lookup(vec[i])
			if e != nil {
				return nil, e
			}
			dir, ok := vec[i+1].(xpr.Keyword)
			if !ok {
				return nil, err.SyntaxError{
					Problem: "sorting direction must be a keyword",
					Expr_:   f,
				}
			}
			pairs = append(pairs, inst.SortPair{Value: op, Direction: string(dir)})
		}
	}

	ret, e := c.retOperand(env, f)
	if e != nil {
		return nil, e
	}
	seq = append(seq, inst.Sort{Pairs: pairs, Return: ret})

	rest, e := k()
	if e != nil {
		return nil, e
	}
	return append(seq, rest...), nil
}

// insert compiles an insert-fact-btu! term: tuple assembly of
// entity/attribute/value and the (possibly ambient) bag, the insert
// itself, and an optional register receiving the result tick.
func (c *compiler) insert(env *environ, f xpr.Form, k cont) (inst.Sequence, err.Error) {

	ops := make([]inst.Operand, 0, 4)
	for _, name := range []string{"entity", "attribute", "value"} {
		x, ok := f.Keyword(name)
		if !ok {
			return nil, err.ArgumentError{
				Problem:  "missing required argument",
				Argument: name,
				Operator: "insert-fact-btu!",
				Expr_:    f,
			}
		}
		op, e := env.lookup(x)
		if e != nil {
			return nil, e
		}
		ops = append(ops, op)
	}

	var bag inst.Operand
	if x, ok := f.Keyword("bag"); ok {
		op, e := env.lookup(x)
		if e != nil {
			return nil, e
		}
		bag = op
	} else if env.ambientBag != nil {
		bag = env.ambientBag
	} else {
		bag = inst.Const{Value: xpr.Null{}}
	}
	ops = append(ops, bag)

	var tick inst.Operand
	if x, ok := f.Keyword("tick"); ok {
		if s, ok := x.(xpr.Symbol); ok && !s.Wildcard() && !env.boundName(string(s)) {
			t, e := env.allocate(string(s))
			if e != nil {
				return nil, e
			}
			tick = t
		} else {
			t, e := env.lookup(x)
			if e != nil {
				return nil, e
			}
			tick = t
		}
	}

	dest, e := env.temp()
	if e != nil {
		return nil, e
	}
	seq := inst.Sequence{
		inst.Tuple{Dest: dest, Values: ops},
		inst.Insert{Source: dest, Tick: tick},
	}

	rest, e := k()
	if e != nil {
		return nil, e
	}
	return append(seq, rest...), nil
}

// call compiles a recursive rule call: one child environment and one
// block per currently defined arm, a fan-out send per arm, and a
// shared after-call block carrying the continuation. Arm labels derive
// from the rule name and the call's bound/free partition, so a
// recursive call inside an arm resolves to the arm blocks already
// under compilation instead of descending forever.
func (c *compiler) call(env *environ, f xpr.Form, name string, k cont) (inst.Sequence, err.Error) {

	params, ok := c.store.RuleSignature(name)
	if !ok {
		return nil, err.SemanticError{
			Problem: fmt.Sprintf("unknown operator: %s", name),
			Expr_:   f,
		}
	}

	callerArgs := map[string]xpr.Expr{}
	var present []string
	for _, p := range params {
		if x, ok := f.Keyword(p); ok {
			callerArgs[p] = x
			present = append(present, p)
		}
	}

	var ins, outs []string
	for _, p := range present {
		arg := callerArgs[p]
		if s, ok := arg.(xpr.Symbol); ok && !s.Wildcard() && !env.boundName(string(s)) {
			outs = append(outs, p)
			continue
		}
		ins = append(ins, p)
	}

	after := signature(env.name+">"+name+">after", ins, outs)

	armIdx := 0
	var armLabels []string

	count, e := c.store.RuleArms(name, func(armParams []string, body []xpr.Expr) err.Error {
		child, e := env.childFromCall(armParams, callerArgs, fmt.Sprintf("%s#%d", name, armIdx))
		armIdx++
		if e != nil {
			return e
		}
		armLabels = append(armLabels, child.name)

		if _, done := c.arms[child.name]; done {
			// structurally identical environment: reuse the block
			return nil
		}
		c.arms[child.name] = struct{}{}

		terms, e := c.prepareBody(body)
		if e != nil {
			return e
		}

		armSeq, e := c.conjunction(child, terms, func() (inst.Sequence, err.Error) {
			regs := make([]inst.Operand, 0, len(present))
			for _, p := range present {
				op, e := child.lookup(xpr.Symbol(p))
				if e != nil {
					return nil, e
				}
				regs = append(regs, op)
			}
			dest, e := child.temp()
			if e != nil {
				return nil, e
			}
			return inst.Sequence{
				inst.Tuple{Dest: dest, Values: regs},
				inst.Send{Target: after, Source: dest},
			}, nil
		})
		if e != nil {
			return e
		}

		env.mergeChild(child)
		env.record(child.name, armSeq)
		return nil
	})
	if e != nil {
		return nil, e
	}
	if count == 0 {
		return nil, err.ResourceError{
			Problem: "primitive not supported: " + name,
			Expr_:   f,
		}
	}

	// the call's outputs become bound for the continuation
	outNames := make([]string, 0, len(outs))
	for _, p := range outs {
		outNames = append(outNames, string(callerArgs[p].(xpr.Symbol)))
	}
	if e := env.bindFresh(outNames); e != nil {
		return nil, e
	}

	afterSeq, e := k()
	if e != nil {
		return nil, e
	}
	env.record(after, afterSeq)

	src, e := env.temp()
	if e != nil {
		return nil, e
	}
	insOps := make([]inst.Operand, 0, len(ins))
	for _, p := range ins {
		op, e := env.lookup(callerArgs[p])
		if e != nil {
			return nil, e
		}
		insOps = append(insOps, op)
	}

	seq := inst.Sequence{inst.Tuple{Dest: src, Values: insOps}}
	for _, label := range armLabels {
		seq = append(seq, inst.Send{Target: label, Source: src})
	}
	return seq, nil
}

// fanout compiles union and choose: one child environment and block
// per arm sending into a shared after block, which joins on the arm
// count before the continuation. In a choose, every arm after the
// first is guarded by the negation of all previous arms over a
// snapshot of the shared inner state.
func (c *compiler) fanout(env *environ, f xpr.Form, choose bool, k cont) (inst.Sequence, err.Error) {

	opname := "union"
	if choose {
		opname = "choose"
	}

	names, e := paramNames(f.Items[1].(xpr.Vec), f)
	if e != nil {
		return nil, e
	}

	var ins, outs []string
	for _, n := range names {
		if env.boundName(n) {
			ins = append(ins, n)
		} else {
			outs = append(outs, n)
		}
	}

	base := env.name + ">" + opname
	after := signature(base+">after", ins, outs)

	arms := f.Items[2:]
	if len(arms) == 0 {
		return nil, err.SemanticError{
			Problem: opname + " requires at least one arm",
			Expr_:   f,
		}
	}

	sendCont := func(child *environ) cont {
		return func() (inst.Sequence, err.Error) {
			regs := make([]inst.Operand, 0, len(names))
			for _, n := range names {
				op, e := child.lookup(xpr.Symbol(n))
				if e != nil {
					return nil, e
				}
				regs = append(regs, op)
			}
			dest, e := child.temp()
			if e != nil {
				return nil, e
			}
			return inst.Sequence{
				inst.Tuple{Dest: dest, Values: regs},
				inst.Send{Target: after, Source: dest},
			}, nil
		}
	}

	var armLabels []string
	var last *environ

	for i, arm := range arms {
		armForm, ok := xpr.FormOf(arm, "query")
		if !ok {
			return nil, err.SemanticError{
				Problem: opname + " arm must be a query",
				Expr_:   arm,
			}
		}
		body := armForm.Items[2:]
		armBase := fmt.Sprintf("%s#%d", base, i)

		child, e := env.child(names, armBase)
		if e != nil {
			return nil, e
		}

		seq := inst.Sequence{}
		if choose {
			// later arms see only the complement of earlier arms
			for j := 0; j < i; j++ {
				prev, ok := xpr.FormOf(arms[j], "query")
				if !ok {
					continue
				}
				guard := child.shared(fmt.Sprintf("%s~guard%d", armBase, j))
				guardSeq, e := c.conjunction(guard, prev.Items[2:], func() (inst.Sequence, err.Error) {
					return nil, nil
				})
				if e != nil {
					return nil, e
				}
				var proj []inst.Operand
				for _, n := range sortedNames(guard.deps) {
					if child.boundName(n) {
						proj = append(proj, child.regs[n])
					}
				}
				child.mergeChild(guard)
				seq = append(seq, inst.Not{Body: guardSeq, Projection: proj})
			}
		}

		bodySeq, e := c.conjunction(child, body, sendCont(child))
		if e != nil {
			return nil, e
		}
		seq = append(seq, bodySeq...)

		env.mergeChild(child)
		env.record(child.name, seq)
		armLabels = append(armLabels, child.name)
		last = child
	}

	// arm outputs become visible to the continuation
	if e := env.bindOutward(last); e != nil {
		return nil, e
	}

	afterSeq, e := k()
	if e != nil {
		return nil, e
	}
	env.record(after, append(inst.Sequence{inst.Join{Arity: len(arms)}}, afterSeq...))

	src, e := env.temp()
	if e != nil {
		return nil, e
	}
	insOps := make([]inst.Operand, 0, len(ins))
	for _, n := range ins {
		op, e := env.lookup(xpr.Symbol(n))
		if e != nil {
			return nil, e
		}
		insOps = append(insOps, op)
	}

	seq := inst.Sequence{inst.Tuple{Dest: src, Values: insOps}}
	for _, label := range armLabels {
		seq = append(seq, inst.Send{Target: label, Source: src})
	}
	return seq, nil
}
