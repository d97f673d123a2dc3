// Copyright 2019 sift.run. All rights reserved.
// Use of this source code is governed by an AGPL license that can be found in the LICENSE file.
package qc

import (
	"fmt"
	"testing"

	"github.com/siftdb/sift/definitions"
	"github.com/siftdb/sift/qc/err"
	"github.com/siftdb/sift/qc/inst"
	"github.com/siftdb/sift/qc/xpr"
)

func TestAllocate(t *testing.T) {
	env := newRoot(&genctx{}, nil)
	seen := map[inst.Operand]string{}
	for i := 0; i < definitions.FrameSize; i++ {
		name := fmt.Sprintf("v%d", i)
		op, e := env.allocate(name)
		if e != nil {
			t.Fatalf("%v", e)
		}
		r, ok := op.(inst.Reg)
		if !ok || int(r) != i {
			t.Fatalf("variable %d: %#v", i, op)
		}
		if prev, ok := seen[op]; ok {
			t.Fatalf("register reused: %s and %s", prev, name)
		}
		seen[op] = name
	}

	// the 17th allocation routes to the overflow extension
	op, e := env.allocate("spill")
	if e != nil {
		t.Fatalf("%v", e)
	}
	ov, ok := op.(inst.Overflow)
	if !ok || ov.Frame != definitions.OverflowRegister || ov.Slot != 0 {
		t.Fatalf("%#v", op)
	}
}

func TestAllocateExhaustion(t *testing.T) {
	env := newRoot(&genctx{}, nil)
	for i := 0; i < definitions.FrameSize+definitions.OverflowSize; i++ {
		if _, e := env.allocate(fmt.Sprintf("v%d", i)); e != nil {
			t.Fatalf("variable %d: %v", i, e)
		}
	}
	_, e := env.allocate("one-too-many")
	if e == nil {
		t.Fatal("expected overflow exhaustion error")
	}
	if _, ok := e.(err.ResourceError); !ok {
		t.Fatalf("%#v", e)
	}
}

func TestSignature(t *testing.T) {
	{
		s := signature("main>union", []string{"b", "a"}, []string{"c"})
		if s != "main>union|a,b|c" {
			t.Fatalf("case 1: %s", s)
		}
	}
	{
		// order of the input sets must not matter
		a := signature("r", []string{"x", "y"}, nil)
		b := signature("r", []string{"y", "x"}, nil)
		if a != b {
			t.Fatalf("case 2: %s != %s", a, b)
		}
	}
}

func TestChild(t *testing.T) {
	parent := newRoot(&genctx{}, nil)
	if _, e := parent.allocate("x"); e != nil {
		t.Fatalf("%v", e)
	}

	child, e := parent.child([]string{"x", "y"}, "main>union#0")
	if e != nil {
		t.Fatalf("%v", e)
	}
	if child.name != "main>union#0|x|y" {
		t.Fatalf("%s", child.name)
	}
	// inputs are allocated on entry, outputs are not
	if !child.boundName("x") {
		t.Fatal("input not bound in child")
	}
	if child.boundName("y") {
		t.Fatal("output bound prematurely")
	}
	// the child frame is fresh
	if op := child.regs["x"]; op != inst.Operand(inst.Reg(0)) {
		t.Fatalf("%#v", op)
	}
}

func TestSharedSnapshot(t *testing.T) {
	parent := newRoot(&genctx{}, nil)
	parent.allocate("x")

	snap := parent.shared("main>not")
	if !snap.boundName("x") {
		t.Fatal("shared child lost parent binding")
	}
	snap.bind(map[string]inst.Operand{"y": inst.Reg(5)})
	if parent.boundName("y") {
		t.Fatal("binding leaked back into parent")
	}
}

func TestLookupOperand(t *testing.T) {
	env := newRoot(&genctx{}, nil)
	env.allocate("x")
	{
		op, e := env.lookup(xpr.Symbol("x"))
		if e != nil {
			t.Fatalf("case 1: %v", e)
		}
		if op != inst.Operand(inst.Reg(0)) {
			t.Fatalf("case 1: %#v", op)
		}
	}
	{
		if _, e := env.lookup(xpr.Symbol("nope")); e == nil {
			t.Fatal("case 2: expected unbound name error")
		}
	}
	{
		op, e := env.lookup(xpr.Symbol("_"))
		if e != nil {
			t.Fatalf("case 3: %v", e)
		}
		if _, ok := op.(inst.Any); !ok {
			t.Fatalf("case 3: %#v", op)
		}
	}
	{
		op, e := env.lookup(xpr.Int(42))
		if e != nil {
			t.Fatalf("case 4: %v", e)
		}
		c, ok := op.(inst.Const)
		if !ok || !c.Value.Equals(xpr.Int(42)) {
			t.Fatalf("case 4: %#v", op)
		}
	}
}

func TestBindOutward(t *testing.T) {
	parent := newRoot(&genctx{}, nil)
	child, e := parent.child([]string{"y"}, "main>union#0")
	if e != nil {
		t.Fatalf("%v", e)
	}
	if e := parent.bindOutward(child); e != nil {
		t.Fatalf("%v", e)
	}
	if !parent.boundName("y") {
		t.Fatal("output not propagated to parent")
	}
}

func TestRecordDedupe(t *testing.T) {
	env := newRoot(&genctx{}, nil)
	first := inst.Sequence{inst.Join{Arity: 2}}
	env.record("r|a|b", first)
	env.record("r|a|b", inst.Sequence{inst.Join{Arity: 3}})
	if len(env.blocks) != 1 {
		t.Fatalf("expected one block, got %d", len(env.blocks))
	}
	if env.blocks[0].Code[0].(inst.Join).Arity != 2 {
		t.Fatal("first-recorded block must win")
	}
}
