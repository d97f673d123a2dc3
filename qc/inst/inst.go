// Copyright 2019 sift.run. All rights reserved.
// Use of this source code is governed by an AGPL license that can be found in the LICENSE file.
package inst

import (
	"github.com/siftdb/sift/qc/xpr"
)

// The instruction set is the fixed contract consumed by the dataflow
// execution engine. The compiler reproduces it exactly; it does not
// define its runtime semantics.

type Instruction interface {
	_inst() // private interface
}

type Sequence []Instruction

// Operand addresses a value at runtime: a plain register index into
// the current frame, an [overflowFrame, slot] pair once the primary
// frame is exhausted, an inline constant, or the don't-care marker.
type Operand interface {
	_operand()
}

// Reg is a plain index into the current register frame.
type Reg int

// Overflow addresses a slot of the overflow extension held at
// register Frame.
type Overflow struct {
	Frame int
	Slot  int
}

// Const is a literal operand.
type Const struct {
	Value xpr.Expr
}

// Any is the don't-care operand produced by the wildcard symbol.
type Any struct{}

func (Reg) _operand()      {}
func (Overflow) _operand() {}
func (Const) _operand()    {}
func (Any) _operand()      {}

// Tuple assembles Values into a single tuple at Dest.
type Tuple struct {
	Dest   Operand
	Values []Operand
}

// Scan walks the named index. Source is the assembled input tuple
// (nil when the index requires no inputs); Dest receives one register
// per produced output position, in the index's output order.
type Scan struct {
	Index  string
	Source Operand
	Dest   []Operand
}

// Filter is a generic binary test.
type Filter struct {
	Op   string
	A, B Operand
}

// Join waits for exactly Arity contributions before continuing.
type Join struct {
	Arity int
}

// Not wraps a nested body checked for emptiness, parameterized by the
// projected free-variable registers.
type Not struct {
	Body       Sequence
	Projection []Operand
}

// Send transfers Source to the block labeled Target.
type Send struct {
	Target string
	Source Operand
}

// Insert writes the fact tuple at Source to the store. Tick, when
// non-nil, receives the insert's resulting tick.
type Insert struct {
	Source Operand
	Tick   Operand
}

// DeltaC marks a grouping boundary over the given registers before an
// aggregate or sort executes.
type DeltaC struct {
	Regs []Operand
}

// DeltaE deduplicates scan results, collapsing a fact to its value at
// a point in time.
type DeltaE struct {
	Regs []Operand
}

// Primitive is a single value-producing operation (+ - * / hash str
// sum). Return may be nil when the result is unused.
type Primitive struct {
	Op     string
	Args   []Operand
	Return Operand
}

// SortPair is one variable/direction pair of a Sort.
type SortPair struct {
	Value     Operand
	Direction string // "ascending" or "descending"
}

// Sort orders the current group by its pairs.
type Sort struct {
	Pairs  []SortPair
	Return Operand
}

func (Tuple) _inst()     {}
func (Scan) _inst()      {}
func (Filter) _inst()    {}
func (Join) _inst()      {}
func (Not) _inst()       {}
func (Send) _inst()      {}
func (Insert) _inst()    {}
func (DeltaC) _inst()    {}
func (DeltaE) _inst()    {}
func (Primitive) _inst() {}
func (Sort) _inst()      {}
func (Sequence) _inst()  {}

// Block is a named, independently addressable instruction sequence.
type Block struct {
	Label string
	Code  Sequence
}

// Program is the ordered set of named blocks produced by one compile.
type Program struct {
	Blocks []Block
}

// Block returns the block with the given label.
func (p Program) Block(label string) (Block, bool) {
	for _, b := range p.Blocks {
		if b.Label == label {
			return b, true
		}
	}
	return Block{}, false
}
