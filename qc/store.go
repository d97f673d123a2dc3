// Copyright 2019 sift.run. All rights reserved.
// Use of this source code is governed by an AGPL license that can be found in the LICENSE file.
package qc

import (
	"fmt"

	"github.com/siftdb/sift/qc/err"
	"github.com/siftdb/sift/qc/xpr"
)

// Position identifies one attribute slot of a stored fact.
type Position int

const (
	PosEntity Position = iota
	PosAttribute
	PosValue
	PosBag
	PosTick
	PosUser

	PositionCount = 6
)

var positionNames = [PositionCount]string{
	"entity", "attribute", "value", "bag", "tick", "user",
}

func (p Position) String() string {
	if p < 0 || int(p) >= PositionCount {
		return fmt.Sprintf("position(%d)", int(p))
	}
	return positionNames[p]
}

// PositionSet is a set of fact positions, used to key index selection.
// Index selection must be a pure function of this set.
type PositionSet uint8

func (s PositionSet) Has(p Position) bool {
	return s&(1<<uint(p)) != 0
}

func (s PositionSet) With(p Position) PositionSet {
	return s | 1<<uint(p)
}

func (s PositionSet) Empty() bool {
	return s == 0
}

// Index describes a physical index chosen for a scan: the positions
// it requires as scan input and the positions it yields as output.
type Index struct {
	Name    string
	Inputs  []Position
	Outputs []Position
}

// Store is the compiler's view of the external fact/rule store. Both
// calls must reflect a consistent snapshot for the duration of one
// top-level compile.
type Store interface {
	// IndexOf selects the physical index to scan given which
	// positions are bound at the scan site.
	IndexOf(bound PositionSet) Index

	// RuleArms invokes f once per currently defined arm of the
	// named rule and reports how many arms exist.
	RuleArms(name string, f func(params []string, body []xpr.Expr) err.Error) (int, err.Error)

	// RuleSignature returns the declared parameter names of a
	// previously defined rule.
	RuleSignature(name string) ([]string, bool)
}

// RuleWriter is the registering side of the rule store, used by
// Define to install the arms of a define! form.
type RuleWriter interface {
	Store
	DefineRule(name string, params []string, body []xpr.Expr) err.Error
}
