// Copyright 2019 sift.run. All rights reserved.
// Use of this source code is governed by an AGPL license that can be found in the LICENSE file.
package xpr

// Op is the closed set of built-in operators. Anything else is a
// call to a user-defined rule (or an unknown operator).
type Op int

const (
	OpUserRule Op = iota // fallback: not a built-in

	OpQuery
	OpUnion
	OpChoose
	OpNot
	OpContext
	OpDefine

	OpFact
	OpInsertFact
	OpRemoveFact
	OpRemoveByT
	OpFactBTU
	OpFullFactBTU
	OpInsertFactBTU

	OpIf
	OpDefineUI

	OpEqual
	OpNotEqual
	OpLess
	OpGreater
	OpLessEqual
	OpGreaterEqual

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpStr
	OpHash
	OpSum
	OpSort
)

var opNames = map[Op]string{
	OpQuery:         "query",
	OpUnion:         "union",
	OpChoose:        "choose",
	OpNot:           "not",
	OpContext:       "context",
	OpDefine:        "define!",
	OpFact:          "fact",
	OpInsertFact:    "insert-fact!",
	OpRemoveFact:    "remove-fact!",
	OpRemoveByT:     "remove-by-t!",
	OpFactBTU:       "fact-btu",
	OpFullFactBTU:   "full-fact-btu",
	OpInsertFactBTU: "insert-fact-btu!",
	OpIf:            "if",
	OpDefineUI:      "define-ui",
	OpEqual:         "=",
	OpNotEqual:      "not=",
	OpLess:          "<",
	OpGreater:       ">",
	OpLessEqual:     "<=",
	OpGreaterEqual:  ">=",
	OpAdd:           "+",
	OpSub:           "-",
	OpMul:           "*",
	OpDiv:           "/",
	OpStr:           "str",
	OpHash:          "hash",
	OpSum:           "sum",
	OpSort:          "sort",
}

var opsByName = func() map[string]Op {
	m := make(map[string]Op, len(opNames))
	for op, name := range opNames {
		m[name] = op
	}
	return m
}()

// OperatorOf maps a head symbol to its built-in operator, or
// OpUserRule when the name is not built in.
func OperatorOf(name Symbol) Op {
	if op, ok := opsByName[string(name)]; ok {
		return op
	}
	return OpUserRule
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return "user-rule"
}

// Filter reports whether o is a binary filter operator.
func (o Op) Filter() bool {
	switch o {
	case OpEqual, OpNotEqual, OpLess, OpGreater, OpLessEqual, OpGreaterEqual:
		return true
	}
	return false
}
