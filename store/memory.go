// Copyright 2019 sift.run. All rights reserved.
// Use of this source code is governed by an AGPL license that can be found in the LICENSE file.

// Package store provides the compiler's schema and index backends: a
// transient in-memory store and a persistent bolt-backed one, sharing
// a binary expression codec and a physical index catalog.
package store

import (
	"fmt"

	"github.com/siftdb/sift/qc"
	"github.com/siftdb/sift/qc/err"
	"github.com/siftdb/sift/qc/xpr"
)

type arm struct {
	params []string
	body   []xpr.Expr
}

// Memory is a transient store. Rule definition order is preserved.
type Memory struct {
	rules map[string][]arm
	names []string
}

func NewMemory() *Memory {
	return &Memory{rules: map[string][]arm{}}
}

func (m *Memory) IndexOf(bound qc.PositionSet) qc.Index {
	return SelectIndex(bound)
}

func (m *Memory) DefineRule(name string, params []string, body []xpr.Expr) err.Error {
	if existing, ok := m.rules[name]; ok {
		if e := checkSignature(name, existing[0].params, params); e != nil {
			return e
		}
	} else {
		m.names = append(m.names, name)
	}
	m.rules[name] = append(m.rules[name], arm{
		params: append([]string(nil), params...),
		body:   append([]xpr.Expr(nil), body...),
	})
	return nil
}

func (m *Memory) RuleArms(name string, f func(params []string, body []xpr.Expr) err.Error) (int, err.Error) {
	arms := m.rules[name]
	for _, a := range arms {
		if e := f(a.params, a.body); e != nil {
			return 0, e
		}
	}
	return len(arms), nil
}

func (m *Memory) RuleSignature(name string) ([]string, bool) {
	arms, ok := m.rules[name]
	if !ok {
		return nil, false
	}
	return arms[0].params, true
}

// checkSignature requires every arm of a rule to declare the same
// parameter list.
func checkSignature(name string, declared, params []string) err.Error {
	mismatch := len(declared) != len(params)
	if !mismatch {
		for i := range declared {
			if declared[i] != params[i] {
				mismatch = true
				break
			}
		}
	}
	if mismatch {
		return err.SemanticError{
			Problem: fmt.Sprintf("rule %s: arm parameters %v do not match declared signature %v", name, params, declared),
		}
	}
	return nil
}
