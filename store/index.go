// Copyright 2019 sift.run. All rights reserved.
// Use of this source code is governed by an AGPL license that can be found in the LICENSE file.
package store

import (
	"github.com/siftdb/sift/qc"
)

// catalog lists the physical fact indexes in preference order. Every
// index covers all positions; the position order determines which
// bound-position sets it can serve as a prefix.
var catalog = [][]qc.Position{
	{qc.PosEntity, qc.PosAttribute, qc.PosValue, qc.PosBag, qc.PosTick},
	{qc.PosAttribute, qc.PosValue, qc.PosEntity, qc.PosBag, qc.PosTick},
	{qc.PosValue, qc.PosAttribute, qc.PosEntity, qc.PosBag, qc.PosTick},
	{qc.PosTick, qc.PosEntity, qc.PosAttribute, qc.PosValue, qc.PosBag},
	{qc.PosBag, qc.PosAttribute, qc.PosEntity, qc.PosValue, qc.PosTick},
}

func indexName(order []qc.Position) string {
	n := ""
	for _, p := range order {
		n += p.String()[:1]
	}
	return n
}

// SelectIndex is a pure function of the bound-position set: it picks
// the catalog index with the longest fully bound prefix, earlier
// entries winning ties. An empty set selects the first index with no
// inputs, i.e. a full scan.
func SelectIndex(bound qc.PositionSet) qc.Index {

	best, bestLen := catalog[0], 0
	for _, order := range catalog {
		n := 0
		for _, p := range order {
			if !bound.Has(p) {
				break
			}
			n++
		}
		if n > bestLen {
			best, bestLen = order, n
		}
	}

	outputs := make([]qc.Position, 0, len(best)+1)
	outputs = append(outputs, best...)
	outputs = append(outputs, qc.PosUser)

	return qc.Index{
		Name:    indexName(best),
		Inputs:  append([]qc.Position(nil), best[:bestLen]...),
		Outputs: outputs,
	}
}
