// Copyright 2019 sift.run. All rights reserved.
// Use of this source code is governed by an AGPL license that can be found in the LICENSE file.
package definitions

const (
	// RetractionMarker is the reserved fact value that marks a
	// previously asserted fact as removed.
	RetractionMarker = `sift:remove`

	// RetractionAttribute links a tick to its retraction fact.
	RetractionAttribute = `sift:retracted`

	// MainBlock is the label of the entry instruction block of
	// every compiled program.
	MainBlock = `main`

	// OutputSink is the block label the main block delivers its
	// final projection to.
	OutputSink = `out`

	// ReturnName is the variable introduced by the if-expression
	// desugaring and by return-slot unification.
	ReturnName = `return`

	// FrameSize is the number of primary registers available to a
	// single instruction block.
	FrameSize = 16

	// OverflowRegister is the frame index addressing the overflow
	// extension once the primary registers are exhausted.
	OverflowRegister = FrameSize

	// OverflowSize is the slot capacity of the single overflow
	// extension. Allocation past it is a fatal compile error.
	OverflowSize = 64

	FactBucket = `FactBucket`
	RuleBucket = `RuleBucket`
)

var (
	FactBucketBytes = []byte(FactBucket)
	RuleBucketBytes = []byte(RuleBucket)
)
