// Copyright 2019 sift.run. All rights reserved.
// Use of this source code is governed by an AGPL license that can be found in the LICENSE file.
package err

import (
	"github.com/siftdb/sift/qc/xpr"
)

// Error is the interface of all compile errors. Every error is fatal
// to the current compile: a failed compile produces no instruction
// blocks and no side effects.
type Error interface {
	Error() string  // proxy to String (implements error)
	String() string // human readable string
	Expr() xpr.Expr // smallest enclosing expression, may be nil
	Child() Error   // may be nil
}
