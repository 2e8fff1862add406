// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueName returns a string of the form "prefix-N" where N is a
// monotonically increasing integer.
//
//	material := testutil.UniqueName("rock")  // "rock-1", "rock-2", ...
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, uniqueCounter.Add(1))
}
