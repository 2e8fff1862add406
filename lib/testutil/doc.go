// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for overhang packages.
//
// [RequireReceive], [RequireSend], [RequireClosed], and
// [RequireNoReceive] encapsulate the timeout safety valve pattern
// (select with time.After fallback) so that individual tests do not
// need direct time.After calls. Lock and state machine tests use them
// to assert that a goroutine is blocked, then that it proceeds once the
// blocker is released. These are the only place in the test suite
// where real wall-clock timeouts are used.
//
// [UniqueName] generates monotonically increasing names for test
// disambiguation, such as material names that must differ between
// fragments of one test.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no overhang-internal dependencies.
package testutil
