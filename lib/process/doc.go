// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for overhang
// commands. Fatal covers the one legitimate raw write to stderr: an
// error from run() that may predate the structured logger.
package process
