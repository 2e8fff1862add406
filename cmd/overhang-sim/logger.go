// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// newLogger writes human-readable text when stderr is a terminal and
// JSON records when it is piped or redirected.
func newLogger(level slog.Level) *slog.Logger {
	return slog.New(newHandler(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), level))
}

func newHandler(w io.Writer, terminal bool, level slog.Level) slog.Handler {
	options := &slog.HandlerOptions{Level: level}
	if terminal {
		return slog.NewTextHandler(w, options)
	}
	return slog.NewJSONHandler(w, options)
}
