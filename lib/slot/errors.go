// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package slot

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is the sentinel for every state violation.
// Match it with errors.Is, or extract the details with errors.As:
//
//	var transitionErr *TransitionError
//	if errors.As(err, &transitionErr) {
//	    logger.Warn("slot busy", "operation", transitionErr.Operation, "state", transitionErr.State)
//	}
var ErrInvalidTransition = errors.New("slot: invalid state transition")

// TransitionError describes an operation requested in a state that
// does not allow it.
type TransitionError struct {
	// Operation is the request that was refused, e.g. "loading".
	Operation string
	// State is the state the slot was in.
	State State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("slot: %s not allowed in state %s", e.Operation, e.State)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// IsTransitionError reports whether err is a *TransitionError for
// operation.
func IsTransitionError(err error, operation string) bool {
	var transitionErr *TransitionError
	if errors.As(err, &transitionErr) {
		return transitionErr.Operation == operation
	}
	return false
}
