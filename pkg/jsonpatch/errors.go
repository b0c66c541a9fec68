// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package jsonpatch

import (
	"encoding/json"
	"fmt"

	"github.com/ikhoon/centraldogma/pkg/jsonpointer"
)

// ConflictError reports a structural conflict while applying a patch: a
// missing node, a non-container parent, an out-of-range array index, or
// a move whose source contains its destination.
type ConflictError struct {
	Pointer jsonpointer.Pointer
	Reason  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("json patch conflict at %q: %s", e.Pointer.String(), e.Reason)
}

// TestFailedError reports a failed test, testAbsence or safeReplace
// precondition. Expected is the value the operation required (nil for
// testAbsence); Actual is the value found, with HasActual false when the
// target was missing.
type TestFailedError struct {
	Pointer      jsonpointer.Pointer
	Expected     any
	Actual       any
	HasActual    bool
	ExpectAbsent bool
}

func (e *TestFailedError) Error() string {
	if e.ExpectAbsent {
		return fmt.Sprintf("json patch test failed at %q: expected absence but found %s",
			e.Pointer.String(), compactJSON(e.Actual))
	}
	if !e.HasActual {
		return fmt.Sprintf("json patch test failed at %q: expected %s but the node is missing",
			e.Pointer.String(), compactJSON(e.Expected))
	}
	return fmt.Sprintf("json patch test failed at %q: expected %s but found %s",
		e.Pointer.String(), compactJSON(e.Expected), compactJSON(e.Actual))
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
