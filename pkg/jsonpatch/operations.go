// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

// Package jsonpatch applies RFC 6902 JSON Patch documents, extended with
// the removeIfExists, safeReplace and testAbsence operations, to decoded
// JSON values.
//
// A patch is an ordered list of operations and is applied atomically:
// either every operation succeeds and a new document is returned, or the
// patch fails as a whole and the caller's document is untouched. Failures
// carry the offending JSON Pointer so they can be surfaced to clients.
//
// Usage:
//
//	patch, err := jsonpatch.DecodePatch(body)
//	updated, err := patch.Apply(document)
//
// The package also exposes RFC 7386 JSON Merge Patch via ApplyMergePatch
// for callers that prefer the simpler merge format.
package jsonpatch

import (
	"encoding/json"
	"fmt"
)

// Op discriminates the operation kinds of a patch.
type Op string

// The RFC 6902 operations plus the three extensions.
const (
	OpAdd            Op = "add"
	OpCopy           Op = "copy"
	OpMove           Op = "move"
	OpRemove         Op = "remove"
	OpRemoveIfExists Op = "removeIfExists"
	OpReplace        Op = "replace"
	OpSafeReplace    Op = "safeReplace"
	OpTest           Op = "test"
	OpTestAbsence    Op = "testAbsence"
)

var knownOps = map[Op]bool{
	OpAdd: true, OpCopy: true, OpMove: true, OpRemove: true,
	OpRemoveIfExists: true, OpReplace: true, OpSafeReplace: true,
	OpTest: true, OpTestAbsence: true,
}

// Valid reports whether o is a recognized operation discriminator.
func (o Op) Valid() bool {
	return knownOps[o]
}

// Operation is a single patch operation. It is a pure description and
// holds no state; which fields are meaningful depends on Op:
//
//	add, replace, test      path, value
//	remove, removeIfExists  path
//	testAbsence             path
//	copy, move              path, from
//	safeReplace             path, oldValue, newValue
type Operation struct {
	Op       Op
	Path     string
	From     string
	Value    any
	OldValue any
	NewValue any
}

// Patch is an ordered sequence of operations.
type Patch []Operation

// wireOperation is the JSON shape of an operation. Pointer-typed value
// fields let MarshalJSON emit an explicit null while omitting members the
// operation kind does not carry. On decode a JSON null leaves such a
// field nil, so UnmarshalJSON reads member presence separately.
type wireOperation struct {
	Op       Op               `json:"op"`
	Path     *string          `json:"path"`
	From     *string          `json:"from,omitempty"`
	Value    *json.RawMessage `json:"value,omitempty"`
	OldValue *json.RawMessage `json:"oldValue,omitempty"`
	NewValue *json.RawMessage `json:"newValue,omitempty"`
}

// MarshalJSON encodes the operation with only the members its kind
// carries, emitting explicit nulls for null values.
func (o Operation) MarshalJSON() ([]byte, error) {
	w := wireOperation{Op: o.Op, Path: &o.Path}

	rawOf := func(v any) (*json.RawMessage, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw := json.RawMessage(b)
		return &raw, nil
	}

	var err error
	switch o.Op {
	case OpAdd, OpReplace, OpTest:
		if w.Value, err = rawOf(o.Value); err != nil {
			return nil, err
		}
	case OpCopy, OpMove:
		w.From = &o.From
	case OpSafeReplace:
		if w.OldValue, err = rawOf(o.OldValue); err != nil {
			return nil, err
		}
		if w.NewValue, err = rawOf(o.NewValue); err != nil {
			return nil, err
		}
	case OpRemove, OpRemoveIfExists, OpTestAbsence:
		// Path only.
	default:
		return nil, fmt.Errorf("unknown patch operation %q", o.Op)
	}

	return json.Marshal(w)
}

// UnmarshalJSON decodes one operation object. Unknown members are
// ignored; an unknown "op" discriminator or a missing required member is
// an error.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var w wireOperation
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if !w.Op.Valid() {
		return fmt.Errorf("unknown patch operation %q", w.Op)
	}
	if w.Path == nil {
		return fmt.Errorf("%s operation is missing \"path\"", w.Op)
	}

	// A JSON null leaves a pointer field nil, so presence of the value
	// members is read from the raw member map instead of from w.
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}

	decode := func(member string) (any, error) {
		raw, ok := members[member]
		if !ok {
			return nil, fmt.Errorf("%s operation is missing %q", w.Op, member)
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	}

	out := Operation{Op: w.Op, Path: *w.Path}
	var err error
	switch w.Op {
	case OpAdd, OpReplace, OpTest:
		if out.Value, err = decode("value"); err != nil {
			return err
		}
	case OpCopy, OpMove:
		if w.From == nil {
			return fmt.Errorf("%s operation is missing \"from\"", w.Op)
		}
		out.From = *w.From
	case OpSafeReplace:
		if out.OldValue, err = decode("oldValue"); err != nil {
			return err
		}
		if out.NewValue, err = decode("newValue"); err != nil {
			return err
		}
	}

	*o = out
	return nil
}

// DecodePatch parses the wire form of a patch: a JSON array of operation
// objects. Operations with unknown "op" values are rejected.
func DecodePatch(data []byte) (Patch, error) {
	var p Patch
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid JSON patch: %w", err)
	}
	return p, nil
}

// Encode renders the patch in its wire form.
func (p Patch) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// Equal reports sequence equality of two patches. Operation values are
// compared as JSON values, so 1 and 1.0 are equal.
func (p Patch) Equal(other Patch) bool {
	if len(p) != len(other) {
		return false
	}
	for i, op := range p {
		o := other[i]
		if op.Op != o.Op || op.Path != o.Path || op.From != o.From {
			return false
		}
		if !equalJSON(op.Value, o.Value) ||
			!equalJSON(op.OldValue, o.OldValue) ||
			!equalJSON(op.NewValue, o.NewValue) {
			return false
		}
	}
	return true
}
