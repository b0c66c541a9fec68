// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package jsonpatch

import (
	"encoding/json"
	"fmt"

	"github.com/ikhoon/centraldogma/pkg/jsonpointer"
)

// Apply runs every operation of the patch, in order, against a working
// copy of doc and returns the resulting document. The input document is
// never mutated: on the first failing operation the error is returned
// and the caller observes no partial effect.
//
// Errors are *ConflictError for structural conflicts and
// *TestFailedError for failed test, testAbsence and safeReplace
// preconditions.
func (p Patch) Apply(doc any) (any, error) {
	work, err := deepCopy(doc)
	if err != nil {
		return nil, fmt.Errorf("document is not a JSON value: %w", err)
	}
	for _, op := range p {
		work, err = applyOperation(work, op)
		if err != nil {
			return nil, err
		}
	}
	return work, nil
}

// ApplyBytes is Apply over serialized documents.
func ApplyBytes(doc []byte, p Patch) ([]byte, error) {
	if len(doc) == 0 {
		return nil, fmt.Errorf("document is empty")
	}
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, fmt.Errorf("document is not valid JSON: %w", err)
	}
	out, err := p.Apply(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func applyOperation(doc any, op Operation) (any, error) {
	path, err := jsonpointer.Parse(op.Path)
	if err != nil {
		return nil, &ConflictError{Reason: err.Error()}
	}

	switch op.Op {
	case OpAdd:
		value, err := deepCopy(op.Value)
		if err != nil {
			return nil, &ConflictError{Pointer: path, Reason: err.Error()}
		}
		return addValue(doc, path, value)

	case OpRemove:
		return removeValue(doc, path, true)

	case OpRemoveIfExists:
		return removeValue(doc, path, false)

	case OpReplace:
		value, err := deepCopy(op.Value)
		if err != nil {
			return nil, &ConflictError{Pointer: path, Reason: err.Error()}
		}
		return updateAt(doc, path, func(any) (any, error) {
			return value, nil
		})

	case OpTest:
		expected, err := deepCopy(op.Value)
		if err != nil {
			return nil, &ConflictError{Pointer: path, Reason: err.Error()}
		}
		actual, ok := jsonpointer.At(doc, path)
		if !ok {
			return nil, &TestFailedError{Pointer: path, Expected: expected}
		}
		if !equalJSON(actual, expected) {
			return nil, &TestFailedError{Pointer: path, Expected: expected, Actual: actual, HasActual: true}
		}
		return doc, nil

	case OpTestAbsence:
		actual, ok := jsonpointer.At(doc, path)
		if ok {
			return nil, &TestFailedError{Pointer: path, Actual: actual, HasActual: true, ExpectAbsent: true}
		}
		return doc, nil

	case OpSafeReplace:
		oldValue, err := deepCopy(op.OldValue)
		if err != nil {
			return nil, &ConflictError{Pointer: path, Reason: err.Error()}
		}
		actual, ok := jsonpointer.At(doc, path)
		if !ok {
			return nil, &TestFailedError{Pointer: path, Expected: oldValue}
		}
		if !equalJSON(actual, oldValue) {
			return nil, &TestFailedError{Pointer: path, Expected: oldValue, Actual: actual, HasActual: true}
		}
		newValue, err := deepCopy(op.NewValue)
		if err != nil {
			return nil, &ConflictError{Pointer: path, Reason: err.Error()}
		}
		return updateAt(doc, path, func(any) (any, error) {
			return newValue, nil
		})

	case OpCopy:
		from, err := jsonpointer.Parse(op.From)
		if err != nil {
			return nil, &ConflictError{Reason: err.Error()}
		}
		src, ok := jsonpointer.At(doc, from)
		if !ok {
			return nil, &ConflictError{Pointer: from, Reason: "no such node"}
		}
		copied, err := deepCopy(src)
		if err != nil {
			return nil, &ConflictError{Pointer: from, Reason: err.Error()}
		}
		return addValue(doc, path, copied)

	case OpMove:
		from, err := jsonpointer.Parse(op.From)
		if err != nil {
			return nil, &ConflictError{Reason: err.Error()}
		}
		if from.String() == path.String() {
			return doc, nil
		}
		if path.HasPrefix(from) {
			return nil, &ConflictError{Pointer: from, Reason: fmt.Sprintf("cannot move a node into itself (%q)", path.String())}
		}
		src, ok := jsonpointer.At(doc, from)
		if !ok {
			return nil, &ConflictError{Pointer: from, Reason: "no such node"}
		}
		doc, err = removeValue(doc, from, true)
		if err != nil {
			return nil, err
		}
		return addValue(doc, path, src)

	default:
		return nil, &ConflictError{Pointer: path, Reason: fmt.Sprintf("unknown patch operation %q", op.Op)}
	}
}

// updateAt walks to the node at ptr and replaces it with the result of
// fn. The walk requires every token on the way to resolve; a failure
// names the deepest pointer that could not be resolved.
func updateAt(doc any, ptr jsonpointer.Pointer, fn func(any) (any, error)) (any, error) {
	return updateRec(doc, ptr, 0, fn)
}

func updateRec(node any, ptr jsonpointer.Pointer, depth int, fn func(any) (any, error)) (any, error) {
	if depth == len(ptr) {
		return fn(node)
	}
	tok := ptr[depth]
	switch v := node.(type) {
	case map[string]any:
		child, ok := v[tok]
		if !ok {
			return nil, &ConflictError{Pointer: ptr[:depth+1], Reason: "no such node"}
		}
		nc, err := updateRec(child, ptr, depth+1, fn)
		if err != nil {
			return nil, err
		}
		v[tok] = nc
		return v, nil
	case []any:
		idx, err := jsonpointer.ParseArrayIndex(tok)
		if err != nil {
			return nil, &ConflictError{Pointer: ptr[:depth+1], Reason: err.Error()}
		}
		if idx >= len(v) {
			return nil, &ConflictError{Pointer: ptr[:depth+1], Reason: fmt.Sprintf("array index %d out of range [0, %d)", idx, len(v))}
		}
		nc, err := updateRec(v[idx], ptr, depth+1, fn)
		if err != nil {
			return nil, err
		}
		v[idx] = nc
		return v, nil
	default:
		return nil, &ConflictError{Pointer: ptr[:depth], Reason: "not a container"}
	}
}

// addValue inserts value at path. The parent must exist and be a
// container; the empty path replaces the whole document.
func addValue(doc any, path jsonpointer.Pointer, value any) (any, error) {
	if path.IsRoot() {
		return value, nil
	}
	parent, last := path.Parent(), path.Last()
	return updateAt(doc, parent, func(node any) (any, error) {
		switch c := node.(type) {
		case map[string]any:
			c[last] = value
			return c, nil
		case []any:
			if last == jsonpointer.EndToken {
				return append(c, value), nil
			}
			idx, err := jsonpointer.ParseArrayIndex(last)
			if err != nil {
				return nil, &ConflictError{Pointer: path, Reason: err.Error()}
			}
			if idx > len(c) {
				return nil, &ConflictError{Pointer: path, Reason: fmt.Sprintf("array index %d out of range [0, %d]", idx, len(c))}
			}
			c = append(c, nil)
			copy(c[idx+1:], c[idx:])
			c[idx] = value
			return c, nil
		default:
			return nil, &ConflictError{Pointer: parent, Reason: "parent is not a container"}
		}
	})
}

// removeValue deletes the node at path. With mustExist false a missing
// target is a no-op; the root can never be removed.
func removeValue(doc any, path jsonpointer.Pointer, mustExist bool) (any, error) {
	if path.IsRoot() {
		return nil, &ConflictError{Pointer: path, Reason: "cannot remove the root"}
	}
	if !mustExist {
		if _, ok := jsonpointer.At(doc, path); !ok {
			return doc, nil
		}
	}
	parent, last := path.Parent(), path.Last()
	return updateAt(doc, parent, func(node any) (any, error) {
		switch c := node.(type) {
		case map[string]any:
			if _, ok := c[last]; !ok {
				return nil, &ConflictError{Pointer: path, Reason: "no such node"}
			}
			delete(c, last)
			return c, nil
		case []any:
			idx, err := jsonpointer.ParseArrayIndex(last)
			if err != nil {
				return nil, &ConflictError{Pointer: path, Reason: err.Error()}
			}
			if idx >= len(c) {
				return nil, &ConflictError{Pointer: path, Reason: fmt.Sprintf("array index %d out of range [0, %d)", idx, len(c))}
			}
			return append(c[:idx], c[idx+1:]...), nil
		default:
			return nil, &ConflictError{Pointer: parent, Reason: "parent is not a container"}
		}
	})
}
