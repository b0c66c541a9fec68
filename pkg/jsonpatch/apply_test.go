// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package jsonpatch

import (
	"encoding/json"
	"errors"
	"testing"
)

func mustDoc(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatalf("bad test document %s: %v", s, err)
	}
	return v
}

func applyTo(t *testing.T, doc string, patch string) (any, error) {
	t.Helper()
	p, err := DecodePatch([]byte(patch))
	if err != nil {
		t.Fatalf("DecodePatch(%s): %v", patch, err)
	}
	return p.Apply(mustDoc(t, doc))
}

func TestApplySuccess(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		patch string
		want  string
	}{
		{
			"add object key",
			`{"a":1}`,
			`[{"op":"add","path":"/b","value":2}]`,
			`{"a":1,"b":2}`,
		},
		{
			"add overwrites existing key",
			`{"a":1}`,
			`[{"op":"add","path":"/a","value":9}]`,
			`{"a":9}`,
		},
		{
			"add array append",
			`{"a":[1,2,3]}`,
			`[{"op":"add","path":"/a/-","value":4}]`,
			`{"a":[1,2,3,4]}`,
		},
		{
			"add array insert shifts",
			`{"a":[1,3]}`,
			`[{"op":"add","path":"/a/1","value":2}]`,
			`{"a":[1,2,3]}`,
		},
		{
			"add at array length",
			`{"a":[1]}`,
			`[{"op":"add","path":"/a/1","value":2}]`,
			`{"a":[1,2]}`,
		},
		{
			"add empty path replaces document",
			`{"a":1}`,
			`[{"op":"add","path":"","value":{"b":2}}]`,
			`{"b":2}`,
		},
		{
			"remove object key",
			`{"a":1,"b":2}`,
			`[{"op":"remove","path":"/b"}]`,
			`{"a":1}`,
		},
		{
			"remove array element shifts down",
			`{"a":[1,2,3]}`,
			`[{"op":"remove","path":"/a/0"}]`,
			`{"a":[2,3]}`,
		},
		{
			"removeIfExists present",
			`{"a":1,"b":2}`,
			`[{"op":"removeIfExists","path":"/b"}]`,
			`{"a":1}`,
		},
		{
			"removeIfExists missing is a no-op",
			`{"a":1}`,
			`[{"op":"removeIfExists","path":"/b"}]`,
			`{"a":1}`,
		},
		{
			"removeIfExists missing parent is a no-op",
			`{"a":1}`,
			`[{"op":"removeIfExists","path":"/x/y/z"}]`,
			`{"a":1}`,
		},
		{
			"replace scalar",
			`{"a":1}`,
			`[{"op":"replace","path":"/a","value":2}]`,
			`{"a":2}`,
		},
		{
			"replace whole document",
			`{"a":1}`,
			`[{"op":"replace","path":"","value":[1,2]}]`,
			`[1,2]`,
		},
		{
			"test then replace",
			`{"a":1}`,
			`[{"op":"test","path":"/a","value":1},{"op":"replace","path":"/a","value":2}]`,
			`{"a":2}`,
		},
		{
			"test numeric equality across representations",
			`{"a":1}`,
			`[{"op":"test","path":"/a","value":1.0}]`,
			`{"a":1}`,
		},
		{
			"test null value",
			`{"a":null}`,
			`[{"op":"test","path":"/a","value":null}]`,
			`{"a":null}`,
		},
		{
			"testAbsence of missing node",
			`{"a":1}`,
			`[{"op":"testAbsence","path":"/b"}]`,
			`{"a":1}`,
		},
		{
			"safeReplace",
			`{"a":1}`,
			`[{"op":"safeReplace","path":"/a","oldValue":1,"newValue":2}]`,
			`{"a":2}`,
		},
		{
			"copy deep clones",
			`{"a":{"k":1}}`,
			`[{"op":"copy","from":"/a","path":"/b"},{"op":"replace","path":"/b/k","value":9}]`,
			`{"a":{"k":1},"b":{"k":9}}`,
		},
		{
			"copy within array keeps source",
			`{"a":[1,2,3]}`,
			`[{"op":"copy","from":"/a/0","path":"/a/3"}]`,
			`{"a":[1,2,3,1]}`,
		},
		{
			"move within same array",
			`{"a":[1,2,3]}`,
			`[{"op":"move","from":"/a/0","path":"/a/2"}]`,
			`{"a":[2,3,1]}`,
		},
		{
			"move to array end",
			`{"a":[1,2,3]}`,
			`[{"op":"move","from":"/a/0","path":"/a/-"}]`,
			`{"a":[2,3,1]}`,
		},
		{
			"move between containers",
			`{"a":{"x":1},"b":{}}`,
			`[{"op":"move","from":"/a/x","path":"/b/y"}]`,
			`{"a":{},"b":{"y":1}}`,
		},
		{
			"move to itself is a no-op",
			`{"a":1}`,
			`[{"op":"move","from":"/a","path":"/a"}]`,
			`{"a":1}`,
		},
		{
			"escaped pointer tokens",
			`{"a/b":1,"m~n":2}`,
			`[{"op":"remove","path":"/a~1b"},{"op":"replace","path":"/m~0n","value":3}]`,
			`{"m~n":3}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := applyTo(t, tt.doc, tt.patch)
			if err != nil {
				t.Fatalf("Apply failed: %v", err)
			}
			if !equalJSON(got, mustDoc(t, tt.want)) {
				gotJSON, _ := json.Marshal(got)
				t.Errorf("Apply = %s, want %s", gotJSON, tt.want)
			}
		})
	}
}

func TestApplyConflicts(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		patch   string
		pointer string
	}{
		{"add to missing parent", `{"a":1}`, `[{"op":"add","path":"/x/y","value":1}]`, "/x"},
		{"add to scalar parent", `{"a":1}`, `[{"op":"add","path":"/a/b","value":1}]`, "/a"},
		{"add array index past length", `{"a":[1]}`, `[{"op":"add","path":"/a/2","value":9}]`, "/a/2"},
		{"add array index leading zero", `{"a":[1,2]}`, `[{"op":"add","path":"/a/01","value":9}]`, "/a/01"},
		{"add negative array index", `{"a":[1]}`, `[{"op":"add","path":"/a/-1","value":9}]`, "/a/-1"},
		{"remove missing key", `{"a":1}`, `[{"op":"remove","path":"/b"}]`, "/b"},
		{"remove root", `{"a":1}`, `[{"op":"remove","path":""}]`, ""},
		{"remove array end token", `{"a":[1]}`, `[{"op":"remove","path":"/a/-"}]`, "/a/-"},
		{"remove array index out of range", `{"a":[1]}`, `[{"op":"remove","path":"/a/1"}]`, "/a/1"},
		{"replace missing target", `{"a":1}`, `[{"op":"replace","path":"/b","value":1}]`, "/b"},
		{"copy from missing", `{"a":1}`, `[{"op":"copy","from":"/b","path":"/c"}]`, "/b"},
		{"move into itself", `{"a":{"b":1}}`, `[{"op":"move","from":"/a","path":"/a/b"}]`, "/a"},
		{"move from missing", `{"a":1}`, `[{"op":"move","from":"/b","path":"/c"}]`, "/b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := applyTo(t, tt.doc, tt.patch)
			if err == nil {
				t.Fatal("expected conflict")
			}
			var conflict *ConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("error type = %T (%v), want *ConflictError", err, err)
			}
			if got := conflict.Pointer.String(); got != tt.pointer {
				t.Errorf("conflict pointer = %q, want %q", got, tt.pointer)
			}
		})
	}
}

func TestApplyTestFailures(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		patch     string
		hasActual bool
	}{
		{"test wrong value", `{"a":1}`, `[{"op":"test","path":"/a","value":9}]`, true},
		{"test missing target", `{"a":1}`, `[{"op":"test","path":"/b","value":9}]`, false},
		{"testAbsence of present node", `{"a":1}`, `[{"op":"testAbsence","path":"/a"}]`, true},
		{"safeReplace stale oldValue", `{"a":2}`, `[{"op":"safeReplace","path":"/a","oldValue":1,"newValue":3}]`, true},
		{"safeReplace missing target", `{}`, `[{"op":"safeReplace","path":"/a","oldValue":1,"newValue":3}]`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := applyTo(t, tt.doc, tt.patch)
			if err == nil {
				t.Fatal("expected test failure")
			}
			var failed *TestFailedError
			if !errors.As(err, &failed) {
				t.Fatalf("error type = %T (%v), want *TestFailedError", err, err)
			}
			if failed.HasActual != tt.hasActual {
				t.Errorf("HasActual = %v, want %v", failed.HasActual, tt.hasActual)
			}
		})
	}
}

func TestApplyIsAtomic(t *testing.T) {
	doc := mustDoc(t, `{"a":1,"b":[1,2,3]}`)

	p, err := DecodePatch([]byte(`[
		{"op":"replace","path":"/a","value":99},
		{"op":"remove","path":"/b/1"},
		{"op":"test","path":"/a","value":1}
	]`))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.Apply(doc); err == nil {
		t.Fatal("patch should fail on the final test")
	}

	// The caller's document is untouched even though two operations
	// succeeded before the failure.
	if !equalJSON(doc, mustDoc(t, `{"a":1,"b":[1,2,3]}`)) {
		got, _ := json.Marshal(doc)
		t.Errorf("input document was mutated: %s", got)
	}
}

func TestApplyDoesNotMutateInputOnSuccess(t *testing.T) {
	doc := mustDoc(t, `{"a":{"b":1}}`)

	p := Patch{{Op: OpReplace, Path: "/a/b", Value: 2}}
	out, err := p.Apply(doc)
	if err != nil {
		t.Fatal(err)
	}
	if !equalJSON(doc, mustDoc(t, `{"a":{"b":1}}`)) {
		t.Error("input document was mutated")
	}
	if !equalJSON(out, mustDoc(t, `{"a":{"b":2}}`)) {
		t.Error("output document is wrong")
	}
}

func TestApplyBytes(t *testing.T) {
	p := Patch{{Op: OpAdd, Path: "/b", Value: 2}}
	out, err := ApplyBytes([]byte(`{"a":1}`), p)
	if err != nil {
		t.Fatal(err)
	}
	if !equalJSON(mustDoc(t, string(out)), mustDoc(t, `{"a":1,"b":2}`)) {
		t.Errorf("ApplyBytes = %s", out)
	}

	if _, err := ApplyBytes(nil, p); err == nil {
		t.Error("empty document should be rejected")
	}
	if _, err := ApplyBytes([]byte(`{`), p); err == nil {
		t.Error("invalid document should be rejected")
	}
}

func TestApplyMergePatch(t *testing.T) {
	out, err := ApplyMergePatch([]byte(`{"a":1,"b":2}`), []byte(`{"b":null,"c":3}`))
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatal(err)
	}
	if _, exists := got["b"]; exists {
		t.Error("b should be removed by null")
	}
	if got["a"] != float64(1) || got["c"] != float64(3) {
		t.Errorf("merged = %v", got)
	}
}
