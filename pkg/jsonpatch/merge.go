// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package jsonpatch

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// ApplyMergePatch applies an RFC 7386 JSON Merge Patch to a serialized
// document. An empty patch returns the original unchanged.
func ApplyMergePatch(original, patch []byte) ([]byte, error) {
	if len(original) == 0 {
		return nil, fmt.Errorf("original document is empty")
	}
	if len(patch) == 0 {
		return original, nil
	}
	if !json.Valid(original) {
		return nil, fmt.Errorf("original document is not valid JSON")
	}
	if !json.Valid(patch) {
		return nil, fmt.Errorf("merge patch is not valid JSON")
	}

	merged, err := jsonpatch.MergePatch(original, patch)
	if err != nil {
		return nil, fmt.Errorf("failed to apply merge patch: %w", err)
	}
	return merged, nil
}
