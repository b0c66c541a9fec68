// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

// Package conditional implements RFC 7232 conditional requests over
// repository revisions: a document's ETag is its revision, so If-Match
// gives writers optimistic concurrency against the commit log and
// If-None-Match lets readers skip unchanged content.
//
// Usage:
//
//	etag := conditional.RevisionETag(head)
//	if conditional.CheckConditional(w, r, etag) {
//	    return // 304 or 412 already sent
//	}
package conditional

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ikhoon/centraldogma/pkg/revision"
)

// RevisionETag renders a revision as a strong entity tag.
func RevisionETag(rev revision.Revision) string {
	return fmt.Sprintf(`"%s"`, rev.String())
}

// ParseETag strips the weak prefix and surrounding quotes from an
// entity tag.
func ParseETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}

// ETagRevision parses the revision carried by an entity tag.
func ETagRevision(etag string) (revision.Revision, error) {
	return revision.Parse(ParseETag(etag))
}

// MatchesETag reports whether the If-Match/If-None-Match header value
// matches the given entity tag. "*" matches anything; comma-separated
// lists match if any member matches.
func MatchesETag(header, etag string) bool {
	if header == "*" {
		return true
	}
	want := ParseETag(etag)
	for _, tag := range strings.Split(header, ",") {
		if ParseETag(strings.TrimSpace(tag)) == want {
			return true
		}
	}
	return false
}

// CheckConditional evaluates If-Match and If-None-Match against the
// current entity tag and sends the precondition response when one
// applies. It returns true when a response was written: 412 for a
// failed If-Match, 304 (GET/HEAD) or 412 (otherwise) for a matching
// If-None-Match.
func CheckConditional(w http.ResponseWriter, r *http.Request, etag string) bool {
	if ifMatch := r.Header.Get("If-Match"); ifMatch != "" {
		if !MatchesETag(ifMatch, etag) {
			w.WriteHeader(http.StatusPreconditionFailed)
			return true
		}
	}

	if ifNoneMatch := r.Header.Get("If-None-Match"); ifNoneMatch != "" {
		if MatchesETag(ifNoneMatch, etag) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				w.Header().Set("ETag", etag)
				w.WriteHeader(http.StatusNotModified)
				return true
			}
			w.WriteHeader(http.StatusPreconditionFailed)
			return true
		}
	}

	return false
}

// SetETag sets the ETag header on a response.
func SetETag(w http.ResponseWriter, etag string) {
	w.Header().Set("ETag", etag)
}
