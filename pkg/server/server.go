// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

// Package server exposes the repository over HTTP: content reads and
// commits under /api/v1/contents, and long-poll watches under
// /api/v1/watch.
//
// The watch endpoint translates registry futures into long-poll
// responses: the caller's baseline and pattern become a registry watch,
// the Prefer: wait header arms a deadline, and expiry cancels the watch
// and answers 304. Patch conflicts from commits surface as 409 with the
// offending JSON Pointer in the body; registry closure surfaces as 503.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ikhoon/centraldogma/pkg/conditional"
	"github.com/ikhoon/centraldogma/pkg/jsonpatch"
	"github.com/ikhoon/centraldogma/pkg/revision"
	"github.com/ikhoon/centraldogma/pkg/storage"
	"github.com/ikhoon/centraldogma/pkg/watch"
)

const (
	contentsPrefix = "/api/v1/contents"
	watchPrefix    = "/api/v1/watch"

	// MediaTypeJSONPatch is the RFC 6902 request content type.
	MediaTypeJSONPatch = "application/json-patch+json"
	// MediaTypeMergePatch is the RFC 7386 request content type.
	MediaTypeMergePatch = "application/merge-patch+json"
)

// Config holds the HTTP-facing settings.
type Config struct {
	DefaultWatchTimeout time.Duration
	MaxWatchTimeout     time.Duration
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		DefaultWatchTimeout: 1 * time.Minute,
		MaxWatchTimeout:     2 * time.Minute,
	}
}

// Server wires the repository and the watch registry to HTTP handlers.
type Server struct {
	cfg      Config
	repo     *storage.Repository
	registry *watch.Registry
	validate *validator.Validate
	logger   *zap.Logger
}

// New creates a Server.
func New(cfg Config, repo *storage.Repository, registry *watch.Registry, logger *zap.Logger) *Server {
	if cfg.DefaultWatchTimeout <= 0 {
		cfg.DefaultWatchTimeout = DefaultConfig().DefaultWatchTimeout
	}
	if cfg.MaxWatchTimeout <= 0 {
		cfg.MaxWatchTimeout = DefaultConfig().MaxWatchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		repo:     repo,
		registry: registry,
		validate: validator.New(),
		logger:   logger,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(contentsPrefix+"/", s.handleContents)
	mux.HandleFunc(watchPrefix+"/", s.handleWatch)
	return mux
}

type errorBody struct {
	Kind    string `json:"kind"`
	Pointer string `json:"pointer,omitempty"`
	Reason  string `json:"reason"`
}

type revisionBody struct {
	Revision revision.Revision `json:"revision"`
}

type commitBody struct {
	Revision revision.Revision `json:"revision"`
	ID       string            `json:"id"`
}

func (s *Server) handleContents(w http.ResponseWriter, r *http.Request) {
	path := "/" + strings.TrimPrefix(r.URL.Path, contentsPrefix+"/")

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.handleGetContent(w, r, path)
	case http.MethodPost:
		s.handlePostContent(w, r, path)
	case http.MethodDelete:
		s.handleDeleteContent(w, r, path)
	default:
		w.Header().Set("Allow", "GET, HEAD, POST, DELETE")
		writeError(w, http.StatusMethodNotAllowed, errorBody{Kind: "methodNotAllowed", Reason: r.Method})
	}
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request, path string) {
	rev := revision.Head
	if q := r.URL.Query().Get("revision"); q != "" {
		parsed, err := revision.Parse(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, errorBody{Kind: "invalidRevision", Reason: err.Error()})
			return
		}
		rev = parsed
	}

	resolved := rev.Resolve(s.repo.Head())
	etag := conditional.RevisionETag(resolved)
	if conditional.CheckConditional(w, r, etag) {
		return
	}

	doc, err := s.repo.Get(r.Context(), path, rev)
	if err != nil {
		s.writeStorageError(w, err)
		return
	}

	conditional.SetETag(w, etag)
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handlePostContent(w http.ResponseWriter, r *http.Request, path string) {
	// Optimistic concurrency: If-Match pins the head revision the
	// writer based its change on.
	if conditional.CheckConditional(w, r, conditional.RevisionETag(s.repo.Head())) {
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Kind: "invalidContent", Reason: err.Error()})
		return
	}

	change, errResp := buildChange(r, path, data)
	if errResp != nil {
		writeError(w, http.StatusBadRequest, *errResp)
		return
	}

	summary := r.URL.Query().Get("summary")
	if summary == "" {
		summary = fmt.Sprintf("update %s", path)
	}

	commit, err := s.repo.Commit(r.Context(), summary, []storage.Change{change})
	if err != nil {
		s.writeCommitError(w, err)
		return
	}

	conditional.SetETag(w, conditional.RevisionETag(commit.Revision))
	writeJSON(w, http.StatusOK, commitBody{Revision: commit.Revision, ID: commit.ID})
}

func buildChange(r *http.Request, path string, data []byte) (storage.Change, *errorBody) {
	contentType := r.Header.Get("Content-Type")
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	contentType = strings.TrimSpace(strings.ToLower(contentType))

	switch contentType {
	case MediaTypeJSONPatch:
		patch, err := jsonpatch.DecodePatch(data)
		if err != nil {
			return storage.Change{}, &errorBody{Kind: "invalidPatch", Reason: err.Error()}
		}
		return storage.Change{Type: storage.ChangePatch, Path: path, Patch: patch}, nil

	case MediaTypeMergePatch:
		if !json.Valid(data) {
			return storage.Change{}, &errorBody{Kind: "invalidPatch", Reason: "merge patch is not valid JSON"}
		}
		return storage.Change{Type: storage.ChangeMergePatch, Path: path, MergePatch: data}, nil

	default:
		var content any
		if err := json.Unmarshal(data, &content); err != nil {
			return storage.Change{}, &errorBody{Kind: "invalidContent", Reason: err.Error()}
		}
		return storage.Change{Type: storage.ChangeUpsert, Path: path, Content: content}, nil
	}
}

func (s *Server) handleDeleteContent(w http.ResponseWriter, r *http.Request, path string) {
	if conditional.CheckConditional(w, r, conditional.RevisionETag(s.repo.Head())) {
		return
	}

	summary := r.URL.Query().Get("summary")
	if summary == "" {
		summary = fmt.Sprintf("remove %s", path)
	}

	commit, err := s.repo.Commit(r.Context(), summary, []storage.Change{
		{Type: storage.ChangeRemove, Path: path},
	})
	if err != nil {
		s.writeCommitError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commitBody{Revision: commit.Revision, ID: commit.ID})
}

// watchRequest is the validated shape of a watch call.
type watchRequest struct {
	Pattern string `validate:"required,startswith=/"`
	Timeout time.Duration
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, errorBody{Kind: "methodNotAllowed", Reason: r.Method})
		return
	}

	req := watchRequest{
		Pattern: "/" + strings.TrimPrefix(r.URL.Path, watchPrefix+"/"),
		Timeout: s.watchTimeout(r),
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Kind: "invalidWatch", Reason: err.Error()})
		return
	}

	baseline := revision.Head
	if q := r.URL.Query().Get("lastKnownRevision"); q != "" {
		parsed, err := revision.Parse(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, errorBody{Kind: "invalidRevision", Reason: err.Error()})
			return
		}
		baseline = parsed
	}
	baseline = baseline.Resolve(s.repo.Head())

	future, err := s.registry.Add(baseline, req.Pattern)
	if err != nil {
		var closed *watch.ClosedError
		if errors.As(err, &closed) {
			writeError(w, http.StatusServiceUnavailable, errorBody{Kind: "registryClosed", Reason: closed.Error()})
			return
		}
		writeError(w, http.StatusBadRequest, errorBody{Kind: "invalidWatch", Reason: err.Error()})
		return
	}

	// The timeout is the caller's: it bounds the future, not the
	// registry. Expiry cancels the watch so the registry can unlink it.
	ctx, cancel := context.WithTimeout(r.Context(), req.Timeout)
	defer cancel()

	rev, err := future.Get(ctx)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, revisionBody{Revision: rev})
	case errors.Is(err, context.DeadlineExceeded):
		future.Cancel()
		w.WriteHeader(http.StatusNotModified)
	case errors.Is(err, context.Canceled):
		// Client went away; nothing to answer.
		future.Cancel()
	default:
		var closed *watch.ClosedError
		if errors.As(err, &closed) {
			writeError(w, http.StatusServiceUnavailable, errorBody{Kind: "registryClosed", Reason: closed.Error()})
			return
		}
		writeError(w, http.StatusInternalServerError, errorBody{Kind: "internal", Reason: err.Error()})
	}
}

// watchTimeout reads the Prefer: wait=N header, clamped to the
// configured maximum.
func (s *Server) watchTimeout(r *http.Request) time.Duration {
	for _, pref := range strings.Split(r.Header.Get("Prefer"), ",") {
		pref = strings.TrimSpace(pref)
		if !strings.HasPrefix(pref, "wait=") {
			continue
		}
		secs, err := strconv.Atoi(strings.TrimPrefix(pref, "wait="))
		if err != nil || secs <= 0 {
			break
		}
		timeout := time.Duration(secs) * time.Second
		if timeout > s.cfg.MaxWatchTimeout {
			return s.cfg.MaxWatchTimeout
		}
		return timeout
	}
	return s.cfg.DefaultWatchTimeout
}

func (s *Server) writeCommitError(w http.ResponseWriter, err error) {
	var conflict *jsonpatch.ConflictError
	if errors.As(err, &conflict) {
		writeError(w, http.StatusConflict, errorBody{
			Kind:    "conflict",
			Pointer: conflict.Pointer.String(),
			Reason:  conflict.Reason,
		})
		return
	}
	var failed *jsonpatch.TestFailedError
	if errors.As(err, &failed) {
		writeError(w, http.StatusConflict, errorBody{
			Kind:    "testFailed",
			Pointer: failed.Pointer.String(),
			Reason:  failed.Error(),
		})
		return
	}
	s.writeStorageError(w, err)
}

func (s *Server) writeStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, errorBody{Kind: "notFound", Reason: err.Error()})
	case errors.Is(err, storage.ErrRevisionNotFound):
		writeError(w, http.StatusNotFound, errorBody{Kind: "revisionNotFound", Reason: err.Error()})
	case errors.Is(err, storage.ErrEmptyCommit):
		writeError(w, http.StatusBadRequest, errorBody{Kind: "emptyCommit", Reason: err.Error()})
	case errors.Is(err, storage.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, errorBody{Kind: "repositoryClosed", Reason: err.Error()})
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, errorBody{Kind: "internal", Reason: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, body)
}
