// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package minato

import (
	"net/http"
	"strings"

	"github.com/infinite-iroha/minato/davpath"
)

func (s *Server) handleCopyMove(dc *davContext) (int, error) {
	if err := dc.checkMutable(); err != nil {
		return 0, err
	}
	isMove := dc.method() == "MOVE"

	rawDest := dc.c.GetReqHeader("Destination")
	if rawDest == "" {
		return 0, errMessage(http.StatusBadRequest, "missing Destination header")
	}
	destPath, err := stripHost(rawDest, dc.c.Request.Host)
	if err != nil {
		return 0, err
	}
	destShare, destRel, err := s.resolve(destPath)
	if err != nil {
		return 0, errMessage(http.StatusBadRequest, "unresolvable Destination: %v", err)
	}
	if destShare != dc.share {
		// Authentication is share-scoped, so transfers never cross
		// share boundaries.
		return 0, errMessage(http.StatusBadRequest, "source and destination are on different shares")
	}
	destRef := destShare.Ref(destRel)
	if destRef == dc.ref {
		return 0, errMessage(http.StatusForbidden, "source and destination are the same resource")
	}
	if davpath.InTree(destRel, dc.rel) || davpath.InTree(dc.rel, destRel) {
		return 0, errMessage(http.StatusConflict, "source and destination overlap")
	}

	depth := parseDepth(dc.c.GetReqHeader("Depth"), depthInfinity)
	if isMove && depth != depthInfinity {
		return 0, errMessage(http.StatusBadRequest, "MOVE is always Depth: infinity")
	}
	if !isMove && depth != depthInfinity && depth != depthZero {
		return 0, errMessage(http.StatusBadRequest, "COPY allows Depth 0 or infinity")
	}

	overwrite, ok := parseOverwrite(dc.c.GetReqHeader("Overwrite"))
	if !ok {
		return 0, errMessage(http.StatusBadRequest, "bad Overwrite header")
	}

	srcRes, err := dc.stat(dc.rel)
	if err != nil {
		return 0, mapError(err)
	}
	if srcRes == nil {
		return http.StatusNotFound, nil
	}
	if status := checkHTTPPreconditions(dc, srcRes); status != 0 {
		return status, nil
	}

	destRes, err := dc.stat(destRel)
	if err != nil {
		return 0, mapError(err)
	}
	existed := destRes != nil
	if existed && !overwrite {
		return http.StatusPreconditionFailed, nil
	}
	destParent, err := dc.stat(davpath.Parent(destRel))
	if err != nil {
		return 0, mapError(err)
	}
	if destParent == nil || !destParent.IsCollection() {
		return 0, errMessage(http.StatusConflict, "destination parent is not a collection")
	}

	// The destination subtree is mutated either way; MOVE also deletes
	// the source subtree.
	if err := s.requireLockTokens(dc, destRef, true); err != nil {
		return 0, err
	}
	if isMove {
		if err := s.requireLockTokens(dc, dc.ref, true); err != nil {
			return 0, err
		}
	}

	if existed {
		failures, err := s.deleteTree(dc, destRel)
		if err != nil {
			return 0, err
		}
		if len(failures) > 0 {
			writeMultistatus(dc.c.Writer, failures)
			return 0, nil
		}
	}

	var failures []msResponse
	if isMove {
		failures, err = s.moveTree(dc, dc.rel, destRel)
	} else {
		failures, err = s.copyTree(dc, dc.rel, destRel, depth == depthInfinity)
	}
	if err != nil {
		return 0, err
	}
	if len(failures) > 0 {
		writeMultistatus(dc.c.Writer, failures)
		return 0, nil
	}
	if existed {
		return http.StatusNoContent, nil
	}
	return http.StatusCreated, nil
}

// rebase maps a source-relative path into the destination subtree.
func rebase(rel, srcRoot, dstRoot string) string {
	if rel == srcRoot {
		return dstRoot
	}
	return davpath.Join(dstRoot, strings.TrimPrefix(rel, srcRoot))
}

// copyTree duplicates a subtree and its dead properties. Locks are never
// copied. With deep false only the root resource is copied.
func (s *Server) copyTree(dc *davContext, srcRel, dstRel string, deep bool) ([]msResponse, error) {
	entries, err := dc.listTree(srcRel)
	if err != nil {
		return nil, mapError(err)
	}
	if !deep && len(entries) > 0 {
		entries = entries[:1]
	}

	var failures []msResponse
	var failedPaths []string
	for _, e := range entries {
		// Children of a collection that failed to copy cannot succeed;
		// reporting each would drown the real failure.
		blocked := false
		for _, f := range failedPaths {
			if davpath.InTree(e.rel, f) {
				blocked = true
				break
			}
		}
		if blocked {
			continue
		}
		target := rebase(e.rel, srcRel, dstRel)
		if err := dc.share.Provider.CopyTo(dc.ctx(), e.rel, target); err != nil {
			failedPaths = append(failedPaths, e.rel)
			failures = append(failures, msResponse{
				href:   dc.share.Ref(e.rel),
				status: mapError(err).Status,
			})
			continue
		}
		if err := s.props.CopyAll(dc.share.Ref(e.rel), dc.share.Ref(target)); err != nil {
			return nil, mapError(err)
		}
		if err := s.locks.CoverInherited(dc.share.Ref(target)); err != nil {
			return nil, mapError(err)
		}
	}
	return failures, nil
}

// moveTree relocates a subtree. Providers with a native rename get one
// atomic call; otherwise the engine copies then deletes, which leaves the
// copied prefix behind on mid-way failure and reports it per resource.
// Dead properties are re-keyed; locks rooted in the source die with it.
func (s *Server) moveTree(dc *davContext, srcRel, dstRel string) ([]msResponse, error) {
	entries, err := dc.listTree(srcRel)
	if err != nil {
		return nil, mapError(err)
	}

	if renamer, ok := dc.share.Provider.(Renamer); ok {
		if err := renamer.Rename(dc.ctx(), srcRel, dstRel); err != nil {
			return nil, mapError(err)
		}
		for _, e := range entries {
			oldRef := dc.share.Ref(e.rel)
			newRef := dc.share.Ref(rebase(e.rel, srcRel, dstRel))
			if err := s.props.MoveAll(oldRef, newRef); err != nil {
				return nil, mapError(err)
			}
			if err := s.locks.Uncover(oldRef); err != nil {
				return nil, mapError(err)
			}
			if err := s.locks.CoverInherited(newRef); err != nil {
				return nil, mapError(err)
			}
		}
		return nil, nil
	}

	// copyTree already duplicated the dead properties onto the
	// destination; deleting the source purges the old keys.
	failures, err := s.copyTree(dc, srcRel, dstRel, true)
	if err != nil || len(failures) > 0 {
		return failures, err
	}
	return s.deleteTree(dc, srcRel)
}
