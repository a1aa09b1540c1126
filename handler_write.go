// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package minato

import (
	"net/http"

	"github.com/WJQSERVER-STUDIO/go-utils/iox"

	"github.com/infinite-iroha/minato/davpath"
)

func (s *Server) handlePut(dc *davContext) (int, error) {
	if err := dc.checkMutable(); err != nil {
		return 0, err
	}
	if dc.c.GetReqHeader("Content-Encoding") != "" || dc.c.GetReqHeader("Content-Range") != "" {
		return 0, errMessage(http.StatusNotImplemented, "PUT with Content-Encoding or Content-Range is not supported")
	}

	res, err := dc.stat(dc.rel)
	if err != nil {
		return 0, mapError(err)
	}
	if res != nil && res.IsCollection() {
		return 0, errMessage(http.StatusBadRequest, "PUT target is a collection")
	}
	parent, err := dc.stat(davpath.Parent(dc.rel))
	if err != nil {
		return 0, mapError(err)
	}
	if parent == nil || !parent.IsCollection() {
		return 0, errMessage(http.StatusConflict, "PUT parent is not a collection")
	}

	if status := checkHTTPPreconditions(dc, res); status != 0 {
		return status, nil
	}
	if err := s.requireLockTokens(dc, dc.ref, false); err != nil {
		return 0, err
	}

	w, err := dc.share.Provider.OpenWrite(dc.ctx(), dc.rel, dc.c.GetReqHeader("Content-Type"))
	if err != nil {
		return 0, mapError(err)
	}
	if _, err := iox.Copy(w, dc.c.Request.Body); err != nil {
		w.Close()
		return 0, errMessage(http.StatusInternalServerError, "writing request body: %v", err)
	}
	if err := w.Close(); err != nil {
		return 0, mapError(err)
	}

	if res == nil {
		// A resource born inside an infinite-depth lock root inherits
		// the lock.
		if err := s.locks.CoverInherited(dc.ref); err != nil {
			return 0, mapError(err)
		}
		return http.StatusCreated, nil
	}
	return http.StatusNoContent, nil
}

func (s *Server) handleMkcol(dc *davContext) (int, error) {
	if err := dc.checkMutable(); err != nil {
		return 0, err
	}
	if dc.c.Request.ContentLength != 0 {
		return 0, errMessage(http.StatusUnsupportedMediaType, "MKCOL with a request body")
	}

	res, err := dc.stat(dc.rel)
	if err != nil {
		return 0, mapError(err)
	}
	if res != nil {
		return 0, errMessage(http.StatusMethodNotAllowed, "MKCOL target already exists")
	}
	parent, err := dc.stat(davpath.Parent(dc.rel))
	if err != nil {
		return 0, mapError(err)
	}
	if parent == nil || !parent.IsCollection() {
		return 0, errMessage(http.StatusConflict, "MKCOL parent is not a collection")
	}

	if status := checkHTTPPreconditions(dc, nil); status != 0 {
		return status, nil
	}
	if err := s.requireLockTokens(dc, dc.ref, false); err != nil {
		return 0, err
	}

	if err := dc.share.Provider.CreateCollection(dc.ctx(), dc.rel); err != nil {
		return 0, mapError(err)
	}
	if err := s.locks.CoverInherited(dc.ref); err != nil {
		return 0, mapError(err)
	}
	return http.StatusCreated, nil
}

// walkEntry is one resource in a tree traversal.
type walkEntry struct {
	rel          string
	isCollection bool
}

// listTree returns the subtree rooted at rel in pre-order (parents before
// children), walked iteratively.
func (dc *davContext) listTree(rel string) ([]walkEntry, error) {
	res, err := dc.stat(rel)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	out := []walkEntry{{rel: rel, isCollection: res.IsCollection()}}
	if !res.IsCollection() {
		return out, nil
	}
	stack := []string{rel}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		r, err := dc.stat(p)
		if err != nil {
			return nil, err
		}
		if r == nil || !r.IsCollection() {
			continue
		}
		names, err := r.Children()
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			child := davpath.Join(p, name)
			cr, err := dc.stat(child)
			if err != nil {
				return nil, err
			}
			if cr == nil {
				continue
			}
			out = append(out, walkEntry{rel: child, isCollection: cr.IsCollection()})
			if cr.IsCollection() {
				stack = append(stack, child)
			}
		}
	}
	return out, nil
}

func (s *Server) handleDelete(dc *davContext) (int, error) {
	if err := dc.checkMutable(); err != nil {
		return 0, err
	}

	res, err := dc.stat(dc.rel)
	if err != nil {
		return 0, mapError(err)
	}
	if res == nil {
		return http.StatusNotFound, nil
	}

	depth := parseDepth(dc.c.GetReqHeader("Depth"), depthInfinity)
	if res.IsCollection() && depth != depthInfinity {
		return 0, errMessage(http.StatusBadRequest, "DELETE on a collection requires Depth: infinity")
	}

	if status := checkHTTPPreconditions(dc, res); status != 0 {
		return status, nil
	}
	if err := s.requireLockTokens(dc, dc.ref, true); err != nil {
		return 0, err
	}

	failures, err := s.deleteTree(dc, dc.rel)
	if err != nil {
		return 0, err
	}
	if len(failures) == 0 {
		return http.StatusNoContent, nil
	}
	if len(failures) == 1 && failures[0].href == dc.ref {
		return failures[0].status, nil
	}
	writeMultistatus(dc.c.Writer, failures)
	return 0, nil
}

// deleteTree removes a subtree depth-first, post-order. An ancestor whose
// descendant failed is left in place and not reported; only genuine
// failures appear in the result.
func (s *Server) deleteTree(dc *davContext, rel string) ([]msResponse, error) {
	entries, err := dc.listTree(rel)
	if err != nil {
		return nil, mapError(err)
	}

	var failures []msResponse
	var failedPaths []string
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		blocked := false
		for _, f := range failedPaths {
			if davpath.InTree(f, e.rel) {
				blocked = true
				break
			}
		}
		if blocked {
			// A live descendant keeps this ancestor alive; reporting it
			// would double-count the real failure.
			continue
		}
		if err := s.deleteOne(dc, e.rel); err != nil {
			failedPaths = append(failedPaths, e.rel)
			failures = append(failures, msResponse{
				href:   dc.share.Ref(e.rel),
				status: mapError(err).Status,
			})
		}
	}
	return failures, nil
}

// deleteOne removes a single resource along with its dead properties and
// lock coverage.
func (s *Server) deleteOne(dc *davContext, rel string) error {
	if err := dc.share.Provider.Delete(dc.ctx(), rel); err != nil {
		return err
	}
	ref := dc.share.Ref(rel)
	if err := s.props.DeleteAll(ref); err != nil {
		return err
	}
	return s.locks.Uncover(ref)
}
