// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package minato

import (
	"errors"
	"net/http"
	"time"

	"github.com/infinite-iroha/minato/davpath"
	"github.com/infinite-iroha/minato/lock"
)

func (s *Server) handleLock(dc *davContext) (int, error) {
	if err := dc.checkMutable(); err != nil {
		return 0, err
	}
	timeout := parseTimeout(dc.c.GetReqHeader("Timeout"))

	li, hasBody, err := parseLockInfo(dc.c.GetReqBody())
	if err != nil {
		return 0, errMessage(http.StatusBadRequest, "bad lockinfo body: %v", err)
	}
	if !hasBody {
		return s.refreshLocks(dc, timeout)
	}

	depth := parseDepth(dc.c.GetReqHeader("Depth"), depthInfinity)
	if depth != depthZero && depth != depthInfinity {
		return 0, errMessage(http.StatusBadRequest, "LOCK allows Depth 0 or infinity")
	}
	scope := lock.Exclusive
	if li.Shared != nil {
		scope = lock.Shared
	}

	res, err := dc.stat(dc.rel)
	if err != nil {
		return 0, mapError(err)
	}
	if status := checkHTTPPreconditions(dc, res); status != 0 {
		return status, nil
	}

	created := false
	if res == nil {
		// Locking an unmapped URL creates an empty resource that the
		// lock then protects.
		parent, err := dc.stat(davpath.Parent(dc.rel))
		if err != nil {
			return 0, mapError(err)
		}
		if parent == nil || !parent.IsCollection() {
			return 0, errMessage(http.StatusConflict, "LOCK parent is not a collection")
		}
		w, err := dc.share.Provider.OpenWrite(dc.ctx(), dc.rel, "")
		if err != nil {
			return 0, mapError(err)
		}
		if err := w.Close(); err != nil {
			return 0, mapError(err)
		}
		created = true
	}

	rec, err := s.locks.Acquire(dc.user, dc.ref, scope, depth == depthInfinity, li.Owner.InnerXML, timeout)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return 0, errPrecondition(http.StatusLocked, preNoConflictingLock)
		}
		return 0, mapError(err)
	}

	// An infinite-depth lock on a collection covers every descendant
	// alive at acquisition. A walk failure rolls the whole lock back.
	if rec.InfiniteDepth && res != nil && res.IsCollection() {
		entries, err := dc.listTree(dc.rel)
		if err != nil {
			s.locks.Delete(rec.Token)
			return 0, mapError(err)
		}
		for _, e := range entries {
			if e.rel == dc.rel {
				continue
			}
			if err := s.locks.Cover(dc.share.Ref(e.rel), rec.Token); err != nil {
				s.locks.Delete(rec.Token)
				return 0, mapError(err)
			}
		}
		if rec, err = s.locks.Get(rec.Token); err != nil || rec == nil {
			return 0, errMessage(http.StatusInternalServerError, "lock vanished during acquisition")
		}
	}

	dc.c.SetHeader("Lock-Token", "<"+rec.Token+">")
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeLockResponse(dc.c.Writer, status, rec, time.Now())
	return 0, nil
}

// refreshLocks handles a body-less LOCK: every token submitted through
// the If header is refreshed with the requested timeout.
func (s *Server) refreshLocks(dc *davContext, timeout time.Duration) (int, error) {
	if dc.ifHdr == nil {
		return 0, errMessage(http.StatusBadRequest, "LOCK refresh without an If header")
	}
	tokens := dc.ifHdr.AllTokens()
	if len(tokens) == 0 {
		return 0, errMessage(http.StatusBadRequest, "LOCK refresh names no lock token")
	}

	var refreshed *lock.Record
	for _, token := range tokens {
		covered, err := s.locks.Covered(dc.ref, token)
		if err != nil {
			return 0, mapError(err)
		}
		if !covered {
			return http.StatusPreconditionFailed, nil
		}
		rec, err := s.locks.Refresh(token, timeout)
		if err != nil {
			if errors.Is(err, lock.ErrNoSuchLock) {
				return http.StatusPreconditionFailed, nil
			}
			return 0, mapError(err)
		}
		if refreshed == nil {
			refreshed = rec
		}
	}
	writeLockResponse(dc.c.Writer, http.StatusOK, refreshed, time.Now())
	return 0, nil
}

func (s *Server) handleUnlock(dc *davContext) (int, error) {
	if err := dc.checkMutable(); err != nil {
		return 0, err
	}
	raw := dc.c.GetReqHeader("Lock-Token")
	if raw == "" {
		return 0, errMessage(http.StatusBadRequest, "missing Lock-Token header")
	}
	token := stripTokenBrackets(raw)

	covered, err := s.locks.Covered(dc.ref, token)
	if err != nil {
		return 0, mapError(err)
	}
	if !covered {
		return 0, errPrecondition(http.StatusConflict, preLockTokenMatchesURI)
	}

	switch err := s.locks.Release(token, dc.user); {
	case err == nil:
		return http.StatusNoContent, nil
	case errors.Is(err, lock.ErrForbidden):
		return 0, errMessage(http.StatusForbidden, "lock belongs to another principal")
	case errors.Is(err, lock.ErrNoSuchLock):
		return 0, errStatus(http.StatusConflict)
	default:
		return 0, mapError(err)
	}
}
