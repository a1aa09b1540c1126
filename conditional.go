// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package minato

import (
	"net/http"
	"time"

	"github.com/infinite-iroha/minato/davpath"
	"github.com/infinite-iroha/minato/ifheader"
)

// condEnv evaluates If-header conditions against the server's current
// state: entity tags come from the providers, token coverage from the
// lock manager.
type condEnv struct {
	s  *Server
	dc *davContext
}

func (e condEnv) ETag(ref string) (string, bool) {
	sh, rel, ok := e.s.splitHref(ref)
	if !ok {
		return "", false
	}
	res, err := sh.Provider.Stat(e.dc.ctx(), rel)
	if err != nil {
		return "", false
	}
	return res.ETag()
}

func (e condEnv) Covered(ref, token string) bool {
	ok, err := e.s.locks.Covered(ref, token)
	return err == nil && ok
}

// evalIfHeader parses and evaluates the request's If header. A present
// header that evaluates false fails the request with 412; on success the
// submitted tokens of the matching branch are recorded on the context.
func (s *Server) evalIfHeader(dc *davContext) error {
	raw := dc.c.GetReqHeader("If")
	if raw == "" {
		return nil
	}
	hdr, err := ifheader.Parse(raw)
	if err != nil {
		return errMessage(http.StatusBadRequest, "malformed If header: %v", err)
	}
	if err := hdr.RewriteHosts(dc.c.Request.Host); err != nil {
		return errMessage(http.StatusBadRequest, "If header: %v", err)
	}
	dc.ifHdr = hdr
	ok, submitted := hdr.Eval(condEnv{s: s, dc: dc}, dc.ref)
	if !ok {
		return errStatus(http.StatusPreconditionFailed)
	}
	dc.submitted = submitted
	return nil
}

// checkHTTPPreconditions evaluates If-Match, If-None-Match,
// If-Modified-Since and If-Unmodified-Since jointly per RFC 7232. res may
// be nil for an unmapped URL. The returned status is 0 (pass), 304 (read
// methods) or 412. Preconditions tied to a capability the resource does
// not advertise pass vacuously.
func checkHTTPPreconditions(dc *davContext, res Resource) int {
	get := dc.method() == http.MethodGet || dc.method() == http.MethodHead
	exists := res != nil

	var etag string
	hasETag := false
	var mod time.Time
	hasMod := false
	if exists {
		etag, hasETag = res.ETag()
		mod, hasMod = res.LastModified()
	}

	if im := dc.c.GetReqHeader("If-Match"); im != "" {
		if !exists {
			return http.StatusPreconditionFailed
		}
		if hasETag && !etagListMatches(im, etag, exists) {
			return http.StatusPreconditionFailed
		}
	} else if ius := dc.c.GetReqHeader("If-Unmodified-Since"); ius != "" {
		if t, ok := parseHTTPDate(ius); ok && exists && hasMod && mod.Truncate(time.Second).After(t) {
			return http.StatusPreconditionFailed
		}
	}

	if inm := dc.c.GetReqHeader("If-None-Match"); inm != "" {
		match := exists && (!hasETag && inm == "*" || hasETag && etagListMatches(inm, etag, exists))
		if match {
			if get {
				return http.StatusNotModified
			}
			return http.StatusPreconditionFailed
		}
	} else if ims := dc.c.GetReqHeader("If-Modified-Since"); ims != "" && get {
		if t, ok := parseHTTPDate(ims); ok && exists && hasMod && !mod.Truncate(time.Second).After(t) {
			return http.StatusNotModified
		}
	}
	return 0
}

// ifRangeApplies reports whether a present If-Range header validates:
// either the entity tag matches the resource's current tag, or the date
// equals the last-modified time. An absent header applies trivially.
func ifRangeApplies(dc *davContext, res Resource) bool {
	raw := dc.c.GetReqHeader("If-Range")
	if raw == "" {
		return true
	}
	if len(raw) > 0 && (raw[0] == '"' || (len(raw) > 2 && raw[0] == 'W' && raw[1] == '/')) {
		etag, has := res.ETag()
		return has && raw == etag
	}
	t, ok := parseHTTPDate(raw)
	if !ok {
		return false
	}
	mod, has := res.LastModified()
	return has && mod.Truncate(time.Second).Equal(t)
}

// requireLockTokens enforces lock coverage on a mutation of ref. When
// deep, every lock reaching ref or any descendant must be satisfied by a
// submitted token covering the same resource. Failure is 423 with the
// lock-token-submitted condition.
func (s *Server) requireLockTokens(dc *davContext, ref string, deep bool) error {
	recs, err := s.locks.LocksOn(ref)
	if err != nil {
		return mapError(err)
	}
	if deep {
		below, err := s.locks.LocksBelow(ref)
		if err != nil {
			return mapError(err)
		}
		seen := make(map[string]bool, len(recs))
		for _, r := range recs {
			seen[r.Token] = true
		}
		for _, r := range below {
			if !seen[r.Token] {
				recs = append(recs, r)
			}
		}
	}
	if len(recs) == 0 {
		return nil
	}

	// Group the locks by the resources they protect inside the scope of
	// this mutation; each such resource needs one submitted lock.
	submitted := make(map[string]bool, len(dc.submitted))
	for _, t := range dc.submitted {
		submitted[t] = true
	}
	covered := make(map[string][]string) // url -> tokens guarding it
	for _, r := range recs {
		if davpath.Included(ref, r.Root, r.InfiniteDepth) || r.Covers(ref) {
			covered[ref] = append(covered[ref], r.Token)
		}
		for u := range r.URLs {
			if u != ref && davpath.InTree(u, ref) {
				covered[u] = append(covered[u], r.Token)
			}
		}
	}
	for _, tokens := range covered {
		ok := false
		for _, t := range tokens {
			if submitted[t] {
				ok = true
				break
			}
		}
		if !ok {
			return errPrecondition(http.StatusLocked, preLockTokenSubmitted)
		}
	}
	return nil
}
