// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package minato

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/infinite-iroha/touka"

	"github.com/infinite-iroha/minato/ifheader"
)

// davContext carries one request through the engine: the resolved share,
// the share-relative path, the share-qualified reference URL, the
// authenticated principal, and the lock tokens submitted via the If
// header.
type davContext struct {
	srv   *Server
	c     *touka.Context
	share *Share
	rel   string
	ref   string
	user  string

	ifHdr     *ifheader.Header
	submitted []string
}

func (dc *davContext) ctx() context.Context { return dc.c.Request.Context() }
func (dc *davContext) method() string       { return dc.c.Request.Method }

// ServeDAV is the request engine entry point, mounted behind the
// middleware chain.
func (s *Server) ServeDAV(c *touka.Context) {
	dc, err := s.newDAVContext(c)
	if err != nil {
		s.writeDAVError(c, err)
		return
	}

	method := dc.method()
	if method == http.MethodPost {
		// POST against a dav resource behaves like PUT.
		method = http.MethodPut
	}

	var status int
	switch method {
	case http.MethodOptions:
		status, err = s.handleOptions(dc)
	case http.MethodGet, http.MethodHead:
		status, err = s.handleGetHead(dc)
	case http.MethodPut:
		status, err = s.handlePut(dc)
	case "MKCOL":
		status, err = s.handleMkcol(dc)
	case http.MethodDelete:
		status, err = s.handleDelete(dc)
	case "COPY", "MOVE":
		status, err = s.handleCopyMove(dc)
	case "PROPFIND":
		status, err = s.handlePropfind(dc)
	case "PROPPATCH":
		status, err = s.handleProppatch(dc)
	case "LOCK":
		status, err = s.handleLock(dc)
	case "UNLOCK":
		status, err = s.handleUnlock(dc)
	default:
		// TRACE and anything exotic.
		status = http.StatusNotImplemented
	}

	if err != nil {
		s.writeDAVError(c, err)
		return
	}
	if status != 0 {
		s.writeStatus(c, status)
	}
	if code := c.Writer.Status(); code >= 400 {
		c.Warnf("dav: %s %s -> %d", dc.method(), c.Request.URL.Path, code)
	}
}

// newDAVContext resolves the share and evaluates the If header. UNLOCK
// skips If evaluation; it authorizes through Lock-Token instead.
func (s *Server) newDAVContext(c *touka.Context) (*davContext, error) {
	share, rel, err := s.resolve(c.Request.URL.EscapedPath())
	if err != nil {
		return nil, err
	}
	dc := &davContext{
		srv:   s,
		c:     c,
		share: share,
		rel:   rel,
		ref:   share.Ref(rel),
	}
	if u, ok := c.GetString(authUserKey); ok {
		dc.user = u
	}
	if dc.method() != "UNLOCK" {
		if err := s.evalIfHeader(dc); err != nil {
			return dc, err
		}
	}
	return dc, nil
}

// stat wraps Provider.Stat, mapping absence to a nil resource.
func (dc *davContext) stat(rel string) (Resource, error) {
	res, err := dc.share.Provider.Stat(dc.ctx(), rel)
	if err != nil {
		if errors.Is(err, ErrNotFound) || isNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return res, nil
}

// checkMutable fails early for read-only providers.
func (dc *davContext) checkMutable() error {
	if dc.share.Provider.ReadOnly() {
		return errMessage(http.StatusForbidden, "share %s is read-only", dc.share.Prefix)
	}
	return nil
}

func (s *Server) handleOptions(dc *davContext) (int, error) {
	res, err := dc.stat(dc.rel)
	if err != nil {
		return 0, mapError(err)
	}

	var allow string
	switch {
	case res == nil:
		allow = "OPTIONS, PUT, MKCOL, LOCK"
	case res.IsCollection():
		allow = "OPTIONS, HEAD, GET, DELETE, PROPFIND, PROPPATCH, COPY, MOVE, LOCK, UNLOCK"
	default:
		allow = "OPTIONS, HEAD, GET, PUT, POST, DELETE, PROPFIND, PROPPATCH, COPY, MOVE, LOCK, UNLOCK"
		if res.SupportsRanges() {
			dc.c.SetHeader("Accept-Ranges", "bytes")
		}
	}
	dc.c.SetHeader("Allow", allow)
	dc.c.SetHeader("DAV", "1, 2")
	// Windows clients pick the WebDAV redirector based on this.
	dc.c.SetHeader("MS-Author-Via", "DAV")
	dc.c.SetHeader("Content-Length", "0")
	return http.StatusOK, nil
}

// writeStatus sends a plain status response. Error statuses carry a small
// HTML body, success statuses none.
func (s *Server) writeStatus(c *touka.Context, status int) {
	if c.Writer.Written() {
		return
	}
	if status < 400 {
		c.Status(status)
		return
	}
	s.writeErrorPage(c, status, "")
}

// writeDAVError renders a failed request: a precondition error body when
// the failure names one, a plain error page otherwise.
func (s *Server) writeDAVError(c *touka.Context, err error) {
	de := mapError(err)
	if de.Status >= 500 {
		c.Errorf("dav: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	if c.Writer.Written() {
		return
	}
	if de.Precondition != "" {
		writeErrorBody(c.Writer, de.Status, de.Precondition)
		return
	}
	s.writeErrorPage(c, de.Status, de.Message)
}

// writeErrorPage emits the canned HTML error body.
func (s *Server) writeErrorPage(c *touka.Context, status int, detail string) {
	title := fmt.Sprintf("%d %s", status, http.StatusText(status))
	body := "<html><head><title>" + title + "</title></head><body><h1>" + title + "</h1>"
	if detail != "" {
		body += "<p>" + xmlEscaped(detail) + "</p>"
	}
	body += "<hr/><small>minato/" + Version + "</small></body></html>\n"
	c.SetHeader("Content-Type", "text/html; charset=utf-8")
	c.SetHeader("Content-Length", strconv.Itoa(len(body)))
	c.Status(status)
	if c.Request.Method != http.MethodHead {
		c.Writer.Write([]byte(body))
	}
}
