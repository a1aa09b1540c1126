// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package minato

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/WJQSERVER-STUDIO/go-utils/iox"
)

func (s *Server) handleGetHead(dc *davContext) (int, error) {
	res, err := dc.stat(dc.rel)
	if err != nil {
		return 0, mapError(err)
	}
	if res == nil {
		return http.StatusNotFound, nil
	}
	if status := checkHTTPPreconditions(dc, res); status != 0 {
		return status, nil
	}

	if res.IsCollection() {
		// The directory browser middleware renders collections; a
		// davmount query is the one collection GET the engine answers.
		if dc.c.Request.URL.Query().Has("davmount") {
			return s.sendDavMount(dc)
		}
		return http.StatusForbidden, nil
	}

	s.setEntityHeaders(dc, res)

	length, hasLength := res.ContentLength()
	sendRange := false
	var rng byteRange
	if rawRange := dc.c.GetReqHeader("Range"); rawRange != "" && hasLength && res.SupportsRanges() {
		if ifRangeApplies(dc, res) {
			r, satisfiable, isByteRange := parseRange(rawRange, length)
			if isByteRange && !satisfiable {
				dc.c.SetHeader("Content-Range", fmt.Sprintf("bytes */%d", length))
				return http.StatusRequestedRangeNotSatisfiable, nil
			}
			if isByteRange {
				rng, sendRange = r, true
			}
		}
	}

	status := http.StatusOK
	if sendRange {
		status = http.StatusPartialContent
		dc.c.SetHeader("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.start, rng.end(), length))
		dc.c.SetHeader("Content-Length", strconv.FormatInt(rng.length, 10))
	} else if hasLength {
		dc.c.SetHeader("Content-Length", strconv.FormatInt(length, 10))
	}

	if dc.method() == http.MethodHead {
		dc.c.Status(status)
		return 0, nil
	}

	rd, err := dc.share.Provider.OpenRead(dc.ctx(), dc.rel)
	if err != nil {
		return 0, mapError(err)
	}
	defer rd.Close()

	var body io.Reader = rd
	if sendRange {
		seeker, ok := rd.(io.Seeker)
		if !ok {
			return 0, errMessage(http.StatusInternalServerError, "provider advertises ranges without a seekable stream")
		}
		if _, err := seeker.Seek(rng.start, io.SeekStart); err != nil {
			return 0, mapError(err)
		}
		body = io.LimitReader(rd, rng.length)
	}

	dc.c.Status(status)
	if _, err := iox.Copy(dc.c.Writer, body); err != nil {
		// The response is underway; nothing sane can be written now.
		dc.c.Errorf("dav: GET %s aborted: %v", dc.ref, err)
	}
	return 0, nil
}

// setEntityHeaders emits the validator and representation headers a
// resource advertises.
func (s *Server) setEntityHeaders(dc *davContext, res Resource) {
	if ct, ok := res.ContentType(); ok {
		dc.c.SetHeader("Content-Type", ct)
	}
	if mod, ok := res.LastModified(); ok {
		dc.c.SetHeader("Last-Modified", formatHTTPDate(mod))
	}
	if etag, ok := res.ETag(); ok {
		dc.c.SetHeader("ETag", etag)
	}
	if res.SupportsRanges() {
		dc.c.SetHeader("Accept-Ranges", "bytes")
	}
}

// sendDavMount answers GET ?davmount with the mount document for the
// collection.
func (s *Server) sendDavMount(dc *davContext) (int, error) {
	scheme := "http"
	if dc.c.Request.TLS != nil {
		scheme = "https"
	}
	mount := scheme + "://" + dc.c.Request.Host + dc.ref
	if dc.rel != "/" || dc.share.Prefix != "/" {
		mount += "/"
	}
	body := davMountXML(mount)
	dc.c.SetHeader("Content-Type", "application/davmount+xml")
	dc.c.SetHeader("Content-Length", strconv.Itoa(len(body)))
	dc.c.Status(http.StatusOK)
	if dc.method() != http.MethodHead {
		dc.c.Writer.Write([]byte(body))
	}
	return 0, nil
}
