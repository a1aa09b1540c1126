// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package minato

import (
	"errors"
	"net/http"
	"time"

	"github.com/infinite-iroha/touka"
)

// DebugFilter logs every request with its outcome and duration. DAV
// negotiation headers are included at debug level because they are what
// litmus sessions are diagnosed with; Authorization is never logged.
func (s *Server) DebugFilter() touka.HandlerFunc {
	return func(c *touka.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		user, _ := c.GetString(authUserKey)
		if user == "" {
			user = "-"
		}
		c.Infof("dav: %s %s %d %dB %s user=%s",
			c.Request.Method, c.Request.URL.RequestURI(), c.Writer.Status(), c.Writer.Size(), elapsed, user)
		if s.Debug {
			for _, h := range []string{"Depth", "Destination", "Overwrite", "If", "Lock-Token", "Timeout", "Range"} {
				if v := c.GetReqHeader(h); v != "" {
					c.Debugf("dav:   %s: %s", h, v)
				}
			}
		}
	}
}

// ErrorPrinter is the outer safety net below Recovery: a handler chain
// that ends without writing anything, or that only collected errors,
// still produces a well-formed error page.
func (s *Server) ErrorPrinter() touka.HandlerFunc {
	return func(c *touka.Context) {
		c.Next()
		if c.Writer.Written() {
			return
		}
		errs := c.GetErrors()
		if len(errs) > 0 {
			c.Errorf("dav: unhandled errors for %s %s: %v", c.Request.Method, c.Request.URL.Path, errors.Join(errs...))
		}
		s.writeErrorPage(c, http.StatusInternalServerError, "")
	}
}
