// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package minato

import (
	"net/http"
	"sort"
	"strings"

	"github.com/infinite-iroha/minato/davpath"
)

// Share binds a URL prefix to one provider. The prefix is normalized
// without a trailing slash; the root share uses "/". A share is also the
// unit of authentication: its realm scopes credentials, which is why
// cross-share COPY and MOVE are refused.
type Share struct {
	Prefix   string
	Provider Provider
	Realm    string

	// FinitePropfindDepth refuses PROPFIND Depth: infinity with 403 and
	// the propfind-finite-depth precondition.
	FinitePropfindDepth bool
}

// Ref builds the share-qualified reference URL for a share-relative path.
func (sh *Share) Ref(rel string) string {
	if sh.Prefix == "/" {
		return rel
	}
	if rel == "/" {
		return sh.Prefix
	}
	return sh.Prefix + rel
}

// addShare keeps the share table sorted by descending prefix length so
// resolution is a first-match scan.
func (s *Server) addShare(sh *Share) {
	sh.Prefix = davpath.Normalize(sh.Prefix)
	s.shares = append(s.shares, sh)
	sort.SliceStable(s.shares, func(i, j int) bool {
		return len(s.shares[i].Prefix) > len(s.shares[j].Prefix)
	})
}

// resolve maps a raw request path to its share and the share-relative
// resource path. The path is percent-decoded exactly once here, at the
// router boundary; dot-dot segments that would escape the root are
// rejected with 400.
func (s *Server) resolve(rawPath string) (*Share, string, error) {
	p, err := davpath.Decode(rawPath)
	if err != nil {
		return nil, "", errMessage(http.StatusBadRequest, "bad request path: %v", err)
	}
	for _, sh := range s.shares {
		if !davpath.InTree(p, sh.Prefix) {
			continue
		}
		rel := "/"
		if sh.Prefix == "/" {
			rel = p
		} else if len(p) > len(sh.Prefix) {
			rel = p[len(sh.Prefix):]
		}
		return sh, rel, nil
	}
	return nil, "", errStatus(http.StatusNotFound)
}

// splitHref turns a reference URL back into its share and relative path.
// If-header evaluation (entity-tag lookups for tagged resources) goes
// through this.
func (s *Server) splitHref(ref string) (*Share, string, bool) {
	ref = davpath.Normalize(ref)
	for _, sh := range s.shares {
		if !davpath.InTree(ref, sh.Prefix) {
			continue
		}
		rel := "/"
		if sh.Prefix == "/" {
			rel = ref
		} else if len(ref) > len(sh.Prefix) {
			rel = ref[len(sh.Prefix):]
		}
		return sh, rel, true
	}
	return nil, "", false
}

// stripHost reduces an absolute URL to its path, still percent-encoded,
// with query and fragment removed, verifying the host matches when present.
// resolve does the decoding.
func stripHost(dest, host string) (string, error) {
	if strings.HasPrefix(dest, "http://") || strings.HasPrefix(dest, "https://") {
		rest := dest[strings.Index(dest, "//")+2:]
		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			return "", errMessage(http.StatusBadRequest, "destination has no path")
		}
		if h := rest[:slash]; host != "" && !strings.EqualFold(h, host) {
			return "", errMessage(http.StatusBadGateway, "destination host %q is not served here", h)
		}
		dest = rest[slash:]
	}
	if i := strings.IndexAny(dest, "?#"); i >= 0 {
		dest = dest[:i]
	}
	return dest, nil
}
