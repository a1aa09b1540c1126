// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.

// Package davpath manipulates reference URLs, the canonical percent-decoded
// paths that identify WebDAV resources in the lock and property stores.
// A reference URL always starts with a slash, contains no empty or dot
// segments, and carries no trailing slash except for the root itself.
package davpath

import (
	"errors"
	"net/url"
	"path"
	"strings"
)

// ErrEscapesRoot is returned by Decode for paths whose dot-dot segments
// climb above the root.
var ErrEscapesRoot = errors.New("davpath: path escapes root")

// Normalize canonicalizes an already-decoded path: it forces a leading
// slash, collapses duplicate slashes and dot segments, and strips the
// trailing slash unless the result is the root.
func Normalize(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	p = path.Clean(p)
	return p
}

// Decode percent-decodes a raw URL path exactly once and normalizes it.
// Paths whose dot-dot segments escape the root are rejected; the router
// maps that to 400.
func Decode(raw string) (string, error) {
	p, err := url.PathUnescape(raw)
	if err != nil {
		return "", err
	}
	if escapesRoot(p) {
		return "", ErrEscapesRoot
	}
	return Normalize(p), nil
}

// escapesRoot reports whether the dot-dot segments of p climb above the
// root at any point during left-to-right resolution.
func escapesRoot(p string) bool {
	depth := 0
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return true
			}
		default:
			depth++
		}
	}
	return false
}

// Encode percent-encodes a decoded path so it is safe to emit in hrefs.
func Encode(p string) string {
	u := url.URL{Path: p}
	return u.RequestURI()
}

// InTree reports whether p equals subtree or lies below it.
func InTree(p, subtree string) bool {
	if p == subtree {
		return true
	}
	if subtree != "/" {
		subtree += "/"
	}
	return strings.HasPrefix(p, subtree)
}

// Included reports whether p is covered by a lock rooted at root with the
// given depth. Depth zero covers only the root itself; infinite depth
// covers the whole subtree.
func Included(p, root string, infinite bool) bool {
	if p == root {
		return true
	}
	if !infinite {
		return false
	}
	return InTree(p, root)
}

// Parent returns the parent path of p, or "/" for the root.
func Parent(p string) string {
	d := path.Dir(p)
	if d == "." || d == "" {
		return "/"
	}
	return d
}

// Leaf returns the last segment of p. The root's leaf is the empty string.
func Leaf(p string) string {
	if p == "/" {
		return ""
	}
	return path.Base(p)
}

// Join concatenates base and name into a normalized path.
func Join(base, name string) string {
	return Normalize(path.Join(base, name))
}
