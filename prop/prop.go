// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.

// Package prop stores dead properties: server-opaque XML values keyed by
// reference URL and qualified property name. Live properties are the
// provider's business; synthesized DAV properties are the engine's.
package prop

import (
	"fmt"
	"strings"
)

// Key is a qualified property name. The (namespace, local name) pair is
// the unique key per reference URL.
type Key struct {
	Space string // namespace URI, "DAV:" for the WebDAV namespace
	Local string
}

// Clark renders the key in Clark notation, {namespace}localname. Keys in
// the empty namespace render as the bare local name.
func (k Key) Clark() string {
	if k.Space == "" {
		return k.Local
	}
	return "{" + k.Space + "}" + k.Local
}

// ParseClark parses Clark notation back into a Key.
func ParseClark(s string) (Key, error) {
	if !strings.HasPrefix(s, "{") {
		return Key{Local: s}, nil
	}
	end := strings.IndexByte(s, '}')
	if end < 0 || end == len(s)-1 {
		return Key{}, fmt.Errorf("prop: malformed clark name %q", s)
	}
	return Key{Space: s[1:end], Local: s[end+1:]}, nil
}

// Store persists dead properties. Writers are serialized; readers may run
// concurrently but observe a consistent view per call. Values are stored
// verbatim; the engine stores the inner XML of the property element, without
// the element itself, and wraps the element back around it on read.
type Store interface {
	Get(ref string, k Key) (string, bool, error)
	Set(ref string, k Key, value string) error
	Remove(ref string, k Key) error

	// List returns the keys present for ref.
	List(ref string) ([]Key, error)

	// CopyAll duplicates every property of src onto dst, replacing what
	// was there. COPY uses this per resource.
	CopyAll(src, dst string) error

	// MoveAll re-keys src's properties to dst. MOVE uses this.
	MoveAll(src, dst string) error

	// DeleteAll drops every property of ref. DELETE uses this.
	DeleteAll(ref string) error

	Close() error
}
