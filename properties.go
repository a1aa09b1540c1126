// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package minato

import (
	"fmt"
	"net/http"
	"time"

	"github.com/infinite-iroha/minato/davpath"
	"github.com/infinite-iroha/minato/prop"
)

// The property mediator resolves a name against, in order: the standard
// DAV properties synthesized from resource metadata and the lock manager,
// the provider's own live properties, and the dead-property store.
// Reserved DAV-namespace names that none of those supply answer 404.

var (
	keyResourceType     = prop.Key{Space: "DAV:", Local: "resourcetype"}
	keyDisplayName      = prop.Key{Space: "DAV:", Local: "displayname"}
	keyContentLength    = prop.Key{Space: "DAV:", Local: "getcontentlength"}
	keyContentType      = prop.Key{Space: "DAV:", Local: "getcontenttype"}
	keyLastModified     = prop.Key{Space: "DAV:", Local: "getlastmodified"}
	keyCreationDate     = prop.Key{Space: "DAV:", Local: "creationdate"}
	keyETag             = prop.Key{Space: "DAV:", Local: "getetag"}
	keyLockDiscovery    = prop.Key{Space: "DAV:", Local: "lockdiscovery"}
	keySupportedLock    = prop.Key{Space: "DAV:", Local: "supportedlock"}
)

// findLiveProperty synthesizes a standard DAV property value for a
// resource. ok=false means the name is not in the synthesized set;
// found=false means it is, but this resource lacks the capability.
func (s *Server) findLiveProperty(dc *davContext, res Resource, k prop.Key) (inner string, ok bool, found bool, err error) {
	switch k {
	case keyResourceType:
		if res.IsCollection() {
			return "<D:collection/>", true, true, nil
		}
		return "", true, true, nil
	case keyDisplayName:
		return xmlEscaped(davpath.Leaf(dc.ref)), true, true, nil
	case keyContentLength:
		if n, has := res.ContentLength(); has {
			return fmt.Sprintf("%d", n), true, true, nil
		}
		return "", true, false, nil
	case keyContentType:
		if ct, has := res.ContentType(); has {
			return xmlEscaped(ct), true, true, nil
		}
		return "", true, false, nil
	case keyLastModified:
		if t, has := res.LastModified(); has {
			return formatHTTPDate(t), true, true, nil
		}
		return "", true, false, nil
	case keyCreationDate:
		if t, has := res.CreationDate(); has {
			return t.UTC().Format(time.RFC3339), true, true, nil
		}
		return "", true, false, nil
	case keyETag:
		if tag, has := res.ETag(); has {
			return xmlEscaped(tag), true, true, nil
		}
		return "", true, false, nil
	case keyLockDiscovery:
		recs, lerr := s.locks.LocksOn(dc.ref)
		if lerr != nil {
			return "", true, false, lerr
		}
		return lockDiscoveryInner(recs, time.Now()), true, true, nil
	case keySupportedLock:
		return supportedLockInner, true, true, nil
	}
	return "", false, false, nil
}

// resolveProperty finds one named property, returning the rendered
// fragment and its status.
func (s *Server) resolveProperty(dc *davContext, res Resource, k prop.Key) (fragment string, status int) {
	inner, synthesized, found, err := s.findLiveProperty(dc, res, k)
	if err != nil {
		return emptyPropFragment(k), http.StatusInternalServerError
	}
	if synthesized {
		if !found {
			return emptyPropFragment(k), http.StatusNotFound
		}
		return propFragment(k, inner), http.StatusOK
	}

	if lp, ok := dc.share.Provider.(LivePropertyProvider); ok && lp.SupportsProperty(k) {
		v, has, err := lp.GetProperty(dc.ctx(), dc.rel, k)
		if err != nil {
			return emptyPropFragment(k), http.StatusInternalServerError
		}
		if has {
			return propFragment(k, v), http.StatusOK
		}
		return emptyPropFragment(k), http.StatusNotFound
	}

	// The remaining DAV namespace is reserved: never a dead property.
	if k.Space == "DAV:" {
		return emptyPropFragment(k), http.StatusNotFound
	}

	v, has, err := s.props.Get(dc.ref, k)
	if err != nil {
		return emptyPropFragment(k), http.StatusInternalServerError
	}
	if !has {
		return emptyPropFragment(k), http.StatusNotFound
	}
	return propFragment(k, v), http.StatusOK
}

// propertyNames lists every property name present on a resource: the
// synthesized set filtered by capability, provider live names, then dead
// properties.
func (s *Server) propertyNames(dc *davContext, res Resource) ([]prop.Key, error) {
	keys := []prop.Key{keyResourceType, keyDisplayName, keySupportedLock, keyLockDiscovery}
	if _, has := res.ContentLength(); has {
		keys = append(keys, keyContentLength)
	}
	if _, has := res.ContentType(); has {
		keys = append(keys, keyContentType)
	}
	if _, has := res.LastModified(); has {
		keys = append(keys, keyLastModified)
	}
	if _, has := res.CreationDate(); has {
		keys = append(keys, keyCreationDate)
	}
	if _, has := res.ETag(); has {
		keys = append(keys, keyETag)
	}

	if lp, ok := dc.share.Provider.(LivePropertyProvider); ok {
		names, err := lp.PropertyNames(dc.ctx(), dc.rel)
		if err != nil {
			return nil, err
		}
		keys = append(keys, names...)
	}

	dead, err := s.props.List(dc.ref)
	if err != nil {
		return nil, err
	}
	keys = append(keys, dead...)
	return keys, nil
}

// isProtectedProperty reports whether PROPPATCH must refuse the name.
// The whole synthesized DAV set is protected, displayname included.
func isProtectedProperty(k prop.Key) bool {
	switch k {
	case keyResourceType, keyDisplayName, keyContentLength, keyContentType,
		keyLastModified, keyCreationDate, keyETag, keyLockDiscovery, keySupportedLock:
		return true
	}
	return false
}
