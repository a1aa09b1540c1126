// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package minato

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/infinite-iroha/touka"

	"github.com/infinite-iroha/minato/lock"
)

func newTestServer(t *testing.T) (*Server, *touka.Engine, *MemProvider) {
	t.Helper()
	provider := NewMemProvider()
	srv := New(Options{LockStorage: lock.NewMemStore(false)})
	srv.AddShare("/s", provider, "")
	r := touka.New()
	srv.Register(r)
	t.Cleanup(func() { srv.Close() })
	return srv, r, provider
}

func doReq(r *touka.Engine, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req, _ = http.NewRequest(method, target, nil)
	} else {
		req, _ = http.NewRequest(method, target, strings.NewReader(body))
	}
	req.Host = "dav.test"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// multistatusDoc is the minimal shape tests need back out of a 207 body.
type multistatusDoc struct {
	XMLName   xml.Name `xml:"DAV: multistatus"`
	Responses []struct {
		Href      string `xml:"href"`
		Status    string `xml:"status"`
		Propstats []struct {
			Status string `xml:"status"`
			Raw    string `xml:",innerxml"`
		} `xml:"propstat"`
	} `xml:"response"`
}

func parseMultistatus(t *testing.T, body []byte) multistatusDoc {
	t.Helper()
	var ms multistatusDoc
	if err := xml.Unmarshal(body, &ms); err != nil {
		t.Fatalf("unmarshal multistatus: %v\n%s", err, body)
	}
	return ms
}

func TestOptions(t *testing.T) {
	_, r, _ := newTestServer(t)
	w := doReq(r, "OPTIONS", "/s", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("OPTIONS = %d", w.Code)
	}
	if got := w.Header().Get("DAV"); got != "1, 2" {
		t.Errorf("DAV header = %q", got)
	}
	if w.Header().Get("MS-Author-Via") != "DAV" {
		t.Error("MS-Author-Via missing")
	}
	if !strings.Contains(w.Header().Get("Allow"), "PROPFIND") {
		t.Errorf("Allow = %q", w.Header().Get("Allow"))
	}
}

func TestPutGetDelete(t *testing.T) {
	_, r, _ := newTestServer(t)

	if w := doReq(r, "PUT", "/s/a.txt", "hello", nil); w.Code != http.StatusCreated {
		t.Fatalf("PUT new = %d", w.Code)
	}
	if w := doReq(r, "PUT", "/s/a.txt", "hello again", nil); w.Code != http.StatusNoContent {
		t.Fatalf("PUT overwrite = %d", w.Code)
	}

	w := doReq(r, "GET", "/s/a.txt", "", nil)
	if w.Code != http.StatusOK || w.Body.String() != "hello again" {
		t.Fatalf("GET = %d %q", w.Code, w.Body.String())
	}
	if w.Header().Get("ETag") == "" || w.Header().Get("Last-Modified") == "" {
		t.Error("GET lacks validators")
	}

	if w := doReq(r, "DELETE", "/s/a.txt", "", nil); w.Code != http.StatusNoContent {
		t.Fatalf("DELETE = %d", w.Code)
	}
	// Idempotent DELETE: the second call answers 404.
	if w := doReq(r, "DELETE", "/s/a.txt", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("second DELETE = %d", w.Code)
	}
}

func TestPutEdgeCases(t *testing.T) {
	_, r, _ := newTestServer(t)

	if w := doReq(r, "PUT", "/s/missing/a.txt", "x", nil); w.Code != http.StatusConflict {
		t.Errorf("PUT without parent = %d", w.Code)
	}
	doReq(r, "MKCOL", "/s/d", "", nil)
	if w := doReq(r, "PUT", "/s/d", "x", nil); w.Code != http.StatusBadRequest {
		t.Errorf("PUT onto collection = %d", w.Code)
	}
	if w := doReq(r, "PUT", "/s/d/x", "x", map[string]string{"Content-Range": "bytes 0-0/1"}); w.Code != http.StatusNotImplemented {
		t.Errorf("PUT with Content-Range = %d", w.Code)
	}
}

func TestPostBehavesLikePut(t *testing.T) {
	_, r, _ := newTestServer(t)
	if w := doReq(r, "POST", "/s/p.txt", "body", nil); w.Code != http.StatusCreated {
		t.Errorf("POST = %d", w.Code)
	}
	if w := doReq(r, "GET", "/s/p.txt", "", nil); w.Body.String() != "body" {
		t.Errorf("GET after POST = %q", w.Body.String())
	}
}

func TestTrace(t *testing.T) {
	_, r, _ := newTestServer(t)
	if w := doReq(r, "TRACE", "/s/a", "", nil); w.Code != http.StatusNotImplemented {
		t.Errorf("TRACE = %d", w.Code)
	}
}

func TestMkcol(t *testing.T) {
	_, r, _ := newTestServer(t)

	if w := doReq(r, "MKCOL", "/s/d", "", nil); w.Code != http.StatusCreated {
		t.Fatalf("MKCOL = %d", w.Code)
	}
	if w := doReq(r, "MKCOL", "/s/d", "", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("MKCOL on existing = %d", w.Code)
	}
	if w := doReq(r, "MKCOL", "/s/no/such/parent", "", nil); w.Code != http.StatusConflict {
		t.Errorf("MKCOL without parent = %d", w.Code)
	}
	if w := doReq(r, "MKCOL", "/s/d2", "<ignored/>", nil); w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("MKCOL with body = %d", w.Code)
	}
}

// Scenario: create, lock, overwrite.
func TestLockProtectsOverwrite(t *testing.T) {
	_, r, _ := newTestServer(t)

	if w := doReq(r, "PUT", "/s/a.txt", "hello", nil); w.Code != http.StatusCreated {
		t.Fatalf("PUT = %d", w.Code)
	}

	lockBody := `<?xml version="1.0" encoding="utf-8"?>
<D:lockinfo xmlns:D="DAV:">
  <D:lockscope><D:exclusive/></D:lockscope>
  <D:locktype><D:write/></D:locktype>
  <D:owner><D:href>x</D:href></D:owner>
</D:lockinfo>`
	w := doReq(r, "LOCK", "/s/a.txt", lockBody, map[string]string{"Timeout": "Second-60", "Depth": "0"})
	if w.Code != http.StatusOK {
		t.Fatalf("LOCK = %d %s", w.Code, w.Body.String())
	}
	token := stripTokenBrackets(w.Header().Get("Lock-Token"))
	if !strings.HasPrefix(token, "opaquelocktoken:") {
		t.Fatalf("Lock-Token = %q", token)
	}
	if !strings.Contains(w.Body.String(), "lockdiscovery") {
		t.Error("LOCK body lacks lockdiscovery")
	}

	if w := doReq(r, "PUT", "/s/a.txt", "world", nil); w.Code != http.StatusLocked {
		t.Fatalf("PUT without token = %d", w.Code)
	}
	w = doReq(r, "PUT", "/s/a.txt", "world", map[string]string{"If": "(<" + token + ">)"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("PUT with token = %d", w.Code)
	}
	if w := doReq(r, "GET", "/s/a.txt", "", nil); w.Body.String() != "world" {
		t.Fatalf("GET = %q", w.Body.String())
	}

	if w := doReq(r, "UNLOCK", "/s/a.txt", "", map[string]string{"Lock-Token": "<" + token + ">"}); w.Code != http.StatusNoContent {
		t.Fatalf("UNLOCK = %d", w.Code)
	}
	// Unlocked now; the overwrite goes through bare.
	if w := doReq(r, "PUT", "/s/a.txt", "free", nil); w.Code != http.StatusNoContent {
		t.Errorf("PUT after UNLOCK = %d", w.Code)
	}
}

// Scenario: a depth-infinity lock covers children created later.
func TestDepthInfinityLockCoversFutureChildren(t *testing.T) {
	_, r, _ := newTestServer(t)

	if w := doReq(r, "MKCOL", "/s/d", "", nil); w.Code != http.StatusCreated {
		t.Fatalf("MKCOL = %d", w.Code)
	}
	lockBody := `<D:lockinfo xmlns:D="DAV:"><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockinfo>`
	w := doReq(r, "LOCK", "/s/d", lockBody, map[string]string{"Depth": "infinity"})
	if w.Code != http.StatusOK {
		t.Fatalf("LOCK = %d", w.Code)
	}
	token := stripTokenBrackets(w.Header().Get("Lock-Token"))

	if w := doReq(r, "PUT", "/s/d/new.txt", "x", nil); w.Code != http.StatusLocked {
		t.Fatalf("PUT under lock without token = %d", w.Code)
	}
	w = doReq(r, "PUT", "/s/d/new.txt", "x", map[string]string{"If": "(<" + token + ">)"})
	if w.Code != http.StatusCreated {
		t.Fatalf("PUT under lock with token = %d", w.Code)
	}
	// The new child inherited the lock.
	if w := doReq(r, "DELETE", "/s/d/new.txt", "", nil); w.Code != http.StatusLocked {
		t.Fatalf("DELETE of inherited-lock child = %d", w.Code)
	}
	w = doReq(r, "DELETE", "/s/d/new.txt", "", map[string]string{"If": "(<" + token + ">)"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("DELETE with token = %d", w.Code)
	}
}

// Scenario: COPY preserves dead properties but never locks.
func TestCopyPreservesPropertiesNotLocks(t *testing.T) {
	_, r, _ := newTestServer(t)
	doReq(r, "PUT", "/s/a", "data", nil)

	patch := `<?xml version="1.0" encoding="utf-8"?>
<D:propertyupdate xmlns:D="DAV:" xmlns:x="http://example.com/ns">
  <D:set><D:prop><x:tag>v</x:tag></D:prop></D:set>
</D:propertyupdate>`
	w := doReq(r, "PROPPATCH", "/s/a", patch, nil)
	if w.Code != http.StatusMultiStatus {
		t.Fatalf("PROPPATCH = %d", w.Code)
	}
	ms := parseMultistatus(t, w.Body.Bytes())
	if len(ms.Responses) != 1 || !strings.Contains(ms.Responses[0].Propstats[0].Status, "200") {
		t.Fatalf("PROPPATCH body: %s", w.Body.String())
	}

	lockBody := `<D:lockinfo xmlns:D="DAV:"><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockinfo>`
	doReq(r, "LOCK", "/s/a", lockBody, nil)

	w = doReq(r, "COPY", "/s/a", "", map[string]string{"Destination": "/s/b", "Overwrite": "F"})
	if w.Code != http.StatusCreated {
		t.Fatalf("COPY = %d", w.Code)
	}

	// The dead property traveled.
	find := `<D:propfind xmlns:D="DAV:" xmlns:x="http://example.com/ns"><D:prop><x:tag/></D:prop></D:propfind>`
	w = doReq(r, "PROPFIND", "/s/b", find, map[string]string{"Depth": "0"})
	if w.Code != http.StatusMultiStatus || !strings.Contains(w.Body.String(), ">v<") {
		t.Fatalf("PROPFIND copy = %d %s", w.Code, w.Body.String())
	}

	// The lock did not.
	find = `<D:propfind xmlns:D="DAV:"><D:prop><D:lockdiscovery/></D:prop></D:propfind>`
	w = doReq(r, "PROPFIND", "/s/b", find, map[string]string{"Depth": "0"})
	if strings.Contains(w.Body.String(), "activelock") {
		t.Fatalf("copy carries a lock: %s", w.Body.String())
	}
	// And an overwrite of the copy needs no token.
	if w := doReq(r, "PUT", "/s/b", "z", nil); w.Code != http.StatusNoContent {
		t.Errorf("PUT on copy = %d", w.Code)
	}
}

// Scenario: a failing PROPPATCH leaves every property untouched.
func TestProppatchRollsBack(t *testing.T) {
	_, r, _ := newTestServer(t)
	doReq(r, "PUT", "/s/a", "data", nil)

	patch := `<?xml version="1.0" encoding="utf-8"?>
<D:propertyupdate xmlns:D="DAV:" xmlns:x="http://example.com/ns">
  <D:set><D:prop><D:getetag>forged</D:getetag><x:tag>v</x:tag></D:prop></D:set>
</D:propertyupdate>`
	w := doReq(r, "PROPPATCH", "/s/a", patch, nil)
	if w.Code != http.StatusMultiStatus {
		t.Fatalf("PROPPATCH = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "403") {
		t.Errorf("protected property should answer 403: %s", body)
	}
	if !strings.Contains(body, "424") {
		t.Errorf("innocent property should answer 424: %s", body)
	}

	// Neither property mutated.
	find := `<D:propfind xmlns:D="DAV:" xmlns:x="http://example.com/ns"><D:prop><x:tag/></D:prop></D:propfind>`
	w = doReq(r, "PROPFIND", "/s/a", find, map[string]string{"Depth": "0"})
	if !strings.Contains(w.Body.String(), "404") {
		t.Errorf("dead property leaked through the rollback: %s", w.Body.String())
	}
}

// Scenario: single range with an entity-tag validator.
func TestRangeWithIfRange(t *testing.T) {
	_, r, _ := newTestServer(t)
	payload := strings.Repeat("0123456789", 10)
	doReq(r, "PUT", "/s/big.bin", payload, nil)

	get := doReq(r, "GET", "/s/big.bin", "", nil)
	etag := get.Header().Get("ETag")
	if etag == "" {
		t.Fatal("no etag on GET")
	}

	w := doReq(r, "GET", "/s/big.bin", "", map[string]string{"Range": "bytes=0-9", "If-Range": etag})
	if w.Code != http.StatusPartialContent {
		t.Fatalf("ranged GET = %d", w.Code)
	}
	if got := w.Header().Get("Content-Range"); got != fmt.Sprintf("bytes 0-9/%d", len(payload)) {
		t.Errorf("Content-Range = %q", got)
	}
	if w.Body.String() != "0123456789" {
		t.Errorf("range body = %q", w.Body.String())
	}

	// A stale validator downgrades to the full entity.
	w = doReq(r, "GET", "/s/big.bin", "", map[string]string{"Range": "bytes=0-9", "If-Range": `"stale"`})
	if w.Code != http.StatusOK || len(w.Body.String()) != len(payload) {
		t.Errorf("stale If-Range: %d, %d bytes", w.Code, len(w.Body.String()))
	}

	// Unsatisfiable range.
	w = doReq(r, "GET", "/s/big.bin", "", map[string]string{"Range": "bytes=500-"})
	if w.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Errorf("unsatisfiable range = %d", w.Code)
	}
	// Suffix range.
	w = doReq(r, "GET", "/s/big.bin", "", map[string]string{"Range": "bytes=-5"})
	if w.Code != http.StatusPartialContent || w.Body.String() != "56789" {
		t.Errorf("suffix range = %d %q", w.Code, w.Body.String())
	}
}

func TestConditionalConsistency(t *testing.T) {
	_, r, _ := newTestServer(t)
	doReq(r, "PUT", "/s/c.txt", "v1", nil)
	etag := doReq(r, "GET", "/s/c.txt", "", nil).Header().Get("ETag")

	w := doReq(r, "GET", "/s/c.txt", "", map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified || w.Body.Len() != 0 {
		t.Errorf("conditional GET = %d, %d bytes", w.Code, w.Body.Len())
	}

	w = doReq(r, "PUT", "/s/c.txt", "v2", map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusPreconditionFailed {
		t.Errorf("conditional PUT = %d", w.Code)
	}
	if got := doReq(r, "GET", "/s/c.txt", "", nil).Body.String(); got != "v1" {
		t.Errorf("mutation leaked through a failed precondition: %q", got)
	}

	// If-Match with the right tag allows the write.
	w = doReq(r, "PUT", "/s/c.txt", "v2", map[string]string{"If-Match": etag})
	if w.Code != http.StatusNoContent {
		t.Errorf("If-Match PUT = %d", w.Code)
	}
	// If-Match against a missing resource fails.
	w = doReq(r, "PUT", "/s/nothere.txt", "x", map[string]string{"If-Match": "*"})
	if w.Code != http.StatusPreconditionFailed {
		t.Errorf("If-Match * on unmapped = %d", w.Code)
	}
}

func TestCopyMoveSemantics(t *testing.T) {
	_, r, _ := newTestServer(t)
	doReq(r, "MKCOL", "/s/dir", "", nil)
	doReq(r, "PUT", "/s/dir/f.txt", "data", nil)
	doReq(r, "PUT", "/s/existing", "old", nil)

	// Overwrite: F against an existing destination.
	w := doReq(r, "COPY", "/s/dir/f.txt", "", map[string]string{"Destination": "/s/existing", "Overwrite": "F"})
	if w.Code != http.StatusPreconditionFailed {
		t.Fatalf("COPY Overwrite:F = %d", w.Code)
	}
	// Overwrite: T replaces and answers 204.
	w = doReq(r, "COPY", "/s/dir/f.txt", "", map[string]string{"Destination": "/s/existing", "Overwrite": "T"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("COPY Overwrite:T = %d", w.Code)
	}
	if got := doReq(r, "GET", "/s/existing", "", nil).Body.String(); got != "data" {
		t.Errorf("overwritten content = %q", got)
	}

	// Recursive COPY of a collection.
	w = doReq(r, "COPY", "/s/dir", "", map[string]string{"Destination": "/s/dir2"})
	if w.Code != http.StatusCreated {
		t.Fatalf("COPY collection = %d", w.Code)
	}
	if got := doReq(r, "GET", "/s/dir2/f.txt", "", nil).Body.String(); got != "data" {
		t.Errorf("copied child = %q", got)
	}

	// COPY onto itself.
	w = doReq(r, "COPY", "/s/dir", "", map[string]string{"Destination": "/s/dir"})
	if w.Code != http.StatusForbidden {
		t.Errorf("COPY onto itself = %d", w.Code)
	}

	// MOVE relocates and removes the source.
	w = doReq(r, "MOVE", "/s/dir2", "", map[string]string{"Destination": "/s/dir3"})
	if w.Code != http.StatusCreated {
		t.Fatalf("MOVE = %d", w.Code)
	}
	if w := doReq(r, "GET", "/s/dir2/f.txt", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("source survived MOVE: %d", w.Code)
	}
	if got := doReq(r, "GET", "/s/dir3/f.txt", "", nil).Body.String(); got != "data" {
		t.Errorf("moved child = %q", got)
	}

	// MOVE with Depth: 0 is malformed.
	w = doReq(r, "MOVE", "/s/dir3", "", map[string]string{"Destination": "/s/dir4", "Depth": "0"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("MOVE Depth 0 = %d", w.Code)
	}
}

func TestMovePreservesDeadProperties(t *testing.T) {
	_, r, _ := newTestServer(t)
	doReq(r, "PUT", "/s/src.txt", "data", nil)
	patch := `<D:propertyupdate xmlns:D="DAV:" xmlns:x="urn:x"><D:set><D:prop><x:k>v</x:k></D:prop></D:set></D:propertyupdate>`
	doReq(r, "PROPPATCH", "/s/src.txt", patch, nil)

	if w := doReq(r, "MOVE", "/s/src.txt", "", map[string]string{"Destination": "/s/dst.txt"}); w.Code != http.StatusCreated {
		t.Fatalf("MOVE = %d", w.Code)
	}
	find := `<D:propfind xmlns:D="DAV:" xmlns:x="urn:x"><D:prop><x:k/></D:prop></D:propfind>`
	w := doReq(r, "PROPFIND", "/s/dst.txt", find, map[string]string{"Depth": "0"})
	if !strings.Contains(w.Body.String(), ">v<") {
		t.Errorf("dead property lost in MOVE: %s", w.Body.String())
	}
}

func TestCrossShareCopyRefused(t *testing.T) {
	provider := NewMemProvider()
	other := NewMemProvider()
	srv := New(Options{LockStorage: lock.NewMemStore(false)})
	srv.AddShare("/s", provider, "")
	srv.AddShare("/t", other, "")
	r := touka.New()
	srv.Register(r)
	defer srv.Close()

	doReq(r, "PUT", "/s/a", "x", nil)
	w := doReq(r, "COPY", "/s/a", "", map[string]string{"Destination": "/t/a"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("cross-share COPY = %d", w.Code)
	}
}

func TestPropfindDepths(t *testing.T) {
	_, r, _ := newTestServer(t)
	doReq(r, "MKCOL", "/s/d", "", nil)
	doReq(r, "PUT", "/s/d/one", "1", nil)
	doReq(r, "MKCOL", "/s/d/sub", "", nil)
	doReq(r, "PUT", "/s/d/sub/two", "22", nil)

	w := doReq(r, "PROPFIND", "/s/d", "", map[string]string{"Depth": "0"})
	if w.Code != http.StatusMultiStatus {
		t.Fatalf("PROPFIND depth 0 = %d", w.Code)
	}
	if n := len(parseMultistatus(t, w.Body.Bytes()).Responses); n != 1 {
		t.Errorf("depth 0 responses = %d", n)
	}

	w = doReq(r, "PROPFIND", "/s/d", "", map[string]string{"Depth": "1"})
	if n := len(parseMultistatus(t, w.Body.Bytes()).Responses); n != 3 {
		t.Errorf("depth 1 responses = %d", n)
	}

	w = doReq(r, "PROPFIND", "/s/d", "", map[string]string{"Depth": "infinity"})
	if n := len(parseMultistatus(t, w.Body.Bytes()).Responses); n != 4 {
		t.Errorf("depth infinity responses = %d", n)
	}

	// Collections carry a trailing slash in their hrefs.
	ms := parseMultistatus(t, w.Body.Bytes())
	if ms.Responses[0].Href != "/s/d/" {
		t.Errorf("collection href = %q", ms.Responses[0].Href)
	}

	// An allprop answer names the essentials.
	body := w.Body.String()
	for _, want := range []string{"getcontentlength", "resourcetype", "supportedlock", "displayname"} {
		if !strings.Contains(body, want) {
			t.Errorf("allprop lacks %s", want)
		}
	}
}

func TestPropfindPropname(t *testing.T) {
	_, r, _ := newTestServer(t)
	doReq(r, "PUT", "/s/f", "x", nil)
	find := `<D:propfind xmlns:D="DAV:"><D:propname/></D:propfind>`
	w := doReq(r, "PROPFIND", "/s/f", find, map[string]string{"Depth": "0"})
	if w.Code != http.StatusMultiStatus {
		t.Fatalf("propname = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "<D:getetag/>") || !strings.Contains(body, "<D:lockdiscovery/>") {
		t.Errorf("propname body: %s", body)
	}
	if strings.Contains(body, ">x<") {
		t.Error("propname must not carry values")
	}
}

func TestPropfindMissingProperty(t *testing.T) {
	_, r, _ := newTestServer(t)
	doReq(r, "PUT", "/s/f", "x", nil)
	find := `<D:propfind xmlns:D="DAV:" xmlns:x="urn:x"><D:prop><D:getetag/><x:nope/></D:prop></D:propfind>`
	w := doReq(r, "PROPFIND", "/s/f", find, map[string]string{"Depth": "0"})
	ms := parseMultistatus(t, w.Body.Bytes())
	if len(ms.Responses) != 1 || len(ms.Responses[0].Propstats) != 2 {
		t.Fatalf("expected two propstat groups: %s", w.Body.String())
	}
}

func TestPropfindFiniteDepthPolicy(t *testing.T) {
	provider := NewMemProvider()
	srv := New(Options{LockStorage: lock.NewMemStore(false)})
	sh := srv.AddShare("/s", provider, "")
	sh.FinitePropfindDepth = true
	r := touka.New()
	srv.Register(r)
	defer srv.Close()

	w := doReq(r, "PROPFIND", "/s", "", map[string]string{"Depth": "infinity"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("PROPFIND infinity = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "propfind-finite-depth") {
		t.Errorf("error body: %s", w.Body.String())
	}
}

func TestLockRefresh(t *testing.T) {
	_, r, _ := newTestServer(t)
	doReq(r, "PUT", "/s/a", "x", nil)
	lockBody := `<D:lockinfo xmlns:D="DAV:"><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockinfo>`
	w := doReq(r, "LOCK", "/s/a", lockBody, map[string]string{"Timeout": "Second-60"})
	token := stripTokenBrackets(w.Header().Get("Lock-Token"))

	w = doReq(r, "LOCK", "/s/a", "", map[string]string{"If": "(<" + token + ">)", "Timeout": "Second-3600"})
	if w.Code != http.StatusOK {
		t.Fatalf("LOCK refresh = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Second-") {
		t.Errorf("refresh body: %s", w.Body.String())
	}

	// Refreshing without any token is malformed.
	if w := doReq(r, "LOCK", "/s/a", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bare refresh = %d", w.Code)
	}
}

func TestLockUnmappedURLCreatesResource(t *testing.T) {
	_, r, _ := newTestServer(t)
	lockBody := `<D:lockinfo xmlns:D="DAV:"><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockinfo>`
	w := doReq(r, "LOCK", "/s/ghost.txt", lockBody, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("LOCK unmapped = %d", w.Code)
	}
	token := stripTokenBrackets(w.Header().Get("Lock-Token"))

	get := doReq(r, "GET", "/s/ghost.txt", "", nil)
	if get.Code != http.StatusOK || get.Body.Len() != 0 {
		t.Errorf("locked ghost = %d, %d bytes", get.Code, get.Body.Len())
	}
	doReq(r, "UNLOCK", "/s/ghost.txt", "", map[string]string{"Lock-Token": "<" + token + ">"})
}

func TestSharedLocksCoexist(t *testing.T) {
	_, r, _ := newTestServer(t)
	doReq(r, "PUT", "/s/a", "x", nil)
	shared := `<D:lockinfo xmlns:D="DAV:"><D:lockscope><D:shared/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockinfo>`
	exclusive := `<D:lockinfo xmlns:D="DAV:"><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockinfo>`

	if w := doReq(r, "LOCK", "/s/a", shared, nil); w.Code != http.StatusOK {
		t.Fatalf("first shared LOCK = %d", w.Code)
	}
	if w := doReq(r, "LOCK", "/s/a", shared, nil); w.Code != http.StatusOK {
		t.Errorf("second shared LOCK = %d", w.Code)
	}
	w := doReq(r, "LOCK", "/s/a", exclusive, nil)
	if w.Code != http.StatusLocked {
		t.Errorf("exclusive over shared = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "no-conflicting-lock") {
		t.Errorf("423 body: %s", w.Body.String())
	}
}

func TestUnlockErrors(t *testing.T) {
	_, r, _ := newTestServer(t)
	doReq(r, "PUT", "/s/a", "x", nil)

	if w := doReq(r, "UNLOCK", "/s/a", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("UNLOCK without header = %d", w.Code)
	}
	w := doReq(r, "UNLOCK", "/s/a", "", map[string]string{"Lock-Token": "<opaquelocktoken:unknown>"})
	if w.Code != http.StatusConflict {
		t.Errorf("UNLOCK with unknown token = %d", w.Code)
	}
}

func TestDeleteCollectionRecursive(t *testing.T) {
	_, r, _ := newTestServer(t)
	doReq(r, "MKCOL", "/s/d", "", nil)
	doReq(r, "PUT", "/s/d/a", "1", nil)
	doReq(r, "MKCOL", "/s/d/sub", "", nil)
	doReq(r, "PUT", "/s/d/sub/b", "2", nil)

	if w := doReq(r, "DELETE", "/s/d", "", nil); w.Code != http.StatusNoContent {
		t.Fatalf("DELETE = %d", w.Code)
	}
	if w := doReq(r, "PROPFIND", "/s/d", "", map[string]string{"Depth": "0"}); w.Code != http.StatusNotFound {
		t.Errorf("PROPFIND after DELETE = %d", w.Code)
	}
}

func TestDeleteCollectionBadDepth(t *testing.T) {
	_, r, _ := newTestServer(t)
	doReq(r, "MKCOL", "/s/d", "", nil)
	if w := doReq(r, "DELETE", "/s/d", "", map[string]string{"Depth": "0"}); w.Code != http.StatusBadRequest {
		t.Errorf("DELETE collection depth 0 = %d", w.Code)
	}
}

func TestPathEscapeRejected(t *testing.T) {
	_, r, _ := newTestServer(t)
	if w := doReq(r, "GET", "/s/%2e%2e/%2e%2e/etc/passwd", "", nil); w.Code != http.StatusBadRequest {
		t.Errorf("escape = %d", w.Code)
	}
}

func TestDavMount(t *testing.T) {
	_, r, _ := newTestServer(t)
	doReq(r, "MKCOL", "/s/d", "", nil)
	w := doReq(r, "GET", "/s/d?davmount", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("davmount = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/davmount+xml" {
		t.Errorf("davmount content type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "http://dav.test/s/d/") {
		t.Errorf("davmount body: %s", w.Body.String())
	}
}

func TestBrowserListsCollections(t *testing.T) {
	provider := NewMemProvider()
	srv := New(Options{LockStorage: lock.NewMemStore(false), Browse: true})
	srv.AddShare("/s", provider, "")
	r := touka.New()
	srv.Register(r)
	defer srv.Close()

	doReq(r, "MKCOL", "/s/d", "", nil)
	doReq(r, "PUT", "/s/d/hello.txt", "hi", nil)

	w := doReq(r, "GET", "/s/d", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("browser GET = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "hello.txt") || !strings.Contains(body, "Index of /s/d") {
		t.Errorf("listing: %s", body)
	}
}

func TestReadOnlyShare(t *testing.T) {
	dir := t.TempDir()
	provider, err := NewFSProvider(dir, true)
	if err != nil {
		t.Fatal(err)
	}
	srv := New(Options{LockStorage: lock.NewMemStore(false)})
	srv.AddShare("/ro", provider, "")
	r := touka.New()
	srv.Register(r)
	defer srv.Close()

	if w := doReq(r, "PUT", "/ro/x", "data", nil); w.Code != http.StatusForbidden {
		t.Errorf("PUT on read-only = %d", w.Code)
	}
	if w := doReq(r, "MKCOL", "/ro/d", "", nil); w.Code != http.StatusForbidden {
		t.Errorf("MKCOL on read-only = %d", w.Code)
	}
	if w := doReq(r, "PROPFIND", "/ro", "", map[string]string{"Depth": "0"}); w.Code != http.StatusMultiStatus {
		t.Errorf("PROPFIND on read-only = %d", w.Code)
	}
}

func TestFSProviderEndToEnd(t *testing.T) {
	dir := t.TempDir()
	provider, err := NewFSProvider(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	srv := New(Options{LockStorage: lock.NewMemStore(false)})
	srv.AddShare("/fs", provider, "")
	r := touka.New()
	srv.Register(r)
	defer srv.Close()

	if w := doReq(r, "PUT", "/fs/f.txt", "content", nil); w.Code != http.StatusCreated {
		t.Fatalf("PUT = %d", w.Code)
	}
	if got := doReq(r, "GET", "/fs/f.txt", "", nil).Body.String(); got != "content" {
		t.Fatalf("GET = %q", got)
	}
	if w := doReq(r, "MKCOL", "/fs/d", "", nil); w.Code != http.StatusCreated {
		t.Fatalf("MKCOL = %d", w.Code)
	}
	if w := doReq(r, "MOVE", "/fs/f.txt", "", map[string]string{"Destination": "/fs/d/f.txt"}); w.Code != http.StatusCreated {
		t.Fatalf("MOVE = %d", w.Code)
	}
	if got := doReq(r, "GET", "/fs/d/f.txt", "", nil).Body.String(); got != "content" {
		t.Fatalf("GET after MOVE = %q", got)
	}
	if w := doReq(r, "DELETE", "/fs/d", "", nil); w.Code != http.StatusNoContent {
		t.Fatalf("DELETE = %d", w.Code)
	}
}
