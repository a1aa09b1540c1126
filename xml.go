// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package minato

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/valyala/bytebufferpool"

	"github.com/infinite-iroha/minato/davpath"
	"github.com/infinite-iroha/minato/lock"
	"github.com/infinite-iroha/minato/prop"
)

// maxXMLBody bounds request body parsing. DAV request documents are tiny;
// anything bigger is hostile.
const maxXMLBody = 1 << 20

// davDecoder returns a hardened XML decoder: request documents must be
// UTF-8, custom entities do not resolve (encoding/xml never fetches
// external ones), and input is size-capped.
func davDecoder(r io.Reader) *xml.Decoder {
	d := xml.NewDecoder(io.LimitReader(r, maxXMLBody))
	d.Entity = map[string]string{}
	d.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		if strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "us-ascii") {
			return input, nil
		}
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}
	return d
}

// propfindRequest is a parsed PROPFIND body. An empty body is treated as
// allprop by the caller.
type propfindRequest struct {
	XMLName  xml.Name  `xml:"DAV: propfind"`
	Allprop  *struct{} `xml:"DAV: allprop"`
	Propname *struct{} `xml:"DAV: propname"`
	Prop     propNames `xml:"DAV: prop"`
}

// propNames collects the qualified names of the child elements of a
// <D:prop> container.
type propNames []prop.Key

func (pn *propNames) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		t, err := d.Token()
		if err != nil {
			return err
		}
		switch tok := t.(type) {
		case xml.StartElement:
			*pn = append(*pn, prop.Key{Space: tok.Name.Space, Local: tok.Name.Local})
			if err := d.Skip(); err != nil {
				return err
			}
		case xml.EndElement:
			return nil
		}
	}
}

// parsePropfind reads a PROPFIND request body. A zero-length body means
// allprop.
func parsePropfind(r io.Reader, contentLength int64) (*propfindRequest, error) {
	pf := &propfindRequest{}
	if contentLength == 0 {
		pf.Allprop = &struct{}{}
		return pf, nil
	}
	if err := davDecoder(r).Decode(pf); err != nil {
		if err == io.EOF {
			pf.Allprop = &struct{}{}
			return pf, nil
		}
		return nil, err
	}
	if pf.Allprop == nil && pf.Propname == nil && len(pf.Prop) == 0 {
		return nil, fmt.Errorf("propfind names no properties")
	}
	n := 0
	if pf.Allprop != nil {
		n++
	}
	if pf.Propname != nil {
		n++
	}
	if len(pf.Prop) > 0 {
		n++
	}
	if n > 1 {
		return nil, fmt.Errorf("propfind mixes allprop, propname and prop")
	}
	return pf, nil
}

// propValue is one property from a PROPPATCH set: its key plus the inner
// XML of the property element, stored verbatim.
type propValue struct {
	Key      prop.Key
	InnerXML string
}

// patchAction is one <D:set> or <D:remove> in document order.
type patchAction struct {
	Remove bool
	Props  []propValue
}

// parseProppatch reads a <D:propertyupdate> body into its ordered action
// list.
func parseProppatch(r io.Reader) ([]patchAction, error) {
	var doc struct {
		XMLName xml.Name `xml:"DAV: propertyupdate"`
		Inner   []struct {
			XMLName xml.Name
			Prop    patchProps `xml:"DAV: prop"`
		} `xml:",any"`
	}
	if err := davDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}
	var actions []patchAction
	for _, el := range doc.Inner {
		if el.XMLName.Space != "DAV:" {
			continue
		}
		switch el.XMLName.Local {
		case "set":
			actions = append(actions, patchAction{Props: el.Prop})
		case "remove":
			actions = append(actions, patchAction{Remove: true, Props: el.Prop})
		}
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("propertyupdate contains no set or remove")
	}
	return actions, nil
}

// patchProps captures each property element of a PROPPATCH <D:prop> with
// its inner XML preserved.
type patchProps []propValue

func (pp *patchProps) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		t, err := d.Token()
		if err != nil {
			return err
		}
		switch tok := t.(type) {
		case xml.StartElement:
			var inner struct {
				InnerXML string `xml:",innerxml"`
			}
			if err := d.DecodeElement(&inner, &tok); err != nil {
				return err
			}
			*pp = append(*pp, propValue{
				Key:      prop.Key{Space: tok.Name.Space, Local: tok.Name.Local},
				InnerXML: inner.InnerXML,
			})
		case xml.EndElement:
			return nil
		}
	}
}

// lockInfoRequest is a parsed <D:lockinfo> LOCK body.
type lockInfoRequest struct {
	XMLName   xml.Name  `xml:"DAV: lockinfo"`
	Exclusive *struct{} `xml:"lockscope>exclusive"`
	Shared    *struct{} `xml:"lockscope>shared"`
	Write     *struct{} `xml:"locktype>write"`
	Owner     struct {
		InnerXML string `xml:",innerxml"`
	} `xml:"owner"`
}

// parseLockInfo reads a LOCK body. ok=false with nil error means the body
// was empty: a refresh request.
func parseLockInfo(r io.Reader) (*lockInfoRequest, bool, error) {
	li := &lockInfoRequest{}
	if err := davDecoder(r).Decode(li); err != nil {
		if err == io.EOF {
			return nil, false, nil
		}
		return nil, false, err
	}
	if li.Write == nil {
		return nil, false, fmt.Errorf("only write locks are supported")
	}
	if (li.Exclusive == nil) == (li.Shared == nil) {
		return nil, false, fmt.Errorf("lockinfo needs exactly one lockscope")
	}
	return li, true, nil
}

// --- response rendering ---
//
// Multistatus and property documents are assembled as fragments in pooled
// buffers: arbitrary-namespace dead properties cannot be marshalled
// through encoding/xml, so the writer side is string-built with careful
// escaping, the same approach as the property fragments stored verbatim.

const xmlHeader = `<?xml version="1.0" encoding="utf-8"?>` + "\n"

func xmlEscaped(s string) string {
	var b bytes.Buffer
	xml.EscapeText(&b, []byte(s))
	return b.String()
}

func statusLine(code int) string {
	return fmt.Sprintf("HTTP/1.1 %d %s", code, http.StatusText(code))
}

// propFragment renders a full property element for a key, with optional
// inner XML. Namespaced keys bind the namespace on the element itself.
func propFragment(k prop.Key, inner string) string {
	if k.Space == "DAV:" {
		return "<D:" + k.Local + ">" + inner + "</D:" + k.Local + ">"
	}
	if k.Space == "" {
		return "<" + k.Local + ">" + inner + "</" + k.Local + ">"
	}
	return `<ns:` + k.Local + ` xmlns:ns="` + xmlEscaped(k.Space) + `">` + inner + `</ns:` + k.Local + `>`
}

// emptyPropFragment renders a property element with no value, as used in
// propname listings and 404 propstat groups.
func emptyPropFragment(k prop.Key) string {
	if k.Space == "DAV:" {
		return "<D:" + k.Local + "/>"
	}
	if k.Space == "" {
		return "<" + k.Local + "/>"
	}
	return `<ns:` + k.Local + ` xmlns:ns="` + xmlEscaped(k.Space) + `"/>`
}

// propstatGroup collects the rendered property fragments sharing one
// status inside a response element.
type propstatGroup struct {
	status       int
	precondition string
	props        []string
}

// msResponse is one <D:response>: either a bare status (DELETE, COPY and
// MOVE failures) or a set of propstat groups (PROPFIND, PROPPATCH).
type msResponse struct {
	href      string
	status    int
	propstats []propstatGroup
}

// writeMultistatus renders and sends a 207 document.
func writeMultistatus(w http.ResponseWriter, responses []msResponse) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.WriteString(xmlHeader)
	buf.WriteString(`<D:multistatus xmlns:D="DAV:">`)
	for _, r := range responses {
		buf.WriteString(`<D:response><D:href>`)
		buf.WriteString(xmlEscaped(davpath.Encode(r.href)))
		buf.WriteString(`</D:href>`)
		if len(r.propstats) == 0 {
			buf.WriteString(`<D:status>`)
			buf.WriteString(statusLine(r.status))
			buf.WriteString(`</D:status>`)
		}
		for _, ps := range r.propstats {
			buf.WriteString(`<D:propstat><D:prop>`)
			for _, p := range ps.props {
				buf.WriteString(p)
			}
			buf.WriteString(`</D:prop><D:status>`)
			buf.WriteString(statusLine(ps.status))
			buf.WriteString(`</D:status>`)
			if ps.precondition != "" {
				buf.WriteString(`<D:error><D:` + ps.precondition + `/></D:error>`)
			}
			buf.WriteString(`</D:propstat>`)
		}
		buf.WriteString(`</D:response>`)
	}
	buf.WriteString(`</D:multistatus>`)

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	w.Write(buf.Bytes())
}

// activeLockXML renders one <D:activelock> for lockdiscovery and LOCK
// responses.
func activeLockXML(rec *lock.Record, now time.Time) string {
	var b strings.Builder
	b.WriteString(`<D:activelock><D:locktype><D:write/></D:locktype><D:lockscope>`)
	if rec.Scope == lock.Shared {
		b.WriteString(`<D:shared/>`)
	} else {
		b.WriteString(`<D:exclusive/>`)
	}
	b.WriteString(`</D:lockscope><D:depth>`)
	if rec.InfiniteDepth {
		b.WriteString("infinity")
	} else {
		b.WriteString("0")
	}
	b.WriteString(`</D:depth>`)
	if rec.OwnerXML != "" {
		b.WriteString(`<D:owner>` + rec.OwnerXML + `</D:owner>`)
	}
	b.WriteString(`<D:timeout>`)
	if secs := rec.RemainingSeconds(now); secs < 0 {
		b.WriteString("Infinite")
	} else {
		fmt.Fprintf(&b, "Second-%d", secs)
	}
	b.WriteString(`</D:timeout><D:locktoken><D:href>`)
	b.WriteString(xmlEscaped(rec.Token))
	b.WriteString(`</D:href></D:locktoken><D:lockroot><D:href>`)
	b.WriteString(xmlEscaped(davpath.Encode(rec.Root)))
	b.WriteString(`</D:href></D:lockroot></D:activelock>`)
	return b.String()
}

// lockDiscoveryInner renders the value of the lockdiscovery property.
func lockDiscoveryInner(recs []*lock.Record, now time.Time) string {
	var b strings.Builder
	for _, rec := range recs {
		b.WriteString(activeLockXML(rec, now))
	}
	return b.String()
}

// supportedLockInner is the constant value of the supportedlock property.
const supportedLockInner = `<D:lockentry><D:lockscope><D:exclusive/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockentry>` +
	`<D:lockentry><D:lockscope><D:shared/></D:lockscope><D:locktype><D:write/></D:locktype></D:lockentry>`

// writeLockResponse sends the prop/lockdiscovery document of a LOCK.
func writeLockResponse(w http.ResponseWriter, status int, rec *lock.Record, now time.Time) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.WriteString(xmlHeader)
	buf.WriteString(`<D:prop xmlns:D="DAV:"><D:lockdiscovery>`)
	buf.WriteString(activeLockXML(rec, now))
	buf.WriteString(`</D:lockdiscovery></D:prop>`)

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// writeErrorBody sends an XML error body carrying a precondition element.
func writeErrorBody(w http.ResponseWriter, status int, precondition string) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	buf.WriteString(xmlHeader)
	buf.WriteString(`<D:error xmlns:D="DAV:"><D:` + precondition + `/></D:error>`)

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

// davMountXML renders an application/davmount+xml document for a mount
// URL.
func davMountXML(mountURL string) string {
	return xmlHeader +
		`<dm:mount xmlns:dm="http://purl.org/NET/webdav/mount"><dm:url>` +
		xmlEscaped(mountURL) + `</dm:url></dm:mount>`
}
