// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.

// Package ifheader parses and evaluates the WebDAV If request header
// (RFC 4918 section 10.4).
//
// The header is a disjunction of parenthesized condition lists. Lists may
// be preceded by a resource tag; per the RFC grammar a tag binds every
// following list until the next tag appears, and untagged lists apply to
// the request URI. Within a list every condition must hold. A condition
// names either a state token (angle brackets) or an entity tag (square
// brackets), optionally negated with "Not".
package ifheader

import (
	"fmt"
	"net/url"
	"strings"
)

// Condition is a single state-token or entity-tag condition.
// Exactly one of Token and ETag is non-empty.
type Condition struct {
	Not   bool
	Token string
	ETag  string
}

// List is a conjunction of conditions applied against one resource.
// An empty Resource means the request URI.
type List struct {
	Resource   string
	Conditions []Condition
}

// Header is a parsed If header: a disjunction of lists.
type Header struct {
	Lists []List
}

// Env supplies the current state of the world to Eval.
type Env interface {
	// ETag returns the current entity tag (with quotes) of the resource
	// named by the reference URL, and whether one exists.
	ETag(ref string) (string, bool)
	// Covered reports whether the named lock token currently covers the
	// resource named by the reference URL.
	Covered(ref, token string) bool
}

// Parse parses the value of an If header.
func Parse(s string) (*Header, error) {
	h := &Header{}
	l := newLex(s)
	tag := ""
	tagged := false
	for {
		tok := l.peek()
		if tok == tokEOF {
			break
		}
		switch tok {
		case '<':
			l.consume()
			rt, ok := l.until('>')
			if !ok || rt == "" {
				return nil, fmt.Errorf("ifheader: unterminated resource tag")
			}
			tag = rt
			tagged = true
		case '(':
			list, err := parseList(l)
			if err != nil {
				return nil, err
			}
			if tagged {
				list.Resource = tag
			}
			h.Lists = append(h.Lists, list)
		default:
			return nil, fmt.Errorf("ifheader: unexpected %q", string(tok))
		}
	}
	if len(h.Lists) == 0 {
		return nil, fmt.Errorf("ifheader: no condition lists")
	}
	return h, nil
}

func parseList(l *lex) (List, error) {
	res := List{}
	l.consume() // the opening parenthesis
	for {
		tok := l.peek()
		if tok == ')' {
			l.consume()
			break
		}
		if tok == tokEOF {
			return res, fmt.Errorf("ifheader: unterminated list")
		}
		c, err := parseCondition(l)
		if err != nil {
			return res, err
		}
		res.Conditions = append(res.Conditions, c)
	}
	if len(res.Conditions) == 0 {
		return res, fmt.Errorf("ifheader: empty list")
	}
	return res, nil
}

func parseCondition(l *lex) (Condition, error) {
	res := Condition{}
	tok := l.peek()
	if tok == tokNot {
		res.Not = true
		l.consume()
		tok = l.peek()
	}
	switch tok {
	case '<':
		l.consume()
		t, ok := l.until('>')
		if !ok || t == "" {
			return res, fmt.Errorf("ifheader: unterminated state token")
		}
		res.Token = t
	case '[':
		l.consume()
		et, ok := l.until(']')
		if !ok || et == "" {
			return res, fmt.Errorf("ifheader: unterminated entity tag")
		}
		res.ETag = et
	default:
		return res, fmt.Errorf("ifheader: expected < or [ in condition")
	}
	return res, nil
}

// RewriteHosts strips scheme and host from every tagged resource, failing
// when a tag names a different host than the request's.
func (h *Header) RewriteHosts(host string) error {
	for i := range h.Lists {
		r := h.Lists[i].Resource
		if r == "" {
			continue
		}
		u, err := url.Parse(r)
		if err != nil {
			return err
		}
		if u.Host != "" && !strings.EqualFold(u.Host, host) {
			return fmt.Errorf("ifheader: tag host %q does not match request host %q", u.Host, host)
		}
		h.Lists[i].Resource = u.Path
	}
	return nil
}

func (c Condition) eval(e Env, ref string) bool {
	var res bool
	if c.Token != "" {
		res = e.Covered(ref, c.Token)
	} else {
		cur, ok := e.ETag(ref)
		res = ok && cur == c.ETag
	}
	if c.Not {
		res = !res
	}
	return res
}

func (l List) eval(e Env, def string) bool {
	ref := def
	if l.Resource != "" {
		ref = l.Resource
	}
	for _, c := range l.Conditions {
		if !c.eval(e, ref) {
			return false
		}
	}
	return true
}

// Eval evaluates the header against env, using def as the reference URL of
// untagged lists. On success it also returns the state tokens appearing
// positively in the first matching list; those are the request's submitted
// tokens for lock enforcement.
func (h *Header) Eval(e Env, def string) (bool, []string) {
	for _, l := range h.Lists {
		if !l.eval(e, def) {
			continue
		}
		var submitted []string
		for _, c := range l.Conditions {
			if c.Token != "" && !c.Not {
				submitted = append(submitted, c.Token)
			}
		}
		return true, submitted
	}
	return false, nil
}

// AllTokens returns every state token mentioned anywhere in the header,
// including negated ones. LOCK refresh uses this to locate the lock being
// refreshed.
func (h *Header) AllTokens() []string {
	var res []string
	for _, l := range h.Lists {
		for _, c := range l.Conditions {
			if c.Token != "" {
				res = append(res, c.Token)
			}
		}
	}
	return res
}
