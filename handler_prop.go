// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package minato

import (
	"net/http"
	"sort"

	"github.com/infinite-iroha/minato/davpath"
	"github.com/infinite-iroha/minato/prop"
)

func (s *Server) handlePropfind(dc *davContext) (int, error) {
	res, err := dc.stat(dc.rel)
	if err != nil {
		return 0, mapError(err)
	}
	if res == nil {
		return http.StatusNotFound, nil
	}

	depth := parseDepth(dc.c.GetReqHeader("Depth"), depthInfinity)
	if depth == -2 {
		return 0, errMessage(http.StatusBadRequest, "bad Depth header")
	}
	if depth == depthInfinity && dc.share.FinitePropfindDepth {
		return 0, errPrecondition(http.StatusForbidden, prePropfindFiniteDepth)
	}

	pf, err := parsePropfind(dc.c.GetReqBody(), dc.c.Request.ContentLength)
	if err != nil {
		return 0, errMessage(http.StatusBadRequest, "bad propfind body: %v", err)
	}

	if status := checkHTTPPreconditions(dc, res); status != 0 {
		return status, nil
	}

	scope := []walkEntry{{rel: dc.rel, isCollection: res.IsCollection()}}
	if res.IsCollection() && depth != depthZero {
		if depth == depthOne {
			names, err := res.Children()
			if err != nil {
				return 0, mapError(err)
			}
			for _, name := range names {
				child := davpath.Join(dc.rel, name)
				cr, err := dc.stat(child)
				if err != nil {
					return 0, mapError(err)
				}
				if cr != nil {
					scope = append(scope, walkEntry{rel: child, isCollection: cr.IsCollection()})
				}
			}
		} else {
			scope, err = dc.listTree(dc.rel)
			if err != nil {
				return 0, mapError(err)
			}
		}
	}

	responses := make([]msResponse, 0, len(scope))
	for _, e := range scope {
		r, err := dc.stat(e.rel)
		if err != nil {
			return 0, mapError(err)
		}
		if r == nil {
			continue
		}
		resp, err := s.propfindResponse(dc, e.rel, r, pf)
		if err != nil {
			return 0, mapError(err)
		}
		responses = append(responses, resp)
	}
	writeMultistatus(dc.c.Writer, responses)
	return 0, nil
}

// propfindResponse builds the response element for one resource.
func (s *Server) propfindResponse(dc *davContext, rel string, res Resource, pf *propfindRequest) (msResponse, error) {
	sub := &davContext{
		srv:   dc.srv,
		c:     dc.c,
		share: dc.share,
		rel:   rel,
		ref:   dc.share.Ref(rel),
		user:  dc.user,
	}
	href := sub.ref
	if res.IsCollection() && href != "/" {
		href += "/"
	}

	switch {
	case pf.Propname != nil:
		keys, err := s.propertyNames(sub, res)
		if err != nil {
			return msResponse{}, err
		}
		frags := make([]string, 0, len(keys))
		for _, k := range keys {
			frags = append(frags, emptyPropFragment(k))
		}
		return msResponse{href: href, propstats: []propstatGroup{{status: http.StatusOK, props: frags}}}, nil

	case pf.Allprop != nil:
		keys, err := s.propertyNames(sub, res)
		if err != nil {
			return msResponse{}, err
		}
		return msResponse{href: href, propstats: s.propstatsFor(sub, res, keys)}, nil

	default:
		return msResponse{href: href, propstats: s.propstatsFor(sub, res, pf.Prop)}, nil
	}
}

// propstatsFor resolves each requested property and groups the results by
// status, one propstat per distinct status.
func (s *Server) propstatsFor(dc *davContext, res Resource, keys []prop.Key) []propstatGroup {
	byStatus := make(map[int][]string)
	for _, k := range keys {
		frag, status := s.resolveProperty(dc, res, k)
		byStatus[status] = append(byStatus[status], frag)
	}
	statuses := make([]int, 0, len(byStatus))
	for st := range byStatus {
		statuses = append(statuses, st)
	}
	sort.Ints(statuses)
	groups := make([]propstatGroup, 0, len(statuses))
	for _, st := range statuses {
		groups = append(groups, propstatGroup{status: st, props: byStatus[st]})
	}
	return groups
}

// proppatchOutcome is the dry-run verdict for one property change.
type proppatchOutcome struct {
	key          prop.Key
	status       int
	precondition string
	apply        func() error
}

func (s *Server) handleProppatch(dc *davContext) (int, error) {
	if err := dc.checkMutable(); err != nil {
		return 0, err
	}
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
	if err := s.requireLockTokens(dc, dc.ref, false); err != nil {
		return 0, err
	}

	actions, err := parseProppatch(dc.c.GetReqBody())
	if err != nil {
		return 0, errMessage(http.StatusBadRequest, "bad propertyupdate body: %v", err)
	}

	// Phase one: dry-run every change. One failure poisons the batch;
	// the others report 424 and nothing is written.
	var outcomes []proppatchOutcome
	anyFailed := false
	lp, hasLP := dc.share.Provider.(LivePropertyProvider)
	for _, action := range actions {
		for _, pv := range action.Props {
			o := proppatchOutcome{key: pv.Key, status: http.StatusOK}
			k, inner, remove := pv.Key, pv.InnerXML, action.Remove
			switch {
			case isProtectedProperty(k):
				o.status = http.StatusForbidden
				o.precondition = preCannotModifyProtected
			case hasLP && lp.SupportsProperty(k):
				if remove {
					o.apply = func() error { return lp.RemoveProperty(dc.ctx(), dc.rel, k) }
				} else {
					o.apply = func() error { return lp.SetProperty(dc.ctx(), dc.rel, k, inner) }
				}
			case k.Space == "DAV:":
				// The DAV namespace is reserved; it never holds dead
				// properties.
				o.status = http.StatusForbidden
			default:
				if remove {
					o.apply = func() error { return s.props.Remove(dc.ref, k) }
				} else {
					o.apply = func() error { return s.props.Set(dc.ref, k, inner) }
				}
			}
			if o.status != http.StatusOK {
				anyFailed = true
			}
			outcomes = append(outcomes, o)
		}
	}

	if anyFailed {
		for i := range outcomes {
			if outcomes[i].status == http.StatusOK {
				outcomes[i].status = http.StatusFailedDependency
			}
		}
	} else {
		// Phase two: perform the writes.
		for i := range outcomes {
			if err := outcomes[i].apply(); err != nil {
				outcomes[i].status = mapError(err).Status
			}
		}
	}

	byStatus := make(map[int]*propstatGroup)
	var order []int
	for _, o := range outcomes {
		g := byStatus[o.status]
		if g == nil {
			g = &propstatGroup{status: o.status, precondition: o.precondition}
			byStatus[o.status] = g
			order = append(order, o.status)
		}
		g.props = append(g.props, emptyPropFragment(o.key))
	}
	sort.Ints(order)
	groups := make([]propstatGroup, 0, len(order))
	for _, st := range order {
		groups = append(groups, *byStatus[st])
	}

	writeMultistatus(dc.c.Writer, []msResponse{{href: dc.ref, propstats: groups}})
	return 0, nil
}
