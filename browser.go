// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package minato

import (
	"html/template"
	"net/http"
	"sort"
	"strconv"

	"github.com/infinite-iroha/touka"
	"github.com/valyala/bytebufferpool"

	"github.com/infinite-iroha/minato/davpath"
)

// The directory browser renders collection GETs as an HTML table so a
// plain web browser can look inside a share. Everything else falls
// through to the engine.

var browserTemplate = template.Must(template.New("dir").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8"/>
<title>Index of {{.Path}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; min-width: 40em; }
th, td { text-align: left; padding: 0.2em 1.2em 0.2em 0; }
th { border-bottom: 1px solid #999; }
.size { text-align: right; }
</style>
</head>
<body>
<h1>Index of {{.Path}}</h1>
<table>
<tr><th>Name</th><th class="size">Size</th><th>Type</th><th>Last modified</th></tr>
{{if .Parent}}<tr><td><a href="{{.Parent}}">..</a></td><td class="size"></td><td>collection</td><td></td></tr>{{end}}
{{range .Entries}}<tr><td><a href="{{.Href}}">{{.Name}}</a></td><td class="size">{{.Size}}</td><td>{{.Type}}</td><td>{{.Modified}}</td></tr>
{{end}}</table>
<hr/><small>minato/{{.Version}}</small>
</body>
</html>
`))

type browserEntry struct {
	Name     string
	Href     string
	Size     string
	Type     string
	Modified string
}

type browserPage struct {
	Path    string
	Parent  string
	Entries []browserEntry
	Version string
}

// Browser returns the middleware rendering collection listings.
func (s *Server) Browser() touka.HandlerFunc {
	return func(c *touka.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.Next()
			return
		}
		if c.Request.URL.Query().Has("davmount") {
			c.Next()
			return
		}
		share, rel, err := s.resolve(c.Request.URL.EscapedPath())
		if err != nil {
			c.Next()
			return
		}
		res, err := share.Provider.Stat(c.Request.Context(), rel)
		if err != nil || !res.IsCollection() {
			c.Next()
			return
		}
		s.renderListing(c, share, rel, res)
	}
}

func (s *Server) renderListing(c *touka.Context, share *Share, rel string, res Resource) {
	names, err := res.Children()
	if err != nil {
		s.writeErrorPage(c, mapError(err).Status, "")
		return
	}
	sort.Strings(names)

	ref := share.Ref(rel)
	page := browserPage{Path: ref, Version: Version}
	if ref != "/" {
		page.Parent = davpath.Encode(davpath.Parent(ref))
	}
	for _, name := range names {
		childRel := davpath.Join(rel, name)
		child, err := share.Provider.Stat(c.Request.Context(), childRel)
		if err != nil {
			continue
		}
		e := browserEntry{
			Name: name,
			Href: davpath.Encode(share.Ref(childRel)),
		}
		if child.IsCollection() {
			e.Type = "collection"
			e.Href += "/"
		} else {
			e.Type = "file"
			if n, ok := child.ContentLength(); ok {
				e.Size = strconv.FormatInt(n, 10)
			}
		}
		if mod, ok := child.LastModified(); ok {
			e.Modified = formatHTTPDate(mod)
		}
		page.Entries = append(page.Entries, e)
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := browserTemplate.Execute(buf, page); err != nil {
		s.writeErrorPage(c, http.StatusInternalServerError, "")
		return
	}
	c.SetHeader("Content-Type", "text/html; charset=utf-8")
	c.SetHeader("Content-Length", strconv.Itoa(buf.Len()))
	c.Status(http.StatusOK)
	if c.Request.Method != http.MethodHead {
		c.Writer.Write(buf.Bytes())
	}
}
