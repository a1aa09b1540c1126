// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.

// Package minato is a multi-share WebDAV server (RFC 4918, class 1 and 2)
// for the touka framework: pluggable resource providers per share, write
// locks with discovery and refresh, dead properties, conditional request
// evaluation, Basic and Digest authentication, and an HTML directory
// browser.
package minato

import (
	"time"

	"github.com/infinite-iroha/touka"

	"github.com/infinite-iroha/minato/davpath"
	"github.com/infinite-iroha/minato/lock"
	"github.com/infinite-iroha/minato/prop"
)

// Version is reported in error pages and the browser footer.
const Version = "0.2.1"

// Server is the process-wide WebDAV engine: the share table, the lock
// manager, the property store and the authenticator. Build one with New
// or NewFromConfig, mount it with Register, and Close it on shutdown.
type Server struct {
	shares []*Share
	locks  *lock.Manager
	props  prop.Store
	auth   *Authenticator

	// Browse enables the HTML directory browser middleware.
	Browse bool

	// Debug makes the debug filter dump DAV negotiation headers.
	Debug bool
}

// Options configures New.
type Options struct {
	// LockStorage defaults to the in-memory store with a janitor.
	LockStorage lock.Storage

	// PropertyStorage defaults to the in-memory store.
	PropertyStorage prop.Store

	// Authenticator may be nil: every request then runs anonymous.
	Authenticator *Authenticator

	// MaxLockTimeout caps client Timeout requests.
	MaxLockTimeout time.Duration

	Browse bool
	Debug  bool
}

// New assembles a server. Shares are added with AddShare before Register.
func New(opts Options) *Server {
	ls := opts.LockStorage
	if ls == nil {
		ls = lock.NewMemStore(true)
	}
	ps := opts.PropertyStorage
	if ps == nil {
		ps = prop.NewMemStore()
	}
	mgr := lock.NewManager(ls)
	mgr.MaxTimeout = opts.MaxLockTimeout
	return &Server{
		locks:  mgr,
		props:  ps,
		auth:   opts.Authenticator,
		Browse: opts.Browse,
		Debug:  opts.Debug,
	}
}

// AddShare mounts a provider at a URL prefix.
func (s *Server) AddShare(prefix string, provider Provider, realm string) *Share {
	sh := &Share{Prefix: prefix, Provider: provider, Realm: realm}
	s.addShare(sh)
	return sh
}

// Close releases the storage backends.
func (s *Server) Close() error {
	err := s.locks.Close()
	if perr := s.props.Close(); err == nil {
		err = perr
	}
	return err
}

// davMethods is everything the engine answers. TRACE is registered so it
// can be refused with 501 rather than the router's 404.
var davMethods = []string{
	"OPTIONS", "HEAD", "GET", "PUT", "POST", "DELETE", "MKCOL",
	"COPY", "MOVE", "PROPFIND", "PROPPATCH", "LOCK", "UNLOCK", "TRACE",
}

// Register mounts the middleware chain and the engine for every share on
// a touka engine: debug filter, error printer, authenticator, directory
// browser, then the request engine. Recovery is expected to be installed
// globally by the caller (touka.Default does).
func (s *Server) Register(e *touka.Engine) {
	chain := []touka.HandlerFunc{
		func(c *touka.Context) {
			c.SetHeader("Server", "minato/"+Version)
			c.Next()
		},
		s.DebugFilter(),
		s.ErrorPrinter(),
	}
	if s.auth != nil {
		chain = append(chain, s.auth.Middleware())
	}
	if s.Browse {
		chain = append(chain, s.Browser())
	}
	chain = append(chain, s.ServeDAV)

	// Shares nested inside another share's prefix are reached through the
	// ancestor's catch-all; registering them separately would collide in
	// the route tree. Path-to-share routing proper happens in resolve.
	var mounts []string
	for i := len(s.shares) - 1; i >= 0; i-- { // shortest prefixes first
		prefix := s.shares[i].Prefix
		covered := false
		for _, m := range mounts {
			if davpath.InTree(prefix, m) {
				covered = true
				break
			}
		}
		if !covered {
			mounts = append(mounts, prefix)
		}
	}

	for _, prefix := range mounts {
		pattern := prefix + "/*path"
		if prefix == "/" {
			pattern = "/*path"
		}
		for _, method := range davMethods {
			e.Handle(method, pattern, chain...)
			if prefix != "/" {
				// The share root itself is not matched by the
				// wildcard.
				e.Handle(method, prefix, chain...)
			}
		}
	}
}

// Serve is a one-call setup: a single filesystem share registered on the
// given engine with in-memory storage, no authentication, and the browser
// enabled.
func Serve(e *touka.Engine, prefix, rootDir string) (*Server, error) {
	provider, err := NewFSProvider(rootDir, false)
	if err != nil {
		return nil, err
	}
	srv := New(Options{Browse: true})
	srv.AddShare(prefix, provider, "")
	srv.Register(e)
	return srv, nil
}
