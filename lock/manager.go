// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package lock

import (
	"sync"
	"time"

	"github.com/infinite-iroha/minato/davpath"
)

// Manager enforces lock semantics above a Storage: conflict detection on
// acquisition, principal checks on release, coverage maintenance as
// resources appear and disappear. Acquisition is linearized by an internal
// mutex so a conflicting acquire either sees the prior lock or runs after
// its release.
type Manager struct {
	mu    sync.Mutex
	store Storage

	// MaxTimeout caps requested lock timeouts. Zero means
	// DefaultMaxTimeout.
	MaxTimeout time.Duration
}

// NewManager wraps a storage backend.
func NewManager(store Storage) *Manager {
	return &Manager{store: store}
}

// Close closes the underlying storage.
func (m *Manager) Close() error {
	return m.store.Close()
}

// Acquire creates a new lock rooted at root, after checking the overlap
// rules: an exclusive lock conflicts with any lock on the root, on any
// descendant (when infinite depth), or on any infinite-depth ancestor; a
// shared lock conflicts only with exclusive ones in the same positions.
// Returns ErrLocked on conflict.
func (m *Manager) Acquire(principal, root string, scope Scope, infiniteDepth bool, ownerXML string, timeout time.Duration) (*Record, error) {
	root = davpath.Normalize(root)
	m.mu.Lock()
	defer m.mu.Unlock()

	conflicts, err := m.overlapping(root, infiniteDepth)
	if err != nil {
		return nil, err
	}
	for _, c := range conflicts {
		if scope == Exclusive || c.Scope == Exclusive {
			return nil, ErrLocked
		}
	}

	return m.store.Create(Record{
		Root:          root,
		Scope:         scope,
		InfiniteDepth: infiniteDepth,
		OwnerXML:      ownerXML,
		Principal:     principal,
		Timeout:       clampTimeout(timeout, m.MaxTimeout),
	})
}

// overlapping collects the active locks whose coverage overlaps a lock
// rooted at root with the given depth. Caller holds the mutex.
func (m *Manager) overlapping(root string, infiniteDepth bool) ([]*Record, error) {
	recs, err := m.store.Enumerate(root, true, infiniteDepth)
	if err != nil {
		return nil, err
	}
	// Ancestor-rooted infinite locks cover root without indexing it when
	// root does not exist yet, so walk up explicitly.
	seen := make(map[string]bool, len(recs))
	for _, r := range recs {
		seen[r.Token] = true
	}
	for p := davpath.Parent(root); ; p = davpath.Parent(p) {
		up, err := m.store.Enumerate(p, true, false)
		if err != nil {
			return nil, err
		}
		for _, r := range up {
			if r.InfiniteDepth && !seen[r.Token] {
				seen[r.Token] = true
				recs = append(recs, r)
			}
		}
		if p == "/" {
			break
		}
	}
	return recs, nil
}

// Refresh updates the expiry of an existing lock.
func (m *Manager) Refresh(token string, timeout time.Duration) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Refresh(token, clampTimeout(timeout, m.MaxTimeout))
}

// Release removes the lock held by principal. ErrForbidden when the lock
// belongs to someone else, ErrNoSuchLock when it does not exist.
func (m *Manager) Release(token, principal string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.store.Get(token)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNoSuchLock
	}
	if rec.Principal != principal {
		return ErrForbidden
	}
	return m.store.Delete(token)
}

// Cover records that url is now covered by the lock; called when a
// resource is created inside an infinite-depth lock root.
func (m *Manager) Cover(url, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Cover(token, davpath.Normalize(url))
}

// CoverInherited adds url to every infinite-depth lock whose root is an
// ancestor of url. The engine calls this after PUT or MKCOL creates a new
// resource.
func (m *Manager) CoverInherited(url string) error {
	url = davpath.Normalize(url)
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := davpath.Parent(url); ; p = davpath.Parent(p) {
		recs, err := m.store.Enumerate(p, true, false)
		if err != nil {
			return err
		}
		for _, r := range recs {
			if r.InfiniteDepth && davpath.Included(url, r.Root, true) {
				if err := m.store.Cover(r.Token, url); err != nil {
					return err
				}
			}
		}
		if p == "/" {
			return nil
		}
	}
}

// Uncover removes url from every lock covering it; locks left with an
// empty URL set disappear. The engine calls this when a resource is
// deleted or moved away.
func (m *Manager) Uncover(url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Uncover(davpath.Normalize(url))
}

// TokensFor lists the active locks covering url, optionally restricted to
// one principal.
func (m *Manager) TokensFor(url, principal string) ([]*Record, error) {
	recs, err := m.store.Enumerate(davpath.Normalize(url), true, false)
	if err != nil {
		return nil, err
	}
	if principal == "" {
		return recs, nil
	}
	var res []*Record
	for _, r := range recs {
		if r.Principal == principal {
			res = append(res, r)
		}
	}
	return res, nil
}

// ScopeOn returns the scope of any active lock covering url.
func (m *Manager) ScopeOn(url string) (Scope, bool, error) {
	recs, err := m.store.Enumerate(davpath.Normalize(url), true, false)
	if err != nil {
		return 0, false, err
	}
	if len(recs) == 0 {
		return 0, false, nil
	}
	for _, r := range recs {
		if r.Scope == Exclusive {
			return Exclusive, true, nil
		}
	}
	return Shared, true, nil
}

// Get returns the active lock for token, or nil.
func (m *Manager) Get(token string) (*Record, error) {
	return m.store.Get(token)
}

// Covered reports whether token is active and covers url, either through
// the lock's URL set or because url lies under an infinite-depth root.
// The latter matters for resources being created inside a locked
// collection: they are covered before any URL-set entry exists. This
// backs If-header state-token evaluation and Lock-Token checks on UNLOCK.
func (m *Manager) Covered(url, token string) (bool, error) {
	rec, err := m.store.Get(token)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	url = davpath.Normalize(url)
	return rec.Covers(url) || davpath.Included(url, rec.Root, rec.InfiniteDepth), nil
}

// LocksOn lists every active lock whose coverage reaches url, including
// infinite-depth locks rooted at an ancestor. lockdiscovery and mutation
// enforcement both use this.
func (m *Manager) LocksOn(url string) ([]*Record, error) {
	url = davpath.Normalize(url)
	recs, err := m.store.Enumerate(url, true, false)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(recs))
	for _, r := range recs {
		seen[r.Token] = true
	}
	for p := davpath.Parent(url); ; p = davpath.Parent(p) {
		up, err := m.store.Enumerate(p, true, false)
		if err != nil {
			return nil, err
		}
		for _, r := range up {
			if r.InfiniteDepth && !seen[r.Token] && davpath.Included(url, r.Root, true) {
				seen[r.Token] = true
				recs = append(recs, r)
			}
		}
		if p == "/" {
			break
		}
	}
	return recs, nil
}

// LocksBelow lists every active lock covering url or any of its
// descendants. DELETE and MOVE use it to demand tokens for the whole
// subtree.
func (m *Manager) LocksBelow(url string) ([]*Record, error) {
	return m.store.Enumerate(davpath.Normalize(url), true, true)
}

// Delete removes a lock unconditionally. LOCK rollback uses this.
func (m *Manager) Delete(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Delete(token)
}
