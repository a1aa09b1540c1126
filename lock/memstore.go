// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package lock

import (
	"container/heap"
	"sync"
	"time"

	"github.com/infinite-iroha/minato/davpath"
)

// MemStore is the in-memory lock storage. Expired records are purged
// lazily on access via an expiry heap, plus by an optional janitor
// goroutine for long-idle servers.
type MemStore struct {
	mu     sync.Mutex
	byToken map[string]*Record
	byURL   map[string]map[string]bool // url -> token set
	expiry  expiryHeap
	stop    chan struct{}
	now     func() time.Time
}

// NewMemStore creates an empty in-memory store. When janitor is true a
// background goroutine sweeps expired records once a minute; lazy purging
// on access happens either way.
func NewMemStore(janitor bool) *MemStore {
	s := &MemStore{
		byToken: make(map[string]*Record),
		byURL:   make(map[string]map[string]bool),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	if janitor {
		go s.sweep()
	}
	return s
}

func (s *MemStore) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			s.purge()
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}

// Close stops the janitor. The store stays usable.
func (s *MemStore) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	return nil
}

// purge drops every expired record. Caller holds the mutex.
func (s *MemStore) purge() {
	now := s.now()
	for len(s.expiry) > 0 {
		e := s.expiry[0]
		if e.expire.After(now) {
			break
		}
		heap.Pop(&s.expiry)
		rec, ok := s.byToken[e.token]
		// The heap entry may be stale after a refresh; only drop the
		// record if it is genuinely expired.
		if ok && rec.Expired(now) {
			s.removeLocked(rec)
		}
	}
}

func (s *MemStore) removeLocked(rec *Record) {
	delete(s.byToken, rec.Token)
	for u := range rec.URLs {
		set := s.byURL[u]
		delete(set, rec.Token)
		if len(set) == 0 {
			delete(s.byURL, u)
		}
	}
}

func (s *MemStore) Get(token string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge()
	rec, ok := s.byToken[token]
	if !ok {
		return nil, nil
	}
	return rec.clone(), nil
}

func (s *MemStore) Create(rec Record) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge()

	rec.Token = GenerateToken()
	rec.Expire = expiry(s.now(), rec.Timeout)
	if rec.URLs == nil {
		rec.URLs = make(map[string]bool)
	}
	rec.URLs[rec.Root] = true

	stored := rec.clone()
	s.byToken[stored.Token] = stored
	for u := range stored.URLs {
		s.index(u, stored.Token)
	}
	if !stored.Expire.IsZero() {
		heap.Push(&s.expiry, expiryEntry{token: stored.Token, expire: stored.Expire})
	}
	return rec.clone(), nil
}

func (s *MemStore) index(url, token string) {
	set := s.byURL[url]
	if set == nil {
		set = make(map[string]bool)
		s.byURL[url] = set
	}
	set[token] = true
}

func (s *MemStore) Refresh(token string, timeout time.Duration) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge()
	rec, ok := s.byToken[token]
	if !ok {
		return nil, ErrNoSuchLock
	}
	rec.Timeout = timeout
	rec.Expire = expiry(s.now(), timeout)
	if !rec.Expire.IsZero() {
		heap.Push(&s.expiry, expiryEntry{token: token, expire: rec.Expire})
	}
	return rec.clone(), nil
}

func (s *MemStore) Delete(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge()
	rec, ok := s.byToken[token]
	if !ok {
		return ErrNoSuchLock
	}
	s.removeLocked(rec)
	return nil
}

func (s *MemStore) Cover(token, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge()
	rec, ok := s.byToken[token]
	if !ok {
		return ErrNoSuchLock
	}
	rec.URLs[url] = true
	s.index(url, token)
	return nil
}

func (s *MemStore) Uncover(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge()
	for token := range s.byURL[url] {
		rec := s.byToken[token]
		delete(rec.URLs, url)
		if len(rec.URLs) == 0 {
			delete(s.byToken, token)
		}
	}
	delete(s.byURL, url)
	return nil
}

func (s *MemStore) Enumerate(url string, includeRoot, includeDescendants bool) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purge()

	seen := make(map[string]bool)
	var res []*Record
	add := func(token string) {
		if seen[token] {
			return
		}
		seen[token] = true
		res = append(res, s.byToken[token].clone())
	}

	if includeRoot {
		for token := range s.byURL[url] {
			add(token)
		}
	}
	if includeDescendants {
		for u, tokens := range s.byURL {
			if u == url || !davpath.InTree(u, url) {
				continue
			}
			for token := range tokens {
				add(token)
			}
		}
	}
	return res, nil
}

// expiryHeap orders heap entries by expiry instant. Entries can go stale
// when a lock is refreshed; purge revalidates against the live record.
type expiryEntry struct {
	token  string
	expire time.Time
}

type expiryHeap []expiryEntry

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].expire.Before(h[j].expire) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)         { *h = append(*h, x.(expiryEntry)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
