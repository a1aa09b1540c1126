// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package lock

import (
	"strings"
	"testing"
	"time"
)

func newTestManager() (*Manager, *MemStore) {
	store := NewMemStore(false)
	return NewManager(store), store
}

func TestAcquireExclusiveConflicts(t *testing.T) {
	m, _ := newTestManager()

	first, err := m.Acquire("alice", "/s/a.txt", Exclusive, false, "<D:href>alice</D:href>", time.Minute)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if !strings.HasPrefix(first.Token, "opaquelocktoken:") {
		t.Errorf("token %q lacks opaquelocktoken scheme", first.Token)
	}

	if _, err := m.Acquire("bob", "/s/a.txt", Exclusive, false, "", time.Minute); err != ErrLocked {
		t.Errorf("second exclusive on same url: got %v; want ErrLocked", err)
	}
	if _, err := m.Acquire("bob", "/s/a.txt", Shared, false, "", time.Minute); err != ErrLocked {
		t.Errorf("shared over exclusive: got %v; want ErrLocked", err)
	}
}

func TestAcquireSharedCoexist(t *testing.T) {
	m, _ := newTestManager()
	if _, err := m.Acquire("alice", "/s/a", Shared, false, "", time.Minute); err != nil {
		t.Fatalf("first shared: %v", err)
	}
	if _, err := m.Acquire("bob", "/s/a", Shared, false, "", time.Minute); err != nil {
		t.Errorf("second shared should coexist: %v", err)
	}
	if _, err := m.Acquire("carol", "/s/a", Exclusive, false, "", time.Minute); err != ErrLocked {
		t.Errorf("exclusive over shared: got %v; want ErrLocked", err)
	}
}

func TestAcquireDepthConflicts(t *testing.T) {
	m, _ := newTestManager()

	// Lock on a descendant blocks an infinite-depth lock on the ancestor.
	if _, err := m.Acquire("alice", "/s/d/file", Exclusive, false, "", time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Acquire("bob", "/s/d", Exclusive, true, "", time.Minute); err != ErrLocked {
		t.Errorf("infinite lock over locked descendant: got %v; want ErrLocked", err)
	}
	// Depth-0 on the ancestor itself is fine.
	if _, err := m.Acquire("bob", "/s/d", Exclusive, false, "", time.Minute); err != nil {
		t.Errorf("depth-0 lock on ancestor: %v", err)
	}
}

func TestAcquireUnderInfiniteAncestor(t *testing.T) {
	m, _ := newTestManager()
	if _, err := m.Acquire("alice", "/s/d", Exclusive, true, "", time.Minute); err != nil {
		t.Fatal(err)
	}
	// Even a resource that did not exist at lock time is covered by the
	// ancestor's infinite-depth lock.
	if _, err := m.Acquire("bob", "/s/d/new/deep.txt", Exclusive, false, "", time.Minute); err != ErrLocked {
		t.Errorf("lock under infinite ancestor: got %v; want ErrLocked", err)
	}
}

func TestReleasePrincipal(t *testing.T) {
	m, _ := newTestManager()
	rec, _ := m.Acquire("alice", "/s/a", Exclusive, false, "", time.Minute)

	if err := m.Release(rec.Token, "mallory"); err != ErrForbidden {
		t.Errorf("foreign release: got %v; want ErrForbidden", err)
	}
	if err := m.Release(rec.Token, "alice"); err != nil {
		t.Errorf("owner release: %v", err)
	}
	if err := m.Release(rec.Token, "alice"); err != ErrNoSuchLock {
		t.Errorf("double release: got %v; want ErrNoSuchLock", err)
	}
}

func TestExpiryIsLazy(t *testing.T) {
	m, store := newTestManager()
	now := time.Now()
	store.now = func() time.Time { return now }

	rec, err := m.Acquire("alice", "/s/a", Exclusive, false, "", 30*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	now = now.Add(time.Minute)
	got, err := m.Get(rec.Token)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("expired lock must read as absent")
	}
	// And the slot is free again.
	if _, err := m.Acquire("bob", "/s/a", Exclusive, false, "", time.Minute); err != nil {
		t.Errorf("acquire after expiry: %v", err)
	}
}

func TestRefreshExtends(t *testing.T) {
	m, store := newTestManager()
	now := time.Now()
	store.now = func() time.Time { return now }

	rec, _ := m.Acquire("alice", "/s/a", Exclusive, false, "", 30*time.Second)
	now = now.Add(20 * time.Second)
	if _, err := m.Refresh(rec.Token, 30*time.Second); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	now = now.Add(25 * time.Second) // past the original expiry
	got, _ := m.Get(rec.Token)
	if got == nil {
		t.Fatal("refreshed lock should still be alive")
	}
	if _, err := m.Refresh("opaquelocktoken:bogus", time.Minute); err != ErrNoSuchLock {
		t.Errorf("refresh unknown: got %v; want ErrNoSuchLock", err)
	}
}

func TestCoverAndUncover(t *testing.T) {
	m, _ := newTestManager()
	rec, _ := m.Acquire("alice", "/s/d", Exclusive, true, "", time.Minute)

	// Coverage reaches not-yet-indexed descendants through the root.
	if ok, _ := m.Covered("/s/d/new.txt", rec.Token); !ok {
		t.Error("descendant of an infinite-depth root should be covered")
	}

	if err := m.CoverInherited("/s/d/new.txt"); err != nil {
		t.Fatal(err)
	}
	got, _ := m.Get(rec.Token)
	if !got.Covers("/s/d/new.txt") {
		t.Error("created child should join the lock's URL set")
	}

	if err := m.Uncover("/s/d/new.txt"); err != nil {
		t.Fatal(err)
	}
	got, _ = m.Get(rec.Token)
	if got.Covers("/s/d/new.txt") {
		t.Error("deleted child should drop out of the URL set")
	}
	if !got.Covers("/s/d") {
		t.Error("root coverage must survive child removal")
	}

	// Removing the root's coverage empties the set and kills the lock.
	if err := m.Uncover("/s/d"); err != nil {
		t.Fatal(err)
	}
	if got, _ := m.Get(rec.Token); got != nil {
		t.Error("lock with empty URL set must be deleted")
	}
}

func TestScopeOnAndTokensFor(t *testing.T) {
	m, _ := newTestManager()
	m.Acquire("alice", "/s/a", Shared, false, "", time.Minute)
	m.Acquire("bob", "/s/a", Shared, false, "", time.Minute)

	scope, found, err := m.ScopeOn("/s/a")
	if err != nil || !found || scope != Shared {
		t.Errorf("ScopeOn = %v %v %v", scope, found, err)
	}

	all, _ := m.TokensFor("/s/a", "")
	if len(all) != 2 {
		t.Errorf("TokensFor all = %d records", len(all))
	}
	mine, _ := m.TokensFor("/s/a", "alice")
	if len(mine) != 1 || mine[0].Principal != "alice" {
		t.Errorf("TokensFor alice = %+v", mine)
	}
}

func TestTokenUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tok := GenerateToken()
		if seen[tok] {
			t.Fatalf("duplicate token %s", tok)
		}
		seen[tok] = true
	}
}

func TestClampTimeout(t *testing.T) {
	if got := clampTimeout(Infinite, 0); got != DefaultMaxTimeout {
		t.Errorf("infinite request should clamp to default max, got %v", got)
	}
	if got := clampTimeout(100*24*time.Hour, MaxTimeout); got != MaxTimeout {
		t.Errorf("over-ceiling request should clamp, got %v", got)
	}
	if got := clampTimeout(time.Minute, 0); got != time.Minute {
		t.Errorf("in-range request should pass through, got %v", got)
	}
}
