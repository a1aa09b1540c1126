// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package minato

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/infinite-iroha/minato/davpath"
)

// MemProvider is an in-memory provider backed by a node tree. It exists
// for tests and ephemeral shares.
type MemProvider struct {
	mu   sync.RWMutex
	root *memNode
	rev  int64
}

type memNode struct {
	name     string
	isDir    bool
	data     []byte
	modTime  time.Time
	created  time.Time
	rev      int64
	children map[string]*memNode
}

// NewMemProvider creates an empty in-memory share.
func NewMemProvider() *MemProvider {
	now := time.Now()
	return &MemProvider{
		root: &memNode{
			name:     "/",
			isDir:    true,
			modTime:  now,
			created:  now,
			children: make(map[string]*memNode),
		},
	}
}

func (p *MemProvider) ReadOnly() bool { return false }

// find walks the tree; caller holds a lock.
func (p *MemProvider) find(rel string) *memNode {
	cur := p.root
	for _, part := range strings.Split(rel, "/") {
		if part == "" {
			continue
		}
		if cur.children == nil {
			return nil
		}
		next, ok := cur.children[part]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func (p *MemProvider) parentOf(rel string) (*memNode, string) {
	dir, base := davpath.Parent(rel), davpath.Leaf(rel)
	parent := p.find(dir)
	if parent == nil || !parent.isDir {
		return nil, base
	}
	return parent, base
}

func (p *MemProvider) Stat(ctx context.Context, rel string) (Resource, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := p.find(rel)
	if n == nil {
		return nil, ErrNotFound
	}
	return n.snapshot(), nil
}

func (p *MemProvider) OpenRead(ctx context.Context, rel string) (io.ReadCloser, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := p.find(rel)
	if n == nil {
		return nil, ErrNotFound
	}
	if n.isDir {
		return nil, fmt.Errorf("minato: read of a collection")
	}
	return &memReader{Reader: bytes.NewReader(n.data)}, nil
}

func (p *MemProvider) OpenWrite(ctx context.Context, rel string, contentType string) (io.WriteCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	parent, base := p.parentOf(rel)
	if parent == nil || base == "" {
		return nil, ErrNotFound
	}
	if n := parent.children[base]; n != nil && n.isDir {
		return nil, fmt.Errorf("minato: write to a collection")
	}
	return &memWriter{p: p, parent: parent, name: base}, nil
}

func (p *MemProvider) CreateCollection(ctx context.Context, rel string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	parent, base := p.parentOf(rel)
	if parent == nil || base == "" {
		return ErrNotFound
	}
	if _, exists := parent.children[base]; exists {
		return fmt.Errorf("minato: %s already exists", rel)
	}
	now := time.Now()
	p.rev++
	parent.children[base] = &memNode{
		name:     base,
		isDir:    true,
		modTime:  now,
		created:  now,
		rev:      p.rev,
		children: make(map[string]*memNode),
	}
	return nil
}

func (p *MemProvider) Delete(ctx context.Context, rel string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	parent, base := p.parentOf(rel)
	if parent == nil {
		return ErrNotFound
	}
	n, ok := parent.children[base]
	if !ok {
		return ErrNotFound
	}
	if n.isDir && len(n.children) > 0 {
		return fmt.Errorf("minato: collection %s is not empty", rel)
	}
	delete(parent.children, base)
	return nil
}

func (p *MemProvider) CopyTo(ctx context.Context, srcRel, dstRel string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	src := p.find(srcRel)
	if src == nil {
		return ErrNotFound
	}
	parent, base := p.parentOf(dstRel)
	if parent == nil || base == "" {
		return ErrNotFound
	}
	now := time.Now()
	p.rev++
	n := &memNode{
		name:    base,
		isDir:   src.isDir,
		modTime: now,
		created: now,
		rev:     p.rev,
	}
	if src.isDir {
		n.children = make(map[string]*memNode)
	} else {
		n.data = append([]byte(nil), src.data...)
	}
	parent.children[base] = n
	return nil
}

func (p *MemProvider) Rename(ctx context.Context, oldRel, newRel string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	oldParent, oldBase := p.parentOf(oldRel)
	if oldParent == nil {
		return ErrNotFound
	}
	n, ok := oldParent.children[oldBase]
	if !ok {
		return ErrNotFound
	}
	newParent, newBase := p.parentOf(newRel)
	if newParent == nil || newBase == "" {
		return ErrNotFound
	}
	delete(oldParent.children, oldBase)
	n.name = newBase
	newParent.children[newBase] = n
	return nil
}

// snapshot freezes the metadata a Resource exposes, so handles stay
// stable after the tree mutates.
func (n *memNode) snapshot() *memResource {
	res := &memResource{
		name:    n.name,
		isDir:   n.isDir,
		size:    int64(len(n.data)),
		modTime: n.modTime,
		created: n.created,
		rev:     n.rev,
	}
	if n.isDir {
		for name := range n.children {
			res.childNames = append(res.childNames, name)
		}
		sort.Strings(res.childNames)
	}
	return res
}

type memResource struct {
	name       string
	isDir      bool
	size       int64
	modTime    time.Time
	created    time.Time
	rev        int64
	childNames []string
}

func (r *memResource) IsCollection() bool  { return r.isDir }
func (r *memResource) DisplayName() string { return r.name }

func (r *memResource) ContentLength() (int64, bool) {
	if r.isDir {
		return 0, false
	}
	return r.size, true
}

func (r *memResource) ContentType() (string, bool) {
	if r.isDir {
		return "", false
	}
	return "application/octet-stream", true
}

func (r *memResource) LastModified() (time.Time, bool) { return r.modTime, true }
func (r *memResource) CreationDate() (time.Time, bool) { return r.created, true }

func (r *memResource) ETag() (string, bool) {
	if r.isDir {
		return "", false
	}
	return fmt.Sprintf(`"%x-%x"`, r.rev, r.size), true
}

func (r *memResource) SupportsRanges() bool { return !r.isDir }

func (r *memResource) Children() ([]string, error) {
	return r.childNames, nil
}

// memReader wraps a bytes.Reader with a Close, keeping it seekable for
// range requests.
type memReader struct {
	*bytes.Reader
}

func (*memReader) Close() error { return nil }

// memWriter buffers the body and commits on Close.
type memWriter struct {
	p      *MemProvider
	parent *memNode
	name   string
	buf    bytes.Buffer
}

func (w *memWriter) Write(b []byte) (int, error) { return w.buf.Write(b) }

func (w *memWriter) Close() error {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	now := time.Now()
	w.p.rev++
	n := w.parent.children[w.name]
	if n == nil || n.isDir {
		n = &memNode{name: w.name, created: now}
		if w.parent.children == nil {
			w.parent.children = make(map[string]*memNode)
		}
		w.parent.children[w.name] = n
	}
	n.data = append([]byte(nil), w.buf.Bytes()...)
	n.modTime = now
	n.rev = w.p.rev
	return nil
}
