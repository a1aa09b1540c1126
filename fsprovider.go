// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package minato

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/WJQSERVER-STUDIO/go-utils/iox"

	"github.com/infinite-iroha/minato/davpath"
)

// FSProvider serves a directory of the local file system as one share.
type FSProvider struct {
	root     string
	readOnly bool
}

// NewFSProvider creates a provider rooted at rootDir.
func NewFSProvider(rootDir string, readOnly bool) (*FSProvider, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("minato: %s is not a directory", abs)
	}
	return &FSProvider{root: abs, readOnly: readOnly}, nil
}

func (p *FSProvider) ReadOnly() bool { return p.readOnly }

// resolve maps a share-relative path onto the backing directory,
// containing symlink escapes. Non-existent leaves resolve through their
// parent so creation targets stay inside the root.
func (p *FSProvider) resolve(rel string) (string, error) {
	rel = strings.TrimPrefix(davpath.Normalize(rel), "/")
	if strings.Contains(rel, "..") {
		return "", os.ErrPermission
	}
	path := filepath.Join(p.root, filepath.FromSlash(rel))

	if _, err := os.Lstat(path); err == nil {
		path, err = filepath.EvalSymlinks(path)
		if err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	} else {
		parent := filepath.Dir(path)
		if _, err := os.Stat(parent); err == nil {
			parent, err = filepath.EvalSymlinks(parent)
			if err != nil {
				return "", err
			}
			path = filepath.Join(parent, filepath.Base(path))
		}
	}

	if path != p.root && !strings.HasPrefix(path, p.root+string(filepath.Separator)) {
		return "", os.ErrPermission
	}
	return path, nil
}

func (p *FSProvider) Stat(ctx context.Context, rel string) (Resource, error) {
	path, err := p.resolve(rel)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &fsResource{fi: fi, path: path}, nil
}

func (p *FSProvider) OpenRead(ctx context.Context, rel string) (io.ReadCloser, error) {
	path, err := p.resolve(rel)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

func (p *FSProvider) OpenWrite(ctx context.Context, rel string, contentType string) (io.WriteCloser, error) {
	if p.readOnly {
		return nil, os.ErrPermission
	}
	path, err := p.resolve(rel)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}

func (p *FSProvider) CreateCollection(ctx context.Context, rel string) error {
	if p.readOnly {
		return os.ErrPermission
	}
	path, err := p.resolve(rel)
	if err != nil {
		return err
	}
	return os.Mkdir(path, 0o755)
}

// Delete removes a file or an empty directory; os.Remove refuses
// non-empty directories, which is exactly the contract.
func (p *FSProvider) Delete(ctx context.Context, rel string) error {
	if p.readOnly {
		return os.ErrPermission
	}
	path, err := p.resolve(rel)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

func (p *FSProvider) CopyTo(ctx context.Context, srcRel, dstRel string) error {
	if p.readOnly {
		return os.ErrPermission
	}
	src, err := p.resolve(srcRel)
	if err != nil {
		return err
	}
	dst, err := p.resolve(dstRel)
	if err != nil {
		return err
	}
	fi, err := os.Stat(src)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return os.Mkdir(dst, fi.Mode().Perm())
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := iox.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Rename gives MOVE its atomic path.
func (p *FSProvider) Rename(ctx context.Context, oldRel, newRel string) error {
	if p.readOnly {
		return os.ErrPermission
	}
	oldPath, err := p.resolve(oldRel)
	if err != nil {
		return err
	}
	newPath, err := p.resolve(newRel)
	if err != nil {
		return err
	}
	return os.Rename(oldPath, newPath)
}

// fsResource adapts an os.FileInfo.
type fsResource struct {
	fi   os.FileInfo
	path string
}

func (r *fsResource) IsCollection() bool  { return r.fi.IsDir() }
func (r *fsResource) DisplayName() string { return r.fi.Name() }

func (r *fsResource) ContentLength() (int64, bool) {
	if r.fi.IsDir() {
		return 0, false
	}
	return r.fi.Size(), true
}

func (r *fsResource) ContentType() (string, bool) {
	if r.fi.IsDir() {
		return "", false
	}
	if ct := mime.TypeByExtension(filepath.Ext(r.fi.Name())); ct != "" {
		return ct, true
	}
	return "application/octet-stream", true
}

func (r *fsResource) LastModified() (time.Time, bool) {
	return r.fi.ModTime(), true
}

func (r *fsResource) CreationDate() (time.Time, bool) {
	// Portable ctime is not a thing; the modification time is the best
	// honest answer.
	return r.fi.ModTime(), true
}

func (r *fsResource) ETag() (string, bool) {
	if r.fi.IsDir() {
		return "", false
	}
	return fmt.Sprintf(`"%x-%x"`, r.fi.Size(), r.fi.ModTime().UnixNano()), true
}

func (r *fsResource) SupportsRanges() bool { return !r.fi.IsDir() }

func (r *fsResource) Children() ([]string, error) {
	entries, err := os.ReadDir(r.path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
