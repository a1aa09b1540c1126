// This Source Code Form is subject to the terms of the Mozilla Public License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.
// Copyright 2025 WJQSERVER. All rights reserved.
// All rights reserved by WJQSERVER, related rights can be exercised by the infinite-iroha organization.
package minato

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/infinite-iroha/minato/prop"
)

// ErrNotFound is returned by providers for paths that do not map to a
// resource.
var ErrNotFound = errors.New("minato: resource not found")

// Provider publishes one share's backing store to the engine. Paths are
// share-relative, slash-separated, percent-decoded and normalized; "/" is
// the share root. Recursion over collections is orchestrated by the
// engine, so every operation here touches exactly one resource.
type Provider interface {
	// Stat returns a metadata handle, or ErrNotFound. Handles are
	// ephemeral: instantiated per request and never cached.
	Stat(ctx context.Context, rel string) (Resource, error)

	// OpenRead opens a non-collection for reading. When the resource
	// reports SupportsRanges the stream also implements io.Seeker.
	OpenRead(ctx context.Context, rel string) (io.ReadCloser, error)

	// OpenWrite creates or truncates a non-collection. The engine
	// writes the body and closes; atomicity on partial failure is the
	// provider's choice.
	OpenWrite(ctx context.Context, rel string, contentType string) (io.WriteCloser, error)

	// CreateCollection makes an empty collection.
	CreateCollection(ctx context.Context, rel string) error

	// Delete removes a non-collection or an empty collection. Removing
	// a non-empty collection must be refused.
	Delete(ctx context.Context, rel string) error

	// CopyTo duplicates a single resource inside the share: collection
	// to empty collection, file to file.
	CopyTo(ctx context.Context, srcRel, dstRel string) error

	// ReadOnly providers refuse every mutation with 403.
	ReadOnly() bool
}

// Renamer is implemented by providers with a native atomic rename. MOVE
// prefers it over copy-then-delete.
type Renamer interface {
	Rename(ctx context.Context, oldRel, newRel string) error
}

// LivePropertyProvider is implemented by providers that own live
// properties beyond the standard DAV set synthesized by the engine.
type LivePropertyProvider interface {
	PropertyNames(ctx context.Context, rel string) ([]prop.Key, error)
	GetProperty(ctx context.Context, rel string, k prop.Key) (value string, ok bool, err error)
	SetProperty(ctx context.Context, rel string, k prop.Key, value string) error
	RemoveProperty(ctx context.Context, rel string, k prop.Key) error
	SupportsProperty(k prop.Key) bool
}

// Resource is a per-request metadata handle. Capability-gated attributes
// return ok=false when the backing store cannot supply them; the engine
// then omits the matching headers and short-circuits the related
// preconditions to pass.
type Resource interface {
	IsCollection() bool
	DisplayName() string
	ContentLength() (int64, bool)
	ContentType() (string, bool)
	LastModified() (time.Time, bool)
	CreationDate() (time.Time, bool)
	ETag() (string, bool)
	SupportsRanges() bool

	// Children lists child names (not paths) of a collection.
	Children() ([]string, error)
}
