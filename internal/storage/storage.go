// Package storage abstracts the object-storage bucket that holds channel
// metadata and blobs. Implementations must be safe for concurrent use.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no object exists at the requested key.
var ErrNotFound = errors.New("object not found")

// ErrPreconditionFailed is returned when a conditional Put loses against a
// concurrent writer or targets an already-existing key.
var ErrPreconditionFailed = errors.New("precondition failed")

// Condition constrains a Put. The zero value is unconditional.
type Condition struct {
	ifAbsent bool
	ifMatch  string
}

// IfAbsent makes the Put create-only: it fails with ErrPreconditionFailed
// when the key already exists.
func IfAbsent() Condition { return Condition{ifAbsent: true} }

// IfMatch makes the Put succeed only while the object's ETag still equals
// etag, failing with ErrPreconditionFailed otherwise.
func IfMatch(etag string) Condition { return Condition{ifMatch: etag} }

// Object is the result of a GetObject: the payload plus the ETag needed for
// a later compare-and-swap Put.
type Object struct {
	Data []byte
	ETag string
}

// Store is the narrow capability the rest of the system has over the bucket.
type Store interface {
	// Get reads the full object at key. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetObject is Get plus the object's ETag.
	GetObject(ctx context.Context, key string) (*Object, error)

	// Put writes data at key subject to cond. A violated condition returns
	// ErrPreconditionFailed and leaves the existing object untouched.
	Put(ctx context.Context, key string, data []byte, cond Condition) error

	// Presign returns a time-bounded URL granting read access to key. The
	// key is not checked for existence.
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}
