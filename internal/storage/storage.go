// Package storage provides the object stores input units are read from and
// sample units are written to.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrListFailed     = errors.New("list failed")
)

// ObjectStorage is a flat store of input units addressed by slash-separated
// paths. Implementations include S3 and the local filesystem.
type ObjectStorage interface {
	// Put writes data to objectPath, replacing any existing object. A unit
	// becomes visible to ListObjects only once fully written.
	Put(ctx context.Context, objectPath string, data []byte) error

	// Get reads the full content of the object at objectPath.
	// Returns ErrObjectNotFound if the object does not exist.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// ListObjects returns the paths of complete units under prefix in
	// lexical order. Directory placeholders and in-progress writes are
	// not units and are never returned.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}
