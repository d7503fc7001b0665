// Package storage stores blobs on local disk or S3.
package storage

import (
	"context"
	"io"
)

type PutInput struct {
	// Key is the object key; a random one is generated when empty.
	Key         string
	Filename    string
	ContentType string
	Size        int64
}

type PutResult struct {
	Key string
	URL string
}

type Storage interface {
	Put(ctx context.Context, r io.Reader, in PutInput) (PutResult, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}
