// Package blobstore stores the binary artifacts the signing flow produces:
// handwritten signature images and batch manifest documents. Objects are
// addressed by their storage path, mirroring the layout the web client
// expects ({clinic}/{patient}/... for images, batches/{clinic}/... for
// manifests).
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrObjectTooLarge     = errors.New("object exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
	ErrMissingPath        = errors.New("storage path is required")
)

// MaxObjectSize is the maximum allowed object size in bytes (5 MB).
// Signature PNGs and HTML manifests are far below this.
const MaxObjectSize = 5 * 1024 * 1024

// AllowedContentTypes lists the MIME types the signing flow stores.
var AllowedContentTypes = map[string]bool{
	"image/png": true,
	"text/html": true,
}

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Path        string    `json:"path"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// BlobStore is the contract for artifact storage backends.
type BlobStore interface {
	Put(ctx context.Context, path, contentType string, content io.Reader) (*ObjectInfo, error)
	Get(ctx context.Context, path string) (io.ReadCloser, *ObjectInfo, error)
	Stat(ctx context.Context, path string) (*ObjectInfo, error)
	Delete(ctx context.Context, path string) error
	ListPrefix(ctx context.Context, prefix string) ([]*ObjectInfo, error)
}

type storedObject struct {
	info    ObjectInfo
	content []byte
}

// InMemoryBlobStore is a thread-safe, in-memory BlobStore for testing/dev.
type InMemoryBlobStore struct {
	mu      sync.RWMutex
	objects map[string]*storedObject
}

// NewInMemoryBlobStore returns a ready-to-use InMemoryBlobStore.
func NewInMemoryBlobStore() *InMemoryBlobStore {
	return &InMemoryBlobStore{
		objects: make(map[string]*storedObject),
	}
}

// Put validates inputs, reads the content, computes a SHA-256 hash, and
// stores the object under its path. Writing to an existing path replaces the
// object.
func (s *InMemoryBlobStore) Put(_ context.Context, path, contentType string, content io.Reader) (*ObjectInfo, error) {
	if path == "" {
		return nil, ErrMissingPath
	}
	if !AllowedContentTypes[contentType] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidContentType, contentType)
	}

	data, err := io.ReadAll(io.LimitReader(content, MaxObjectSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxObjectSize {
		return nil, ErrObjectTooLarge
	}

	h := sha256.Sum256(data)
	info := ObjectInfo{
		Path:        path,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        fmt.Sprintf("%x", h),
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.objects[path] = &storedObject{info: info, content: data}
	s.mu.Unlock()

	out := info // copy
	return &out, nil
}

// Get returns an io.ReadCloser over the object content and its metadata.
func (s *InMemoryBlobStore) Get(_ context.Context, path string) (io.ReadCloser, *ObjectInfo, error) {
	s.mu.RLock()
	obj, ok := s.objects[path]
	s.mu.RUnlock()

	if !ok {
		return nil, nil, ErrObjectNotFound
	}

	info := obj.info // copy
	return io.NopCloser(bytes.NewReader(obj.content)), &info, nil
}

// Stat returns object metadata without content.
func (s *InMemoryBlobStore) Stat(_ context.Context, path string) (*ObjectInfo, error) {
	s.mu.RLock()
	obj, ok := s.objects[path]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrObjectNotFound
	}

	info := obj.info // copy
	return &info, nil
}

// Delete removes an object by path.
func (s *InMemoryBlobStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[path]; !ok {
		return ErrObjectNotFound
	}
	delete(s.objects, path)
	return nil
}

// ListPrefix returns every object whose path starts with prefix.
func (s *InMemoryBlobStore) ListPrefix(_ context.Context, prefix string) ([]*ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*ObjectInfo
	for path, obj := range s.objects {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		info := obj.info // copy
		matched = append(matched, &info)
	}
	return matched, nil
}

// SignatureImagePath builds the storage path for a signature image.
func SignatureImagePath(clinicID, patientID, recordType, recordID, signerType string, ts time.Time) string {
	return fmt.Sprintf("%s/%s/%s_%s_%s_%d.png",
		clinicID, patientID, recordType, recordID, signerType, ts.Unix())
}

// BatchDocumentPath builds the storage path for a batch manifest.
func BatchDocumentPath(clinicID, batchNumber string) string {
	return fmt.Sprintf("batches/%s/%s.html", clinicID, batchNumber)
}
