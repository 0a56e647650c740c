package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FSBlobStore persists objects under a root directory on local disk. Each
// object is stored at root/<path> with a sidecar <path>.meta.json carrying
// its ObjectInfo.
type FSBlobStore struct {
	root string
}

// NewFSBlobStore creates the root directory if needed.
func NewFSBlobStore(root string) (*FSBlobStore, error) {
	if root == "" {
		return nil, errors.New("blob root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSBlobStore{root: root}, nil
}

// resolve rejects paths that would escape the root.
func (s *FSBlobStore) resolve(path string) (string, error) {
	if path == "" {
		return "", ErrMissingPath
	}
	if strings.Contains(path, "..") || strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("invalid storage path %q", path)
	}
	return filepath.Join(s.root, filepath.FromSlash(path)), nil
}

func (s *FSBlobStore) Put(_ context.Context, path, contentType string, content io.Reader) (*ObjectInfo, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
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

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, fmt.Errorf("create object directory: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return nil, fmt.Errorf("write object: %w", err)
	}

	h := sha256.Sum256(data)
	info := &ObjectInfo{
		Path:        path,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        fmt.Sprintf("%x", h),
		CreatedAt:   time.Now().UTC(),
	}
	meta, _ := json.Marshal(info)
	if err := os.WriteFile(full+".meta.json", meta, 0o644); err != nil {
		return nil, fmt.Errorf("write object metadata: %w", err)
	}
	return info, nil
}

func (s *FSBlobStore) Get(_ context.Context, path string) (io.ReadCloser, *ObjectInfo, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := s.readMeta(full, path)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	return f, info, nil
}

func (s *FSBlobStore) Stat(_ context.Context, path string) (*ObjectInfo, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	return s.readMeta(full, path)
}

func (s *FSBlobStore) Delete(_ context.Context, path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); errors.Is(err, fs.ErrNotExist) {
		return ErrObjectNotFound
	} else if err != nil {
		return err
	}
	_ = os.Remove(full + ".meta.json")
	return nil
}

func (s *FSBlobStore) ListPrefix(_ context.Context, prefix string) ([]*ObjectInfo, error) {
	var matched []*ObjectInfo
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || strings.HasSuffix(p, ".meta.json") {
			return err
		}
		rel, relErr := filepath.Rel(s.root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, prefix) {
			return nil
		}
		info, metaErr := s.readMeta(p, rel)
		if metaErr != nil {
			return nil // object without metadata is skipped
		}
		matched = append(matched, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matched, nil
}

func (s *FSBlobStore) readMeta(full, path string) (*ObjectInfo, error) {
	meta, err := os.ReadFile(full + ".meta.json")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, err
	}
	info := &ObjectInfo{}
	if err := json.Unmarshal(meta, info); err != nil {
		return nil, fmt.Errorf("corrupt metadata for %s: %w", path, err)
	}
	return info, nil
}
