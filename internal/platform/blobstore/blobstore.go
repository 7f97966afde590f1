// Package blobstore stores document bytes. Metadata lives with the owning
// domain in Postgres; this package only moves objects in and out of a bucket.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("content type is not allowed")
)

// MaxFileSize is the maximum allowed object size in bytes (25 MB).
const MaxFileSize = 25 * 1024 * 1024

// AllowedContentTypes lists the document types patients may upload.
var AllowedContentTypes = map[string]bool{
	"application/pdf":   true,
	"image/png":         true,
	"image/jpeg":        true,
	"image/dicom":       true,
	"application/dicom": true,
	"text/plain":        true,
}

// NormalizeContentType lowercases ct and drops parameters such as charset.
func NormalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// Validate checks size and content type against the upload limits.
func Validate(size int64, contentType string) error {
	if size > MaxFileSize {
		return ErrFileTooLarge
	}
	if !AllowedContentTypes[NormalizeContentType(contentType)] {
		return ErrInvalidContentType
	}
	return nil
}

// Store is the contract for object storage backends.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// PresignedURL returns a time-limited download link. fileName sets the
	// Content-Disposition of the response.
	PresignedURL(ctx context.Context, key, fileName string, ttl time.Duration) (string, error)
}

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore is a thread-safe, in-memory Store for tests and development.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (s *MemoryStore) Put(_ context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(io.LimitReader(r, MaxFileSize+1))
	if err != nil {
		return fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return ErrFileTooLarge
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("short upload: expected %d bytes, got %d", size, len(data))
	}

	s.mu.Lock()
	s.objects[key] = memoryObject{data: data, contentType: contentType}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) PresignedURL(_ context.Context, key, fileName string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return "", ErrBlobNotFound
	}
	q := url.Values{}
	q.Set("filename", fileName)
	q.Set("expires", ttl.String())
	return "memory://" + key + "?" + q.Encode(), nil
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
