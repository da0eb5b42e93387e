package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// MemStore is an in-memory Store with ETag semantics matching S3's
// conditional writes. It backs tests and local development. The fault hooks
// run before the corresponding operation touches state; a non-nil return
// aborts the operation with that error.
type MemStore struct {
	mu      sync.Mutex
	objects map[string]Object
	gets    map[string]int
	puts    map[string]int
	rev     int

	FailGet func(key string) error
	FailPut func(key string) error
}

func NewMemStore() *MemStore {
	return &MemStore{
		objects: make(map[string]Object),
		gets:    make(map[string]int),
		puts:    make(map[string]int),
	}
}

func (s *MemStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	return obj.Data, nil
}

func (s *MemStore) GetObject(ctx context.Context, key string) (*Object, error) {
	if hook := s.getHook(); hook != nil {
		if err := hook(key); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets[key]++
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	data := make([]byte, len(obj.Data))
	copy(data, obj.Data)
	return &Object{Data: data, ETag: obj.ETag}, nil
}

func (s *MemStore) Put(ctx context.Context, key string, data []byte, cond Condition) error {
	if hook := s.putHook(); hook != nil {
		if err := hook(key); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts[key]++
	existing, exists := s.objects[key]
	if cond.ifAbsent && exists {
		return fmt.Errorf("put %s: %w", key, ErrPreconditionFailed)
	}
	if cond.ifMatch != "" && (!exists || existing.ETag != cond.ifMatch) {
		return fmt.Errorf("put %s: %w", key, ErrPreconditionFailed)
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	s.rev++
	h := md5.New() //nolint:gosec // identity tag, not a security hash
	fmt.Fprintf(h, "%d:", s.rev)
	_, _ = h.Write(stored)
	s.objects[key] = Object{Data: stored, ETag: hex.EncodeToString(h.Sum(nil))}
	return nil
}

// Presign returns a mem:// URL embedding the key, analogous to the file://
// URLs a filesystem store would hand out in development.
func (s *MemStore) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u := url.URL{
		Scheme:   "mem",
		Path:     "/" + key,
		RawQuery: url.Values{"expires": {ttl.String()}}.Encode(),
	}
	return u.String(), nil
}

// PresignedKey recovers the object key from a URL produced by Presign.
func PresignedKey(presigned string) (string, error) {
	u, err := url.Parse(presigned)
	if err != nil {
		return "", err
	}
	if u.Scheme != "mem" {
		return "", fmt.Errorf("not a mem store URL: %s", presigned)
	}
	return u.Path[1:], nil
}

// GetCount reports how many Get/GetObject calls reached the given key.
func (s *MemStore) GetCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets[key]
}

// PutCount reports how many Put calls reached the given key.
func (s *MemStore) PutCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts[key]
}

// Exists reports whether key currently holds an object.
func (s *MemStore) Exists(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

func (s *MemStore) getHook() func(string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FailGet
}

func (s *MemStore) putHook() func(string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FailPut
}
