package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/channelforge/channeld/internal/storage"
)

// Resolver maps channel names to blob identifiers by reading the index and
// pointer documents through the store.
//
// Documents are cached for the lifetime of the process. There is no timer
// refresh: a new publish becomes visible to readers when the serving process
// restarts (or Invalidate is called). This is the documented consistency
// boundary, matching the reload-by-restart deployment model.
type Resolver struct {
	store storage.Store
	group singleflight.Group

	mu       sync.RWMutex
	index    *Index
	pointers map[string]*Pointer
}

func NewResolver(store storage.Store) *Resolver {
	return &Resolver{
		store:    store,
		pointers: make(map[string]*Pointer),
	}
}

// ResolveLatest resolves a channel name to its current blob identifier.
// Unknown names, missing pointer documents, and malformed metadata all
// surface as storage.ErrNotFound.
func (r *Resolver) ResolveLatest(ctx context.Context, name string) (string, error) {
	ptr, err := r.Pointer(ctx, name)
	if err != nil {
		return "", err
	}
	return ptr.Latest, nil
}

// Pointer returns the full pointer document for a channel listed in the
// index.
func (r *Resolver) Pointer(ctx context.Context, name string) (*Pointer, error) {
	idx, err := r.Index(ctx)
	if err != nil {
		return nil, err
	}
	if !idx.Has(name) {
		return nil, fmt.Errorf("channel %q: %w", name, storage.ErrNotFound)
	}

	r.mu.RLock()
	ptr := r.pointers[name]
	r.mu.RUnlock()
	if ptr != nil {
		return ptr, nil
	}

	// Concurrent cold lookups of the same channel share one storage read;
	// the first reader's result wins and is what everyone caches.
	v, err, _ := r.group.Do("pointer:"+name, func() (interface{}, error) {
		return r.fetchPointer(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Pointer), nil
}

// Index returns the channel index, fetching it at most once per process.
func (r *Resolver) Index(ctx context.Context) (*Index, error) {
	r.mu.RLock()
	idx := r.index
	r.mu.RUnlock()
	if idx != nil {
		return idx, nil
	}

	v, err, _ := r.group.Do("index", func() (interface{}, error) {
		return r.fetchIndex(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Index), nil
}

// Invalidate drops every cached document. The next lookup re-reads storage.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index = nil
	r.pointers = make(map[string]*Pointer)
}

func (r *Resolver) fetchIndex(ctx context.Context) (*Index, error) {
	data, err := r.store.Get(ctx, IndexKey)
	if err != nil {
		return nil, err
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		// A corrupt index means a writer bug, not a normal absence.
		log.Printf("ERROR: malformed channel index %s: %v", IndexKey, err)
		return nil, fmt.Errorf("%s: %w", IndexKey, storage.ErrNotFound)
	}
	r.mu.Lock()
	r.index = &idx
	r.mu.Unlock()
	return &idx, nil
}

func (r *Resolver) fetchPointer(ctx context.Context, name string) (*Pointer, error) {
	key := PointerKey(name)
	data, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var ptr Pointer
	if err := json.Unmarshal(data, &ptr); err != nil {
		log.Printf("ERROR: malformed pointer document %s: %v", key, err)
		return nil, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	if ptr.Latest == "" {
		log.Printf("ERROR: pointer document %s has no latest blob", key)
		return nil, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	r.mu.Lock()
	r.pointers[name] = &ptr
	r.mu.Unlock()
	return &ptr, nil
}
