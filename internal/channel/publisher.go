package channel

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/channelforge/channeld/internal/storage"
)

// Publisher uploads blobs and advances channel pointers.
//
// The protocol is ordering plus conditional writes, no locks:
//
//  1. the blob is written create-only under a fresh identifier,
//  2. the channel is added to the index if it is new,
//  3. the pointer document is advanced with a compare-and-swap.
//
// A pointer is therefore never observable before its blob. A concurrent
// publish on the same channel makes exactly one attempt fail with
// storage.ErrPreconditionFailed; the loser retries the whole publish.
// Publishing never invalidates any running server's cache; readers pick up
// the new pointer when their process restarts.
type Publisher struct {
	store storage.Store
}

func NewPublisher(store storage.Store) *Publisher {
	return &Publisher{store: store}
}

// Publish uploads data under blobID and points channelName at it, creating
// the channel if needed. An empty blobID gets a generated one. The blob id
// actually used is returned.
func (p *Publisher) Publish(ctx context.Context, channelName, blobID string, data []byte) (string, error) {
	if err := ValidateName(channelName); err != nil {
		return "", fmt.Errorf("channel name: %w", err)
	}
	if blobID == "" {
		blobID = uuid.NewString()
	}
	if err := ValidateName(blobID); err != nil {
		return "", fmt.Errorf("blob id: %w", err)
	}

	// The blob must be durably stored before any metadata names it. The id
	// must be fresh: colliding with an existing key is a hard failure, never
	// an overwrite, because blobs are immutable.
	if err := p.store.Put(ctx, BlobKey(blobID), data, storage.IfAbsent()); err != nil {
		if errors.Is(err, storage.ErrPreconditionFailed) {
			return "", fmt.Errorf("blob id %q already exists: %w", blobID, err)
		}
		return "", fmt.Errorf("upload blob: %w", err)
	}

	if err := p.ensureIndexed(ctx, channelName); err != nil {
		// The uploaded blob stays behind unreferenced, which is harmless.
		return "", err
	}

	if err := p.advancePointer(ctx, channelName, blobID); err != nil {
		return "", err
	}
	return blobID, nil
}

// ensureIndexed adds channelName to the index unless it is already there.
// Runs before the pointer write so a resolvable pointer always has an index
// entry.
func (p *Publisher) ensureIndexed(ctx context.Context, channelName string) error {
	obj, err := p.store.GetObject(ctx, IndexKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		idx := Index{Channels: []string{channelName}}
		data, err := marshalPretty(idx)
		if err != nil {
			return err
		}
		if err := p.store.Put(ctx, IndexKey, data, storage.IfAbsent()); err != nil {
			return fmt.Errorf("create channel index: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read channel index: %w", err)
	}

	var idx Index
	if err := unmarshalDoc(obj.Data, &idx); err != nil {
		return fmt.Errorf("channel index %s is corrupt: %w", IndexKey, err)
	}
	if idx.Has(channelName) {
		return nil
	}

	idx.Channels = append(idx.Channels, channelName)
	data, err := marshalPretty(idx)
	if err != nil {
		return err
	}
	if err := p.store.Put(ctx, IndexKey, data, storage.IfMatch(obj.ETag)); err != nil {
		return fmt.Errorf("update channel index: %w", err)
	}
	return nil
}

// advancePointer swaps the channel's pointer to blobID, pushing the old
// latest onto the history. The conditional write detects a racing publisher.
func (p *Publisher) advancePointer(ctx context.Context, channelName, blobID string) error {
	key := PointerKey(channelName)

	obj, err := p.store.GetObject(ctx, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		data, err := marshalPretty(Pointer{Latest: blobID})
		if err != nil {
			return err
		}
		if err := p.store.Put(ctx, key, data, storage.IfAbsent()); err != nil {
			return fmt.Errorf("create pointer for %q: %w", channelName, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read pointer for %q: %w", channelName, err)
	}

	var ptr Pointer
	if err := unmarshalDoc(obj.Data, &ptr); err != nil {
		return fmt.Errorf("pointer document %s is corrupt: %w", key, err)
	}

	log.Printf("advancing channel %q from %q to %q", channelName, ptr.Latest, blobID)
	if ptr.Latest != "" {
		ptr.Previous = append(ptr.Previous, ptr.Latest)
	}
	ptr.Latest = blobID

	data, err := marshalPretty(ptr)
	if err != nil {
		return err
	}
	if err := p.store.Put(ctx, key, data, storage.IfMatch(obj.ETag)); err != nil {
		return fmt.Errorf("advance pointer for %q: %w", channelName, err)
	}
	return nil
}
