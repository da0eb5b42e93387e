package channel

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/channelforge/channeld/internal/storage"
)

func TestPublishRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	pub := NewPublisher(store)

	payload := []byte("tarball bytes")
	id, err := pub.Publish(ctx, "thechannel", "tarball-1234", payload)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id != "tarball-1234" {
		t.Fatalf("got id %q", id)
	}

	// A fresh resolver (new process) sees the publish and the reference it
	// yields returns the same bytes.
	r := NewResolver(store)
	latest, err := r.ResolveLatest(ctx, "thechannel")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if latest != "tarball-1234" {
		t.Fatalf("resolved %q", latest)
	}
	data, err := store.Get(ctx, BlobKey(latest))
	if err != nil {
		t.Fatalf("fetch blob: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("blob bytes differ: %q", data)
	}
}

func TestPublishGeneratesBlobID(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	pub := NewPublisher(store)

	id, err := pub.Publish(ctx, "thechannel", "", []byte("x"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id == "" {
		t.Fatal("no blob id returned")
	}
	if !store.Exists(BlobKey(id)) {
		t.Fatalf("blob %s not stored", BlobKey(id))
	}
}

func TestPublishAdvancesExistingChannel(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	pub := NewPublisher(store)

	if _, err := pub.Publish(ctx, "thechannel", "tarball-1234", []byte("one")); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if _, err := pub.Publish(ctx, "thechannel", "tarball-1235", []byte("two")); err != nil {
		t.Fatalf("second publish: %v", err)
	}

	obj, err := store.GetObject(ctx, PointerKey("thechannel"))
	if err != nil {
		t.Fatalf("read pointer: %v", err)
	}
	var ptr Pointer
	if err := unmarshalDoc(obj.Data, &ptr); err != nil {
		t.Fatalf("decode pointer: %v", err)
	}
	if ptr.Latest != "tarball-1235" {
		t.Fatalf("latest is %q", ptr.Latest)
	}
	if len(ptr.Previous) != 1 || ptr.Previous[0] != "tarball-1234" {
		t.Fatalf("history is %v", ptr.Previous)
	}

	// The earlier blob is untouched.
	data, err := store.Get(ctx, BlobKey("tarball-1234"))
	if err != nil {
		t.Fatalf("old blob: %v", err)
	}
	if string(data) != "one" {
		t.Fatalf("old blob mutated: %q", data)
	}
}

func TestPublishNewChannelJoinsIndex(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	pub := NewPublisher(store)

	if _, err := pub.Publish(ctx, "first", "a-1", []byte("a")); err != nil {
		t.Fatalf("publish first: %v", err)
	}
	if _, err := pub.Publish(ctx, "second", "b-1", []byte("b")); err != nil {
		t.Fatalf("publish second: %v", err)
	}

	data, err := store.Get(ctx, IndexKey)
	if err != nil {
		t.Fatalf("read index: %v", err)
	}
	var idx Index
	if err := unmarshalDoc(data, &idx); err != nil {
		t.Fatalf("decode index: %v", err)
	}
	if !idx.Has("first") || !idx.Has("second") {
		t.Fatalf("index is %v", idx.Channels)
	}
}

func TestPublishBlobIDCollision(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	pub := NewPublisher(store)

	if _, err := pub.Publish(ctx, "thechannel", "tarball-1234", []byte("one")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	_, err := pub.Publish(ctx, "thechannel", "tarball-1234", []byte("different"))
	if !errors.Is(err, storage.ErrPreconditionFailed) {
		t.Fatalf("want ErrPreconditionFailed, got %v", err)
	}
	// The original bytes survive.
	data, _ := store.Get(ctx, BlobKey("tarball-1234"))
	if string(data) != "one" {
		t.Fatalf("blob overwritten: %q", data)
	}
}

func TestPublishBlobWriteFailureLeavesNoMetadata(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	boom := errors.New("backend down")
	store.FailPut = func(key string) error {
		if key == BlobKey("tarball-1234") {
			return boom
		}
		return nil
	}

	pub := NewPublisher(store)
	_, err := pub.Publish(ctx, "thechannel", "tarball-1234", []byte("one"))
	if !errors.Is(err, boom) {
		t.Fatalf("want injected error, got %v", err)
	}
	if store.Exists(IndexKey) || store.Exists(PointerKey("thechannel")) {
		t.Fatal("metadata written despite blob-write failure")
	}
}

func TestPublishPointerWriteFailureLeavesNoPointer(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	boom := errors.New("backend down")
	store.FailPut = func(key string) error {
		if key == PointerKey("thechannel") {
			return boom
		}
		return nil
	}

	pub := NewPublisher(store)
	_, err := pub.Publish(ctx, "thechannel", "tarball-1234", []byte("one"))
	if !errors.Is(err, boom) {
		t.Fatalf("want injected error, got %v", err)
	}

	// Orphaned blob: present but referenced by nothing. No pointer may name
	// a blob that was never confirmed, and none exists here at all.
	if !store.Exists(BlobKey("tarball-1234")) {
		t.Fatal("blob should have been written before the pointer attempt")
	}
	if store.Exists(PointerKey("thechannel")) {
		t.Fatal("pointer written despite injected failure")
	}
}

func TestPublishConcurrentRace(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	pub := NewPublisher(store)

	if _, err := pub.Publish(ctx, "thechannel", "tarball-1234", []byte("base")); err != nil {
		t.Fatalf("seed publish: %v", err)
	}

	// Interleave a second full publish inside the first one's
	// read-modify-write window: it runs after the loser has read the pointer
	// but before the loser's conditional write lands.
	var raced atomic.Bool
	var raceErr error
	store.FailPut = func(key string) error {
		if key == PointerKey("thechannel") && raced.CompareAndSwap(false, true) {
			racer := NewPublisher(store)
			_, raceErr = racer.Publish(ctx, "thechannel", "tarball-b", []byte("b"))
		}
		return nil
	}

	_, err := pub.Publish(ctx, "thechannel", "tarball-a", []byte("a"))
	if raceErr != nil {
		t.Fatalf("racing publish: %v", raceErr)
	}
	if !errors.Is(err, storage.ErrPreconditionFailed) {
		t.Fatalf("want ErrPreconditionFailed for the losing publish, got %v", err)
	}

	// Exactly one publish won and the pointer names its blob.
	obj, err := store.GetObject(ctx, PointerKey("thechannel"))
	if err != nil {
		t.Fatalf("read pointer: %v", err)
	}
	var ptr Pointer
	if err := unmarshalDoc(obj.Data, &ptr); err != nil {
		t.Fatalf("decode pointer: %v", err)
	}
	if ptr.Latest != "tarball-b" {
		t.Fatalf("latest is %q, want the winning publish", ptr.Latest)
	}
	if !store.Exists(BlobKey(ptr.Latest)) {
		t.Fatal("pointer names a blob that does not exist")
	}

	// The loser can retry wholesale with a fresh id and succeed.
	store.FailPut = nil
	if _, err := pub.Publish(ctx, "thechannel", "tarball-a2", []byte("a")); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestPublishRejectsBadNames(t *testing.T) {
	ctx := context.Background()
	pub := NewPublisher(storage.NewMemStore())

	for _, name := range []string{"", "a/b", `a\b`, ".", ".."} {
		if _, err := pub.Publish(ctx, name, "id-1", []byte("x")); err == nil {
			t.Fatalf("channel name %q accepted", name)
		}
	}
	if _, err := pub.Publish(ctx, "ok", "../sneaky", []byte("x")); err == nil {
		t.Fatal("blob id with path traversal accepted")
	}
}
