// Command chanpub uploads a tarball to the bucket and atomically advances a
// channel to it. It runs out-of-band from the serving process and reads the
// same storage credentials from the environment.
//
// A concurrent publish on the same channel makes one invocation fail with a
// precondition error; rerun it to retry.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/channelforge/channeld/internal/channel"
	"github.com/channelforge/channeld/internal/config"
	"github.com/channelforge/channeld/internal/storage"
)

func main() {
	cfg := config.FromEnv()

	var (
		bucket      = flag.String("bucket", cfg.Bucket, "bucket to publish into")
		channelName = flag.String("channel", "", "channel to advance")
		file        = flag.String("file", "", "tarball to upload (must end in .tar.xz)")
		blobID      = flag.String("id", "", "blob identifier (default: file basename)")
		endpoint    = flag.String("endpoint", cfg.S3Endpoint, "storage endpoint override")
	)
	flag.Parse()

	if *bucket == "" || *channelName == "" || *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	id := *blobID
	if id == "" {
		base := filepath.Base(*file)
		if !strings.HasSuffix(base, channel.BlobSuffix) {
			log.Fatalf("only %s files are supported: %s", channel.BlobSuffix, *file)
		}
		id = strings.TrimSuffix(base, channel.BlobSuffix)
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("read %s: %v", *file, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	store, err := storage.NewS3Store(ctx, *bucket, storage.S3Options{
		Endpoint:  *endpoint,
		PathStyle: cfg.S3PathStyle,
	})
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	id, err = channel.NewPublisher(store).Publish(ctx, *channelName, id, data)
	if err != nil {
		log.Fatalf("publish: %v", err)
	}
	fmt.Println(id)
}
