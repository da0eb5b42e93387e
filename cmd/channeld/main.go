// Command channeld serves an object-storage bucket of channel tarballs over
// HTTP: channel requests redirect to the stable URL of the channel's current
// blob, permanent requests redirect to a presigned storage reference.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"

	api "github.com/channelforge/channeld/internal/api/http"
	"github.com/channelforge/channeld/internal/auth"
	"github.com/channelforge/channeld/internal/channel"
	"github.com/channelforge/channeld/internal/config"
	"github.com/channelforge/channeld/internal/storage"
)

func main() {
	cfg := config.FromEnv()
	if cfg.Bucket == "" || cfg.BaseURL == "" {
		log.Fatal("CHANNELD_BUCKET and CHANNELD_BASE_URL are required")
	}

	ctx := context.Background()
	store, err := storage.NewS3Store(ctx, cfg.Bucket, storage.S3Options{
		Endpoint:  cfg.S3Endpoint,
		PathStyle: cfg.S3PathStyle,
	})
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	// A failure to read the key file must stop the process. Falling back to
	// "no key configured" would silently serve without authentication.
	var verifier *auth.Verifier
	if cfg.JWTPEMPath != "" {
		key, err := auth.LoadPublicKey(cfg.JWTPEMPath)
		if err != nil {
			log.Fatalf("auth: %v", err)
		}
		verifier = auth.NewVerifier(key)
		log.Printf("token authentication enabled")
	} else {
		log.Printf("no public key configured, authentication disabled")
	}

	resolver := channel.NewResolver(store)

	// Warm the index so a misconfigured bucket fails before we signal
	// readiness. An absent index just means nothing is published yet.
	warmCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if _, err := resolver.Index(warmCtx); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			cancel()
			log.Fatalf("load channel index: %v", err)
		}
		log.Printf("channel index not found, serving an empty channel set")
	}
	cancel()

	router := api.NewRouter(api.Options{
		Resolver:   resolver,
		Store:      store,
		BaseURL:    cfg.BaseURL,
		PresignTTL: cfg.PresignTTL,
		Verifier:   verifier,
	})

	ln, err := listener(cfg.Listen)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	log.Printf("listening on %s", ln.Addr())

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Everything needed to authenticate and reach storage is in place.
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Printf("sd_notify failed: %v", err)
	}

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		log.Fatalf("serve: %v", err)
	case <-shutdownCtx.Done():
	}

	log.Printf("shutting down")
	timeout, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(timeout); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// listener binds addr, or takes the listening socket handed over by systemd
// when no address is configured.
func listener(addr string) (net.Listener, error) {
	if addr != "" {
		return net.Listen("tcp", addr)
	}
	listeners, err := activation.Listeners()
	if err != nil {
		return nil, fmt.Errorf("systemd socket activation: %w", err)
	}
	if len(listeners) != 1 {
		return nil, fmt.Errorf("expected exactly one socket from systemd, got %d", len(listeners))
	}
	if listeners[0] == nil {
		return nil, errors.New("systemd passed a non-socket file descriptor")
	}
	return listeners[0], nil
}
