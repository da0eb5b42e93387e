// Package http wires the read endpoints of the redirect service onto a chi
// router.
package http

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/channelforge/channeld/internal/auth"
	"github.com/channelforge/channeld/internal/channel"
	"github.com/channelforge/channeld/internal/storage"
)

// Options collects the collaborators of the redirect service.
type Options struct {
	Resolver *channel.Resolver
	Store    storage.Store

	// BaseURL is the externally visible base of this service, used to build
	// the stable /permanent URLs that channel requests redirect to.
	BaseURL string

	// PresignTTL bounds the lifetime of the storage references handed out
	// by /permanent.
	PresignTTL time.Duration

	// Verifier gates both endpoints when non-nil. Leaving it nil disables
	// authentication entirely; this is a deployment-time decision.
	Verifier *auth.Verifier
}

// NewRouter builds the HTTP surface: /channel/{name}.tar.xz and
// /permanent/{id}.tar.xz, plus unauthenticated health probes.
func NewRouter(opts Options) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "HEAD", "OPTIONS"},
		AllowedHeaders: []string{"Authorization"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Group(func(pr chi.Router) {
		if opts.Verifier != nil {
			pr.Use(auth.Middleware(opts.Verifier))
		}
		pr.Get("/channel/{file}", handleChannel(opts))
		pr.Get("/permanent/{file}", handlePermanent(opts))
	})

	return r
}

// handleChannel resolves a channel name and redirects to the stable
// /permanent URL of its current blob. Channel URLs never point at storage
// directly, so they stay valid even if presign parameters change.
func handleChannel(opts Options) http.HandlerFunc {
	base := strings.TrimSuffix(opts.BaseURL, "/")
	return func(w http.ResponseWriter, r *http.Request) {
		name, ok := stripBlobSuffix(chi.URLParam(r, "file"))
		if !ok {
			http.NotFound(w, r)
			return
		}

		id, err := opts.Resolver.ResolveLatest(r.Context(), name)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			log.Printf("resolve channel %q: %v", name, err)
			http.Error(w, "storage unavailable", http.StatusBadGateway)
			return
		}

		target := fmt.Sprintf("%s/permanent/%s%s", base, id, channel.BlobSuffix)
		// Lockable HTTP Tarball Protocol: advertise the immutable URL of the
		// tarball this redirect resolves to.
		w.Header().Set("Link", fmt.Sprintf("<%s>; rel=\"immutable\"", target))
		http.Redirect(w, r, target, http.StatusTemporaryRedirect)
	}
}

// handlePermanent redirects to a time-bounded storage reference for the
// requested blob. The id is opaque; a missing blob surfaces as the storage
// backend's own 404 when the reference is fetched.
func handlePermanent(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := stripBlobSuffix(chi.URLParam(r, "file"))
		if !ok {
			http.NotFound(w, r)
			return
		}

		signed, err := opts.Store.Presign(r.Context(), channel.BlobKey(id), opts.PresignTTL)
		if err != nil {
			log.Printf("presign blob %q: %v", id, err)
			http.Error(w, "storage unavailable", http.StatusBadGateway)
			return
		}
		http.Redirect(w, r, signed, http.StatusTemporaryRedirect)
	}
}

func stripBlobSuffix(file string) (string, bool) {
	name := strings.TrimSuffix(file, channel.BlobSuffix)
	if name == file || name == "" {
		return "", false
	}
	return name, true
}
