// Package auth verifies the signed tokens that gate access to the service.
//
// The credential travels in the password field of HTTP Basic Auth; the
// username field is ignored. Existing clients depend on this exact shape,
// so it must not be "fixed" to a Bearer scheme.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized covers every way a credential can fail: missing, malformed,
// wrong signature, wrong algorithm, or expired.
var ErrUnauthorized = errors.New("unauthorized")

// LoadPublicKey reads an RSA public key in PEM form. A read error is a
// startup failure, never a signal to run without authentication.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key %s: %w", path, err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parse public key %s: %w", path, err)
	}
	return key, nil
}

// Verifier checks credentials against a fixed public key. It holds no state
// across calls.
type Verifier struct {
	key *rsa.PublicKey
	now func() time.Time
}

func NewVerifier(key *rsa.PublicKey) *Verifier {
	return &Verifier{key: key, now: time.Now}
}

// Verify validates the signature and the exp claim (required; nbf honored
// when present, no grace window). Audience is deliberately not checked.
func (v *Verifier) Verify(credential string) error {
	_, err := jwt.Parse(credential,
		func(t *jwt.Token) (interface{}, error) { return v.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}

// Middleware rejects requests whose Basic Auth password is not a valid
// credential. It runs before any resolution work, so unauthenticated callers
// learn nothing about which channels exist.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, credential, ok := r.BasicAuth()
			if !ok {
				challenge(w)
				return
			}
			if err := v.Verify(credential); err != nil {
				log.Printf("token rejected: %v", err)
				challenge(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="channeld"`)
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}
