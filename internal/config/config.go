// Package config loads the service configuration from the environment.
// Storage credentials (access key, secret, region) are consumed directly by
// the AWS SDK and are not duplicated here.
package config

import (
	"os"
	"time"
)

type Config struct {
	// Bucket is the object-storage bucket holding channel metadata and blobs.
	Bucket string
	// BaseURL is the externally visible base URL of the service, e.g.
	// https://channels.example.com.
	BaseURL string
	// Listen is the TCP listen address. Empty means "take the listening
	// socket from systemd".
	Listen string
	// JWTPEMPath points at the RSA public key PEM used to verify request
	// tokens. Empty disables authentication.
	JWTPEMPath string
	// PresignTTL bounds the lifetime of presigned storage references.
	PresignTTL time.Duration
	// S3Endpoint overrides the storage endpoint, e.g. for MinIO.
	S3Endpoint string
	// S3PathStyle forces path-style bucket addressing.
	S3PathStyle bool
}

func FromEnv() Config {
	return Config{
		Bucket:      os.Getenv("CHANNELD_BUCKET"),
		BaseURL:     os.Getenv("CHANNELD_BASE_URL"),
		Listen:      os.Getenv("CHANNELD_LISTEN"),
		JWTPEMPath:  os.Getenv("CHANNELD_JWT_PEM"),
		PresignTTL:  envDur("CHANNELD_PRESIGN_TTL", 10*time.Minute),
		S3Endpoint:  os.Getenv("CHANNELD_S3_ENDPOINT"),
		S3PathStyle: envBool("CHANNELD_S3_PATH_STYLE", true),
	}
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func envDur(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
