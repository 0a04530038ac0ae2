package server

import "time"

// HTTPS listener defaults.
const (
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1 << 20 // 1 MB
)

// HTTP-01 responder defaults.
const (
	// DefaultChallengeAddr is where certificate authorities fetch HTTP-01 proofs.
	DefaultChallengeAddr = ":80"

	// DefaultChallengeReadHeaderTimeout bounds header reads from validators.
	DefaultChallengeReadHeaderTimeout = 10 * time.Second

	// challengeDirName mirrors the last segment of the HTTP-01 path.
	challengeDirName = "acme-challenge"
)
