package server

import "errors"

var (
	// Challenge responder errors
	ErrChallengeDir     = errors.New("challenge directory error")
	ErrListenerBind     = errors.New("listener bind failed")
	ErrInvalidToken     = errors.New("invalid challenge token")
	ErrResponderStopped = errors.New("challenge responder is stopped")

	// TLS configuration errors
	ErrEmptyCertPath  = errors.New("certificate or key file path cannot be empty")
	ErrFailedLoadCert = errors.New("failed to load certificate")
	ErrNoCertificate  = errors.New("no certificate installed")

	ErrInvalidTLSVersion     = errors.New("invalid TLS version")
	ErrInvalidClientAuthType = errors.New("invalid client auth type")

	// Server lifecycle errors
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrMissingAddress       = errors.New("server address is required")
)
