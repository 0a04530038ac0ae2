package letsencrypt

import (
	"errors"

	"github.com/dmitrymomot/autotls/core/server"
	"github.com/dmitrymomot/autotls/pkg/acme"
)

// Provisioning failures. Protocol errors come from pkg/acme and listener
// errors from core/server; they are re-exported so callers can match every
// failure against this package alone.
var (
	ErrDirectoryUnreachable      = acme.ErrDirectoryUnreachable
	ErrAccountRegistrationFailed = acme.ErrAccountRegistrationFailed
	ErrAccountNotFound           = acme.ErrAccountNotFound
	ErrOrderFailed               = acme.ErrOrderFailed
	ErrOrderInvalid              = acme.ErrOrderInvalid
	ErrOrderAlreadyFinalized     = acme.ErrOrderAlreadyFinalized
	ErrNoHTTPChallenge           = acme.ErrNoHTTPChallenge
	ErrChallengeRejected         = acme.ErrChallengeRejected
	ErrAuthorizationTimeout      = acme.ErrAuthorizationTimeout
	ErrFinalizationTimeout       = acme.ErrFinalizationTimeout
	ErrCertDownloadFailed        = acme.ErrCertDownloadFailed
	ErrInvalidDomain             = acme.ErrInvalidDomain

	ErrListenerBindFailed = server.ErrListenerBind
	ErrChallengeDir       = server.ErrChallengeDir
)

var (
	ErrKeyCertMismatch     = errors.New("private key does not match certificate")
	ErrCertificateNotFound = errors.New("certificate not found")
	ErrCertificateExpired  = errors.New("certificate expired")
	ErrEmailRequired       = errors.New("contact email is required")
	ErrDomainRequired      = errors.New("domain is required")
	ErrInvalidPollPolicy   = errors.New("poll interval and attempts must be positive")
)
