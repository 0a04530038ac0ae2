package acme

import "errors"

var (
	ErrDirectoryUnreachable      = errors.New("acme: directory unreachable")
	ErrAccountRegistrationFailed = errors.New("acme: account registration failed")
	ErrAccountNotFound           = errors.New("acme: account does not exist")
	ErrNoAccount                 = errors.New("acme: no account, call RegisterAccount or LoadAccount first")
	ErrNotConnected              = errors.New("acme: not connected, call Connect first")
	ErrOrderFailed               = errors.New("acme: order request failed")
	ErrOrderInvalid              = errors.New("acme: order is invalid")
	ErrOrderAlreadyFinalized     = errors.New("acme: order already finalized with another key")
	ErrAuthorizationFailed       = errors.New("acme: authorization fetch failed")
	ErrNoHTTPChallenge           = errors.New("acme: no http-01 challenge offered")
	ErrChallengeRejected         = errors.New("acme: challenge rejected")
	ErrAuthorizationTimeout      = errors.New("acme: authorization timed out")
	ErrFinalizationTimeout       = errors.New("acme: finalization timed out")
	ErrCertDownloadFailed        = errors.New("acme: certificate download failed")
	ErrInvalidKey                = errors.New("acme: invalid private key")
	ErrInvalidDomain             = errors.New("acme: invalid domain")
)
