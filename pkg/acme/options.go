package acme

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
)

const (
	defaultUserAgent   = "autotls"
	defaultHTTPTimeout = 30 * time.Second
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for every call to the authority.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithUserAgent sets the User-Agent sent to the authority.
func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		if ua = strings.TrimSpace(ua); ua != "" {
			cl.userAgent = ua
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		if l != nil {
			cl.logger = l
		}
	}
}

// WithIssuerURL sets the URL of a DER issuer certificate appended to chains
// that come back without one. Empty disables the fetch.
func WithIssuerURL(url string) Option {
	return func(cl *Client) {
		cl.issuerURL = strings.TrimSpace(url)
	}
}

// WithAccountKeyType overrides the key type of newly registered accounts (default EC256).
func WithAccountKeyType(kt certcrypto.KeyType) Option {
	return func(cl *Client) {
		if kt != "" {
			cl.accountKeyType = kt
		}
	}
}

func defaultOptions() *Client {
	return &Client{
		httpClient:     &http.Client{Timeout: defaultHTTPTimeout},
		userAgent:      defaultUserAgent,
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		accountKeyType: certcrypto.EC256,
	}
}
