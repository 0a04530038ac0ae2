package letsencrypt

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-acme/lego/v4/lego"

	"github.com/dmitrymomot/autotls/core/server"
	"github.com/dmitrymomot/autotls/pkg/acme"
)

// DefaultIssuerURL is the Let's Encrypt R11 intermediate in DER form.
const DefaultIssuerURL = "https://letsencrypt.org/certs/2024/r11.der"

// Config holds provisioning configuration.
type Config struct {
	Domain       string `env:"ACME_DOMAIN,required"`
	Email        string `env:"ACME_EMAIL,required"`
	DirectoryURL string `env:"ACME_DIRECTORY_URL"`
	Staging      bool   `env:"ACME_STAGING" envDefault:"false"`
	IssuerURL    string `env:"ACME_ISSUER_URL" envDefault:"https://letsencrypt.org/certs/2024/r11.der"`
	UserAgent    string `env:"ACME_USER_AGENT" envDefault:"autotls"`

	ChallengeAddr string `env:"ACME_CHALLENGE_ADDR" envDefault:":80"`
	ChallengeDir  string `env:"ACME_CHALLENGE_DIR"`

	PollInterval        time.Duration `env:"ACME_POLL_INTERVAL" envDefault:"5s"`
	PollAttempts        int           `env:"ACME_POLL_ATTEMPTS" envDefault:"24"`
	AuthorizationRounds int           `env:"ACME_AUTHORIZATION_ROUNDS" envDefault:"10"`
	CleanupTimeout      time.Duration `env:"ACME_CLEANUP_TIMEOUT" envDefault:"10s"`

	// StorageDir enables the file account and certificate stores.
	StorageDir string `env:"ACME_STORAGE_DIR"`
	// ExportDir receives cert.pem and key.pem after every issuance.
	ExportDir string `env:"ACME_EXPORT_DIR"`
}

// Directory returns the ACME directory URL to use.
func (c Config) Directory() string {
	switch {
	case c.DirectoryURL != "":
		return c.DirectoryURL
	case c.Staging:
		return lego.LEDirectoryStaging
	default:
		return lego.LEDirectoryProduction
	}
}

// PollPolicy returns the budget for challenge and finalization polls.
func (c Config) PollPolicy() acme.PollPolicy {
	return acme.PollPolicy{Interval: c.PollInterval, Attempts: c.PollAttempts}
}

// Validate checks required fields and applies defaults for zero values.
func (c *Config) Validate() error {
	c.Domain = strings.TrimSpace(c.Domain)
	c.Email = strings.TrimSpace(c.Email)

	if c.Domain == "" {
		return ErrDomainRequired
	}
	if strings.Contains(c.Domain, "*") {
		return fmt.Errorf("%w: wildcard %q needs a dns-01 challenge", ErrInvalidDomain, c.Domain)
	}
	if c.Email == "" {
		return ErrEmailRequired
	}

	if c.ChallengeAddr == "" {
		c.ChallengeAddr = server.DefaultChallengeAddr
	}
	if c.UserAgent == "" {
		c.UserAgent = "autotls"
	}
	if c.PollInterval == 0 && c.PollAttempts == 0 {
		p := acme.DefaultPollPolicy()
		c.PollInterval, c.PollAttempts = p.Interval, p.Attempts
	}
	if c.PollInterval <= 0 || c.PollAttempts <= 0 {
		return ErrInvalidPollPolicy
	}
	if c.AuthorizationRounds <= 0 {
		c.AuthorizationRounds = 10
	}
	if c.CleanupTimeout <= 0 {
		c.CleanupTimeout = 10 * time.Second
	}
	return nil
}
