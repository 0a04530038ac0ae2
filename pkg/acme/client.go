package acme

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-acme/lego/v4/acme"
	"github.com/go-acme/lego/v4/acme/api"
	"github.com/go-acme/lego/v4/certcrypto"
)

const (
	maxDirectorySize = 1 << 20
	maxIssuerSize    = 64 << 10

	problemAccountDoesNotExist = "urn:ietf:params:acme:error:accountDoesNotExist"
)

// Client drives one ACME session: directory, account, then orders.
// The protocol round trips are performed by lego's api core.
// A Client is safe for concurrent use but holds a single session.
type Client struct {
	httpClient     *http.Client
	userAgent      string
	logger         *slog.Logger
	issuerURL      string
	accountKeyType certcrypto.KeyType

	mu      sync.Mutex
	dir     *Directory
	core    *api.Core
	account *Account
}

// New creates a Client.
func New(opts ...Option) *Client {
	c := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Connect fetches the directory and resets the session.
func (c *Client) Connect(ctx context.Context, directoryURL string) (*Directory, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, directoryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDirectoryUnreachable, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDirectoryUnreachable, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrDirectoryUnreachable, directoryURL, res.StatusCode)
	}

	var raw acme.Directory
	if err := json.NewDecoder(io.LimitReader(res.Body, maxDirectorySize)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrDirectoryUnreachable, err)
	}
	if raw.NewNonceURL == "" || raw.NewAccountURL == "" || raw.NewOrderURL == "" {
		return nil, fmt.Errorf("%w: %s is missing required endpoints", ErrDirectoryUnreachable, directoryURL)
	}

	dir := &Directory{
		URL:            directoryURL,
		NewNonceURL:    raw.NewNonceURL,
		NewAccountURL:  raw.NewAccountURL,
		NewOrderURL:    raw.NewOrderURL,
		RevokeCertURL:  raw.RevokeCertURL,
		KeyChangeURL:   raw.KeyChangeURL,
		TermsOfService: raw.Meta.TermsOfService,
	}

	c.mu.Lock()
	c.dir = dir
	c.core = nil
	c.account = nil
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "acme directory resolved", "url", directoryURL)
	return dir, nil
}

// RegisterAccount creates a new account key and registers it, agreeing to the terms of service.
func (c *Client) RegisterAccount(ctx context.Context, contacts []string) (*Account, error) {
	key, err := generateKey(c.accountKeyType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAccountRegistrationFailed, err)
	}
	return c.openAccount(ctx, key, contacts, false)
}

// LoadAccount resolves the account URL for previously registered key material.
// The authority is asked not to create a new account; an unknown key yields
// ErrAccountNotFound in addition to ErrAccountRegistrationFailed.
func (c *Client) LoadAccount(ctx context.Context, keyPEM []byte, contacts []string) (*Account, error) {
	key, err := ParseKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAccountRegistrationFailed, err)
	}
	return c.openAccount(ctx, key, contacts, true)
}

func (c *Client) openAccount(ctx context.Context, key crypto.Signer, contacts []string, existing bool) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	dir := c.dir
	c.mu.Unlock()
	if dir == nil {
		return nil, ErrNotConnected
	}

	core, err := api.New(c.httpClient, c.userAgent, dir.URL, "", key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDirectoryUnreachable, err)
	}

	contacts = mailto(contacts)
	res, err := core.Accounts.New(acme.Account{
		Contact:              contacts,
		TermsOfServiceAgreed: true,
		OnlyReturnExisting:   existing,
	})
	if err != nil {
		var pd *acme.ProblemDetails
		if existing && errors.As(err, &pd) && pd.Type == problemAccountDoesNotExist {
			return nil, fmt.Errorf("%w: %w: %w", ErrAccountRegistrationFailed, ErrAccountNotFound, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrAccountRegistrationFailed, err)
	}
	if res.Location == "" {
		return nil, fmt.Errorf("%w: authority returned no account URL", ErrAccountRegistrationFailed)
	}

	keyPEM, err := EncodeKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAccountRegistrationFailed, err)
	}

	account := &Account{
		URL:     res.Location,
		Contact: contacts,
		Key:     key,
		KeyPEM:  keyPEM,
	}

	c.mu.Lock()
	c.core = core
	c.account = account
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "acme account ready",
		"account_url", account.URL,
		"existing", existing,
	)
	return account, nil
}

// Account returns the session account, or nil.
func (c *Client) Account() *Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

func (c *Client) session() (*api.Core, *Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.core == nil || c.account == nil {
		return nil, nil, ErrNoAccount
	}
	return c.core, c.account, nil
}

// NewOrder requests a certificate for exactly one identifier.
// Values that parse as IP addresses are sent as ip identifiers.
func (c *Client) NewOrder(ctx context.Context, domain string) (*Order, error) {
	core, _, err := c.session()
	if err != nil {
		return nil, err
	}
	domain = strings.TrimSpace(domain)
	if domain == "" || strings.Contains(domain, "*") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := core.Orders.New([]string{domain})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOrderFailed, err)
	}

	order := &Order{URL: res.Location, Domain: domain}
	order.refresh(res.Order)

	c.logger.InfoContext(ctx, "acme order created",
		"domain", domain,
		"url", order.URL,
		"status", string(order.Status),
		"authorizations", len(order.Authorizations),
	)
	return order, nil
}

// Authorizations fetches the current state of every authorization of the order.
func (c *Client) Authorizations(ctx context.Context, order *Order) ([]*Authorization, error) {
	core, _, err := c.session()
	if err != nil {
		return nil, err
	}

	out := make([]*Authorization, 0, len(order.Authorizations))
	for _, u := range order.Authorizations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, err := core.Authorizations.Get(u)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrAuthorizationFailed, u, err)
		}
		out = append(out, authorizationFrom(u, a))
	}
	return out, nil
}

// HTTPChallenge selects the http-01 challenge of authz and attaches its proof.
func (c *Client) HTTPChallenge(authz *Authorization) (*Challenge, error) {
	_, account, err := c.session()
	if err != nil {
		return nil, err
	}

	for _, ch := range authz.Challenges {
		if ch.Type != ChallengeTypeHTTP01 {
			continue
		}
		proof, err := KeyAuthorization(ch.Token, account.Key.Public())
		if err != nil {
			return nil, err
		}
		ch.Proof = []byte(proof)
		return ch, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoHTTPChallenge, authz.Domain)
}

// Validate asks the authority to check the challenge and polls it until it
// is valid, rejected or the policy is exhausted.
func (c *Client) Validate(ctx context.Context, ch *Challenge, policy PollPolicy) error {
	core, _, err := c.session()
	if err != nil {
		return err
	}
	policy = policy.normalize()
	if err := ctx.Err(); err != nil {
		return err
	}

	res, err := core.Challenges.New(ch.URL)
	if err != nil {
		return fmt.Errorf("%w: trigger %s: %w", ErrChallengeRejected, ch.URL, err)
	}
	ch.refresh(res.Challenge)

	for attempt := 1; ; attempt++ {
		done, err := ch.settled()
		if done || err != nil {
			return err
		}
		if attempt > policy.Attempts {
			return fmt.Errorf("%w: challenge %s still %s after %d polls", ErrAuthorizationTimeout, ch.URL, ch.Status, policy.Attempts)
		}
		if err := Wait(ctx, policy.Interval); err != nil {
			return err
		}

		res, err := core.Challenges.Get(ch.URL)
		if err != nil {
			return fmt.Errorf("refresh challenge %s: %w", ch.URL, err)
		}
		ch.refresh(res.Challenge)

		c.logger.DebugContext(ctx, "acme challenge polled",
			"url", ch.URL,
			"status", string(ch.Status),
			"attempt", attempt,
		)
	}
}

// ConfirmValidations refreshes the order once. It returns a ReadyOrder when
// every authorization is satisfied and nil while some are still pending.
func (c *Client) ConfirmValidations(ctx context.Context, order *Order) (*ReadyOrder, error) {
	core, _, err := c.session()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := core.Orders.Get(order.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: refresh %s: %w", ErrOrderFailed, order.URL, err)
	}
	problem := order.refresh(res.Order)

	switch order.Status {
	case StatusReady, StatusValid:
		return &ReadyOrder{Order: *order}, nil
	case StatusInvalid:
		return nil, fmt.Errorf("%w: %s", ErrOrderInvalid, problem)
	default:
		return nil, nil
	}
}

// Finalize submits a CSR signed by key and polls the order until the certificate is issued.
// An order that is already valid was finalized with another key and is refused
// with ErrOrderAlreadyFinalized.
func (c *Client) Finalize(ctx context.Context, ready *ReadyOrder, key crypto.Signer, policy PollPolicy) (*CertOrder, error) {
	core, _, err := c.session()
	if err != nil {
		return nil, err
	}
	policy = policy.normalize()

	csr, err := CreateCSR(ready.Domain, key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	order := ready.Order
	// A valid order carries a certificate for an earlier CSR, not for key.
	if order.Status == StatusValid {
		return nil, fmt.Errorf("%w: %s", ErrOrderAlreadyFinalized, order.URL)
	}

	res, err := core.Orders.UpdateForCSR(order.FinalizeURL, csr)
	if err != nil {
		var pd *acme.ProblemDetails
		if errors.As(err, &pd) {
			return nil, fmt.Errorf("%w: finalize: %w", ErrOrderInvalid, err)
		}
		return nil, fmt.Errorf("finalize %s: %w", order.FinalizeURL, err)
	}
	order.refresh(res.Order)

	for attempt := 1; ; attempt++ {
		switch order.Status {
		case StatusValid:
			if order.CertificateURL != "" {
				c.logger.InfoContext(ctx, "acme order finalized", "domain", order.Domain, "url", order.URL)
				return &CertOrder{Order: order}, nil
			}
		case StatusInvalid:
			return nil, fmt.Errorf("%w: finalize rejected", ErrOrderInvalid)
		}

		if attempt > policy.Attempts {
			return nil, fmt.Errorf("%w: order %s still %s after %d polls", ErrFinalizationTimeout, order.URL, order.Status, policy.Attempts)
		}
		if err := Wait(ctx, policy.Interval); err != nil {
			return nil, err
		}

		res, err := core.Orders.Get(order.URL)
		if err != nil {
			return nil, fmt.Errorf("refresh order %s: %w", order.URL, err)
		}
		if problem := order.refresh(res.Order); order.Status == StatusInvalid {
			return nil, fmt.Errorf("%w: %s", ErrOrderInvalid, problem)
		}

		c.logger.DebugContext(ctx, "acme order polled",
			"url", order.URL,
			"status", string(order.Status),
			"attempt", attempt,
		)
	}
}

// DownloadCert fetches the issued chain and pairs it with key. When the
// authority returns only the leaf and an issuer URL is configured, the issuer
// is fetched from there and appended.
func (c *Client) DownloadCert(ctx context.Context, order *CertOrder, key crypto.Signer) (*Certificate, error) {
	core, _, err := c.session()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	leafPEM, issuerPEM, err := core.Certificates.Get(order.CertificateURL, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCertDownloadFailed, err)
	}

	certs, err := certcrypto.ParsePEMBundle(leafPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: parse leaf: %w", ErrCertDownloadFailed, err)
	}
	if len(bytes.TrimSpace(issuerPEM)) > 0 {
		issuers, err := certcrypto.ParsePEMBundle(issuerPEM)
		if err != nil {
			return nil, fmt.Errorf("%w: parse issuer: %w", ErrCertDownloadFailed, err)
		}
		certs = append(certs, issuers...)
	}

	if len(certs) == 1 && c.issuerURL != "" {
		issuer, err := c.fetchIssuer(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCertDownloadFailed, err)
		}
		certs = append(certs, issuer)
	}

	cert, err := newCertificate(order.Domain, key, certs)
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "acme certificate downloaded",
		"domain", order.Domain,
		"not_after", cert.NotAfter,
		"chain", len(cert.Chain),
	)
	return cert, nil
}

func (c *Client) fetchIssuer(ctx context.Context) (*x509.Certificate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.issuerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("issuer request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch issuer: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch issuer: %s returned %d", c.issuerURL, res.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, maxIssuerSize))
	if err != nil {
		return nil, fmt.Errorf("read issuer: %w", err)
	}

	if cert, err := x509.ParseCertificate(data); err == nil {
		return cert, nil
	}
	certs, err := certcrypto.ParsePEMBundle(data)
	if err != nil {
		return nil, fmt.Errorf("parse issuer: %w", err)
	}
	return certs[0], nil
}

func (o *Order) refresh(src acme.Order) string {
	o.Status = Status(src.Status)
	if len(src.Authorizations) > 0 {
		o.Authorizations = src.Authorizations
	}
	if src.Finalize != "" {
		o.FinalizeURL = src.Finalize
	}
	if src.Certificate != "" {
		o.CertificateURL = src.Certificate
	}
	return problemText(src.Error)
}

func (ch *Challenge) refresh(src acme.Challenge) {
	ch.Status = Status(src.Status)
	if src.Token != "" {
		ch.Token = src.Token
	}
	ch.Problem = problemText(src.Error)
}

func (ch *Challenge) settled() (bool, error) {
	switch ch.Status {
	case StatusValid:
		return true, nil
	case StatusInvalid:
		return true, fmt.Errorf("%w: %s: %s", ErrChallengeRejected, ch.URL, ch.Problem)
	}
	return false, nil
}

func authorizationFrom(u string, a acme.Authorization) *Authorization {
	out := &Authorization{
		URL:        u,
		Domain:     a.Identifier.Value,
		Status:     Status(a.Status),
		Expires:    a.Expires,
		Challenges: make([]*Challenge, 0, len(a.Challenges)),
	}
	for _, ch := range a.Challenges {
		out.Challenges = append(out.Challenges, &Challenge{
			Type:    ch.Type,
			URL:     ch.URL,
			Token:   ch.Token,
			Status:  Status(ch.Status),
			Problem: problemText(ch.Error),
		})
	}
	return out
}

func problemText(pd *acme.ProblemDetails) string {
	if pd == nil {
		return ""
	}
	if pd.Detail != "" {
		return pd.Type + ": " + pd.Detail
	}
	return pd.Type
}

func mailto(contacts []string) []string {
	out := make([]string, 0, len(contacts))
	for _, c := range contacts {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !strings.HasPrefix(c, "mailto:") {
			c = "mailto:" + c
		}
		out = append(out, c)
	}
	return out
}
