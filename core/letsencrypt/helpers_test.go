package letsencrypt_test

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/autotls/core/letsencrypt"
	"github.com/dmitrymomot/autotls/pkg/acme"
)

const (
	testDomain = "example.test"
	testEmail  = "ops@example.test"
	testToken  = "abc123"
)

func testConfig() letsencrypt.Config {
	return letsencrypt.Config{
		Domain:              testDomain,
		Email:               testEmail,
		DirectoryURL:        "https://acme.example.test/directory",
		PollInterval:        time.Millisecond,
		PollAttempts:        3,
		AuthorizationRounds: 3,
		CleanupTimeout:      time.Second,
	}
}

// issue returns a self-signed certificate for domain whose key is key.
func issue(t *testing.T, domain string, key crypto.Signer, validFor time.Duration) *acme.Certificate {
	t.Helper()

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: domain},
		DNSNames:     []string{domain},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(validFor),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	require.NoError(t, err)

	keyPEM, err := acme.EncodeKey(key)
	require.NoError(t, err)

	cert, err := acme.ParsePEM(domain, keyPEM, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, err)
	return cert
}

func newKey(t *testing.T) crypto.Signer {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

// stubResponder records proofs in memory.
type stubResponder struct {
	mu      sync.Mutex
	proofs  map[string][]byte
	stopped int
}

func newStubResponder() *stubResponder {
	return &stubResponder{proofs: make(map[string][]byte)}
}

func (r *stubResponder) WriteProof(token string, proof []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proofs[token] = append([]byte(nil), proof...)
	return nil
}

func (r *stubResponder) Stop(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped++
	return nil
}

func (r *stubResponder) proof(token string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proofs[token]
	return p, ok
}

func (r *stubResponder) stopCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *stubResponder) factory() letsencrypt.ResponderFactory {
	return func(context.Context, string) (letsencrypt.Responder, error) {
		return r, nil
	}
}

// stubClient scripts the authority's answers and records calls in order.
type stubClient struct {
	t         *testing.T
	responder *stubResponder

	connectErr    error
	registerErr   error
	loadErr       error
	authzStatus   acme.Status
	noHTTP        bool
	validateErr   error
	pendingRounds int
	confirmErr    error
	finalizeErr   error
	downloadErr   error

	mu                sync.Mutex
	calls             []string
	proofBeforeCheck  bool
	confirmCallsCount int
}

func newStubClient(t *testing.T, r *stubResponder) *stubClient {
	return &stubClient{t: t, responder: r, authzStatus: acme.StatusPending}
}

func (c *stubClient) record(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
}

func (c *stubClient) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *stubClient) called(name string) bool {
	for _, n := range c.Calls() {
		if n == name {
			return true
		}
	}
	return false
}

func (c *stubClient) Connect(_ context.Context, directoryURL string) (*acme.Directory, error) {
	c.record("Connect")
	if c.connectErr != nil {
		return nil, c.connectErr
	}
	return &acme.Directory{URL: directoryURL}, nil
}

func (c *stubClient) RegisterAccount(_ context.Context, contacts []string) (*acme.Account, error) {
	c.record("RegisterAccount")
	if c.registerErr != nil {
		return nil, c.registerErr
	}
	key := newKey(c.t)
	keyPEM, err := acme.EncodeKey(key)
	if err != nil {
		return nil, err
	}
	return &acme.Account{URL: "https://acme.example.test/acct/1", Contact: contacts, Key: key, KeyPEM: keyPEM}, nil
}

func (c *stubClient) LoadAccount(_ context.Context, keyPEM []byte, contacts []string) (*acme.Account, error) {
	c.record("LoadAccount")
	if c.loadErr != nil {
		return nil, c.loadErr
	}
	key, err := acme.ParseKey(keyPEM)
	if err != nil {
		return nil, err
	}
	return &acme.Account{URL: "https://acme.example.test/acct/1", Contact: contacts, Key: key, KeyPEM: keyPEM}, nil
}

func (c *stubClient) NewOrder(_ context.Context, domain string) (*acme.Order, error) {
	c.record("NewOrder")
	return &acme.Order{
		URL:            "https://acme.example.test/order/1",
		Domain:         domain,
		Status:         acme.StatusPending,
		Authorizations: []string{"https://acme.example.test/authz/1"},
		FinalizeURL:    "https://acme.example.test/finalize/1",
	}, nil
}

func (c *stubClient) Authorizations(_ context.Context, order *acme.Order) ([]*acme.Authorization, error) {
	c.record("Authorizations")
	return []*acme.Authorization{{
		URL:    order.Authorizations[0],
		Domain: order.Domain,
		Status: c.authzStatus,
		Challenges: []*acme.Challenge{{
			Type:   acme.ChallengeTypeHTTP01,
			URL:    "https://acme.example.test/chall/1",
			Token:  testToken,
			Status: acme.StatusPending,
		}},
	}}, nil
}

func (c *stubClient) HTTPChallenge(authz *acme.Authorization) (*acme.Challenge, error) {
	c.record("HTTPChallenge")
	if c.noHTTP {
		return nil, acme.ErrNoHTTPChallenge
	}
	ch := *authz.Challenges[0]
	ch.Proof = []byte(ch.Token + ".thumbprint")
	return &ch, nil
}

func (c *stubClient) Validate(_ context.Context, ch *acme.Challenge, _ acme.PollPolicy) error {
	c.record("Validate")
	proof, ok := c.responder.proof(ch.Token)
	c.mu.Lock()
	c.proofBeforeCheck = ok && string(proof) == string(ch.Proof)
	c.mu.Unlock()
	return c.validateErr
}

func (c *stubClient) ConfirmValidations(_ context.Context, order *acme.Order) (*acme.ReadyOrder, error) {
	c.record("ConfirmValidations")
	if c.confirmErr != nil {
		return nil, c.confirmErr
	}
	c.mu.Lock()
	c.confirmCallsCount++
	n := c.confirmCallsCount
	c.mu.Unlock()
	if n <= c.pendingRounds {
		return nil, nil
	}
	ready := &acme.ReadyOrder{Order: *order}
	ready.Status = acme.StatusReady
	return ready, nil
}

func (c *stubClient) Finalize(_ context.Context, ready *acme.ReadyOrder, _ crypto.Signer, _ acme.PollPolicy) (*acme.CertOrder, error) {
	c.record("Finalize")
	if c.finalizeErr != nil {
		return nil, c.finalizeErr
	}
	out := &acme.CertOrder{Order: ready.Order}
	out.Status = acme.StatusValid
	out.CertificateURL = "https://acme.example.test/cert/1"
	return out, nil
}

func (c *stubClient) DownloadCert(_ context.Context, order *acme.CertOrder, key crypto.Signer) (*acme.Certificate, error) {
	c.record("DownloadCert")
	if c.downloadErr != nil {
		return nil, c.downloadErr
	}
	if key == nil {
		return nil, errors.New("stub: nil key")
	}
	return issue(c.t, order.Domain, key, 90*24*time.Hour), nil
}

var _ letsencrypt.ACMEClient = (*stubClient)(nil)

func tlsPairFromFiles(dir string) (tls.Certificate, error) {
	return tls.LoadX509KeyPair(filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem"))
}
