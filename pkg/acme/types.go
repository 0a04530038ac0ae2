package acme

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/go-acme/lego/v4/acme"
	"github.com/go-acme/lego/v4/certcrypto"
)

// Status of an ACME resource as reported by the authority.
type Status string

const (
	StatusPending     Status = acme.StatusPending
	StatusReady       Status = acme.StatusReady
	StatusProcessing  Status = acme.StatusProcessing
	StatusValid       Status = acme.StatusValid
	StatusInvalid     Status = acme.StatusInvalid
	StatusDeactivated Status = acme.StatusDeactivated
	StatusExpired     Status = acme.StatusExpired
	StatusRevoked     Status = acme.StatusRevoked
)

// Terminal reports whether the status can no longer change towards valid.
func (s Status) Terminal() bool {
	switch s {
	case StatusValid, StatusInvalid, StatusDeactivated, StatusExpired, StatusRevoked:
		return true
	}
	return false
}

// ChallengeTypeHTTP01 is the only challenge type this package answers.
const ChallengeTypeHTTP01 = "http-01"

// Directory lists the endpoints of an ACME server.
type Directory struct {
	URL            string
	NewNonceURL    string
	NewAccountURL  string
	NewOrderURL    string
	RevokeCertURL  string
	KeyChangeURL   string
	TermsOfService string
}

// Account is a registered ACME account.
type Account struct {
	URL     string
	Contact []string
	Key     crypto.Signer
	KeyPEM  []byte
}

// Order requests a certificate for a single identifier.
type Order struct {
	URL            string
	Domain         string
	Status         Status
	Authorizations []string
	FinalizeURL    string
	CertificateURL string
}

// ReadyOrder is an order whose authorizations are all satisfied.
type ReadyOrder struct {
	Order
}

// CertOrder is an order the authority has issued a certificate for.
type CertOrder struct {
	Order
}

// Authorization is the authority's proof-of-control requirement for one identifier.
type Authorization struct {
	URL        string
	Domain     string
	Status     Status
	Expires    time.Time
	Challenges []*Challenge
}

// Challenge is one way to satisfy an Authorization.
type Challenge struct {
	Type    string
	URL     string
	Token   string
	Status  Status
	Problem string
	// Proof is the key authorization served to the authority.
	Proof []byte
}

// Certificate is an issued certificate with its private key. All certificates are DER.
type Certificate struct {
	Domain     string
	PrivateKey crypto.Signer
	KeyDER     []byte
	Leaf       []byte
	Chain      [][]byte
	NotBefore  time.Time
	NotAfter   time.Time
}

// FullChain returns the leaf followed by the issuer chain.
func (c *Certificate) FullChain() [][]byte {
	out := make([][]byte, 0, 1+len(c.Chain))
	out = append(out, c.Leaf)
	return append(out, c.Chain...)
}

// PEM encodes the private key and the full chain.
func (c *Certificate) PEM() (keyPEM, chainPEM []byte, err error) {
	if c.PrivateKey == nil {
		return nil, nil, ErrInvalidKey
	}
	keyPEM, err = EncodeKey(c.PrivateKey)
	if err != nil {
		return nil, nil, err
	}
	for _, der := range c.FullChain() {
		chainPEM = append(chainPEM, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})...)
	}
	return keyPEM, chainPEM, nil
}

// ParsePEM rebuilds a Certificate from PEM artifacts produced by Certificate.PEM.
func ParsePEM(domain string, keyPEM, chainPEM []byte) (*Certificate, error) {
	key, err := ParseKey(keyPEM)
	if err != nil {
		return nil, err
	}

	certs, err := certcrypto.ParsePEMBundle(chainPEM)
	if err != nil {
		return nil, fmt.Errorf("parse certificate chain: %w", err)
	}

	return newCertificate(domain, key, certs)
}

// EncodeKey PEM-encodes an ECDSA or RSA private key.
func EncodeKey(key crypto.Signer) ([]byte, error) {
	switch key.(type) {
	case *ecdsa.PrivateKey, *rsa.PrivateKey:
		return certcrypto.PEMEncode(key), nil
	default:
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrInvalidKey, key)
	}
}

// ParseKey decodes a PEM private key usable for signing.
func ParseKey(keyPEM []byte) (crypto.Signer, error) {
	priv, err := certcrypto.ParsePEMPrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	signer, ok := priv.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a signer", ErrInvalidKey, priv)
	}
	return signer, nil
}

func newCertificate(domain string, key crypto.Signer, certs []*x509.Certificate) (*Certificate, error) {
	if len(certs) == 0 {
		return nil, fmt.Errorf("%w: empty chain", ErrCertDownloadFailed)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	leaf := certs[0]
	chain := make([][]byte, 0, len(certs)-1)
	for _, c := range certs[1:] {
		chain = append(chain, c.Raw)
	}

	return &Certificate{
		Domain:     domain,
		PrivateKey: key,
		KeyDER:     keyDER,
		Leaf:       leaf.Raw,
		Chain:      chain,
		NotBefore:  leaf.NotBefore,
		NotAfter:   leaf.NotAfter,
	}, nil
}
