package acme

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"
	"net"

	"github.com/go-acme/lego/v4/certcrypto"
	jose "github.com/go-jose/go-jose/v4"
)

// GenerateCertificateKey returns a fresh EC P-384 key for a certificate.
func GenerateCertificateKey() (crypto.Signer, error) {
	return generateKey(certcrypto.EC384)
}

func generateKey(kt certcrypto.KeyType) (crypto.Signer, error) {
	priv, err := certcrypto.GeneratePrivateKey(kt)
	if err != nil {
		return nil, fmt.Errorf("generate %s key: %w", kt, err)
	}
	signer, ok := priv.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a signer", ErrInvalidKey, priv)
	}
	return signer, nil
}

// CreateCSR builds a DER certificate request for exactly one identifier.
// The identifier is the common name and the only subject alternative name.
func CreateCSR(domain string, key crypto.Signer) ([]byte, error) {
	tmpl := &x509.CertificateRequest{
		Subject: pkix.Name{CommonName: domain},
	}
	if ip := net.ParseIP(domain); ip != nil {
		tmpl.IPAddresses = []net.IP{ip}
	} else {
		tmpl.DNSNames = []string{domain}
	}

	csr, err := x509.CreateCertificateRequest(rand.Reader, tmpl, key)
	if err != nil {
		return nil, fmt.Errorf("create csr: %w", err)
	}
	return csr, nil
}

// KeyAuthorization computes the HTTP-01 proof for token: the token joined
// to the base64url SHA-256 JWK thumbprint of the account key.
func KeyAuthorization(token string, accountKey crypto.PublicKey) (string, error) {
	jwk := jose.JSONWebKey{Key: accountKey}
	thumb, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("jwk thumbprint: %w", err)
	}
	return token + "." + base64.RawURLEncoding.EncodeToString(thumb), nil
}
