package letsencrypt

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/dmitrymomot/autotls/core/server"
	"github.com/dmitrymomot/autotls/pkg/acme"
)

// Install converts an issued certificate into a TLS server configuration.
// The private key must belong to the leaf. Extra options are applied after
// the key pair on top of server.DefaultTLSConfig. Install has no side effects.
func Install(cert *acme.Certificate, opts ...server.TLSConfigOption) (*tls.Config, error) {
	pair, err := KeyPair(cert)
	if err != nil {
		return nil, err
	}

	return server.NewTLSConfig(append([]server.TLSConfigOption{server.WithTLSKeyPair(pair)}, opts...)...)
}

// KeyPair builds a tls.Certificate from cert after checking that the private
// key matches the leaf.
func KeyPair(cert *acme.Certificate) (tls.Certificate, error) {
	if cert == nil || len(cert.Leaf) == 0 {
		return tls.Certificate{}, ErrCertificateNotFound
	}

	leaf, err := x509.ParseCertificate(cert.Leaf)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: parse leaf: %w", ErrKeyCertMismatch, err)
	}
	if cert.PrivateKey == nil {
		return tls.Certificate{}, fmt.Errorf("%w: missing private key", ErrKeyCertMismatch)
	}

	pub, ok := cert.PrivateKey.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(leaf.PublicKey) {
		return tls.Certificate{}, ErrKeyCertMismatch
	}

	return tls.Certificate{
		Certificate: cert.FullChain(),
		PrivateKey:  cert.PrivateKey,
		Leaf:        leaf,
	}, nil
}

// Usable reports whether cert is still valid at now plus margin.
func Usable(cert *acme.Certificate, now time.Time, margin time.Duration) bool {
	if cert == nil {
		return false
	}
	return now.Add(margin).Before(cert.NotAfter)
}
