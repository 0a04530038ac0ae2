package server

import (
	"crypto/tls"
	"crypto/x509"
	"sync/atomic"
	"time"
)

// TLSConfigCell holds the TLS configuration of a long-lived HTTPS listener.
// One writer swaps it with Store, any number of handshakes read it.
// A handshake sees either the previous or the new configuration, never a mix.
type TLSConfigCell struct {
	cfg atomic.Pointer[tls.Config]
}

// NewTLSConfigCell returns an empty cell.
func NewTLSConfigCell() *TLSConfigCell {
	return &TLSConfigCell{}
}

// Store replaces the active configuration. The config must carry at least one certificate.
func (c *TLSConfigCell) Store(cfg *tls.Config) error {
	if cfg == nil || len(cfg.Certificates) == 0 {
		return ErrNoCertificate
	}
	c.cfg.Store(cfg.Clone())
	return nil
}

// Load returns the active configuration or nil.
func (c *TLSConfigCell) Load() *tls.Config {
	return c.cfg.Load()
}

// Ready reports whether a certificate has been installed.
func (c *TLSConfigCell) Ready() bool {
	return c.cfg.Load() != nil
}

// Leaf returns the parsed leaf of the active certificate, or nil.
func (c *TLSConfigCell) Leaf() *x509.Certificate {
	cfg := c.cfg.Load()
	if cfg == nil || len(cfg.Certificates) == 0 {
		return nil
	}
	cert := cfg.Certificates[0]
	if cert.Leaf != nil {
		return cert.Leaf
	}
	if len(cert.Certificate) == 0 {
		return nil
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil
	}
	return leaf
}

// NotAfter returns the expiry of the active certificate, zero if none.
func (c *TLSConfigCell) NotAfter() time.Time {
	if leaf := c.Leaf(); leaf != nil {
		return leaf.NotAfter
	}
	return time.Time{}
}

// GetCertificate implements tls.Config.GetCertificate.
func (c *TLSConfigCell) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cfg := c.cfg.Load()
	if cfg == nil || len(cfg.Certificates) == 0 {
		return nil, ErrNoCertificate
	}
	return &cfg.Certificates[0], nil
}

// GetConfigForClient implements tls.Config.GetConfigForClient.
func (c *TLSConfigCell) GetConfigForClient(*tls.ClientHelloInfo) (*tls.Config, error) {
	cfg := c.cfg.Load()
	if cfg == nil {
		return nil, ErrNoCertificate
	}
	return cfg, nil
}

// ServerConfig returns a listener configuration that consults the cell on every handshake.
func (c *TLSConfigCell) ServerConfig() *tls.Config {
	cfg := DefaultTLSConfig()
	cfg.GetCertificate = c.GetCertificate
	cfg.GetConfigForClient = c.GetConfigForClient
	return cfg
}
