package server_test

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/autotls/core/server"
)

func TestDefaultTLSConfig(t *testing.T) {
	t.Parallel()
	cfg := server.DefaultTLSConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.NotEmpty(t, cfg.CipherSuites)
	assert.Contains(t, cfg.CipherSuites, uint16(tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256))
	assert.Contains(t, cfg.CipherSuites, uint16(tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256))
	assert.Contains(t, cfg.CurvePreferences, tls.X25519)
	assert.Contains(t, cfg.CurvePreferences, tls.CurveP256)
}

func TestModernTLSConfig(t *testing.T) {
	t.Parallel()
	cfg := server.ModernTLSConfig()

	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.Empty(t, cfg.CipherSuites) // TLS 1.3 auto-selects cipher suites
	assert.Contains(t, cfg.CurvePreferences, tls.X25519)
}

func TestIntermediateTLSConfig(t *testing.T) {
	t.Parallel()
	cfg := server.IntermediateTLSConfig()

	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Contains(t, cfg.CipherSuites, uint16(tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256))
	assert.Len(t, cfg.CurvePreferences, 3) // X25519, P256, P384
}

func TestStrictTLSConfig(t *testing.T) {
	t.Parallel()
	cfg := server.StrictTLSConfig()

	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	assert.True(t, cfg.SessionTicketsDisabled)
	assert.Equal(t, tls.RenegotiateNever, cfg.Renegotiation)
}

func TestNewTLSConfig(t *testing.T) {
	t.Parallel()

	t.Run("default config", func(t *testing.T) {
		cfg, err := server.NewTLSConfig()
		require.NoError(t, err)
		assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	})

	t.Run("with min version", func(t *testing.T) {
		cfg, err := server.NewTLSConfig(server.WithTLSMinVersion(tls.VersionTLS13))
		require.NoError(t, err)
		assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	})

	t.Run("invalid TLS version returns error", func(t *testing.T) {
		cfg, err := server.NewTLSConfig(server.WithTLSMinVersion(0x0300))
		require.Error(t, err)
		assert.Nil(t, cfg)
		assert.ErrorIs(t, err, server.ErrInvalidTLSVersion)
	})

	t.Run("with client auth", func(t *testing.T) {
		cfg, err := server.NewTLSConfig(server.WithTLSClientAuth(tls.RequireAndVerifyClientCert))
		require.NoError(t, err)
		assert.Equal(t, tls.RequireAndVerifyClientCert, cfg.ClientAuth)
	})

	t.Run("invalid client auth type returns error", func(t *testing.T) {
		cfg, err := server.NewTLSConfig(server.WithTLSClientAuth(tls.ClientAuthType(99)))
		require.Error(t, err)
		assert.Nil(t, cfg)
		assert.ErrorIs(t, err, server.ErrInvalidClientAuthType)
	})

	t.Run("with next protos", func(t *testing.T) {
		cfg, err := server.NewTLSConfig(server.WithTLSNextProtos("h2", "http/1.1"))
		require.NoError(t, err)
		assert.Equal(t, []string{"h2", "http/1.1"}, cfg.NextProtos)
	})

	t.Run("with key pair", func(t *testing.T) {
		cert := selfSigned(t, "example.test", time.Hour)
		cfg, err := server.NewTLSConfig(server.WithTLSKeyPair(cert))
		require.NoError(t, err)
		require.Len(t, cfg.Certificates, 1)
		assert.Equal(t, cert.Certificate, cfg.Certificates[0].Certificate)
	})

	t.Run("empty key pair returns error", func(t *testing.T) {
		cfg, err := server.NewTLSConfig(server.WithTLSKeyPair(tls.Certificate{}))
		assert.ErrorIs(t, err, server.ErrNoCertificate)
		assert.Nil(t, cfg)
	})
}

func TestWithTLSCertificate(t *testing.T) {
	t.Parallel()

	t.Run("nonexistent files return error", func(t *testing.T) {
		cfg, err := server.NewTLSConfig(
			server.WithTLSCertificate("nonexistent.pem", "nonexistent.key"),
		)
		require.Error(t, err)
		assert.Nil(t, cfg)
		assert.ErrorIs(t, err, server.ErrFailedLoadCert)
	})

	t.Run("empty paths return error", func(t *testing.T) {
		for _, paths := range [][2]string{{"", "key.pem"}, {"cert.pem", ""}, {"", ""}} {
			cfg, err := server.NewTLSConfig(server.WithTLSCertificate(paths[0], paths[1]))
			assert.ErrorIs(t, err, server.ErrEmptyCertPath)
			assert.Nil(t, cfg)
		}
	})
}
