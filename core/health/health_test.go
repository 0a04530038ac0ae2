package health_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/autotls/core/health"
	"github.com/dmitrymomot/autotls/core/logger"
	"github.com/dmitrymomot/autotls/core/server"
)

func serve(t *testing.T, h http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	return rec
}

func cellWith(t *testing.T, validFor time.Duration) *server.TLSConfigCell {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "example.test"},
		DNSNames:     []string{"example.test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(validFor),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	cell := server.NewTLSConfigCell()
	require.NoError(t, cell.Store(&tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}},
	}))
	return cell
}

func TestLiveness(t *testing.T) {
	t.Parallel()

	rec := serve(t, health.Liveness())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ALIVE", rec.Body.String())

	rec = serve(t, health.NoContent())
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("redis down") }

	t.Run("all checks pass", func(t *testing.T) {
		t.Parallel()
		rec := serve(t, health.Readiness(logger.Nop(), ok, ok))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "READY", rec.Body.String())
	})

	t.Run("one check fails", func(t *testing.T) {
		t.Parallel()
		rec := serve(t, health.Readiness(logger.Nop(), ok, fail))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestCertificate(t *testing.T) {
	t.Parallel()

	t.Run("empty cell", func(t *testing.T) {
		t.Parallel()
		err := health.Certificate(server.NewTLSConfigCell(), time.Hour)(context.Background())
		require.ErrorIs(t, err, health.ErrNoCertificate)
	})

	t.Run("valid beyond margin", func(t *testing.T) {
		t.Parallel()
		err := health.Certificate(cellWith(t, 30*24*time.Hour), 7*24*time.Hour)(context.Background())
		require.NoError(t, err)
	})

	t.Run("expiring within margin", func(t *testing.T) {
		t.Parallel()
		err := health.Certificate(cellWith(t, 24*time.Hour), 7*24*time.Hour)(context.Background())
		require.ErrorIs(t, err, health.ErrCertificateExpiring)
	})
}
