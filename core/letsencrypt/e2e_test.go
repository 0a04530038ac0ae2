package letsencrypt_test

import (
	"context"
	"crypto/x509"
	"net"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/autotls/core/letsencrypt"
	"github.com/dmitrymomot/autotls/core/server"
	"github.com/dmitrymomot/autotls/pkg/acme/acmetest"
)

// liveResponder starts real challenge responders on loopback and remembers
// the last bound address so the fake authority can fetch proofs from it.
type liveResponder struct {
	baseDir string
	addr    atomic.Value
	last    atomic.Pointer[server.ChallengeResponder]
}

func (l *liveResponder) factory(ctx context.Context, domain string) (letsencrypt.Responder, error) {
	r, err := server.StartChallengeResponder(ctx, server.ChallengeConfig{
		Addr:    "127.0.0.1:0",
		Domain:  domain,
		BaseDir: l.baseDir,
	})
	if err != nil {
		return nil, err
	}
	l.addr.Store(r.Addr())
	l.last.Store(r)
	return r, nil
}

func (l *liveResponder) baseURL() string {
	addr, _ := l.addr.Load().(string)
	return "http://" + addr
}

func e2eConfig(srv *acmetest.Server) letsencrypt.Config {
	return letsencrypt.Config{
		Domain:              testDomain,
		Email:               testEmail,
		DirectoryURL:        srv.DirectoryURL(),
		IssuerURL:           srv.IssuerURL(),
		PollInterval:        10 * time.Millisecond,
		PollAttempts:        5,
		AuthorizationRounds: 3,
		CleanupTimeout:      time.Second,
	}
}

func assertCleanedUp(t *testing.T, l *liveResponder) {
	t.Helper()

	r := l.last.Load()
	require.NotNil(t, r)

	_, err := os.Stat(r.Dir())
	assert.True(t, os.IsNotExist(err), "challenge directory must be removed")

	entries, err := os.ReadDir(l.baseDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	conn, err := net.DialTimeout("tcp", r.Addr(), 200*time.Millisecond)
	if err == nil {
		_ = conn.Close()
	}
	assert.Error(t, err, "challenge listener must be closed")
}

func TestProvisionAgainstAuthority(t *testing.T) {
	t.Parallel()

	t.Run("issues certificate after two polls", func(t *testing.T) {
		t.Parallel()
		live := &liveResponder{baseDir: t.TempDir()}
		srv := acmetest.NewServer(t, acmetest.Options{
			Token:           testToken,
			ValidAfterPolls: 2,
			FinalizePolls:   1,
			ProofBaseURL:    live.baseURL,
		})

		p, err := letsencrypt.NewProvisioner(e2eConfig(srv), letsencrypt.WithResponderFactory(live.factory))
		require.NoError(t, err)

		run, err := p.Provision(context.Background())
		require.NoError(t, err)
		assert.Equal(t, fullHistory, run.History)

		stats := srv.Stats()
		assert.Equal(t, 1, stats.Triggers)
		assert.Equal(t, "dns", stats.IdentifierType)
		assert.Equal(t, testDomain, stats.IdentifierValue)
		assert.NotEmpty(t, stats.ProofSeen)

		leaf, err := x509.ParseCertificate(run.Certificate.Leaf)
		require.NoError(t, err)
		assert.Contains(t, leaf.DNSNames, testDomain)
		require.Len(t, run.Certificate.Chain, 1)

		tlsCfg, err := letsencrypt.Install(run.Certificate)
		require.NoError(t, err)
		require.Len(t, tlsCfg.Certificates, 1)
		assert.Len(t, tlsCfg.Certificates[0].Certificate, 2)

		assertCleanedUp(t, live)
	})

	t.Run("challenge never validates", func(t *testing.T) {
		t.Parallel()
		live := &liveResponder{baseDir: t.TempDir()}
		srv := acmetest.NewServer(t, acmetest.Options{
			Token:           testToken,
			ValidAfterPolls: acmetest.Never,
			ProofBaseURL:    live.baseURL,
		})

		p, err := letsencrypt.NewProvisioner(e2eConfig(srv), letsencrypt.WithResponderFactory(live.factory))
		require.NoError(t, err)

		run, err := p.Provision(context.Background())
		require.ErrorIs(t, err, letsencrypt.ErrAuthorizationTimeout)
		assert.Equal(t, letsencrypt.StateFailed, run.State)
		assert.Contains(t, run.History, letsencrypt.StateCleanup)
		assert.Zero(t, srv.Stats().Finalizations)

		assertCleanedUp(t, live)
	})

	t.Run("rejected challenge", func(t *testing.T) {
		t.Parallel()
		live := &liveResponder{baseDir: t.TempDir()}
		srv := acmetest.NewServer(t, acmetest.Options{
			Token:           testToken,
			RejectChallenge: true,
		})

		p, err := letsencrypt.NewProvisioner(e2eConfig(srv), letsencrypt.WithResponderFactory(live.factory))
		require.NoError(t, err)

		_, err = p.Provision(context.Background())
		require.ErrorIs(t, err, letsencrypt.ErrChallengeRejected)
		assert.Zero(t, srv.Stats().Finalizations)

		assertCleanedUp(t, live)
	})

	t.Run("occupied challenge port", func(t *testing.T) {
		t.Parallel()
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		t.Cleanup(func() { _ = ln.Close() })

		srv := acmetest.NewServer(t, acmetest.Options{})
		cfg := e2eConfig(srv)
		cfg.ChallengeAddr = ln.Addr().String()
		cfg.ChallengeDir = t.TempDir()

		p, err := letsencrypt.NewProvisioner(cfg)
		require.NoError(t, err)

		_, err = p.Provision(context.Background())
		require.ErrorIs(t, err, letsencrypt.ErrListenerBindFailed)
		assert.Zero(t, srv.Stats().NewAccounts)
		assert.Zero(t, srv.Stats().Orders)

		entries, err := os.ReadDir(cfg.ChallengeDir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}
