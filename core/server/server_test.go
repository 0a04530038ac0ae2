package server_test

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/autotls/core/server"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
}

func waitBound(t *testing.T, srv *server.Server, configured string) string {
	t.Helper()
	require.Eventually(t, func() bool {
		return srv.Addr() != configured
	}, 2*time.Second, 10*time.Millisecond)
	return srv.Addr()
}

func peerCertificate(t *testing.T, addr string) *tls.ConnectionState {
	t.Helper()
	client := &http.Client{
		Timeout: 2 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed test certificates
			DisableKeepAlives: true,
		},
	}
	res, err := client.Get("https://" + addr + "/")
	require.NoError(t, err)
	defer res.Body.Close()
	require.NotNil(t, res.TLS)
	return res.TLS
}

func TestServerSwapsCertificateWithoutRestart(t *testing.T) {
	t.Parallel()

	cell := server.NewTLSConfigCell()
	first := selfSigned(t, "first.test", time.Hour)
	cfg, err := server.NewTLSConfig(server.WithTLSKeyPair(first))
	require.NoError(t, err)
	require.NoError(t, cell.Store(cfg))

	srv := server.New("127.0.0.1:0", server.WithTLSConfigCell(cell), server.WithShutdownTimeout(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Start(ctx, okHandler()) }()
	addr := waitBound(t, srv, "127.0.0.1:0")
	defer func() { _ = srv.Stop() }()

	state := peerCertificate(t, addr)
	assert.Equal(t, "first.test", state.PeerCertificates[0].Subject.CommonName)

	second := selfSigned(t, "second.test", time.Hour)
	cfg, err = server.NewTLSConfig(server.WithTLSKeyPair(second))
	require.NoError(t, err)
	require.NoError(t, cell.Store(cfg))

	state = peerCertificate(t, addr)
	assert.Equal(t, "second.test", state.PeerCertificates[0].Subject.CommonName)
}

func TestServerBindFailure(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := server.New(ln.Addr().String())
	err = srv.Start(context.Background(), okHandler())
	assert.ErrorIs(t, err, server.ErrListenerBind)
}

func TestServerAlreadyRunning(t *testing.T) {
	t.Parallel()

	srv := server.New("127.0.0.1:0")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Start(ctx, okHandler()) }()
	waitBound(t, srv, "127.0.0.1:0")
	defer func() { _ = srv.Stop() }()

	assert.ErrorIs(t, srv.Start(ctx, okHandler()), server.ErrServerAlreadyRunning)
}

func TestServerRun(t *testing.T) {
	t.Parallel()

	srv := server.New("127.0.0.1:0", server.WithShutdownTimeout(time.Second))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, okHandler())() }()

	addr := waitBound(t, srv, "127.0.0.1:0")
	res, err := http.Get("http://" + addr + "/")
	require.NoError(t, err)
	_ = res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestServerStopWhenNotRunning(t *testing.T) {
	t.Parallel()
	srv := server.New(":0")
	assert.NoError(t, srv.Stop())
}

func TestServerOptions(t *testing.T) {
	t.Parallel()

	port := getFreePort(t)
	srv := server.New(net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		server.WithLogger(nil),
		server.WithReadTimeout(time.Second),
		server.WithWriteTimeout(time.Second),
		server.WithIdleTimeout(time.Second),
		server.WithMaxHeaderBytes(4096),
		server.WithShutdownTimeout(time.Second),
	)
	assert.NotNil(t, srv)
}
