package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-acme/lego/v4/challenge/http01"
)

// ChallengeConfig configures a ChallengeResponder.
type ChallengeConfig struct {
	// Addr to bind, defaults to ":80".
	Addr string
	// Domain being validated. Used for logging only.
	Domain string
	// BaseDir holds the per-run directory, which contains the
	// acme-challenge directory proofs are served from.
	// Defaults to os.TempDir().
	BaseDir string
	// ReadHeaderTimeout for inbound validation requests.
	ReadHeaderTimeout time.Duration
	Logger            *slog.Logger
}

// ChallengeResponder serves HTTP-01 proofs from a directory that exists
// only for the lifetime of the responder.
type ChallengeResponder struct {
	domain string
	root   string
	dir    string
	addr   string
	srv    *http.Server
	logger *slog.Logger
	prefix string

	done     chan struct{}
	serveErr error

	stopOnce sync.Once
	stopErr  error
	mu       sync.RWMutex
	stopped  bool
}

// StartChallengeResponder creates the challenge directory and binds the
// listener before returning. A failure in either step leaves nothing behind.
func StartChallengeResponder(ctx context.Context, cfg ChallengeConfig) (*ChallengeResponder, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultChallengeAddr
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = DefaultChallengeReadHeaderTimeout
	}

	if cfg.BaseDir != "" {
		if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrChallengeDir, err)
		}
	}
	root, err := os.MkdirTemp(cfg.BaseDir, "acme-run-")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChallengeDir, err)
	}
	dir := filepath.Join(root, challengeDirName)
	if err := os.Mkdir(dir, 0o755); err != nil {
		_ = os.RemoveAll(root)
		return nil, fmt.Errorf("%w: %w", ErrChallengeDir, err)
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = os.RemoveAll(root)
		return nil, fmt.Errorf("%w: %s: %w", ErrListenerBind, cfg.Addr, err)
	}

	r := &ChallengeResponder{
		domain: cfg.Domain,
		root:   root,
		dir:    dir,
		addr:   ln.Addr().String(),
		logger: cfg.Logger,
		prefix: http01.ChallengePath(""),
		done:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.Handle(r.prefix, r)
	r.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	go func() {
		defer close(r.done)
		if err := r.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.serveErr = err
		}
	}()

	r.logger.InfoContext(ctx, "challenge responder started",
		"addr", r.addr,
		"domain", r.domain,
		"dir", r.dir,
	)

	return r, nil
}

// Addr returns the bound listener address.
func (r *ChallengeResponder) Addr() string { return r.addr }

// Dir returns the acme-challenge directory proofs are served from.
func (r *ChallengeResponder) Dir() string { return r.dir }

// WriteProof stores proof under token. The proof is visible to the
// handler once WriteProof returns.
func (r *ChallengeResponder) WriteProof(token string, proof []byte) error {
	if !validToken(token) {
		return fmt.Errorf("%w: %q", ErrInvalidToken, token)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return ErrResponderStopped
	}

	tmp, err := os.CreateTemp(r.dir, ".proof-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrChallengeDir, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(proof); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: write proof: %w", ErrChallengeDir, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: close proof: %w", ErrChallengeDir, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(r.dir, token)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: publish proof: %w", ErrChallengeDir, err)
	}

	r.logger.Debug("challenge proof written", "token", token)
	return nil
}

// Stop shuts the listener down, waits for the serve loop to exit and
// removes the per-run directory. Safe to call more than once.
func (r *ChallengeResponder) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		r.mu.Unlock()

		var errs []error
		if err := r.srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown challenge listener: %w", err))
			_ = r.srv.Close()
		}
		<-r.done
		if r.serveErr != nil {
			errs = append(errs, r.serveErr)
		}
		if err := os.RemoveAll(r.root); err != nil {
			errs = append(errs, fmt.Errorf("%w: remove: %w", ErrChallengeDir, err))
		}

		r.stopErr = errors.Join(errs...)
		r.logger.InfoContext(ctx, "challenge responder stopped", "addr", r.addr, "domain", r.domain)
	})
	return r.stopErr
}

// ServeHTTP answers GET and HEAD for tokens present in the challenge directory.
func (r *ChallengeResponder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	token := strings.TrimPrefix(req.URL.Path, r.prefix)
	if !validToken(token) {
		http.NotFound(w, req)
		return
	}

	proof, err := os.ReadFile(filepath.Join(r.dir, token))
	if err != nil {
		r.logger.Debug("unknown challenge token requested", "token", token, "remote_addr", req.RemoteAddr)
		http.NotFound(w, req)
		return
	}

	r.logger.Info("serving challenge proof", "token", token, "remote_addr", req.RemoteAddr)
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(proof)
}

// validToken accepts the base64url alphabet only, which rules out path traversal.
func validToken(token string) bool {
	if token == "" {
		return false
	}
	for _, c := range token {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
