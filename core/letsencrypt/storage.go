package letsencrypt

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/acme/autocert"

	"github.com/dmitrymomot/autotls/pkg/acme"
)

// Cache is the key/value backend shared by the account and certificate
// stores. autocert.DirCache, the Redis and the S3 integrations satisfy it.
// Implementations report missing keys with autocert.ErrCacheMiss.
type Cache = autocert.Cache

// ErrCacheMiss is returned by a Cache for unknown keys.
var ErrCacheMiss = autocert.ErrCacheMiss

// DirCache returns a file Cache rooted at dir.
func DirCache(dir string) Cache {
	return autocert.DirCache(dir)
}

const accountKeyPrefix = "acme_account+"

// StoredAccount is the persisted form of an ACME account.
type StoredAccount struct {
	Directory string   `json:"directory"`
	URL       string   `json:"url"`
	Contact   []string `json:"contact,omitempty"`
	KeyPEM    []byte   `json:"key"`
}

// AccountStore persists account credentials keyed by directory URL and contact email.
type AccountStore struct {
	cache Cache
}

// NewAccountStore creates an account store over cache.
func NewAccountStore(cache Cache) *AccountStore {
	return &AccountStore{cache: cache}
}

// Load returns the account stored for (directoryURL, email) or ErrAccountNotFound.
func (s *AccountStore) Load(ctx context.Context, directoryURL, email string) (*StoredAccount, error) {
	data, err := s.cache.Get(ctx, accountKey(directoryURL, email))
	if errors.Is(err, ErrCacheMiss) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}

	var acct StoredAccount
	if err := json.Unmarshal(data, &acct); err != nil {
		return nil, fmt.Errorf("failed to decode account: %w", err)
	}
	if len(acct.KeyPEM) == 0 {
		return nil, fmt.Errorf("%w: stored account has no key", ErrAccountNotFound)
	}
	return &acct, nil
}

// Save stores acct for (directoryURL, email).
func (s *AccountStore) Save(ctx context.Context, directoryURL, email string, acct *acme.Account) error {
	if acct == nil || len(acct.KeyPEM) == 0 {
		return fmt.Errorf("failed to save account: %w", acme.ErrInvalidKey)
	}

	data, err := json.Marshal(StoredAccount{
		Directory: directoryURL,
		URL:       acct.URL,
		Contact:   acct.Contact,
		KeyPEM:    acct.KeyPEM,
	})
	if err != nil {
		return fmt.Errorf("failed to encode account: %w", err)
	}

	if err := s.cache.Put(ctx, accountKey(directoryURL, email), data); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// Delete removes the account stored for (directoryURL, email).
func (s *AccountStore) Delete(ctx context.Context, directoryURL, email string) error {
	if err := s.cache.Delete(ctx, accountKey(directoryURL, email)); err != nil && !errors.Is(err, ErrCacheMiss) {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

func accountKey(directoryURL, email string) string {
	sum := sha256.Sum256([]byte(directoryURL + "\n" + strings.ToLower(email)))
	return accountKeyPrefix + hex.EncodeToString(sum[:8])
}

// CertificateStore archives issued certificates keyed by domain. Entries use
// the autocert layout: the private key PEM followed by the chain PEM.
type CertificateStore struct {
	cache Cache
}

// NewCertificateStore creates a certificate store over cache.
func NewCertificateStore(cache Cache) *CertificateStore {
	return &CertificateStore{cache: cache}
}

// Save archives cert under its domain.
func (s *CertificateStore) Save(ctx context.Context, cert *acme.Certificate) error {
	keyPEM, chainPEM, err := cert.PEM()
	if err != nil {
		return fmt.Errorf("failed to encode certificate for %s: %w", cert.Domain, err)
	}

	data := make([]byte, 0, len(keyPEM)+len(chainPEM))
	data = append(data, keyPEM...)
	data = append(data, chainPEM...)

	if err := s.cache.Put(ctx, cert.Domain, data); err != nil {
		return fmt.Errorf("failed to save certificate for %s: %w", cert.Domain, err)
	}
	return nil
}

// Load returns the archived certificate for domain or ErrCertificateNotFound.
func (s *CertificateStore) Load(ctx context.Context, domain string) (*acme.Certificate, error) {
	data, err := s.cache.Get(ctx, domain)
	if errors.Is(err, ErrCacheMiss) {
		return nil, ErrCertificateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate for %s: %w", domain, err)
	}

	keyPEM, chainPEM := splitPEM(data)
	cert, err := acme.ParsePEM(domain, keyPEM, chainPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to decode certificate for %s: %w", domain, err)
	}
	return cert, nil
}

// Delete removes the archived certificate for domain.
func (s *CertificateStore) Delete(ctx context.Context, domain string) error {
	if err := s.cache.Delete(ctx, domain); err != nil && !errors.Is(err, ErrCacheMiss) {
		return fmt.Errorf("failed to delete certificate for %s: %w", domain, err)
	}
	return nil
}

// splitPEM separates private key blocks from certificate blocks.
func splitPEM(data []byte) (keyPEM, chainPEM []byte) {
	var keyBuf, chainBuf bytes.Buffer
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if strings.Contains(block.Type, "PRIVATE KEY") {
			_ = pem.Encode(&keyBuf, block)
		} else if block.Type == "CERTIFICATE" {
			_ = pem.Encode(&chainBuf, block)
		}
	}
	return keyBuf.Bytes(), chainBuf.Bytes()
}

const (
	exportCertFile = "cert.pem"
	exportKeyFile  = "key.pem"
)

// Exporter writes the current certificate as cert.pem and key.pem for
// processes that load TLS material from disk.
type Exporter struct {
	dir string
}

// NewExporter creates the export directory if needed.
func NewExporter(dir string) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	return &Exporter{dir: dir}, nil
}

// Export replaces cert.pem and key.pem. Each file is swapped atomically;
// the key is written first so readers never pair a new chain with an old key
// for longer than one rename.
func (e *Exporter) Export(cert *acme.Certificate) error {
	keyPEM, chainPEM, err := cert.PEM()
	if err != nil {
		return fmt.Errorf("failed to encode certificate for %s: %w", cert.Domain, err)
	}
	if err := e.write(exportKeyFile, keyPEM, 0600); err != nil {
		return err
	}
	return e.write(exportCertFile, chainPEM, 0644)
}

// Load reads the exported certificate back.
func (e *Exporter) Load(domain string) (*acme.Certificate, error) {
	keyPEM, err := os.ReadFile(filepath.Join(e.dir, exportKeyFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCertificateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}

	chainPEM, err := os.ReadFile(filepath.Join(e.dir, exportCertFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrCertificateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}

	return acme.ParsePEM(domain, keyPEM, chainPEM)
}

// Dir returns the export directory path.
func (e *Exporter) Dir() string {
	return e.dir
}

func (e *Exporter) write(name string, data []byte, perm os.FileMode) error {
	path := filepath.Join(e.dir, name)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath) // Best effort cleanup
		return fmt.Errorf("failed to save %s: %w", name, err)
	}

	return nil
}
