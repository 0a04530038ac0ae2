// Package acmetest provides an in-process ACME authority for tests.
//
// The server implements the subset of RFC 8555 used by HTTP-01 issuance for a
// single identifier: directory, nonces, accounts, one order with one
// authorization, challenge validation, finalization and certificate download.
// Request signatures are not verified.
package acmetest

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

// Never keeps the challenge processing forever.
const Never = -1

// Options shape the authority's behaviour.
type Options struct {
	// Token of the http-01 challenge. Defaults to "abc123".
	Token string
	// ValidAfterPolls is the number of challenge polls after the trigger
	// before the challenge turns valid. Never keeps it processing.
	ValidAfterPolls int
	// RejectChallenge makes the challenge invalid on the first poll.
	RejectChallenge bool
	// OmitHTTP01 offers only a dns-01 challenge.
	OmitHTTP01 bool
	// FinalizePolls is the number of order polls after finalize before the
	// order turns valid. Zero makes the finalize response itself valid,
	// Never keeps the order processing.
	FinalizePolls int
	// LeafOnly serves the certificate without its issuer.
	LeafOnly bool
	// ProofBaseURL, when set, is called on trigger; the authority then fetches
	// ProofBaseURL()+"/.well-known/acme-challenge/<token>" and rejects the
	// challenge unless the body is the expected key authorization.
	ProofBaseURL func() string
}

// Stats counts the requests the authority has seen.
type Stats struct {
	NewAccounts     int
	Orders          int
	Triggers        int
	ChallengePolls  int
	Finalizations   int
	OrderPolls      int
	Downloads       int
	IdentifierType  string
	IdentifierValue string
	ProofSeen       string
}

// Server is a fake ACME authority.
type Server struct {
	*httptest.Server

	opts   Options
	caKey  *ecdsa.PrivateKey
	caCert *x509.Certificate

	mu        sync.Mutex
	nonce     int
	accounts  map[string]string // jwk thumbprint -> account URL
	thumbs    map[string]string // account URL -> jwk thumbprint
	stats     Stats
	chStatus  string
	chProblem string
	finalized bool
	leaf      []byte
}

// NewServer starts an authority and registers its shutdown with t.Cleanup.
func NewServer(t testing.TB, opts Options) *Server {
	t.Helper()
	if opts.Token == "" {
		opts.Token = "abc123"
	}

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("acmetest: ca key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "acmetest intermediate"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("acmetest: ca cert: %v", err)
	}
	caCert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("acmetest: parse ca: %v", err)
	}

	s := &Server{
		opts:     opts,
		caKey:    caKey,
		caCert:   caCert,
		accounts: make(map[string]string),
		thumbs:   make(map[string]string),
		chStatus: "pending",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/dir", s.directory)
	mux.HandleFunc("/nonce", s.newNonce)
	mux.HandleFunc("/acct", s.newAccount)
	mux.HandleFunc("/new-order", s.newOrder)
	mux.HandleFunc("/order/1", s.order)
	mux.HandleFunc("/authz/1", s.authorization)
	mux.HandleFunc("/chall/1", s.challenge)
	mux.HandleFunc("/chall/2", s.dnsChallenge)
	mux.HandleFunc("/finalize/1", s.finalize)
	mux.HandleFunc("/cert/1", s.certificate)
	mux.HandleFunc("/issuer.der", s.issuer)

	s.Server = httptest.NewServer(s.withNonce(mux))
	t.Cleanup(s.Close)
	return s
}

// DirectoryURL returns the directory endpoint.
func (s *Server) DirectoryURL() string { return s.URL + "/dir" }

// IssuerURL returns an endpoint serving the issuer certificate as DER.
func (s *Server) IssuerURL() string { return s.URL + "/issuer.der" }

// CACertificate returns the issuer of every certificate the server signs.
func (s *Server) CACertificate() *x509.Certificate { return s.caCert }

// Token returns the http-01 challenge token.
func (s *Server) Token() string { return s.opts.Token }

// Stats returns a snapshot of request counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// RegisterKey marks key as an existing account so onlyReturnExisting lookups succeed.
func (s *Server) RegisterKey(key crypto.PublicKey) (string, error) {
	thumb, err := thumbprint(&jose.JSONWebKey{Key: key})
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountFor(thumb), nil
}

func (s *Server) withNonce(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.nonce++
		n := s.nonce
		s.mu.Unlock()
		w.Header().Set("Replay-Nonce", "nonce-"+strconv.Itoa(n))
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) directory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"newNonce":   s.URL + "/nonce",
		"newAccount": s.URL + "/acct",
		"newOrder":   s.URL + "/new-order",
		"revokeCert": s.URL + "/revoke",
		"keyChange":  s.URL + "/key-change",
		"meta": map[string]any{
			"termsOfService": s.URL + "/tos",
		},
	})
}

func (s *Server) newNonce(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) newAccount(w http.ResponseWriter, r *http.Request) {
	msg, err := decodeJWS(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed", err.Error())
		return
	}
	if msg.protected.JWK == nil {
		writeProblem(w, http.StatusBadRequest, "malformed", "newAccount requires an embedded jwk")
		return
	}
	thumb, err := thumbprint(msg.protected.JWK)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "badPublicKey", err.Error())
		return
	}

	var req struct {
		Contact            []string `json:"contact"`
		OnlyReturnExisting bool     `json:"onlyReturnExisting"`
	}
	_ = json.Unmarshal(msg.payload, &req)

	s.mu.Lock()
	url, exists := s.accounts[thumb]
	if !exists && req.OnlyReturnExisting {
		s.mu.Unlock()
		writeProblem(w, http.StatusBadRequest, "accountDoesNotExist", "no account for this key")
		return
	}
	if !exists {
		url = s.accountFor(thumb)
		s.stats.NewAccounts++
	}
	s.mu.Unlock()

	w.Header().Set("Location", url)
	status := http.StatusCreated
	if exists {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{
		"status":  "valid",
		"contact": req.Contact,
		"orders":  url + "/orders",
	})
}

func (s *Server) accountFor(thumb string) string {
	if url, ok := s.accounts[thumb]; ok {
		return url
	}
	url := s.URL + "/acct/" + strconv.Itoa(len(s.accounts)+1)
	s.accounts[thumb] = url
	s.thumbs[url] = thumb
	return url
}

func (s *Server) newOrder(w http.ResponseWriter, r *http.Request) {
	msg, err := decodeJWS(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed", err.Error())
		return
	}
	var req struct {
		Identifiers []struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		} `json:"identifiers"`
	}
	if err := json.Unmarshal(msg.payload, &req); err != nil || len(req.Identifiers) != 1 {
		writeProblem(w, http.StatusBadRequest, "rejectedIdentifier", "exactly one identifier is supported")
		return
	}

	s.mu.Lock()
	s.stats.Orders++
	s.stats.IdentifierType = req.Identifiers[0].Type
	s.stats.IdentifierValue = req.Identifiers[0].Value
	body := s.orderBody()
	s.mu.Unlock()

	w.Header().Set("Location", s.URL+"/order/1")
	writeJSON(w, http.StatusCreated, body)
}

func (s *Server) order(w http.ResponseWriter, r *http.Request) {
	if _, err := decodeJWS(r); err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed", err.Error())
		return
	}
	s.mu.Lock()
	if s.finalized {
		s.stats.OrderPolls++
	}
	body := s.orderBody()
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, body)
}

// orderBody must be called with mu held.
func (s *Server) orderBody() map[string]any {
	status := "pending"
	switch {
	case s.finalized && s.opts.FinalizePolls != Never && s.stats.OrderPolls >= s.opts.FinalizePolls:
		status = "valid"
	case s.finalized:
		status = "processing"
	case s.chStatus == "valid":
		status = "ready"
	case s.chStatus == "invalid":
		status = "invalid"
	}

	body := map[string]any{
		"status": status,
		"identifiers": []map[string]string{{
			"type":  s.stats.IdentifierType,
			"value": s.stats.IdentifierValue,
		}},
		"authorizations": []string{s.URL + "/authz/1"},
		"finalize":       s.URL + "/finalize/1",
	}
	if status == "valid" {
		body["certificate"] = s.URL + "/cert/1"
	}
	if status == "invalid" {
		body["error"] = problem("unauthorized", s.chProblem)
	}
	return body
}

func (s *Server) authorization(w http.ResponseWriter, r *http.Request) {
	if _, err := decodeJWS(r); err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed", err.Error())
		return
	}

	s.mu.Lock()
	status := s.chStatus
	if status == "processing" {
		status = "pending"
	}
	challenges := []map[string]any{{
		"type":   "dns-01",
		"url":    s.URL + "/chall/2",
		"token":  "dns-token",
		"status": "pending",
	}}
	if !s.opts.OmitHTTP01 {
		challenges = append(challenges, s.challengeBody())
	}
	body := map[string]any{
		"status":     status,
		"expires":    time.Now().Add(7 * 24 * time.Hour).UTC().Format(time.RFC3339),
		"identifier": map[string]string{"type": s.stats.IdentifierType, "value": s.stats.IdentifierValue},
		"challenges": challenges,
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, body)
}

// challengeBody must be called with mu held.
func (s *Server) challengeBody() map[string]any {
	body := map[string]any{
		"type":   "http-01",
		"url":    s.URL + "/chall/1",
		"token":  s.opts.Token,
		"status": s.chStatus,
	}
	if s.chStatus == "invalid" {
		body["error"] = problem("unauthorized", s.chProblem)
	}
	return body
}

func (s *Server) challenge(w http.ResponseWriter, r *http.Request) {
	msg, err := decodeJWS(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed", err.Error())
		return
	}

	if msg.trigger {
		s.mu.Lock()
		s.stats.Triggers++
		thumb := s.thumbs[msg.protected.KID]
		s.mu.Unlock()

		status, detail := "processing", ""
		if s.opts.ProofBaseURL != nil {
			status, detail = s.checkProof(thumb)
		}

		s.mu.Lock()
		if s.chStatus != "valid" && s.chStatus != "invalid" {
			s.chStatus, s.chProblem = status, detail
			if status == "processing" && s.opts.ValidAfterPolls == 0 && !s.opts.RejectChallenge {
				s.chStatus = "valid"
			}
		}
		w.Header().Add("Link", "<"+s.URL+"/authz/1>;rel=\"up\"")
		body := s.challengeBody()
		s.mu.Unlock()

		writeJSON(w, http.StatusOK, body)
		return
	}

	s.mu.Lock()
	s.stats.ChallengePolls++
	if s.chStatus == "processing" {
		switch {
		case s.opts.RejectChallenge:
			s.chStatus, s.chProblem = "invalid", "proof did not match"
		case s.opts.ValidAfterPolls != Never && s.stats.ChallengePolls >= s.opts.ValidAfterPolls:
			s.chStatus = "valid"
		}
	}
	body := s.challengeBody()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) dnsChallenge(w http.ResponseWriter, _ *http.Request) {
	writeProblem(w, http.StatusBadRequest, "unsupportedIdentifier", "dns-01 is not served by acmetest")
}

func (s *Server) checkProof(thumb string) (string, string) {
	url := strings.TrimRight(s.opts.ProofBaseURL(), "/") + "/.well-known/acme-challenge/" + s.opts.Token
	res, err := http.Get(url) //nolint:gosec // test authority fetches from the test responder
	if err != nil {
		return "invalid", "fetch proof: " + err.Error()
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))

	s.mu.Lock()
	s.stats.ProofSeen = string(body)
	s.mu.Unlock()

	want := s.opts.Token + "." + thumb
	if res.StatusCode != http.StatusOK || string(body) != want {
		return "invalid", fmt.Sprintf("proof mismatch: status %d", res.StatusCode)
	}
	return "processing", ""
}

func (s *Server) finalize(w http.ResponseWriter, r *http.Request) {
	msg, err := decodeJWS(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed", err.Error())
		return
	}

	s.mu.Lock()
	ready := s.chStatus == "valid"
	s.mu.Unlock()
	if !ready {
		writeProblem(w, http.StatusForbidden, "orderNotReady", "order is not ready")
		return
	}

	var req struct {
		CSR string `json:"csr"`
	}
	if err := json.Unmarshal(msg.payload, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "badCSR", err.Error())
		return
	}
	der, err := base64.RawURLEncoding.DecodeString(req.CSR)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "badCSR", err.Error())
		return
	}
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil || csr.CheckSignature() != nil {
		writeProblem(w, http.StatusBadRequest, "badCSR", "invalid certificate request")
		return
	}

	leaf, err := s.sign(csr)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "serverInternal", err.Error())
		return
	}

	s.mu.Lock()
	s.stats.Finalizations++
	s.finalized = true
	s.leaf = leaf
	body := s.orderBody()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) sign(csr *x509.CertificateRequest) ([]byte, error) {
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: csr.Subject.CommonName},
		DNSNames:     csr.DNSNames,
		IPAddresses:  csr.IPAddresses,
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(90 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	return x509.CreateCertificate(rand.Reader, tmpl, s.caCert, csr.PublicKey, s.caKey)
}

func (s *Server) certificate(w http.ResponseWriter, r *http.Request) {
	if _, err := decodeJWS(r); err != nil {
		writeProblem(w, http.StatusBadRequest, "malformed", err.Error())
		return
	}

	s.mu.Lock()
	leaf := s.leaf
	s.stats.Downloads++
	s.mu.Unlock()
	if leaf == nil {
		writeProblem(w, http.StatusNotFound, "malformed", "no certificate issued")
		return
	}

	w.Header().Set("Content-Type", "application/pem-certificate-chain")
	w.WriteHeader(http.StatusOK)
	_ = pem.Encode(w, &pem.Block{Type: "CERTIFICATE", Bytes: leaf})
	if !s.opts.LeafOnly {
		_ = pem.Encode(w, &pem.Block{Type: "CERTIFICATE", Bytes: s.caCert.Raw})
	}
}

func (s *Server) issuer(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/pkix-cert")
	_, _ = w.Write(s.caCert.Raw)
}

type jwsMessage struct {
	protected struct {
		KID string           `json:"kid"`
		URL string           `json:"url"`
		JWK *jose.JSONWebKey `json:"jwk"`
	}
	payload []byte
	trigger bool
}

func decodeJWS(r *http.Request) (*jwsMessage, error) {
	if r.Method != http.MethodPost {
		return nil, fmt.Errorf("method %s not allowed", r.Method)
	}
	var raw struct {
		Protected string `json:"protected"`
		Payload   string `json:"payload"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode jws: %w", err)
	}

	msg := &jwsMessage{trigger: raw.Payload != ""}
	header, err := base64.RawURLEncoding.DecodeString(raw.Protected)
	if err != nil {
		return nil, fmt.Errorf("decode protected header: %w", err)
	}
	if err := json.Unmarshal(header, &msg.protected); err != nil {
		return nil, fmt.Errorf("parse protected header: %w", err)
	}
	if raw.Payload != "" {
		msg.payload, err = base64.RawURLEncoding.DecodeString(raw.Payload)
		if err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	return msg, nil
}

func thumbprint(jwk *jose.JSONWebKey) (string, error) {
	tp, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}

func problem(kind, detail string) map[string]any {
	return map[string]any{
		"type":   "urn:ietf:params:acme:error:" + kind,
		"detail": detail,
	}
}

func writeProblem(w http.ResponseWriter, status int, kind, detail string) {
	body := problem(kind, detail)
	body["status"] = status
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
