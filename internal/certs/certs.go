// Package certs keeps a self-signed TLS certificate for the HTTP API on disk.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"slices"
	"time"
)

const (
	// DefaultValidity is how long a generated certificate lasts.
	DefaultValidity = 365 * 24 * time.Hour
	// RenewBefore is how close to expiry a stored certificate gets replaced.
	RenewBefore = 30 * 24 * time.Hour
)

var errStale = errors.New("stored certificate is stale")

// Store loads the API certificate from dir, generating a new one when none is
// stored, it expires within RenewBefore, or it does not cover every host.
type Store struct {
	now      func() time.Time
	dir      string
	certFile string
	keyFile  string
	hosts    []string
	validity time.Duration
}

// NewStore creates a store for a certificate covering localhost plus hosts.
// Entries of hosts may be DNS names or IP addresses.
func NewStore(dir string, hosts ...string) *Store {
	all := []string{"localhost", "127.0.0.1", "::1"}
	for _, h := range hosts {
		if h != "" && !slices.Contains(all, h) {
			all = append(all, h)
		}
	}
	return &Store{
		now:      time.Now,
		dir:      dir,
		certFile: filepath.Join(dir, "tollkeeper.crt"),
		keyFile:  filepath.Join(dir, "tollkeeper.key"),
		hosts:    all,
		validity: DefaultValidity,
	}
}

// Files returns the certificate and key paths.
func (s *Store) Files() (string, string) {
	return s.certFile, s.keyFile
}

// Certificate returns a usable certificate, generating one if needed.
func (s *Store) Certificate() (tls.Certificate, error) {
	cert, err := s.load()
	if err == nil {
		return cert, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		slog.Info("Regenerating API certificate", "reason", err)
	}
	return s.generate()
}

func (s *Store) load() (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(s.certFile, s.keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: %w", errStale, err)
	}

	now := s.now()
	if now.Before(leaf.NotBefore) || now.Add(RenewBefore).After(leaf.NotAfter) {
		return tls.Certificate{}, fmt.Errorf("%w: valid %s - %s", errStale,
			leaf.NotBefore.Format(time.DateOnly), leaf.NotAfter.Format(time.DateOnly))
	}
	for _, h := range s.hosts {
		if err := leaf.VerifyHostname(h); err != nil {
			return tls.Certificate{}, fmt.Errorf("%w: %w", errStale, err)
		}
	}
	cert.Leaf = leaf
	return cert, nil
}

func (s *Store) generate() (tls.Certificate, error) {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate directory: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate private key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := s.now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"tollkeeper"}, CommonName: "tollkeeper API"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(s.validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	for _, h := range s.hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to encode private key: %w", err)
	}

	if err := writePEM(s.certFile, "CERTIFICATE", der); err != nil {
		return tls.Certificate{}, err
	}
	if err := writePEM(s.keyFile, "PRIVATE KEY", keyDER); err != nil {
		return tls.Certificate{}, err
	}
	slog.Info("Generated API certificate", "file", s.certFile, "hosts", s.hosts, "expires", template.NotAfter)

	return tls.LoadX509KeyPair(s.certFile, s.keyFile)
}

func writePEM(path, blockType string, der []byte) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
