package certs

import (
	"crypto/x509"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leafOf(t *testing.T, s *Store) *x509.Certificate {
	t.Helper()
	cert, err := s.Certificate()
	require.NoError(t, err)
	require.Len(t, cert.Certificate, 1)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return leaf
}

func TestStore_GeneratesCertificate(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, "tollkeeper.lan", "192.168.1.10")

	leaf := leafOf(t, s)
	assert.Equal(t, "tollkeeper", leaf.Subject.Organization[0])
	assert.ElementsMatch(t, []string{"localhost", "tollkeeper.lan"}, leaf.DNSNames)
	require.Len(t, leaf.IPAddresses, 3)
	assert.True(t, leaf.IPAddresses[2].Equal(net.ParseIP("192.168.1.10")))
	assert.NoError(t, leaf.VerifyHostname("tollkeeper.lan"))
	assert.True(t, leaf.NotAfter.After(time.Now().Add(360*24*time.Hour)))

	certFile, keyFile := s.Files()
	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	_, err = os.Stat(certFile)
	assert.NoError(t, err)
}

func TestStore_ReusesValidCertificate(t *testing.T) {
	dir := t.TempDir()
	first := leafOf(t, NewStore(dir))
	second := leafOf(t, NewStore(dir))
	assert.Equal(t, first.SerialNumber, second.SerialNumber)
}

func TestStore_RegeneratesNearExpiry(t *testing.T) {
	dir := t.TempDir()
	first := leafOf(t, NewStore(dir))

	later := NewStore(dir)
	later.now = func() time.Time { return time.Now().Add(DefaultValidity - RenewBefore/2) }
	second := leafOf(t, later)
	assert.NotEqual(t, first.SerialNumber, second.SerialNumber)
}

func TestStore_RegeneratesForNewHost(t *testing.T) {
	dir := t.TempDir()
	first := leafOf(t, NewStore(dir))
	second := leafOf(t, NewStore(dir, "tollkeeper.lan"))

	assert.NotEqual(t, first.SerialNumber, second.SerialNumber)
	assert.Contains(t, second.DNSNames, "tollkeeper.lan")
}

func TestStore_ReplacesCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	certFile, keyFile := s.Files()
	require.NoError(t, os.WriteFile(certFile, []byte("not a certificate"), 0o600))
	require.NoError(t, os.WriteFile(keyFile, []byte("not a key"), 0o600))

	leaf := leafOf(t, s)
	assert.NoError(t, leaf.VerifyHostname("localhost"))
}

func TestNewStore_DeduplicatesHosts(t *testing.T) {
	s := NewStore(t.TempDir(), "localhost", "", "box", "box")
	assert.Equal(t, []string{"localhost", "127.0.0.1", "::1", "box"}, s.hosts)
}
