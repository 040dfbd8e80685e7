package security

import (
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func certWithExpiry(notAfter time.Time) *x509.Certificate {
	return &x509.Certificate{NotAfter: notAfter}
}

func newTestCA(t *testing.T) *CertAuthority {
	t.Helper()
	ca := NewCertAuthority()
	require.NoError(t, ca.Initialize())
	return ca
}

func TestSaveLoadCertToFile(t *testing.T) {
	ca := newTestCA(t)
	cert, err := ca.IssueServerCertificate(nil, []net.IP{})
	require.NoError(t, err)

	certDir := t.TempDir()
	require.NoError(t, SaveCertToFile(cert, certDir))

	require.FileExists(t, filepath.Join(certDir, "node.crt"))
	require.FileExists(t, filepath.Join(certDir, "node.key"))

	loaded, err := LoadCertFromFile(certDir)
	require.NoError(t, err)
	require.Equal(t, cert.Leaf.Subject.CommonName, loaded.Leaf.Subject.CommonName)
}

func TestSaveLoadCACertToFile(t *testing.T) {
	ca := newTestCA(t)
	certDir := t.TempDir()

	require.NoError(t, SaveCACertToFile(ca.GetRootCACert(), certDir))
	require.FileExists(t, filepath.Join(certDir, "ca.crt"))

	loaded, err := LoadCACertFromFile(certDir)
	require.NoError(t, err)
	require.True(t, loaded.Equal(ca.rootCert))
}

func TestCertExists(t *testing.T) {
	tmpDir := t.TempDir()
	require.False(t, CertExists(tmpDir))

	for _, name := range []string{"node.crt", "node.key", "ca.crt"} {
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, name), []byte("x"), 0600))
	}
	require.True(t, CertExists(tmpDir))

	require.NoError(t, os.Remove(filepath.Join(tmpDir, "node.key")))
	require.False(t, CertExists(tmpDir))
}

func TestCertNeedsRotation(t *testing.T) {
	cases := []struct {
		name     string
		notAfter time.Time
		want     bool
	}{
		{"expires in 1 day", time.Now().Add(24 * time.Hour), true},
		{"expires in 29 days", time.Now().Add(29 * 24 * time.Hour), true},
		{"expires in 31 days", time.Now().Add(31 * 24 * time.Hour), false},
		{"expires in 60 days", time.Now().Add(60 * 24 * time.Hour), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, CertNeedsRotation(certWithExpiry(c.notAfter)))
		})
	}
	require.True(t, CertNeedsRotation(nil))
}

func TestGetCertExpiry(t *testing.T) {
	expected := time.Now().Add(90 * 24 * time.Hour)
	cert := certWithExpiry(expected)
	require.True(t, GetCertExpiry(cert).Equal(expected))
	require.True(t, GetCertExpiry(nil).IsZero())
}

func TestGetCertTimeRemaining(t *testing.T) {
	expected := 45 * 24 * time.Hour
	cert := certWithExpiry(time.Now().Add(expected))
	require.InDelta(t, float64(expected), float64(GetCertTimeRemaining(cert)), float64(time.Second))
	require.Zero(t, GetCertTimeRemaining(nil))
}

func TestValidateCertChain(t *testing.T) {
	ca := newTestCA(t)
	cert, err := ca.IssueClientCertificate("test-client", "client")
	require.NoError(t, err)

	require.NoError(t, ValidateCertChain(cert.Leaf, ca.rootCert))
	require.Error(t, ValidateCertChain(nil, ca.rootCert))
	require.Error(t, ValidateCertChain(cert.Leaf, nil))
}

func TestGetCertInfo(t *testing.T) {
	ca := newTestCA(t)
	cert, err := ca.IssueClientCertificate("test-client", "client")
	require.NoError(t, err)

	info := GetCertInfo(cert.Leaf)
	require.Equal(t, "test-client", info["subject"])
	require.Equal(t, "rrockerd root CA", info["issuer"])
	require.Equal(t, false, info["is_ca"])

	nilInfo := GetCertInfo(nil)
	require.Contains(t, nilInfo, "error")
}

func TestRemoveCerts(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "node.crt"), []byte("cert"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "node.key"), []byte("key"), 0600))

	require.NoError(t, RemoveCerts(tmpDir))
	_, err := os.Stat(tmpDir)
	require.True(t, os.IsNotExist(err))
}
