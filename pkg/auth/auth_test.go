package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

func selfSignedCert(t *testing.T, cn string, orgs []string) *x509.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn, Organization: orgs},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func ctxWithPeerCert(cert *x509.Certificate) context.Context {
	if cert == nil {
		p := &peer.Peer{AuthInfo: credentials.TLSInfo{State: tls.ConnectionState{}}}
		return peer.NewContext(context.Background(), p)
	}
	p := &peer.Peer{
		Addr: &net.IPAddr{},
		AuthInfo: credentials.TLSInfo{
			State: tls.ConnectionState{PeerCertificates: []*x509.Certificate{cert}},
		},
	}
	return peer.NewContext(context.Background(), p)
}

// TestAuthenticateAdmitsValidClientCert is testable property 2 (the
// admit half): a cert with O in {client, admin} and a non-empty CN is
// accepted and its fields attached.
func TestAuthenticateAdmitsValidClientCert(t *testing.T) {
	cert := selfSignedCert(t, "c1", []string{"client"})
	a, err := authenticate(ctxWithPeerCert(cert))
	require.NoError(t, err)
	assert.Equal(t, "c1", a.ID)
	assert.Equal(t, "client", a.Group)
	assert.False(t, a.IsAdmin())
}

func TestAuthenticateAdmitsAdminCert(t *testing.T) {
	cert := selfSignedCert(t, "a1", []string{"admin"})
	a, err := authenticate(ctxWithPeerCert(cert))
	require.NoError(t, err)
	assert.True(t, a.IsAdmin())
}

func TestAuthenticateMissingCerts(t *testing.T) {
	_, err := authenticate(context.Background())
	assertUnauthenticated(t, err, "Missing certs")
}

func TestAuthenticateNoCommonName(t *testing.T) {
	cert := selfSignedCert(t, "", []string{"client"})
	_, err := authenticate(ctxWithPeerCert(cert))
	assertUnauthenticated(t, err, "Cert doesn't contain common name")
}

func TestAuthenticateNoOrganization(t *testing.T) {
	cert := selfSignedCert(t, "c1", nil)
	_, err := authenticate(ctxWithPeerCert(cert))
	assertUnauthenticated(t, err, "Cert doesn't contain organization")
}

// TestAuthenticateRejectsUnknownOrganization is testable property 2
// (the reject half) and the boundary behavior "Valid cert,
// Organization not in allowlist".
func TestAuthenticateRejectsUnknownOrganization(t *testing.T) {
	cert := selfSignedCert(t, "c1", []string{"superadmin"})
	_, err := authenticate(ctxWithPeerCert(cert))
	assertUnauthenticated(t, err, "The organization of the provided cert is not valid")
}

func assertUnauthenticated(t *testing.T, err error, msg string) {
	t.Helper()
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Unauthenticated, st.Code())
	assert.Equal(t, msg, st.Message())
}
