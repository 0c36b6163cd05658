package easyrsa

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCRL(t *testing.T, path string, nextUpdate time.Time) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	ca, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	crlDER, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: time.Now().Add(-2 * time.Hour),
		NextUpdate: nextUpdate,
	}, ca, key)
	require.NoError(t, err)
	raw := pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: crlDER})
	require.NoError(t, os.WriteFile(path, raw, 0644))
}

func TestReadRevocationList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crl.pem")
	writeCRL(t, path, time.Now().Add(time.Hour))

	revList, err := ReadRevocationList(path)
	require.NoError(t, err)
	assert.True(t, revList.NextUpdate.After(time.Now()))
}

func TestReadRevocationListGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crl.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a crl"), 0644))

	_, err := ReadRevocationList(path)
	assert.Error(t, err)
}

func TestEnsureFreshCRLKeepsValidCopy(t *testing.T) {
	certsDir := t.TempDir()
	writeCRL(t, filepath.Join(certsDir, "crl.pem"), time.Now().Add(time.Hour))

	// The served copy is still valid, so the tool must not be invoked at
	// all; a bogus binary path would fail otherwise.
	e := Easyrsa{BinPath: "/nonexistent/easyrsa", DirPath: t.TempDir(), CertsDir: certsDir}
	assert.NoError(t, e.EnsureFreshCRL(context.Background()))
}

func TestEnsureFreshCRLRebuildsExpiredCopy(t *testing.T) {
	certsDir := t.TempDir()
	writeCRL(t, filepath.Join(certsDir, "crl.pem"), time.Now().Add(-time.Hour))

	e := Easyrsa{BinPath: "/nonexistent/easyrsa", DirPath: t.TempDir(), CertsDir: certsDir}
	assert.Error(t, e.EnsureFreshCRL(context.Background()), "an expired copy forces a regeneration attempt")
}
