package webserver

import (
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
	"go.uber.org/zap/zaptest"
)

// writeCert writes a self-signed pair for commonName into dir.
func writeCert(t *testing.T, dir, commonName string) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{commonName},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600))
	return certFile, keyFile
}

func commonName(t *testing.T, r *TLSReloader) string {
	t.Helper()
	cert, err := r.GetCertificate(nil)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	return leaf.Subject.CommonName
}

func TestTLSReloaderPicksUpRenewal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	certFile, keyFile := writeCert(t, dir, "one.test")

	r, err := NewTLSReloader(certFile, keyFile, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "one.test", commonName(t, r))

	changed, err := r.ReloadIfChanged()
	require.NoError(t, err)
	assert.False(t, changed)

	writeCert(t, dir, "two.test")
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(certFile, later, later))
	require.NoError(t, os.Chtimes(keyFile, later, later))

	changed, err = r.ReloadIfChanged()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "two.test", commonName(t, r))

	cfg := r.Config()
	assert.NotNil(t, cfg.GetCertificate)
}

func TestTLSReloaderRejectsMissingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := NewTLSReloader(filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem"), zaptest.NewLogger(t))
	assert.Error(t, err)
}
