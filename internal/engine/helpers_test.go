package engine_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ryanmoran/dockwire/internal/engine"
)

// newDaemon serves handler on a unix socket and returns its unix:// host.
func newDaemon(t *testing.T, handler http.Handler) string {
	t.Helper()

	dir, err := os.MkdirTemp("", "dw")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	socket := filepath.Join(dir, "d.sock")
	listener, err := net.Listen("unix", socket)
	require.NoError(t, err)

	server := httptest.NewUnstartedServer(handler)
	server.Listener.Close()
	server.Listener = listener
	server.Start()
	t.Cleanup(server.Close)

	return "unix://" + socket
}

func newClient(t *testing.T, host string) *engine.Client {
	t.Helper()

	client, err := engine.NewClient(engine.Options{
		Host:   host,
		Logger: quietLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Shutdown() })

	return client
}

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type keyFormat int

const (
	keyEC keyFormat = iota
	keyPKCS8
	keyPKCS1
)

// writeCertDir writes a self-signed certificate usable as CA, server and client
// certificate for 127.0.0.1 into a new directory, with the key in format.
func writeCertDir(t *testing.T, format keyFormat) string {
	t.Helper()

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: "dockwire-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}

	var (
		der      []byte
		keyBlock *pem.Block
	)
	switch format {
	case keyPKCS1:
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		der, err = x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
		require.NoError(t, err)
		keyBlock = &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	default:
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		der, err = x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
		require.NoError(t, err)
		if format == keyPKCS8 {
			encoded, err := x509.MarshalPKCS8PrivateKey(key)
			require.NoError(t, err)
			keyBlock = &pem.Block{Type: "PRIVATE KEY", Bytes: encoded}
		} else {
			encoded, err := x509.MarshalECPrivateKey(key)
			require.NoError(t, err)
			keyBlock = &pem.Block{Type: "EC PRIVATE KEY", Bytes: encoded}
		}
	}

	dir := t.TempDir()
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	require.NoError(t, os.WriteFile(filepath.Join(dir, engine.CertFileName), certPEM, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, engine.CAFileName), certPEM, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, engine.KeyFileName), pem.EncodeToMemory(keyBlock), 0o600))

	return dir
}

// chunkReader returns the next chunk on each Read, regardless of buffer size
// beyond what fits.
type chunkReader struct {
	chunks [][]byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for len(r.chunks) > 0 && len(r.chunks[0]) == 0 {
		r.chunks = r.chunks[1:]
	}
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}

	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	return n, nil
}
