package engine

import (
	"crypto/tls"
	"errors"
	"os"
	"path/filepath"

	"github.com/docker/go-connections/tlsconfig"
)

// Names of the PEM files expected in a certificate directory.
const (
	CAFileName   = "ca.pem"
	CertFileName = "cert.pem"
	KeyFileName  = "key.pem"
)

// TLSOptions describes where TLS material for a TCP endpoint comes from. The
// daemon certificate is always verified, against ca.pem when the certificate
// directory has one and the system roots otherwise, unless InsecureSkipVerify
// is set.
type TLSOptions struct {
	// CertPath is a directory holding cert.pem, key.pem and optionally ca.pem.
	CertPath string
	// Enabled turns on TLS for tcp:// and http:// hosts without a certificate
	// directory. https:// hosts and a CertPath enable it on their own.
	Enabled bool
	// InsecureSkipVerify accepts any daemon certificate.
	InsecureSkipVerify bool
}

// loadTLSConfig builds the client TLS configuration. An empty CertPath yields the
// default client configuration with the system roots.
func loadTLSConfig(opts TLSOptions) (*tls.Config, error) {
	if opts.CertPath == "" {
		config := tlsconfig.ClientDefault()
		config.InsecureSkipVerify = opts.InsecureSkipVerify
		return config, nil
	}

	info, err := os.Stat(opts.CertPath)
	if err != nil {
		return nil, &ConfigurationError{Setting: "certificate directory", Value: opts.CertPath, Err: err}
	}
	if !info.IsDir() {
		return nil, &ConfigurationError{Setting: "certificate directory", Value: opts.CertPath, Err: errors.New("not a directory")}
	}

	certFile := filepath.Join(opts.CertPath, CertFileName)
	keyFile := filepath.Join(opts.CertPath, KeyFileName)
	for _, file := range []string{certFile, keyFile} {
		if _, err := os.Stat(file); err != nil {
			return nil, &ConfigurationError{Setting: "TLS material", Value: file, Err: err}
		}
	}

	options := tlsconfig.Options{
		CertFile:           certFile,
		KeyFile:            keyFile,
		InsecureSkipVerify: opts.InsecureSkipVerify,
		ExclusiveRootPools: true,
	}

	caFile := filepath.Join(opts.CertPath, CAFileName)
	if _, err := os.Stat(caFile); err == nil {
		options.CAFile = caFile
	} else {
		options.ExclusiveRootPools = false
	}

	config, err := tlsconfig.Client(options)
	if err != nil {
		return nil, &ConfigurationError{Setting: "TLS material", Value: opts.CertPath, Err: err}
	}

	return config, nil
}
