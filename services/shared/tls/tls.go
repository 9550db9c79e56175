// Package tls builds TLS configurations for the HTTP listener and for the
// outbound identity provider client.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Config holds TLS configuration options.
type Config struct {
	// CertFile is the path to the TLS certificate file.
	CertFile string `mapstructure:"cert_file"`
	// KeyFile is the path to the TLS private key file.
	KeyFile string `mapstructure:"key_file"`
	// CAFile is a PEM bundle of extra trusted roots.
	CAFile string `mapstructure:"ca_file"`
	// MinVersion is the minimum TLS version (default: TLS 1.2).
	MinVersion uint16 `mapstructure:"-"`
}

func (c Config) minVersion() uint16 {
	if c.MinVersion == 0 {
		return tls.VersionTLS12
	}
	return c.MinVersion
}

// ServerTLSConfig creates a tls.Config for the HTTP listener.
func ServerTLSConfig(cfg Config) (*tls.Config, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, fmt.Errorf("certificate and key files are required")
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   cfg.minVersion(),
		CipherSuites: preferredCipherSuites(),
	}, nil
}

// ClientTLSConfig creates a tls.Config for calls to the identity provider.
// CAFile is appended to the system roots, which is what a GitHub Enterprise
// install behind a private CA needs.
func ClientTLSConfig(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: cfg.minVersion(),
	}

	if cfg.CAFile == "" {
		return tlsConfig, nil
	}

	caCert, err := os.ReadFile(cfg.CAFile)
	if err != nil {
		return nil, fmt.Errorf("reading CA file: %w", err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = pool

	return tlsConfig, nil
}

func preferredCipherSuites() []uint16 {
	return []uint16{
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	}
}
