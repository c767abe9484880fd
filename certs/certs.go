// Package certs turns PEM certificate material into TLS configurations for
// mutually authenticated connections.
package certs

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

var ErrNoCertificates = errors.New("no certificates found in CA bundle")

// Material is a certificate with its key plus the CA pool used to verify
// the peer.
type Material struct {
	Certificate tls.Certificate
	CAPool      *x509.CertPool
}

// cipherSuites restricts TLS 1.2 to forward-secret AEAD suites. TLS 1.3
// suites are not configurable.
var cipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
}

func LoadFiles(certFile string, keyFile string, caFile string) (*Material, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA bundle: %w", err)
	}

	return FromPEM(certPEM, keyPEM, caPEM)
}

func FromPEM(certPEM []byte, keyPEM []byte, caPEM []byte) (*Material, error) {
	certificate, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse key pair: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, ErrNoCertificates
	}

	return &Material{Certificate: certificate, CAPool: pool}, nil
}

// ServerConfig always presents the server certificate and requires a client
// certificate signed by the CA.
func ServerConfig(m *Material) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{m.Certificate},
		ClientCAs:    m.CAPool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS12,
		CipherSuites: cipherSuites,
	}
}

func ClientConfig(m *Material, serverName string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{m.Certificate},
		RootCAs:      m.CAPool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
		CipherSuites: cipherSuites,
	}
}
