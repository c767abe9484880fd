package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const bundleValidity = 365 * 24 * time.Hour

const (
	FileCA         = "ca.crt"
	FileServerCert = "server.crt"
	FileServerKey  = "server.key"
	FileClientCert = "client.crt"
	FileClientKey  = "client.key"
)

// Bundle is a throwaway CA with one server and one client certificate, in
// PEM form. It is meant for development and tests.
type Bundle struct {
	CAPEM         []byte
	ServerCertPEM []byte
	ServerKeyPEM  []byte
	ClientCertPEM []byte
	ClientKeyPEM  []byte
}

// GenerateBundle creates a CA and certificates valid for hosts, which may be
// DNS names or IP addresses.
func GenerateBundle(hosts []string) (*Bundle, error) {
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA key: %w", err)
	}
	caTemplate, err := newTemplate("linefinder-ca")
	if err != nil {
		return nil, err
	}
	caTemplate.IsCA = true
	caTemplate.BasicConstraintsValid = true
	caTemplate.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature

	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	bundle := &Bundle{CAPEM: encodePEM("CERTIFICATE", caDER)}

	serverTemplate, err := newTemplate("linefinder-server")
	if err != nil {
		return nil, err
	}
	serverTemplate.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			serverTemplate.IPAddresses = append(serverTemplate.IPAddresses, ip)
		} else {
			serverTemplate.DNSNames = append(serverTemplate.DNSNames, host)
		}
	}
	if bundle.ServerCertPEM, bundle.ServerKeyPEM, err = issue(serverTemplate, caCert, caKey); err != nil {
		return nil, err
	}

	clientTemplate, err := newTemplate("linefinder-client")
	if err != nil {
		return nil, err
	}
	clientTemplate.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	if bundle.ClientCertPEM, bundle.ClientKeyPEM, err = issue(clientTemplate, caCert, caKey); err != nil {
		return nil, err
	}

	return bundle, nil
}

func (b *Bundle) ServerMaterial() (*Material, error) {
	return FromPEM(b.ServerCertPEM, b.ServerKeyPEM, b.CAPEM)
}

func (b *Bundle) ClientMaterial() (*Material, error) {
	return FromPEM(b.ClientCertPEM, b.ClientKeyPEM, b.CAPEM)
}

// WriteFiles stores the bundle in dir using the File* names. Keys are
// written with owner-only permissions.
func (b *Bundle) WriteFiles(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create certificate directory: %w", err)
	}

	files := []struct {
		name string
		data []byte
		perm os.FileMode
	}{
		{FileCA, b.CAPEM, 0644},
		{FileServerCert, b.ServerCertPEM, 0644},
		{FileServerKey, b.ServerKeyPEM, 0600},
		{FileClientCert, b.ClientCertPEM, 0644},
		{FileClientKey, b.ClientKeyPEM, 0600},
	}
	for _, file := range files {
		if err := os.WriteFile(filepath.Join(dir, file.name), file.data, file.perm); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.name, err)
		}
	}

	return nil
}

func newTemplate(commonName string) (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	return &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName, Organization: []string{"linefinder"}},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(bundleValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}, nil
}

func issue(template *x509.Certificate, caCert *x509.Certificate, caKey *ecdsa.PrivateKey) ([]byte, []byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key for %s: %w", template.Subject.CommonName, err)
	}

	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate for %s: %w", template.Subject.CommonName, err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode key for %s: %w", template.Subject.CommonName, err)
	}

	return encodePEM("CERTIFICATE", der), encodePEM("EC PRIVATE KEY", keyDER), nil
}

func encodePEM(blockType string, der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
}
