// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 gpgauth Contributors

// Package tls loads the CA bundles gpgauth trusts for HTTPS servers and
// generates throwaway certificates for local servers.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/oops"
)

// CA holds a certificate authority certificate and private key.
type CA struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
}

// ServerCert holds a server certificate and private key.
type ServerCert struct {
	Certificate *x509.Certificate
	PrivateKey  *ecdsa.PrivateKey
}

// GenerateCA creates a root CA named name, valid for one day.
func GenerateCA(name string) (*CA, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, oops.In("tls").Wrapf(err, "generate CA key")
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"gpgauth"},
			CommonName:   name,
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}

	certBytes, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, oops.In("tls").Wrapf(err, "create CA certificate")
	}
	cert, err := x509.ParseCertificate(certBytes)
	if err != nil {
		return nil, oops.In("tls").Wrapf(err, "parse CA certificate")
	}
	return &CA{Certificate: cert, PrivateKey: key}, nil
}

// GenerateServerCert creates a server certificate signed by ca for hosts. Each
// host is added as an IP SAN when it parses as an IP address and as a DNS SAN
// otherwise.
func GenerateServerCert(ca *CA, hosts ...string) (*ServerCert, error) {
	if len(hosts) == 0 {
		return nil, oops.In("tls").Errorf("at least one host is required")
	}
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, oops.In("tls").Wrapf(err, "generate server key")
	}
	serial, err := serialNumber()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"gpgauth"},
			CommonName:   hosts[0],
		},
		NotBefore:   time.Now().Add(-time.Minute),
		NotAfter:    time.Now().Add(24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	certBytes, err := x509.CreateCertificate(rand.Reader, template, ca.Certificate, &key.PublicKey, ca.PrivateKey)
	if err != nil {
		return nil, oops.In("tls").Wrapf(err, "create server certificate")
	}
	cert, err := x509.ParseCertificate(certBytes)
	if err != nil {
		return nil, oops.In("tls").Wrapf(err, "parse server certificate")
	}
	return &ServerCert{Certificate: cert, PrivateKey: key}, nil
}

// TLSCertificate returns c in the form a tls.Config serves.
func (c *ServerCert) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{c.Certificate.Raw},
		PrivateKey:  c.PrivateKey,
		Leaf:        c.Certificate,
	}
}

// SaveCertificate writes cert to path as PEM, creating parent directories.
func SaveCertificate(path string, cert *x509.Certificate) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return oops.In("tls").With("path", path).Wrapf(err, "create certificate directory")
	}
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	if err := os.WriteFile(filepath.Clean(path), data, 0o600); err != nil {
		return oops.In("tls").With("path", path).Wrapf(err, "write certificate")
	}
	return nil
}

// LoadCertPool reads a PEM bundle of CA certificates. The bundle must contain
// at least one certificate.
func LoadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, oops.In("tls").With("path", path).Wrapf(err, "read CA bundle")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, oops.In("tls").With("path", path).Errorf("no certificates found in CA bundle")
	}
	return pool, nil
}

// ClientConfig returns the TLS settings for talking to a server. An empty
// caFile keeps the system roots.
func ClientConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	pool, err := LoadCertPool(caFile)
	if err != nil {
		return nil, err
	}
	cfg.RootCAs = pool
	return cfg, nil
}

func serialNumber() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, oops.In("tls").Wrapf(err, "generate serial")
	}
	return serial, nil
}
