package fakedevice

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
	"time"

	"github.com/pkg/errors"
	"github.com/rectcircle/bambusource/tools"
)

// NewCertificatePEM - self-signed certificate and its key, both PEM encoded in one blob
func NewCertificatePEM() ([]byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "generate key")
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, errors.Wrap(err, "generate serial")
	}
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "fakedevice"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, errors.Wrap(err, "create certificate")
	}
	keyDer, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, errors.Wrap(err, "marshal key")
	}
	blob := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	blob = append(blob, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDer})...)
	return blob, nil
}

// NewCertificate - fresh in-memory certificate
func NewCertificate() (tls.Certificate, error) {
	blob, err := NewCertificatePEM()
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.X509KeyPair(blob, blob)
}

// LoadOrCreateCertificate - read the PEM blob at path, generate it on first use
func LoadOrCreateCertificate(path string) (tls.Certificate, error) {
	blob, err := tools.ReadOrCreateFile(path, NewCertificatePEM)
	if err != nil {
		return tls.Certificate{}, errors.Wrapf(err, "certificate %s", path)
	}
	return tls.X509KeyPair(blob, blob)
}
