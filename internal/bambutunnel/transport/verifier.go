package transport

import (
	"crypto/x509"

	"github.com/pkg/errors"
)

// Verifier - decides whether the certificate chain presented by the device is acceptable.
// It is the only trust decision made by the transport.
type Verifier interface {
	VerifyPeerCertificate(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error
}

// NoVerification - accepts any chain, any signature and any name.
// The devices serve a self-signed certificate on a private network.
type NoVerification struct{}

// VerifyPeerCertificate - always nil
func (NoVerification) VerifyPeerCertificate([][]byte, [][]*x509.Certificate) error {
	return nil
}

// ChainVerification - regular x509 chain and host name validation against Roots
type ChainVerification struct {
	// nil means the system pool
	Roots *x509.CertPool
	// empty skips the name check
	ServerName string
}

// VerifyPeerCertificate - verify the leaf against Roots, the other certs are intermediates
func (v ChainVerification) VerifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return errors.New("device presented no certificate")
	}
	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for i, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return errors.Wrapf(err, "parse certificate %d", i)
		}
		certs = append(certs, cert)
	}
	opts := x509.VerifyOptions{
		Roots:         v.Roots,
		DNSName:       v.ServerName,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range certs[1:] {
		opts.Intermediates.AddCert(cert)
	}
	_, err := certs[0].Verify(opts)
	return errors.Wrap(err, "verify device certificate")
}
