package transport

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"time"

	"github.com/cockroachdb/errors"
)

// ALPN is the application protocol negotiated on every connection. Bump the
// version when the wire format changes; mismatched peers fail the handshake.
const ALPN = "rawkv/1"

// CertValidityPeriod is how long a self-signed certificate stays valid.
const CertValidityPeriod = 365 * 24 * time.Hour

// SelfSignedCert generates an Ed25519 certificate for the given host names
// and IP addresses. Intended for development servers; clients must dial with
// InsecureSkipVerify or trust the certificate explicitly.
func SelfSignedCert(hosts ...string) (tls.Certificate, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "transport: generating key")
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "transport: generating serial")
	}

	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "rawkv"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(CertValidityPeriod),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1", "::1"}
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "transport: creating certificate")
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "transport: parsing certificate")
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv, Leaf: leaf}, nil
}

// LoadCert reads a PEM certificate and key pair.
func LoadCert(certFile, keyFile string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, errors.Wrapf(err, "transport: loading %s", certFile)
	}
	return cert, nil
}

func serverTLS(cert tls.Certificate, base *tls.Config) *tls.Config {
	var conf *tls.Config
	if base != nil {
		conf = base.Clone()
	} else {
		conf = &tls.Config{}
	}
	conf.Certificates = []tls.Certificate{cert}
	conf.NextProtos = []string{ALPN}
	conf.MinVersion = tls.VersionTLS13
	return conf
}

func clientTLS(base *tls.Config, insecure bool) *tls.Config {
	var conf *tls.Config
	if base != nil {
		conf = base.Clone()
	} else {
		conf = &tls.Config{}
	}
	conf.NextProtos = []string{ALPN}
	conf.MinVersion = tls.VersionTLS13
	if insecure {
		conf.InsecureSkipVerify = true
	}
	return conf
}
