// Package keymaterial implements the identity and permissions certificate
// authorities, per-peer key issuance, and the ECIES-style hybrid
// encrypt/sign scheme described in spec §4.3.
//
// The Python original shells out to gpg/openssl for all of this (see
// keys_gpg.py's grounding note in the repo's DESIGN.md); there is no
// GPG-wrapping library in this module's dependency pack, so the CA and
// ECIES halves are built on Go's own crypto/ecdsa and crypto/x509, which
// is the idiomatic Go equivalent of "maintain a CA and issue certs".
package keymaterial

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// Authority is a self-signed EC certificate authority used to sign either
// peer identity certs or permissions documents.
type Authority struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// CA holds the two independent authorities spec §4.3 requires: one that
// vouches for peer identity, one that vouches for topic permissions.
type CA struct {
	Identity    *Authority
	Permissions *Authority
}

func newAuthority(commonName string, notAfter time.Time) (*Authority, error) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: generating CA key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("keymaterial: generating CA serial: %w", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: self-signing CA %q: %w", commonName, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: parsing CA %q: %w", commonName, err)
	}
	return &Authority{Cert: cert, Key: key}, nil
}

// caValidity mirrors "long validity" from spec §4.3: these authorities
// live for the lifetime of a UVN, renewed only by an explicit rekey.
const caValidity = 10 * 365 * 24 * time.Hour

// Init materializes both CAs: identity (vouches for peer certs) and
// permissions (vouches for topic-access governance documents).
func Init(uvnName string) (*CA, error) {
	identity, err := newAuthority(uvnName+" Identity CA", time.Now().Add(caValidity))
	if err != nil {
		return nil, err
	}
	permissions, err := newAuthority(uvnName+" Permissions CA", time.Now().Add(caValidity))
	if err != nil {
		return nil, err
	}
	return &CA{Identity: identity, Permissions: permissions}, nil
}
