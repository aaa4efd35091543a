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

// PeerCert is the identity material assigned to a single cell or particle:
// an EC keypair, a certificate signed by the identity CA, and a
// permissions document signed by the permissions CA that grants the
// peer's published/subscribed topic rights.
type PeerCert struct {
	PeerName    string
	Key         *ecdsa.PrivateKey
	Cert        *x509.Certificate
	Permissions *PermissionsDocument
}

// PermissionsDocument grants a peer rights over a set of control-plane
// topics; it stands in for the permissions XML the Python original signs
// with its permissions CA (spec §4.3's "render a permissions XML granting
// the listed topic rights, sign with permissions CA").
type PermissionsDocument struct {
	PeerName         string
	PublishedTopics  []string
	SubscribedTopics []string
	Signature        []byte
}

const peerCertValidity = 2 * 365 * 24 * time.Hour

// AssertPeer creates an EC key and certificate for id, signed by the
// identity CA, and a permissions document for the given topic rights,
// signed by the permissions CA.
func (ca *CA) AssertPeer(peerName string, publishedTopics, subscribedTopics []string) (*PeerCert, error) {
	if ca.Identity == nil || ca.Permissions == nil {
		return nil, fmt.Errorf("keymaterial: CA not initialized")
	}

	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: generating peer key for %q: %w", peerName, err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("keymaterial: generating peer serial for %q: %w", peerName, err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: peerName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(peerCertValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyAgreement,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.Identity.Cert, &key.PublicKey, ca.Identity.Key)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: signing cert for %q: %w", peerName, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: parsing cert for %q: %w", peerName, err)
	}

	doc := &PermissionsDocument{
		PeerName:         peerName,
		PublishedTopics:  append([]string(nil), publishedTopics...),
		SubscribedTopics: append([]string(nil), subscribedTopics...),
	}
	sig, err := signPermissions(ca.Permissions.Key, doc)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: signing permissions for %q: %w", peerName, err)
	}
	doc.Signature = sig

	return &PeerCert{PeerName: peerName, Key: key, Cert: cert, Permissions: doc}, nil
}

// VerifyPermissions reports whether doc's signature was produced by ca's
// permissions authority over the topic lists it currently carries.
func (ca *CA) VerifyPermissions(doc *PermissionsDocument) error {
	unsigned := &PermissionsDocument{
		PeerName:         doc.PeerName,
		PublishedTopics:  doc.PublishedTopics,
		SubscribedTopics: doc.SubscribedTopics,
	}
	if !ecdsa.VerifyASN1(&ca.Permissions.Key.PublicKey, permissionsDigest(unsigned), doc.Signature) {
		return fmt.Errorf("keymaterial: permissions signature invalid for %q", doc.PeerName)
	}
	return nil
}
