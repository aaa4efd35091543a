package keymaterial

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Envelope is the output of EncryptFile: an ephemeral public key, the
// ciphertext, and an HMAC over the ciphertext, exactly the three fields
// spec §4.3 names: "{ciphertext, ephemeral_pubkey, hmac}".
type Envelope struct {
	EphemeralPublicKey []byte
	Ciphertext         []byte
	HMAC               []byte
}

const (
	hkdfInfoEncrypt = "uno/keymaterial/ecies-encrypt"
	hkdfInfoHMAC    = "uno/keymaterial/ecies-hmac"
)

// EncryptFile derives a one-time shared secret from a fresh ephemeral EC
// key and the recipient's certificate public key, uses it to key AES-CTR
// and an HMAC-SHA256 tag, and returns the resulting envelope. This is the
// ECIES-style hybrid scheme of spec §4.3; unlike the Python original
// (which hashes the raw ECDH secret with SHA-256 once and reuses it for
// both cipher and HMAC keys), it separates the two via HKDF, which is the
// standard-library-adjacent, idiomatic way Go code derives multiple keys
// from one ECDH secret.
func EncryptFile(recipient *x509.Certificate, plaintext []byte) (*Envelope, error) {
	recipientKey, ok := recipient.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("keymaterial: recipient certificate has no EC public key")
	}
	curve, err := recipientKey.Curve.ECDH()
	if err != nil {
		return nil, fmt.Errorf("keymaterial: unsupported curve: %w", err)
	}
	recipientECDH, err := recipientKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("keymaterial: converting recipient key: %w", err)
	}

	ephemeral, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: generating ephemeral key: %w", err)
	}
	shared, err := ephemeral.ECDH(recipientECDH)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: ECDH: %w", err)
	}

	encKey, hmacKey, err := deriveKeys(shared)
	if err != nil {
		return nil, err
	}

	ciphertext, err := streamXOR(encKey, plaintext)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(ciphertext)

	return &Envelope{
		EphemeralPublicKey: ephemeral.PublicKey().Bytes(),
		Ciphertext:         ciphertext,
		HMAC:               mac.Sum(nil),
	}, nil
}

// DecryptFile reverses EncryptFile using the recipient's private key,
// failing if the HMAC does not match (spec §4.3: "failing if HMAC
// mismatches").
func DecryptFile(recipientKey *ecdsa.PrivateKey, env *Envelope) ([]byte, error) {
	curve, err := recipientKey.Curve.ECDH()
	if err != nil {
		return nil, fmt.Errorf("keymaterial: unsupported curve: %w", err)
	}
	recipientECDH, err := recipientKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("keymaterial: converting recipient key: %w", err)
	}
	ephemeral, err := curve.NewPublicKey(env.EphemeralPublicKey)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: parsing ephemeral public key: %w", err)
	}
	shared, err := recipientECDH.ECDH(ephemeral)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: ECDH: %w", err)
	}

	encKey, hmacKey, err := deriveKeys(shared)
	if err != nil {
		return nil, err
	}

	mac := hmac.New(sha256.New, hmacKey)
	mac.Write(env.Ciphertext)
	if !hmac.Equal(mac.Sum(nil), env.HMAC) {
		return nil, fmt.Errorf("keymaterial: HMAC mismatch, ciphertext rejected")
	}

	return streamXOR(encKey, env.Ciphertext)
}

func deriveKeys(shared []byte) (encKey, hmacKey []byte, err error) {
	encKey = make([]byte, 32)
	if _, err = io.ReadFull(hkdf.New(sha256.New, shared, nil, []byte(hkdfInfoEncrypt)), encKey); err != nil {
		return nil, nil, fmt.Errorf("keymaterial: deriving encryption key: %w", err)
	}
	hmacKey = make([]byte, 32)
	if _, err = io.ReadFull(hkdf.New(sha256.New, shared, nil, []byte(hkdfInfoHMAC)), hmacKey); err != nil {
		return nil, nil, fmt.Errorf("keymaterial: deriving HMAC key: %w", err)
	}
	return encKey, hmacKey, nil
}

// streamXOR runs AES-CTR with a zero nonce, matching the original's use of
// a fixed (zero) IV: each envelope is keyed by a fresh ephemeral secret, so
// nonce reuse across messages never occurs despite the fixed IV.
func streamXOR(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keymaterial: creating cipher: %w", err)
	}
	var zeroIV [aes.BlockSize]byte
	stream := cipher.NewCTR(block, zeroIV[:])
	out := make([]byte, len(data))
	stream.XORKeyStream(out, data)
	return out, nil
}

// SignFile signs plaintext with a peer's identity key.
func SignFile(key *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	digest := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("keymaterial: signing: %w", err)
	}
	return sig, nil
}

// VerifySignature verifies a SignFile signature against signer's cert.
func VerifySignature(signer *x509.Certificate, data, signature []byte) error {
	pub, ok := signer.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("keymaterial: signer certificate has no EC public key")
	}
	digest := sha256.Sum256(data)
	if !ecdsa.VerifyASN1(pub, digest[:], signature) {
		return fmt.Errorf("keymaterial: signature verification failed")
	}
	return nil
}

func permissionsDigest(doc *PermissionsDocument) []byte {
	h := sha256.New()
	h.Write([]byte(doc.PeerName))
	h.Write([]byte{0})
	for _, t := range doc.PublishedTopics {
		h.Write([]byte(t))
		h.Write([]byte{0})
	}
	h.Write([]byte{0xff})
	for _, t := range doc.SubscribedTopics {
		h.Write([]byte(t))
		h.Write([]byte{0})
	}
	return h.Sum(nil)
}

func signPermissions(key *ecdsa.PrivateKey, doc *PermissionsDocument) ([]byte, error) {
	sig, err := ecdsa.SignASN1(rand.Reader, key, permissionsDigest(doc))
	if err != nil {
		return nil, fmt.Errorf("keymaterial: signing permissions: %w", err)
	}
	return sig, nil
}
