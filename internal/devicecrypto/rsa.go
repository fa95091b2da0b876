// Package devicecrypto implements the RSA sign/verify/encrypt/decrypt
// façade pinned to the device's private key (§4.C). Grounded on
// slqrpdf's internal/certs/cert_manager.go (PEM-file loading idiom) and
// internal/crypto.go (categorical errors that never leak key material).
package devicecrypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"

	"ncb-edge/internal/provisionerr"
)

// Signer holds the device's pinned private key and exposes the sign,
// verify, encrypt and decrypt operations of §4.C.
type Signer struct {
	private *rsa.PrivateKey
}

// Load reads and parses the PEM-encoded private key at path. A missing
// or malformed file is a fatal startup condition per §7.
func Load(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, provisionerr.Wrap(provisionerr.CryptoFailure, "private key file missing", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, provisionerr.New(provisionerr.CryptoFailure, "malformed PEM in private key file")
	}

	key, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return nil, provisionerr.Wrap(provisionerr.CryptoFailure, "malformed private key", err)
	}

	return &Signer{private: key}, nil
}

func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, provisionerr.New(provisionerr.CryptoFailure, "private key is not RSA")
	}
	return rsaKey, nil
}

// ParsePublicKeyPEM parses a PEM-encoded RSA public key, as supplied
// out-of-band by a provisioning peer.
func ParsePublicKeyPEM(pemText string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, provisionerr.New(provisionerr.CryptoFailure, "malformed PEM public key")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, provisionerr.Wrap(provisionerr.CryptoFailure, "malformed public key", err)
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, provisionerr.New(provisionerr.CryptoFailure, "public key is not RSA")
	}
	return rsaKey, nil
}

// Sign returns the base64-encoded RSA-PSS signature of plaintext's
// SHA-256 digest, using the pinned private key.
func (s *Signer) Sign(plaintext string) (string, error) {
	digest := sha256.Sum256([]byte(plaintext))
	sig, err := rsa.SignPSS(rand.Reader, s.private, crypto.SHA256, digest[:], nil)
	if err != nil {
		return "", provisionerr.Wrap(provisionerr.CryptoFailure, "sign failed", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64-encoded RSA-PSS signature against plaintext
// using the supplied public key.
func Verify(plaintext, sigB64 string, pub *rsa.PublicKey) (bool, error) {
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, provisionerr.Wrap(provisionerr.CryptoFailure, "malformed signature base64", err)
	}
	digest := sha256.Sum256([]byte(plaintext))
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, nil); err != nil {
		return false, nil
	}
	return true, nil
}

// Decrypt decrypts a base64-encoded RSA-OAEP-SHA256 ciphertext using
// the pinned private key.
func (s *Signer) Decrypt(cipherB64 string) (string, error) {
	ct, err := base64.StdEncoding.DecodeString(cipherB64)
	if err != nil {
		return "", provisionerr.Wrap(provisionerr.CryptoFailure, "malformed ciphertext base64", err)
	}
	pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, s.private, ct, nil)
	if err != nil {
		return "", provisionerr.Wrap(provisionerr.CryptoFailure, "decrypt failed", err)
	}
	return string(pt), nil
}

// Encrypt encrypts plaintext with the supplied public key using
// RSA-OAEP-SHA256, returning base64.
func Encrypt(plaintext string, pub *rsa.PublicKey) (string, error) {
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, []byte(plaintext), nil)
	if err != nil {
		return "", provisionerr.Wrap(provisionerr.CryptoFailure, "encrypt failed", err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Public returns the public half of the pinned key pair, for tests and
// for any peer that needs it handed back in-process.
func (s *Signer) Public() *rsa.PublicKey {
	return &s.private.PublicKey
}
