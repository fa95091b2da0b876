package devicecrypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"ncb-edge/internal/provisionerr"
)

func writeTestKey(t *testing.T) (string, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der := x509.MarshalPKCS1PrivateKey(key)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	path := filepath.Join(t.TempDir(), "EDGE-TEST_private_key.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	return path, key
}

func TestSignVerifyRoundTrip(t *testing.T) {
	path, key := writeTestKey(t)
	signer, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	msgs := []string{"a", "hello world", "SUCCESS", "{\"SSID\":\"HomeNet\"}"}
	for _, m := range msgs {
		sig, err := signer.Sign(m)
		if err != nil {
			t.Fatalf("Sign(%q) failed: %v", m, err)
		}
		ok, err := Verify(m, sig, &key.PublicKey)
		if err != nil {
			t.Fatalf("Verify(%q) errored: %v", m, err)
		}
		if !ok {
			t.Fatalf("Verify(%q) should succeed for a freshly signed message", m)
		}
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	path, key := writeTestKey(t)
	signer, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := signer.Sign("original")
	if err != nil {
		t.Fatal(err)
	}
	ok, err := Verify("tampered", sig, &key.PublicKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("verification must fail for a tampered message")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	path, key := writeTestKey(t)
	signer, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	ct, err := Encrypt(`{"SSID":"HomeNet","Password":"pw12345678","NCBIP":"192.168.1.50"}`, &key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := signer.Decrypt(ct)
	if err != nil {
		t.Fatal(err)
	}
	if pt != `{"SSID":"HomeNet","Password":"pw12345678","NCBIP":"192.168.1.50"}` {
		t.Fatalf("round trip mismatch: %s", pt)
	}
}

func TestLoadMissingKeyFileIsCryptoFailure(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.pem"))
	if !provisionerr.Is(err, provisionerr.CryptoFailure) {
		t.Fatalf("expected a CryptoFailure for missing key file, got %v", err)
	}
}

func TestDecryptMalformedCiphertextIsCryptoFailure(t *testing.T) {
	path, _ := writeTestKey(t)
	signer, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := signer.Decrypt("not-valid-base64!!"); !provisionerr.Is(err, provisionerr.CryptoFailure) {
		t.Fatalf("expected a CryptoFailure for malformed ciphertext, got %v", err)
	}
}
