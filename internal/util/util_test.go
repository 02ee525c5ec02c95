package util

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"testing"
)

func TestAES(t *testing.T) {
	key, _ := RandomBytes(AESKeySize)
	plainText := []byte(`{"user":"alice"}`)
	aad := []byte("session-token-hash")

	t.Run("EncryptDecryptWithAAD", func(t *testing.T) {
		cipherText, err := EncryptAESWithAAD(plainText, key, aad)
		if err != nil {
			t.Fatalf("EncryptAESWithAAD failed: %v", err)
		}

		decrypted, err := DecryptAESWithAAD(cipherText, key, aad)
		if err != nil {
			t.Fatalf("DecryptAESWithAAD failed: %v", err)
		}

		if !bytes.Equal(plainText, decrypted) {
			t.Errorf("expected %s, got %s", plainText, decrypted)
		}
	})

	t.Run("TamperAAD", func(t *testing.T) {
		cipherText, _ := EncryptAESWithAAD(plainText, key, aad)
		_, err := DecryptAESWithAAD(cipherText, key, []byte("other session"))
		if err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("TamperCipherText", func(t *testing.T) {
		cipherText, _ := EncryptAESWithAAD(plainText, key, aad)
		cipherText[len(cipherText)-1] ^= 0xFF
		_, err := DecryptAESWithAAD(cipherText, key, aad)
		if err == nil {
			t.Error("expected error with tampered ciphertext, got nil")
		}
	})

	t.Run("RejectBadKeySize", func(t *testing.T) {
		_, err := EncryptAESWithAAD(plainText, []byte("too short"), aad)
		if err == nil {
			t.Error("expected error with wrong key size, got nil")
		}
	})

	t.Run("RejectShortCipherText", func(t *testing.T) {
		_, err := DecryptAESWithAAD([]byte{1, 2, 3}, key, aad)
		if err == nil {
			t.Error("expected error for truncated ciphertext, got nil")
		}
	})
}

func TestHKDF(t *testing.T) {
	seed := []byte("session secret")
	salt := []byte("salt")
	info := []byte("funstudy-session-store")

	key1, err := HKDF(seed, salt, info)
	if err != nil {
		t.Fatalf("HKDF failed: %v", err)
	}
	if len(key1) != HKDFKeyLength {
		t.Errorf("expected key length %d, got %d", HKDFKeyLength, len(key1))
	}

	key2, _ := HKDF(seed, salt, info)
	if !bytes.Equal(key1, key2) {
		t.Error("HKDF should be deterministic")
	}

	key3, _ := HKDF(seed, salt, []byte("different info"))
	if bytes.Equal(key1, key3) {
		t.Error("HKDF should produce different output with different info")
	}
}

func TestWipeBytes(t *testing.T) {
	b := []byte{1, 2, 3}
	WipeBytes(b)
	if !bytes.Equal(b, []byte{0, 0, 0}) {
		t.Errorf("expected zeroed slice, got %v", b)
	}
}

func TestEncoding(t *testing.T) {
	if got := Normalize("ｍａｔｈ"); got != "math" {
		t.Errorf("Normalize fullwidth: got %q", got)
	}
	if got := Normalize("café"); got != "café" {
		t.Errorf("Normalize combining accent: got %q", got)
	}

	digest := SHA256Hex("abc")
	if digest != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Errorf("unexpected SHA256Hex digest %s", digest)
	}
}

func TestRandom(t *testing.T) {
	t.Run("RandomBytes", func(t *testing.T) {
		b1, err := RandomBytes(32)
		if err != nil {
			t.Fatalf("RandomBytes failed: %v", err)
		}
		b2, err := RandomBytes(32)
		if err != nil {
			t.Fatalf("RandomBytes failed: %v", err)
		}
		if len(b1) != 32 {
			t.Errorf("expected 32 bytes, got %d", len(b1))
		}
		if bytes.Equal(b1, b2) {
			t.Error("RandomBytes should produce different outputs")
		}
	})

	t.Run("RandomHex", func(t *testing.T) {
		s, err := RandomHex(16)
		if err != nil {
			t.Fatalf("RandomHex failed: %v", err)
		}
		if len(s) != 32 {
			t.Errorf("expected 32 hex chars, got %d", len(s))
		}
		if _, err := hex.DecodeString(s); err != nil {
			t.Errorf("RandomHex output is not hex: %v", err)
		}
	})

	t.Run("RandomToken", func(t *testing.T) {
		s, err := RandomToken(32)
		if err != nil {
			t.Fatalf("RandomToken failed: %v", err)
		}
		raw, err := base64.RawURLEncoding.DecodeString(s)
		if err != nil {
			t.Fatalf("RandomToken output is not base64url: %v", err)
		}
		if len(raw) != 32 {
			t.Errorf("expected 32 bytes, got %d", len(raw))
		}
	})
}
