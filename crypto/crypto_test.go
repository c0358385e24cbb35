package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewAESEncryptor(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid 32-byte key", base64.StdEncoding.EncodeToString(make([]byte, 32)), false},
		{"empty key", "", true},
		{"not base64", "!!!not-base64!!!", true},
		{"short key", base64.StdEncoding.EncodeToString(make([]byte, 16)), true},
		{"long key", base64.StdEncoding.EncodeToString(make([]byte, 64)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAESEncryptor(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewAESEncryptor() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := NewAESEncryptor(testKey(t))
	if err != nil {
		t.Fatalf("NewAESEncryptor: %v", err)
	}

	plaintexts := []string{
		"oauth-access-token-abc123",
		"r",
		strings.Repeat("x", 4096),
	}
	for _, pt := range plaintexts {
		ct, err := EncryptString(enc, pt)
		if err != nil {
			t.Fatalf("EncryptString(%q): %v", pt[:min(8, len(pt))], err)
		}
		if ct == pt {
			t.Fatal("ciphertext equals plaintext")
		}
		got, err := DecryptString(enc, ct)
		if err != nil {
			t.Fatalf("DecryptString: %v", err)
		}
		if got != pt {
			t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(pt))
		}
	}
}

func TestEncryptStringEmptyPassthrough(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	ct, err := EncryptString(enc, "")
	if err != nil || ct != "" {
		t.Errorf("EncryptString(\"\") = (%q, %v), want (\"\", nil)", ct, err)
	}
	pt, err := DecryptString(enc, "")
	if err != nil || pt != "" {
		t.Errorf("DecryptString(\"\") = (%q, %v), want (\"\", nil)", pt, err)
	}
}

func TestDecryptDetectsTampering(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	ct, err := enc.Encrypt([]byte("refresh-token-value"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	// Flip a bit in the ciphertext body (past the nonce)
	ct[len(ct)-1] ^= 0x01
	if _, err := enc.Decrypt(ct); err == nil {
		t.Error("Decrypt() accepted tampered ciphertext")
	}
}

func TestDecryptWrongKey(t *testing.T) {
	enc1, _ := NewAESEncryptor(testKey(t))
	enc2, _ := NewAESEncryptor(testKey(t))
	ct, err := EncryptString(enc1, "secret")
	if err != nil {
		t.Fatalf("EncryptString: %v", err)
	}
	if _, err := DecryptString(enc2, ct); err == nil {
		t.Error("DecryptString() succeeded with the wrong key")
	}
}

func TestDecryptTooShort(t *testing.T) {
	enc, _ := NewAESEncryptor(testKey(t))
	if _, err := enc.Decrypt([]byte{0x01, 0x02}); err == nil {
		t.Error("Decrypt() accepted truncated ciphertext")
	}
}
