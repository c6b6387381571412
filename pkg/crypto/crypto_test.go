package crypto

import (
	"regexp"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	payload, err := EncryptString("key", `{"rc":"abc"}`)
	if err != nil {
		t.Fatalf("EncryptString returned error: %v", err)
	}
	plain, err := DecryptToString("key", payload)
	if err != nil {
		t.Fatalf("DecryptToString returned error: %v", err)
	}
	if plain != `{"rc":"abc"}` {
		t.Fatalf("unexpected plaintext %q", plain)
	}
	if _, err := DecryptToString("wrong", payload); err == nil {
		t.Fatal("expected failure with wrong key")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}
	if err := ComparePassword(hash, "correct horse"); err != nil {
		t.Fatalf("expected password to match: %v", err)
	}
	if err := ComparePassword(hash, "battery staple"); err == nil {
		t.Fatal("expected mismatch")
	}
}

func TestRandomTokenShape(t *testing.T) {
	token, err := RandomToken(16)
	if err != nil {
		t.Fatalf("RandomToken returned error: %v", err)
	}
	if !regexp.MustCompile(`^[0-9A-F]{8}(-[0-9A-F]{8}){3}$`).MatchString(token) {
		t.Fatalf("unexpected token shape %q", token)
	}
}
