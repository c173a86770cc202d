package secrets

import (
	"os"
	"strings"
	"testing"

	"filippo.io/age"
)

func testIdentity(t *testing.T) *age.X25519Identity {
	t.Helper()
	path := KeyPath(t.TempDir())
	if err := GenerateIdentity(path); err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	id, err := LoadIdentity(path)
	if err != nil {
		t.Fatalf("LoadIdentity: %v", err)
	}
	return id
}

func TestGenerateIdentityCreatesKeyOnce(t *testing.T) {
	path := KeyPath(t.TempDir())

	if err := GenerateIdentity(path); err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("key permissions = %o", info.Mode().Perm())
	}

	first, _ := os.ReadFile(path)
	if err := GenerateIdentity(path); err != nil {
		t.Fatalf("second GenerateIdentity: %v", err)
	}
	second, _ := os.ReadFile(path)
	if string(first) != string(second) {
		t.Error("existing key was overwritten")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	id := testIdentity(t)

	for _, plain := range []string{"token-abc123", "", "value with spaces\nand newline"} {
		blob, err := Encrypt(plain, id.Recipient())
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plain, err)
		}
		if !IsEncrypted(blob) {
			t.Errorf("blob not recognized: %q", blob)
		}
		if plain != "" && strings.Contains(blob, plain) {
			t.Error("plaintext leaked into blob")
		}

		got, err := Decrypt(blob, id)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != plain {
			t.Errorf("round trip = %q, want %q", got, plain)
		}
	}
}

func TestDecryptRejectsPlaintext(t *testing.T) {
	id := testIdentity(t)
	if _, err := Decrypt("just a string", id); err == nil {
		t.Error("expected error for non-ENC input")
	}
}

func TestDecryptWrongIdentity(t *testing.T) {
	blob, err := Encrypt("secret", testIdentity(t).Recipient())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Decrypt(blob, testIdentity(t)); err == nil {
		t.Error("expected decrypt failure with a different identity")
	}
}

func TestIsEncrypted(t *testing.T) {
	cases := map[string]bool{
		"ENC[age:abcd]": true,
		"ENC[age:]":     true,
		"plain":         false,
		"ENC[age:abcd":  false,
		"[age:abcd]":    false,
	}
	for in, want := range cases {
		if got := IsEncrypted(in); got != want {
			t.Errorf("IsEncrypted(%q) = %v", in, got)
		}
	}
}
