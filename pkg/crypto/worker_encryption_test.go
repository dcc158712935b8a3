package crypto

import "testing"

func TestTokenCipher_SealOpen(t *testing.T) {
	c, err := NewTokenCipher([]byte("short-key"))
	if err != nil {
		t.Fatalf("NewTokenCipher() error = %v", err)
	}

	sealed, err := c.Seal("ya29.token")
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if sealed == "ya29.token" || !IsSealed(sealed) {
		t.Fatalf("Seal() = %q, want ciphertext", sealed)
	}

	plain, err := c.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if plain != "ya29.token" {
		t.Errorf("Open() = %q, want ya29.token", plain)
	}
}

func TestTokenCipher_OpenOrPlain(t *testing.T) {
	c, _ := NewTokenCipher([]byte("0123456789abcdef0123456789abcdef"))
	other, _ := NewTokenCipher([]byte("another key"))
	sealed, _ := other.Seal("secret-refresh-token")

	tests := []struct {
		name   string
		cipher *TokenCipher
		in     string
		want   string
	}{
		{"legacy plaintext", c, "1//refresh", "1//refresh"},
		{"empty", c, "", ""},
		{"nil cipher", nil, "plain", "plain"},
		{"wrong key keeps value", c, sealed, sealed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cipher.OpenOrPlain(tt.in); got != tt.want {
				t.Errorf("OpenOrPlain() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewTokenCipher_EmptyKey(t *testing.T) {
	if _, err := NewTokenCipher(nil); err == nil {
		t.Error("NewTokenCipher(nil) succeeded, want error")
	}
}
