package security

import "testing"

func TestHashTokenStable(t *testing.T) {
	const token = "same-token"
	if HashToken(token) != HashToken(token) {
		t.Fatalf("HashToken should be deterministic")
	}
	if HashToken(token) == HashToken("another-token") {
		t.Fatalf("different tokens should have different hashes")
	}
}

func TestVerifyToken(t *testing.T) {
	hash := HashToken("secret")
	if !VerifyToken("secret", hash) {
		t.Fatalf("VerifyToken should accept the original token")
	}
	if VerifyToken("other", hash) {
		t.Fatalf("VerifyToken should reject a different token")
	}
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken(32)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	if len(a) != 64 {
		t.Fatalf("GenerateToken(32) length = %d, want 64 hex chars", len(a))
	}
	b, err := GenerateToken(0)
	if err != nil {
		t.Fatalf("GenerateToken(0) error = %v", err)
	}
	if a == b {
		t.Fatalf("tokens should be random")
	}
}
