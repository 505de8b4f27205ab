package auth

import (
	"strings"
	"testing"
)

func TestHashAndVerifyToken(t *testing.T) {
	token, err := GenerateRandomToken(32)
	if err != nil {
		t.Fatalf("GenerateRandomToken: %v", err)
	}

	hash, err := HashToken(token)
	if err != nil {
		t.Fatalf("HashToken: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("unexpected hash format: %s", hash)
	}
	if strings.Contains(hash, token) {
		t.Fatal("hash contains the plaintext token")
	}

	ok, err := VerifyToken(token, hash)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if !ok {
		t.Fatal("correct token did not verify")
	}

	ok, err = VerifyToken("wrong-token", hash)
	if err != nil {
		t.Fatalf("VerifyToken wrong token: %v", err)
	}
	if ok {
		t.Fatal("wrong token verified")
	}
}

func TestHashTokenProducesUniqueSalts(t *testing.T) {
	first, err := HashToken("same-token")
	if err != nil {
		t.Fatalf("HashToken: %v", err)
	}
	second, err := HashToken("same-token")
	if err != nil {
		t.Fatalf("HashToken: %v", err)
	}
	if first == second {
		t.Fatal("two hashes of the same token are identical")
	}
}

func TestVerifyTokenMalformedHash(t *testing.T) {
	if _, err := VerifyToken("token", "not-a-hash"); err == nil {
		t.Fatal("expected error for malformed hash")
	}
}
