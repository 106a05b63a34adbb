package application

import (
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

var cheapArgon2idParams = Argon2idParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func TestArgon2idRoundTrip(t *testing.T) {
	t.Parallel()

	hash, err := CreatePasswordHash("s3cret", cheapArgon2idParams)
	if err != nil {
		t.Fatalf("CreatePasswordHash returned error: %v", err)
	}
	if err := VerifyPassword(hash, "s3cret"); err != nil {
		t.Fatalf("expected password to verify, got %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	other, err := CreatePasswordHash("s3cret", cheapArgon2idParams)
	if err != nil {
		t.Fatalf("CreatePasswordHash returned error: %v", err)
	}
	if other == hash {
		t.Fatalf("expected a fresh salt per hash")
	}
}

func TestVerifyPasswordAcceptsBcrypt(t *testing.T) {
	t.Parallel()

	legacy, err := bcrypt.GenerateFromPassword([]byte("changeme"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	if err := VerifyPassword(string(legacy), "changeme"); err != nil {
		t.Fatalf("expected bcrypt hash to verify, got %v", err)
	}
	if err := VerifyPassword(string(legacy), "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifyPasswordRejectsMalformedHashes(t *testing.T) {
	t.Parallel()

	for _, hash := range []string{"", "plain", "$argon2i$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA", "$2b$04$short"} {
		if err := VerifyPassword(hash, "x"); err == nil {
			t.Fatalf("expected %q to be rejected", hash)
		}
	}
}
