package password

import (
	"errors"
	"strings"
	"testing"
)

func cheapOptions(algorithm string) Options {
	return Options{
		Algorithm: algorithm,
		Argon2: Config{
			Memory:      8 * 1024,
			Time:        1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
		BcryptCost: 4,
	}
}

func TestMultiHashesWithPrimary(t *testing.T) {
	argon, err := New(cheapOptions(AlgorithmArgon2id))
	if err != nil {
		t.Fatalf("New(argon2id) failed: %v", err)
	}
	h, err := argon.Hash("Passw0rd!")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(h, "$argon2id$") {
		t.Fatalf("expected argon2id hash, got %s", h)
	}

	bc, err := New(cheapOptions(AlgorithmBcrypt))
	if err != nil {
		t.Fatalf("New(bcrypt) failed: %v", err)
	}
	h, err = bc.Hash("Passw0rd!")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !isBcryptHash(h) {
		t.Fatalf("expected bcrypt hash, got %s", h)
	}
}

func TestMultiVerifiesEitherEncoding(t *testing.T) {
	argon, err := New(cheapOptions(AlgorithmArgon2id))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	bc, err := New(cheapOptions(AlgorithmBcrypt))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	bcryptHash, err := bc.Hash("Passw0rd!")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	ok, err := argon.Verify("Passw0rd!", bcryptHash)
	if err != nil || !ok {
		t.Fatalf("argon2-primary Multi should verify bcrypt hashes: ok=%v err=%v", ok, err)
	}
	upgrade, err := argon.NeedsUpgrade(bcryptHash)
	if err != nil || !upgrade {
		t.Fatalf("bcrypt hash should need upgrade under argon2 primary: upgrade=%v err=%v", upgrade, err)
	}

	ok, err = argon.Verify("wrong", bcryptHash)
	if err != nil || ok {
		t.Fatalf("expected mismatch without error, ok=%v err=%v", ok, err)
	}
}

func TestMultiRejectsUnknownEncoding(t *testing.T) {
	m, err := New(cheapOptions(""))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := m.Verify("x", "$md5$abc"); !errors.Is(err, ErrUnsupportedHash) {
		t.Fatalf("expected ErrUnsupportedHash, got %v", err)
	}
	if _, err := New(cheapOptions("scrypt")); !errors.Is(err, ErrUnsupportedHash) {
		t.Fatalf("expected ErrUnsupportedHash for unknown algorithm, got %v", err)
	}
}

func TestBcryptEmptyAndCost(t *testing.T) {
	if _, err := NewBcrypt(99); err == nil {
		t.Fatal("expected out-of-range cost to fail")
	}
	b, err := NewBcrypt(0)
	if err != nil {
		t.Fatalf("NewBcrypt(0) failed: %v", err)
	}
	if b.cost != defaultBcryptCost {
		t.Fatalf("expected default cost %d, got %d", defaultBcryptCost, b.cost)
	}
	if _, err := b.Hash(""); !errors.Is(err, ErrEmptySecret) {
		t.Fatalf("expected ErrEmptySecret, got %v", err)
	}
}
