package password

import (
	"errors"
	"strings"
)

var (
	// ErrEmptySecret is returned when Hash is called with an empty input.
	ErrEmptySecret = errors.New("secret must not be empty")
	// ErrUnsupportedHash is returned when a stored hash uses an unknown scheme.
	ErrUnsupportedHash = errors.New("unsupported hash algorithm")
)

// Hasher is the one-way hash used for passwords and refresh-token digests.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret, encodedHash string) (bool, error)
}

// Upgrader is implemented by hashers that can tell when a stored hash
// should be replaced on the next successful login.
type Upgrader interface {
	NeedsUpgrade(encodedHash string) (bool, error)
}

// Algorithm names accepted by New.
const (
	AlgorithmArgon2id = "argon2id"
	AlgorithmBcrypt   = "bcrypt"
)

// Options selects and parameterizes the primary algorithm.
type Options struct {
	Algorithm  string
	Argon2     Config
	BcryptCost int
}

// Multi hashes with its primary algorithm and verifies any supported
// encoding, so switching algorithms never strands existing hashes.
type Multi struct {
	primary Hasher
	argon2  *Argon2
	bcrypt  *Bcrypt
}

// New builds a Multi from opts. Both algorithms are constructed so either
// hash format can be verified.
func New(opts Options) (*Multi, error) {
	a, err := NewArgon2(opts.Argon2)
	if err != nil {
		return nil, err
	}
	b, err := NewBcrypt(opts.BcryptCost)
	if err != nil {
		return nil, err
	}

	m := &Multi{argon2: a, bcrypt: b}
	switch opts.Algorithm {
	case "", AlgorithmArgon2id:
		m.primary = a
	case AlgorithmBcrypt:
		m.primary = b
	default:
		return nil, ErrUnsupportedHash
	}
	return m, nil
}

// Hash uses the primary algorithm.
func (m *Multi) Hash(secret string) (string, error) {
	return m.primary.Hash(secret)
}

// Verify dispatches on the hash prefix.
func (m *Multi) Verify(secret, encodedHash string) (bool, error) {
	switch {
	case strings.HasPrefix(encodedHash, "$"+algorithmID+"$"):
		return m.argon2.Verify(secret, encodedHash)
	case isBcryptHash(encodedHash):
		return m.bcrypt.Verify(secret, encodedHash)
	default:
		return false, ErrUnsupportedHash
	}
}

// NeedsUpgrade reports whether encodedHash should be re-hashed with the
// primary algorithm and its current parameters.
func (m *Multi) NeedsUpgrade(encodedHash string) (bool, error) {
	switch p := m.primary.(type) {
	case *Argon2:
		if !strings.HasPrefix(encodedHash, "$"+algorithmID+"$") {
			return true, nil
		}
		return p.NeedsUpgrade(encodedHash)
	case *Bcrypt:
		if !isBcryptHash(encodedHash) {
			return true, nil
		}
		return p.NeedsUpgrade(encodedHash)
	}
	return false, nil
}
