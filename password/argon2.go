package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const algorithmID = "argon2id"

// Floors applied to both configuration and stored hashes.
const (
	minMemoryKB   uint32 = 8 * 1024
	minSaltLength        = 16
	minKeyLength  uint32 = 16
)

// ErrMalformedHash wraps every decoding failure of a stored argon2id hash.
var ErrMalformedHash = errors.New("argon2: malformed encoded hash")

// Config holds the Argon2id cost parameters.
type Config struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func (c Config) validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return fmt.Errorf("argon2: memory must be >= %d KiB", minMemoryKB)
	case c.Time == 0:
		return errors.New("argon2: time must be >= 1")
	case c.Parallelism == 0:
		return errors.New("argon2: parallelism must be >= 1")
	case c.SaltLength < minSaltLength:
		return fmt.Errorf("argon2: salt length must be >= %d", minSaltLength)
	case c.KeyLength < minKeyLength:
		return fmt.Errorf("argon2: key length must be >= %d", minKeyLength)
	}
	return nil
}

// phc is one decoded "$argon2id$v=19$m=..,t=..,p=..$salt$hash" string.
type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	sum         []byte
}

func (p phc) String() string {
	return "$" + strings.Join([]string{
		algorithmID,
		"v=" + strconv.Itoa(argon2.Version),
		fmt.Sprintf("m=%d,t=%d,p=%d", p.memory, p.time, p.parallelism),
		base64.StdEncoding.EncodeToString(p.salt),
		base64.StdEncoding.EncodeToString(p.sum),
	}, "$")
}

func derive(secret string, salt []byte, time, memory uint32, parallelism uint8, keyLen uint32) []byte {
	return argon2.IDKey([]byte(secret), salt, time, memory, parallelism, keyLen)
}

// Argon2 hashes secrets into PHC-encoded Argon2id strings.
type Argon2 struct {
	cfg Config
}

// NewArgon2 returns a hasher for cfg. Parameters below the package floors
// are rejected.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Argon2{cfg: cfg}, nil
}

// Hash encodes secret under a fresh salt. Only empty input is refused;
// password policy is enforced by the caller.
func (a *Argon2) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	salt := make([]byte, a.cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("argon2: generate salt: %w", err)
	}

	return phc{
		memory:      a.cfg.Memory,
		time:        a.cfg.Time,
		parallelism: a.cfg.Parallelism,
		salt:        salt,
		sum:         derive(secret, salt, a.cfg.Time, a.cfg.Memory, a.cfg.Parallelism, a.cfg.KeyLength),
	}.String(), nil
}

// Verify compares in constant time. A malformed hash is an error, a
// mismatch is not.
func (a *Argon2) Verify(secret, encodedHash string) (bool, error) {
	p, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := derive(secret, p.salt, p.time, p.memory, p.parallelism, uint32(len(p.sum)))
	return subtle.ConstantTimeCompare(computed, p.sum) == 1, nil
}

// NeedsUpgrade reports whether encodedHash is weaker than the current
// parameters or uses a different key length.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	p, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	weaker := p.memory < a.cfg.Memory ||
		p.time < a.cfg.Time ||
		p.parallelism < a.cfg.Parallelism
	return weaker || uint32(len(p.sum)) != a.cfg.KeyLength, nil
}

func parsePHC(encoded string) (phc, error) {
	// Leading "$" yields an empty first field.
	fields := strings.Split(encoded, "$")
	if len(fields) < 2 || fields[0] != "" || fields[1] == "" {
		return phc{}, ErrMalformedHash
	}
	// A foreign "$id$" prefix is another scheme, whatever its field count.
	if fields[1] != algorithmID {
		return phc{}, ErrUnsupportedHash
	}
	if len(fields) != 6 {
		return phc{}, ErrMalformedHash
	}

	version, ok := strings.CutPrefix(fields[2], "v=")
	if !ok {
		return phc{}, fmt.Errorf("%w: missing version", ErrMalformedHash)
	}
	if version != strconv.Itoa(argon2.Version) {
		return phc{}, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, version)
	}

	var p phc
	if err := p.parseParams(fields[3]); err != nil {
		return phc{}, err
	}

	var err error
	if p.salt, err = base64.StdEncoding.DecodeString(fields[4]); err != nil {
		return phc{}, fmt.Errorf("%w: decode salt: %v", ErrMalformedHash, err)
	}
	if len(p.salt) < minSaltLength {
		return phc{}, fmt.Errorf("%w: salt too short", ErrMalformedHash)
	}
	if p.sum, err = base64.StdEncoding.DecodeString(fields[5]); err != nil {
		return phc{}, fmt.Errorf("%w: decode hash: %v", ErrMalformedHash, err)
	}
	if len(p.sum) == 0 {
		return phc{}, fmt.Errorf("%w: empty hash", ErrMalformedHash)
	}
	return p, nil
}

// parseParams reads "m=..,t=..,p=.." in any order; each key exactly once.
func (p *phc) parseParams(segment string) error {
	entries := strings.Split(segment, ",")
	if len(entries) != 3 {
		return fmt.Errorf("%w: parameter count", ErrMalformedHash)
	}

	seen := make(map[string]bool, 3)
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || seen[key] {
			return fmt.Errorf("%w: parameter %q", ErrMalformedHash, entry)
		}
		seen[key] = true

		bits := 32
		if key == "p" {
			bits = 8
		}
		v, err := strconv.ParseUint(value, 10, bits)
		if err != nil || v == 0 {
			return fmt.Errorf("%w: parameter %q", ErrMalformedHash, entry)
		}

		switch key {
		case "m":
			if uint32(v) < minMemoryKB {
				return fmt.Errorf("%w: memory below floor", ErrMalformedHash)
			}
			p.memory = uint32(v)
		case "t":
			p.time = uint32(v)
		case "p":
			p.parallelism = uint8(v)
		default:
			return fmt.Errorf("%w: unknown parameter %q", ErrMalformedHash, key)
		}
	}
	return nil
}
