package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrInvalidHash is returned for stored hashes that are not argon2id PHC strings.
	ErrInvalidHash = errors.New("malformed argon2id hash")
	// ErrIncompatibleVersion is returned for hashes made by another argon2 revision.
	ErrIncompatibleVersion = errors.New("unsupported argon2 version")
)

// Params are the argon2id cost settings. They are written into every hash,
// so changing them only affects keys issued afterwards.
type Params struct {
	Memory  uint32 // KiB
	Time    uint32
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

// DefaultParams follows the OWASP argon2id baseline (19 MiB, t=2, p=1).
// API keys carry 128 random bits, so the cost only has to slow down an
// attacker holding a dump of the keys table.
var DefaultParams = Params{
	Memory:  19 * 1024,
	Time:    2,
	Threads: 1,
	SaltLen: 16,
	KeyLen:  32,
}

var b64 = base64.RawStdEncoding

// phc is a decoded "$argon2id$v=19$m=..,t=..,p=..$salt$sum" string.
type phc struct {
	params Params
	salt   []byte
	sum    []byte
}

func (h phc) String() string {
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Time, h.params.Threads,
		b64.EncodeToString(h.salt), b64.EncodeToString(h.sum))
}

func parsePHC(encoded string) (phc, error) {
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != "argon2id" {
		return phc{}, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil {
		return phc{}, ErrInvalidHash
	}
	if version != argon2.Version {
		return phc{}, ErrIncompatibleVersion
	}

	var h phc
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d",
		&h.params.Memory, &h.params.Time, &h.params.Threads); err != nil {
		return phc{}, ErrInvalidHash
	}

	var err error
	if h.salt, err = b64.DecodeString(fields[4]); err != nil {
		return phc{}, ErrInvalidHash
	}
	if h.sum, err = b64.DecodeString(fields[5]); err != nil || len(h.sum) == 0 {
		return phc{}, ErrInvalidHash
	}
	h.params.SaltLen = uint32(len(h.salt))
	h.params.KeyLen = uint32(len(h.sum))
	return h, nil
}

func derive(secret string, salt []byte, p Params) []byte {
	return argon2.IDKey([]byte(secret), salt, p.Time, p.Memory, p.Threads, p.KeyLen)
}

// HashKeyWith hashes secret under p and returns the PHC encoding.
func HashKeyWith(secret string, p Params) (string, error) {
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	return phc{params: p, salt: salt, sum: derive(secret, salt, p)}.String(), nil
}

// HashKey hashes secret with DefaultParams.
func HashKey(secret string) (string, error) {
	return HashKeyWith(secret, DefaultParams)
}

// VerifyKey reports whether secret matches the stored hash, using the cost
// parameters recorded in the hash. A mismatch is not an error.
func VerifyKey(secret, encoded string) (bool, error) {
	h, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	sum := derive(secret, h.salt, h.params)
	return subtle.ConstantTimeCompare(sum, h.sum) == 1, nil
}

// CacheKey derives the auth cache key for a presented API key. It is
// deterministic and never stored next to the plaintext.
func CacheKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16])
}
