package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	minSecretBytes        = 8
	algorithmID           = "argon2id"
)

// Config holds the Argon2id cost parameters. Validated against floor
// values at construction; anything below the floor is refused outright.
type Config struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher derives and verifies PHC-encoded Argon2id hashes.
type Hasher struct {
	config Config
}

type parsedRecord struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
	keyLength   uint32
}

// NewHasher creates a Hasher after validating cost parameters.
func NewHasher(cfg Config) (*Hasher, error) {
	if cfg.Memory < minMemoryKB {
		return nil, errors.New("password: memory must be >= 8192 KB")
	}
	if cfg.Time < minTimeCost {
		return nil, errors.New("password: time cost must be >= 1")
	}
	if cfg.Parallelism < minParallelism {
		return nil, errors.New("password: parallelism must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return nil, errors.New("password: salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return nil, errors.New("password: key length must be >= 16")
	}

	return &Hasher{config: cfg}, nil
}

// Hash derives a fresh salted hash for secret and returns it in PHC
// string form, salt included.
func (h *Hasher) Hash(secret string) (string, error) {
	// Secret bytes are used exactly as provided, no Unicode normalization.
	if len(secret) < minSecretBytes {
		return "", errors.New("password: secret must be at least 8 bytes")
	}

	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(secret),
		salt,
		h.config.Time,
		h.config.Memory,
		h.config.Parallelism,
		h.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify re-derives the hash with the stored salt and parameters and
// compares in constant time. A mismatch returns (false, nil); only a
// malformed stored record returns an error.
func (h *Hasher) Verify(secret, encodedHash string) (bool, error) {
	parsed, err := parseRecord(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(secret),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		parsed.keyLength,
	)

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

func parseRecord(encodedHash string) (*parsedRecord, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("password: invalid PHC format")
	}
	if parts[1] != algorithmID {
		return nil, errors.New("password: unsupported algorithm")
	}

	if !strings.HasPrefix(parts[2], "v=") {
		return nil, errors.New("password: missing argon2 version")
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return nil, errors.New("password: unsupported argon2 version")
	}

	record := &parsedRecord{}
	if err := parseCostParams(parts[3], record); err != nil {
		return nil, err
	}

	record.salt, err = base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(record.salt) < int(minSaltLength) {
		return nil, errors.New("password: invalid salt")
	}

	record.hash, err = base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(record.hash) == 0 {
		return nil, errors.New("password: invalid hash")
	}
	record.keyLength = uint32(len(record.hash))

	return record, nil
}

func parseCostParams(part string, record *parsedRecord) error {
	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return errors.New("password: invalid parameter format")
	}

	var memorySet, timeSet, parallelismSet bool
	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return errors.New("password: invalid parameter entry")
		}

		switch kv[0] {
		case "m":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return errors.New("password: invalid memory parameter")
			}
			record.memory = uint32(v)
			memorySet = true
		case "t":
			v, err := strconv.ParseUint(kv[1], 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return errors.New("password: invalid time parameter")
			}
			record.time = uint32(v)
			timeSet = true
		case "p":
			v, err := strconv.ParseUint(kv[1], 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return errors.New("password: invalid parallelism parameter")
			}
			record.parallelism = uint8(v)
			parallelismSet = true
		default:
			return errors.New("password: unsupported parameter")
		}
	}

	if !memorySet || !timeSet || !parallelismSet {
		return errors.New("password: missing parameters")
	}
	return nil
}
