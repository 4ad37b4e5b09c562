// Package digest computes and verifies file content digests and manages
// sidecar digest files in the GNU coreutils checksum format.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"strings"
)

// Algorithm identifies a supported digest algorithm.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
	CRC32  Algorithm = "crc32" // not cryptographic; never used for trust decisions
)

// ErrUnsupportedAlgorithm is returned for algorithms this package does not implement.
var ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")

// ParseAlgorithm maps a user-supplied name to an Algorithm.
// Matching is case-insensitive and accepts "sha-1"-style spellings.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ReplaceAll(strings.ToLower(name), "-", "") {
	case "md5":
		return MD5, nil
	case "sha1":
		return SHA1, nil
	case "sha256":
		return SHA256, nil
	case "sha512":
		return SHA512, nil
	case "crc32":
		return CRC32, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
}

// HexLength returns the length of the lowercase hex digest for the algorithm,
// or 0 if the algorithm is unknown.
func (a Algorithm) HexLength() int {
	switch a {
	case MD5:
		return 32
	case SHA1:
		return 40
	case SHA256:
		return 64
	case SHA512:
		return 128
	case CRC32:
		return 8
	default:
		return 0
	}
}

// Extension returns the canonical sidecar file extension, without the dot.
func (a Algorithm) Extension() string { return string(a) }

func newHash(a Algorithm) (hash.Hash, error) {
	switch a {
	case MD5:
		return md5.New(), nil
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	case CRC32:
		return crc32.NewIEEE(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, a)
	}
}

// Compute streams the file at path through the given algorithm and returns
// the lowercase hex digest. The file is never loaded fully into memory.
func Compute(path string, alg Algorithm) (string, error) {
	h, err := newHash(alg)
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file for digest: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
