package loader

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// ErrChecksumMismatch reports model bytes that do not match the expected digest.
var ErrChecksumMismatch = errors.New("model checksum mismatch")

// Checksum returns the hex SHA-256 digest of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// verifyChecksum compares data against want. An empty want accepts anything.
func verifyChecksum(data []byte, want string) error {
	if want == "" {
		return nil
	}
	if got := Checksum(data); !strings.EqualFold(got, want) {
		return errors.Wrapf(ErrChecksumMismatch, "got sha256 %s, want %s", got, want)
	}
	return nil
}
