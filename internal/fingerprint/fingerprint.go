// Package fingerprint provides BLAKE3 content fingerprints for source lines
// and raw file contents.
package fingerprint

import (
	"encoding/hex"
	"io"
	"strings"

	"lukechampine.com/blake3"
)

// Size is the number of hex characters in a line fingerprint.
const Size = 16

var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// Normalize converts every line-ending style to "\n" and trims surrounding
// whitespace.
func Normalize(text string) string {
	return strings.TrimSpace(lineEndings.Replace(text))
}

// Hash returns the truncated BLAKE3 fingerprint of the normalized text.
// Empty and whitespace-only input yields "", which never matches a real line.
func Hash(text string) string {
	normalized := Normalize(text)
	if normalized == "" {
		return ""
	}
	sum := blake3.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:Size]
}

// Equal reports whether two texts share a non-empty fingerprint.
func Equal(a, b string) bool {
	ha := Hash(a)
	return ha != "" && ha == Hash(b)
}

// Digest computes the full BLAKE3 digest of data as a hex string.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestReader streams r through BLAKE3 and returns the same hex digest
// Digest would return for its full contents.
func DigestReader(r io.Reader) (string, error) {
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
