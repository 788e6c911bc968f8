// Package hashing computes content digests for certificate artifacts.
// The digest is the anchor value written to the ledger at issuance time
// and recomputed at verification time.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// HexLength is the length of an unprefixed hex-encoded digest.
const HexLength = sha256.Size * 2

// DigestFile streams the file at path through SHA-256 and returns the
// unprefixed hex digest. The file is read in chunks; it is never loaded
// into memory whole.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()
	return DigestReader(f)
}

// DigestReader computes the hex digest of everything readable from r.
func DigestReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Normalize strips an optional 0x prefix and lowercases the digest so
// that values from different call sites compare equal.
func Normalize(digest string) string {
	digest = strings.TrimSpace(digest)
	digest = strings.TrimPrefix(digest, "0x")
	digest = strings.TrimPrefix(digest, "0X")
	return strings.ToLower(digest)
}

// Prefixed returns the digest in the 0x-prefixed form the ledger
// contract expects on the wire.
func Prefixed(digest string) string {
	return "0x" + Normalize(digest)
}

// Valid reports whether digest, with or without prefix, is a well-formed
// 256-bit hex value.
func Valid(digest string) bool {
	d := Normalize(digest)
	if len(d) != HexLength {
		return false
	}
	_, err := hex.DecodeString(d)
	return err == nil
}
