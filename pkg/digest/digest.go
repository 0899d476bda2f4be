// Package digest implements the Digest value from spec.md §3: an
// opaque string "sha256:<64 hex>" identifying blob bytes.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"regexp"
)

var pattern = regexp.MustCompile(`^sha256:[0-9a-f]{64}$`)

// Digest is a content digest in "sha256:<hex>" form.
type Digest string

// Valid reports whether d has the well-formed "sha256:<64 hex>" shape.
func (d Digest) Valid() bool {
	return pattern.MatchString(string(d))
}

// Hex returns the bare hex portion, without the "sha256:" prefix.
func (d Digest) Hex() string {
	const prefix = "sha256:"
	if len(d) > len(prefix) {
		return string(d)[len(prefix):]
	}
	return ""
}

// FromBytes computes the digest of b.
func FromBytes(b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest("sha256:" + hex.EncodeToString(sum[:]))
}

// Verifier wraps a hash.Hash that accumulates a sha256 sum while bytes
// are copied through it, used by the Downloader to verify on commit
// without buffering the whole blob in memory.
type Verifier struct {
	h hash.Hash
}

func NewVerifier() *Verifier {
	return &Verifier{h: sha256.New()}
}

func (v *Verifier) Write(p []byte) (int, error) { return v.h.Write(p) }

func (v *Verifier) Digest() Digest {
	return Digest("sha256:" + hex.EncodeToString(v.h.Sum(nil)))
}

// Verify streams r through a sha256 hasher and reports whether the
// result matches want.
func Verify(r io.Reader, want Digest) (bool, error) {
	v := NewVerifier()
	if _, err := io.Copy(v, r); err != nil {
		return false, fmt.Errorf("digest verify: %w", err)
	}
	return v.Digest() == want, nil
}
