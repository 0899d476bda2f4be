package digest

import (
	"strings"
	"testing"
)

func TestFromBytes(t *testing.T) {
	d := FromBytes([]byte("hello"))
	want := Digest("sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824")
	if d != want {
		t.Errorf("FromBytes(%q) = %s, want %s", "hello", d, want)
	}
	if !d.Valid() {
		t.Errorf("expected %s to be valid", d)
	}
}

func TestDigestValid(t *testing.T) {
	cases := []struct {
		name string
		d    Digest
		want bool
	}{
		{"well formed", FromBytes([]byte("x")), true},
		{"missing prefix", Digest(strings.Repeat("a", 64)), false},
		{"wrong length", Digest("sha256:abc"), false},
		{"empty", Digest(""), false},
		{"uppercase hex", Digest("sha256:" + strings.Repeat("A", 64)), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.d.Valid(); got != c.want {
				t.Errorf("Valid() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestHex(t *testing.T) {
	d := FromBytes([]byte("hello"))
	hex := d.Hex()
	if len(hex) != 64 {
		t.Errorf("Hex() length = %d, want 64", len(hex))
	}
	if Digest("sha256:"+hex) != d {
		t.Errorf("Hex() round-trip mismatch")
	}
}

func TestVerify(t *testing.T) {
	data := []byte("some blob content")
	d := FromBytes(data)

	ok, err := Verify(strings.NewReader(string(data)), d)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if !ok {
		t.Errorf("Verify should succeed for matching content")
	}

	ok, err = Verify(strings.NewReader("different content"), d)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if ok {
		t.Errorf("Verify should fail for mismatched content")
	}
}

func TestVerifierWrite(t *testing.T) {
	v := NewVerifier()
	v.Write([]byte("hel"))
	v.Write([]byte("lo"))
	if v.Digest() != FromBytes([]byte("hello")) {
		t.Errorf("incremental Write should match single-shot FromBytes")
	}
}
