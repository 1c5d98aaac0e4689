package vault

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

const (
	keyA = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	keyB = "202122232425262728292a2b2c2d2e2f303132333435363738393a3b3c3d3e3f"
)

func TestSealOpenRoundtrip(t *testing.T) {
	v, err := New(keyA, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	secret := []byte("thirty-two bytes of key material")
	envelope, err := v.Seal(secret)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if strings.Contains(envelope, string(secret)) {
		t.Fatal("envelope contains plaintext")
	}
	if !strings.HasPrefix(envelope, "v1:"+v.KeyID()+":") {
		t.Fatalf("envelope header = %s", envelope)
	}

	got, err := v.Open(envelope)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Fatal("roundtrip mismatch")
	}
}

func TestSealUsesFreshNonces(t *testing.T) {
	v, _ := New(keyA, nil)
	e1, _ := v.Seal([]byte("same"))
	e2, _ := v.Seal([]byte("same"))
	if e1 == e2 {
		t.Fatal("two seals of the same plaintext are identical")
	}
}

func TestOpenUnknownKeyID(t *testing.T) {
	v1, _ := New(keyA, nil)
	v2, _ := New(keyB, nil)

	envelope, _ := v1.Seal([]byte("secret"))
	_, err := v2.Open(envelope)
	if !errors.Is(err, ErrUnknownKeyID) {
		t.Fatalf("Open under wrong vault: %v", err)
	}
}

func TestRetiredKeyStillOpens(t *testing.T) {
	old, _ := New(keyA, nil)
	envelope, _ := old.Seal([]byte("sealed before rotation"))

	rotated, err := New(keyB, []string{keyA})
	if err != nil {
		t.Fatalf("New with retired: %v", err)
	}
	got, err := rotated.Open(envelope)
	if err != nil {
		t.Fatalf("Open retired: %v", err)
	}
	if string(got) != "sealed before rotation" {
		t.Fatal("retired decrypt mismatch")
	}

	// New envelopes seal under the current key, not the retired one.
	fresh, _ := rotated.Seal([]byte("x"))
	if !strings.HasPrefix(fresh, "v1:"+rotated.KeyID()+":") {
		t.Fatal("fresh envelope not under current key")
	}
}

func TestOpenTamperedCiphertext(t *testing.T) {
	v, _ := New(keyA, nil)
	envelope, _ := v.Seal([]byte("secret"))

	parts := strings.SplitN(envelope, ":", 3)
	raw, _ := base64.StdEncoding.DecodeString(parts[2])
	raw[len(raw)-1] ^= 0x01
	tampered := parts[0] + ":" + parts[1] + ":" + base64.StdEncoding.EncodeToString(raw)

	_, err := v.Open(tampered)
	if !errors.Is(err, ErrDecrypt) {
		t.Fatalf("Open tampered: %v", err)
	}
}

func TestOpenBadEnvelopes(t *testing.T) {
	v, _ := New(keyA, nil)
	for _, envelope := range []string{
		"",
		"garbage",
		"v2:aabbccdd:AAAA",
		"v1:" + v.KeyID() + ":!!!not-base64!!!",
		"v1:" + v.KeyID() + ":" + base64.StdEncoding.EncodeToString([]byte{0x01}),
	} {
		if _, err := v.Open(envelope); !errors.Is(err, ErrBadEnvelope) {
			t.Errorf("Open(%q) = %v, want ErrBadEnvelope", envelope, err)
		}
	}
}

func TestMasterKeyValidation(t *testing.T) {
	if _, err := New("", nil); !errors.Is(err, ErrNoMasterKey) {
		t.Fatalf("empty key: %v", err)
	}
	if _, err := New("abcd", nil); !errors.Is(err, ErrBadMasterKey) {
		t.Fatalf("short key: %v", err)
	}
	if _, err := New(strings.Repeat("zz", 32), nil); !errors.Is(err, ErrBadMasterKey) {
		t.Fatalf("non-hex key: %v", err)
	}
	if _, err := New(keyA, []string{"nope"}); !errors.Is(err, ErrBadMasterKey) {
		t.Fatalf("bad retired key: %v", err)
	}
}

func TestSigningKeyRoundtrip(t *testing.T) {
	key, err := NewSigningKey()
	if err != nil {
		t.Fatalf("NewSigningKey: %v", err)
	}
	raw := MarshalSigningKey(key)
	if len(raw) != 32 {
		t.Fatalf("marshalled length = %d", len(raw))
	}

	back, err := ParseSigningKey(raw)
	if err != nil {
		t.Fatalf("ParseSigningKey: %v", err)
	}
	if back.D.Cmp(key.D) != 0 {
		t.Fatal("scalar mismatch")
	}
	if back.X.Cmp(key.X) != 0 || back.Y.Cmp(key.Y) != 0 {
		t.Fatal("public point mismatch")
	}
}

func TestParseSigningKeyRejects(t *testing.T) {
	if _, err := ParseSigningKey([]byte{0x01}); err == nil {
		t.Fatal("short scalar accepted")
	}
	if _, err := ParseSigningKey(make([]byte, 32)); err == nil {
		t.Fatal("zero scalar accepted")
	}
	key, _ := NewSigningKey()
	over := key.Params().N.FillBytes(make([]byte, 32))
	if _, err := ParseSigningKey(over); err == nil {
		t.Fatal("out-of-range scalar accepted")
	}
}
