package neotx

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"strings"
	"testing"
)

// gasHash is the well-known GAS contract hash in display form.
const gasHash = "0xd2a4cff31913016155e38e474a2c06d08be276cf"

func TestParseHash160Reversal(t *testing.T) {
	u, err := ParseHash160(gasHash)
	if err != nil {
		t.Fatalf("ParseHash160: %v", err)
	}
	raw := u.Bytes()
	if raw[0] != 0xCF || raw[19] != 0xD2 {
		t.Fatalf("storage order wrong: first=%#x last=%#x", raw[0], raw[19])
	}
	if u.Hex() != gasHash {
		t.Fatalf("Hex roundtrip = %s", u.Hex())
	}
}

func TestParseHash160Rejects(t *testing.T) {
	for _, s := range []string{"", "0x1234", "not-hex", "0x" + strings.Repeat("zz", 20)} {
		if _, err := ParseHash160(s); err == nil {
			t.Errorf("ParseHash160(%q) accepted", s)
		}
	}
}

func TestAddressRoundtrip(t *testing.T) {
	var u Uint160
	for i := range u {
		u[i] = byte(i + 1)
	}
	addr := u.Address()
	if !strings.HasPrefix(addr, "N") {
		t.Fatalf("address %q does not start with N", addr)
	}
	back, err := ParseAddress(addr)
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if back != u {
		t.Fatal("address did not round-trip")
	}
}

func TestValidAddressRejectsTampered(t *testing.T) {
	var u Uint160
	u[0] = 0x42
	addr := u.Address()

	last := byte('1')
	if addr[len(addr)-1] == '1' {
		last = '2'
	}
	tampered := addr[:len(addr)-1] + string(last)
	if ValidAddress(tampered) {
		t.Fatal("tampered address accepted")
	}
	if ValidAddress("") || ValidAddress("NotAnAddress") {
		t.Fatal("junk accepted")
	}
}

func TestVerificationScriptLayout(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pub := CompressPubKey(&key.PublicKey)
	script := VerificationScript(pub)

	if len(script) != 40 {
		t.Fatalf("script length = %d, want 40", len(script))
	}
	if script[0] != 0x0C || script[1] != 0x21 {
		t.Fatalf("script prefix = %x", script[:2])
	}
	if !bytes.Equal(script[2:35], pub) {
		t.Fatal("pubkey not embedded")
	}
	if !bytes.Equal(script[35:], []byte{0x41, 0x56, 0xE7, 0xB3, 0x27}) {
		t.Fatalf("script tail = %x, want CheckSig syscall", script[35:])
	}
}

func TestCompressPubKey(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pub := CompressPubKey(&key.PublicKey)
	if len(pub) != 33 {
		t.Fatalf("compressed length = %d", len(pub))
	}
	wantPrefix := byte(0x02)
	if key.PublicKey.Y.Bit(0) == 1 {
		wantPrefix = 0x03
	}
	if pub[0] != wantPrefix {
		t.Fatalf("prefix = %#x, want %#x", pub[0], wantPrefix)
	}
	x := make([]byte, 32)
	key.PublicKey.X.FillBytes(x)
	if !bytes.Equal(pub[1:], x) {
		t.Fatal("X coordinate not embedded")
	}
}

func TestAccountFromPubKeyDeterministic(t *testing.T) {
	k1, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	k2, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	if AccountFromPubKey(&k1.PublicKey) != AccountFromPubKey(&k1.PublicKey) {
		t.Fatal("account derivation is not deterministic")
	}
	if AccountFromPubKey(&k1.PublicKey) == AccountFromPubKey(&k2.PublicKey) {
		t.Fatal("distinct keys derived the same account")
	}
	if !ValidAddress(AddressFromPubKey(&k1.PublicKey)) {
		t.Fatal("derived address does not validate")
	}
}
