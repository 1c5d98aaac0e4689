package neotx

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"
)

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func TestBodyBytesLayout(t *testing.T) {
	var account Uint160
	for i := range account {
		account[i] = 0xAA
	}
	tx := &Transaction{
		Version:         0,
		Nonce:           0x01020304,
		SystemFee:       100,
		NetworkFee:      200,
		ValidUntilBlock: 1000,
		Signers:         []Signer{{Account: account, Scope: ScopeCalledByEntry}},
		Script:          []byte{0x51},
	}

	var want []byte
	want = append(want, 0x00)                   // version
	want = append(want, 0x04, 0x03, 0x02, 0x01) // nonce LE
	fee := make([]byte, 8)
	binary.LittleEndian.PutUint64(fee, 100)
	want = append(want, fee...)
	binary.LittleEndian.PutUint64(fee, 200)
	want = append(want, fee...)
	want = append(want, 0xE8, 0x03, 0x00, 0x00) // valid until block LE
	want = append(want, 0x01)                   // signer count
	want = append(want, account.Bytes()...)
	want = append(want, ScopeCalledByEntry)
	want = append(want, 0x00)       // attribute count
	want = append(want, 0x01, 0x51) // script
	if got := tx.BodyBytes(); !bytes.Equal(got, want) {
		t.Fatalf("BodyBytes:\n got %x\nwant %x", got, want)
	}
}

func TestHashAndID(t *testing.T) {
	tx := &Transaction{ValidUntilBlock: 1, Script: []byte{0x51}}
	sum := sha256.Sum256(tx.BodyBytes())
	if tx.Hash() != sum {
		t.Fatal("hash differs from sha256 of body")
	}
	rev := make([]byte, 32)
	for i := range sum {
		rev[31-i] = sum[i]
	}
	if tx.ID() != "0x"+hex.EncodeToString(rev) {
		t.Fatalf("ID = %s", tx.ID())
	}
}

func TestSignDataEmbedsMagic(t *testing.T) {
	tx := &Transaction{Script: []byte{0x51}}
	data := tx.SignData(0x11223344)
	if len(data) != 36 {
		t.Fatalf("sign data length = %d", len(data))
	}
	if binary.LittleEndian.Uint32(data[:4]) != 0x11223344 {
		t.Fatal("magic not little-endian at front")
	}
	h := tx.Hash()
	if !bytes.Equal(data[4:], h[:]) {
		t.Fatal("hash not appended")
	}
}

func TestSignProducesVerifiableWitness(t *testing.T) {
	key := testKey(t)
	account := AccountFromPubKey(&key.PublicKey)
	tx, err := New([]byte{0x51}, []Signer{{Account: account, Scope: ScopeCalledByEntry}}, 100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const magic = 894710606
	if err := tx.Sign(magic, key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(tx.Witnesses) != 1 {
		t.Fatalf("witness count = %d", len(tx.Witnesses))
	}

	w := tx.Witnesses[0]
	if len(w.Invocation) != 66 || w.Invocation[0] != 0x0C || w.Invocation[1] != 0x40 {
		t.Fatalf("invocation layout = %x…", w.Invocation[:2])
	}
	if !bytes.Equal(w.Verification, VerificationScript(CompressPubKey(&key.PublicKey))) {
		t.Fatal("verification script mismatch")
	}

	sig := w.Invocation[2:]
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	digest := sha256.Sum256(tx.SignData(magic))
	if !ecdsa.Verify(&key.PublicKey, digest[:], r, s) {
		t.Fatal("signature does not verify")
	}
}

func TestSignRejectsWrongKey(t *testing.T) {
	owner := testKey(t)
	imposter := testKey(t)
	tx, err := New([]byte{0x51}, []Signer{{Account: AccountFromPubKey(&owner.PublicKey)}}, 100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := tx.Sign(1, imposter); !errors.Is(err, ErrSignerMismatch) {
		t.Fatalf("Sign with wrong key: %v", err)
	}
	if err := tx.Sign(1); err == nil {
		t.Fatal("Sign with no keys accepted")
	}
}

func TestSponsorSignsFirst(t *testing.T) {
	sponsor := testKey(t)
	sender := testKey(t)
	signers := []Signer{
		{Account: AccountFromPubKey(&sponsor.PublicKey), Scope: ScopeNone},
		{Account: AccountFromPubKey(&sender.PublicKey), Scope: ScopeCalledByEntry},
	}
	tx, err := New([]byte{0x51}, signers, 100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := tx.Sign(1, sponsor, sender); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(tx.Witnesses) != 2 {
		t.Fatalf("witness count = %d", len(tx.Witnesses))
	}
	if !bytes.Equal(tx.Witnesses[0].Verification, VerificationScript(CompressPubKey(&sponsor.PublicKey))) {
		t.Fatal("sponsor witness is not first")
	}
}

func TestPlaceholderWitnesses(t *testing.T) {
	key := testKey(t)
	tx, err := New([]byte{0x51}, []Signer{{Account: AccountFromPubKey(&key.PublicKey)}}, 100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := tx.PlaceholderWitnesses(CompressPubKey(&key.PublicKey)); err != nil {
		t.Fatalf("PlaceholderWitnesses: %v", err)
	}
	if len(tx.Witnesses) != 1 || len(tx.Witnesses[0].Invocation) != 0 {
		t.Fatal("placeholder witness should have empty invocation")
	}
	if err := tx.PlaceholderWitnesses(); err == nil {
		t.Fatal("pubkey count mismatch accepted")
	}

	// The serialized size with a real signature only differs by the
	// invocation script, which fee calculation accounts for.
	unsigned := len(tx.Bytes())
	if err := tx.Sign(1, key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(tx.Bytes()) != unsigned+66 {
		t.Fatalf("signed size = %d, unsigned %d", len(tx.Bytes()), unsigned)
	}
}

func TestNewRandomizesNonce(t *testing.T) {
	seen := map[uint32]bool{}
	for i := 0; i < 8; i++ {
		tx, err := New([]byte{0x51}, nil, 1)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		seen[tx.Nonce] = true
	}
	if len(seen) < 2 {
		t.Fatal("nonces do not vary")
	}
}
