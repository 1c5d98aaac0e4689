// Package neotx builds, hashes and signs Neo N3 transactions without a node
// SDK: verification scripts, NEP-17 transfer scripts and the wire format are
// assembled byte by byte.
package neotx

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"golang.org/x/crypto/ripemd160"
)

// AddressVersion is the Neo N3 address prefix (addresses start with "N").
const AddressVersion = 0x35

var (
	ErrBadHash160 = errors.New("neotx: hash160 must be 0x-prefixed 40 hex chars")
	ErrBadAddress = errors.New("neotx: not a Neo N3 address")
)

// Uint160 is a contract or account script hash in storage order, the exact
// RIPEMD160 output. The familiar 0x-prefixed display form is byte-reversed.
type Uint160 [20]byte

// ScriptHash hashes a verification or invocation script: RIPEMD160(SHA256(s)).
func ScriptHash(script []byte) Uint160 {
	sha := sha256.Sum256(script)
	rip := ripemd160.New()
	_, _ = rip.Write(sha[:])
	var u Uint160
	copy(u[:], rip.Sum(nil))
	return u
}

// ParseHash160 parses the display form ("0x" + 40 hex) into storage order.
func ParseHash160(s string) (Uint160, error) {
	var u Uint160
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 20 {
		return u, ErrBadHash160
	}
	for i := range raw {
		u[19-i] = raw[i]
	}
	return u, nil
}

// Hex renders the display form used by RPC nodes and explorers.
func (u Uint160) Hex() string {
	rev := make([]byte, 20)
	for i := range u {
		rev[19-i] = u[i]
	}
	return "0x" + hex.EncodeToString(rev)
}

// Bytes returns the storage-order bytes used in scripts and serialization.
func (u Uint160) Bytes() []byte {
	b := make([]byte, 20)
	copy(b, u[:])
	return b
}

func (u Uint160) IsZero() bool { return u == Uint160{} }

// Address encodes the script hash as a Neo N3 address.
func (u Uint160) Address() string {
	return base58.CheckEncode(u[:], AddressVersion)
}

// ParseAddress decodes a Neo N3 address back to its script hash.
func ParseAddress(addr string) (Uint160, error) {
	var u Uint160
	raw, version, err := base58.CheckDecode(addr)
	if err != nil || version != AddressVersion || len(raw) != 20 {
		return u, ErrBadAddress
	}
	copy(u[:], raw)
	return u, nil
}

// ValidAddress reports whether addr parses as a Neo N3 address.
func ValidAddress(addr string) bool {
	_, err := ParseAddress(addr)
	return err == nil
}

// CompressPubKey serializes a P-256 public key in 33-byte compressed form.
func CompressPubKey(pub *ecdsa.PublicKey) []byte {
	compressed := make([]byte, 33)
	if pub.Y.Bit(0) == 0 {
		compressed[0] = 0x02
	} else {
		compressed[0] = 0x03
	}
	pub.X.FillBytes(compressed[1:])
	return compressed
}

// VerificationScript builds the single-signature witness script:
// PUSHDATA1 33 <pubkey> SYSCALL System.Crypto.CheckSig.
func VerificationScript(pubKey []byte) []byte {
	script := make([]byte, 0, 40)
	script = append(script, opPushData1, 0x21)
	script = append(script, pubKey...)
	script = append(script, opSyscall)
	script = append(script, syscallCheckSig[:]...)
	return script
}

// AccountFromPubKey derives the script hash of a single-sig account.
func AccountFromPubKey(pub *ecdsa.PublicKey) Uint160 {
	return ScriptHash(VerificationScript(CompressPubKey(pub)))
}

// AddressFromPubKey derives the Neo N3 address of a single-sig account.
func AddressFromPubKey(pub *ecdsa.PublicKey) string {
	return AccountFromPubKey(pub).Address()
}
