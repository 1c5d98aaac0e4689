package neotx

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// Witness scopes.
const (
	ScopeNone          = 0x00
	ScopeCalledByEntry = 0x01
)

var ErrSignerMismatch = errors.New("neotx: key does not match signer account")

// Signer is a transaction signer entry. The first signer pays the fees.
type Signer struct {
	Account Uint160
	Scope   byte
}

// Witness carries the signature script for one signer, in signer order.
type Witness struct {
	Invocation   []byte
	Verification []byte
}

// Transaction is a Neo N3 transaction. Fees are GAS base units.
type Transaction struct {
	Version         byte
	Nonce           uint32
	SystemFee       int64
	NetworkFee      int64
	ValidUntilBlock uint32
	Signers         []Signer
	Script          []byte
	Witnesses       []Witness
}

// New builds an unsigned transaction with a random nonce.
func New(script []byte, signers []Signer, validUntilBlock uint32) (*Transaction, error) {
	var nonce [4]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return &Transaction{
		Nonce:           binary.LittleEndian.Uint32(nonce[:]),
		ValidUntilBlock: validUntilBlock,
		Signers:         signers,
		Script:          script,
	}, nil
}

// BodyBytes serializes the fields covered by the transaction hash.
func (t *Transaction) BodyBytes() []byte {
	var buf bytes.Buffer
	buf.WriteByte(t.Version)
	writeUint32(&buf, t.Nonce)
	writeUint64(&buf, uint64(t.SystemFee))
	writeUint64(&buf, uint64(t.NetworkFee))
	writeUint32(&buf, t.ValidUntilBlock)
	writeVarInt(&buf, uint64(len(t.Signers)))
	for _, s := range t.Signers {
		buf.Write(s.Account.Bytes())
		buf.WriteByte(s.Scope)
	}
	writeVarInt(&buf, 0) // attributes
	writeVarBytes(&buf, t.Script)
	return buf.Bytes()
}

// Hash returns the transaction hash in storage order.
func (t *Transaction) Hash() [32]byte {
	return sha256.Sum256(t.BodyBytes())
}

// ID renders the display txid ("0x" + byte-reversed hash hex), the form
// nodes and explorers report.
func (t *Transaction) ID() string {
	h := t.Hash()
	rev := make([]byte, 32)
	for i := range h {
		rev[31-i] = h[i]
	}
	return "0x" + hex.EncodeToString(rev)
}

// SignData is the byte string signatures commit to: the network magic
// followed by the transaction hash.
func (t *Transaction) SignData(magic uint32) []byte {
	h := t.Hash()
	data := make([]byte, 4+32)
	binary.LittleEndian.PutUint32(data, magic)
	copy(data[4:], h[:])
	return data
}

// Sign appends one witness per key, in signer order. Each key must match the
// corresponding signer account or the whole call fails.
func (t *Transaction) Sign(magic uint32, keys ...*ecdsa.PrivateKey) error {
	if len(keys) != len(t.Signers) {
		return fmt.Errorf("neotx: %d keys for %d signers", len(keys), len(t.Signers))
	}
	digest := sha256.Sum256(t.SignData(magic))
	witnesses := make([]Witness, 0, len(keys))
	for i, key := range keys {
		if AccountFromPubKey(&key.PublicKey) != t.Signers[i].Account {
			return ErrSignerMismatch
		}
		sig, err := signDigest(key, digest[:])
		if err != nil {
			return err
		}
		witnesses = append(witnesses, Witness{
			Invocation:   invocationScript(sig),
			Verification: VerificationScript(CompressPubKey(&key.PublicKey)),
		})
	}
	t.Witnesses = witnesses
	return nil
}

// signDigest produces the 64-byte r||s signature Neo expects.
func signDigest(key *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(rand.Reader, key, digest)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig, nil
}

func invocationScript(sig []byte) []byte {
	var b ScriptBuilder
	b.PushData(sig)
	return b.Bytes()
}

// Bytes serializes the full transaction including witnesses.
func (t *Transaction) Bytes() []byte {
	var buf bytes.Buffer
	buf.Write(t.BodyBytes())
	writeVarInt(&buf, uint64(len(t.Witnesses)))
	for _, w := range t.Witnesses {
		writeVarBytes(&buf, w.Invocation)
		writeVarBytes(&buf, w.Verification)
	}
	return buf.Bytes()
}

// Base64 is the encoding sendrawtransaction and calculatenetworkfee take.
func (t *Transaction) Base64() string {
	return base64.StdEncoding.EncodeToString(t.Bytes())
}

// PlaceholderWitnesses fills in empty-invocation witnesses so network fee
// calculation can size the transaction before real signatures exist.
func (t *Transaction) PlaceholderWitnesses(pubKeys ...[]byte) error {
	if len(pubKeys) != len(t.Signers) {
		return fmt.Errorf("neotx: %d pubkeys for %d signers", len(pubKeys), len(t.Signers))
	}
	witnesses := make([]Witness, 0, len(pubKeys))
	for _, pk := range pubKeys {
		witnesses = append(witnesses, Witness{Verification: VerificationScript(pk)})
	}
	t.Witnesses = witnesses
	return nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeVarInt(buf *bytes.Buffer, v uint64) {
	switch {
	case v < 0xFD:
		buf.WriteByte(byte(v))
	case v <= 0xFFFF:
		buf.WriteByte(0xFD)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v))
		buf.Write(b[:])
	case v <= 0xFFFFFFFF:
		buf.WriteByte(0xFE)
		writeUint32(buf, uint32(v))
	default:
		buf.WriteByte(0xFF)
		writeUint64(buf, v)
	}
}

func writeVarBytes(buf *bytes.Buffer, b []byte) {
	writeVarInt(buf, uint64(len(b)))
	buf.Write(b)
}
