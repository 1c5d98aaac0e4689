// Package vault holds the deposit-key material at rest. Each order gets a
// fresh P-256 keypair; the private scalar is sealed with AES-256-GCM under a
// process-wide master key and only ever decrypted transiently at signing time.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	envelopeVersion = "v1"
	masterKeyBytes  = 32
	scalarBytes     = 32
)

var (
	ErrNoMasterKey  = errors.New("vault: master key not configured")
	ErrBadMasterKey = errors.New("vault: master key must be 64 hex chars")
	ErrBadEnvelope  = errors.New("vault: malformed secret envelope")
	ErrUnknownKeyID = errors.New("vault: envelope sealed under unknown key id")
	ErrDecrypt      = errors.New("vault: decrypt failed")
)

// Vault seals and opens deposit secrets. Envelopes are self-describing:
// "v1:<key-id>:<base64(nonce||ciphertext)>", so rotated keys stay readable
// as long as they remain in the retired set.
type Vault struct {
	currentID string
	current   cipher.AEAD
	retired   map[string]cipher.AEAD
}

// New builds a Vault from the mandatory current master key and any retired
// keys kept for decrypting older envelopes. Keys are 64-hex-char strings.
func New(masterKeyHex string, retiredHex []string) (*Vault, error) {
	if masterKeyHex == "" {
		return nil, ErrNoMasterKey
	}
	id, aead, err := parseKey(masterKeyHex)
	if err != nil {
		return nil, err
	}
	v := &Vault{
		currentID: id,
		current:   aead,
		retired:   make(map[string]cipher.AEAD),
	}
	for _, kh := range retiredHex {
		rid, raead, err := parseKey(kh)
		if err != nil {
			return nil, fmt.Errorf("retired key: %w", err)
		}
		v.retired[rid] = raead
	}
	return v, nil
}

func parseKey(keyHex string) (string, cipher.AEAD, error) {
	key, err := hex.DecodeString(strings.TrimSpace(keyHex))
	if err != nil || len(key) != masterKeyBytes {
		return "", nil, ErrBadMasterKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", nil, fmt.Errorf("create gcm: %w", err)
	}
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:4]), aead, nil
}

// KeyID identifies the key new envelopes are sealed under.
func (v *Vault) KeyID() string { return v.currentID }

// Seal encrypts plaintext under the current master key.
func (v *Vault) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, v.current.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := v.current.Seal(nonce, nonce, plaintext, nil)
	return envelopeVersion + ":" + v.currentID + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts an envelope produced by Seal, trying the current key first
// and then the retired set by key id. Callers must Zero the result after use.
func (v *Vault) Open(envelope string) ([]byte, error) {
	parts := strings.SplitN(envelope, ":", 3)
	if len(parts) != 3 || parts[0] != envelopeVersion {
		return nil, ErrBadEnvelope
	}
	aead := v.lookup(parts[1])
	if aead == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKeyID, parts[1])
	}
	raw, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrBadEnvelope
	}
	ns := aead.NonceSize()
	if len(raw) <= ns {
		return nil, ErrBadEnvelope
	}
	plaintext, err := aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

func (v *Vault) lookup(id string) cipher.AEAD {
	if id == v.currentID {
		return v.current
	}
	return v.retired[id]
}

// NewSigningKey generates a fresh P-256 keypair for a deposit address.
func NewSigningKey() (*ecdsa.PrivateKey, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return priv, nil
}

// MarshalSigningKey serializes the private scalar as 32 big-endian bytes.
func MarshalSigningKey(priv *ecdsa.PrivateKey) []byte {
	return priv.D.FillBytes(make([]byte, scalarBytes))
}

// ParseSigningKey rebuilds a P-256 private key from its 32-byte scalar.
func ParseSigningKey(raw []byte) (*ecdsa.PrivateKey, error) {
	if len(raw) != scalarBytes {
		return nil, errors.New("vault: signing key must be 32 bytes")
	}
	curve := elliptic.P256()
	d := new(big.Int).SetBytes(raw)
	if d.Sign() == 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, errors.New("vault: signing key scalar out of range")
	}
	priv := new(ecdsa.PrivateKey)
	priv.Curve = curve
	priv.D = d
	priv.X, priv.Y = curve.ScalarBaseMult(raw)
	return priv, nil
}

// Zero wipes key material once it is no longer needed.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
