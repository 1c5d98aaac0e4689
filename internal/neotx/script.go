package neotx

import (
	"bytes"
	"math/big"
)

// Neo VM opcodes used by the script builder.
const (
	opPushInt8   = 0x00
	opPushInt16  = 0x01
	opPushInt32  = 0x02
	opPushInt64  = 0x03
	opPushInt128 = 0x04
	opPushInt256 = 0x05
	opPushNull   = 0x0B
	opPushData1  = 0x0C
	opPushData2  = 0x0D
	opPushData4  = 0x0E
	opPushM1     = 0x0F
	opPush0      = 0x10
	opSyscall    = 0x41
	opAssert     = 0x39
	opPack       = 0xC0
)

// callFlagsAll grants the callee full permissions (CallFlags.All).
const callFlagsAll = 15

// Interop hashes as they appear in scripts, raw SHA256 prefix order.
var (
	syscallCheckSig     = [4]byte{0x56, 0xE7, 0xB3, 0x27}
	syscallContractCall = [4]byte{0x62, 0x7D, 0x5B, 0x52}
)

// ScriptBuilder assembles Neo VM scripts. Items are pushed in reverse of the
// order the callee consumes them, matching how the VM pops arguments.
type ScriptBuilder struct {
	buf bytes.Buffer
}

func (b *ScriptBuilder) PushNull() {
	b.buf.WriteByte(opPushNull)
}

// PushInt emits the shortest integer push for v.
func (b *ScriptBuilder) PushInt(v *big.Int) {
	if v.IsInt64() {
		n := v.Int64()
		if n == -1 {
			b.buf.WriteByte(opPushM1)
			return
		}
		if n >= 0 && n <= 16 {
			b.buf.WriteByte(byte(opPush0 + n))
			return
		}
	}
	raw := intToLE(v)
	sizes := []int{1, 2, 4, 8, 16, 32}
	for i, size := range sizes {
		if len(raw) <= size {
			padded := make([]byte, size)
			pad := byte(0x00)
			if v.Sign() < 0 {
				pad = 0xFF
			}
			for j := range padded {
				padded[j] = pad
			}
			copy(padded, raw)
			b.buf.WriteByte(byte(opPushInt8 + i))
			b.buf.Write(padded)
			return
		}
	}
	// Out of range for PUSHINT256; NEP-17 amounts never get here.
	panic("neotx: integer exceeds 256 bits")
}

// intToLE renders v as minimal little-endian two's complement.
func intToLE(v *big.Int) []byte {
	if v.Sign() >= 0 {
		be := v.Bytes()
		le := reverse(be)
		if len(le) == 0 || le[len(le)-1]&0x80 != 0 {
			le = append(le, 0x00)
		}
		return le
	}
	// Negative: two's complement at the smallest byte width that fits.
	for width := 1; width <= 32; width++ {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(8*width-1))
		if v.Cmp(new(big.Int).Neg(limit)) >= 0 {
			wrapped := new(big.Int).Add(v, new(big.Int).Lsh(big.NewInt(1), uint(8*width)))
			return reverse(wrapped.FillBytes(make([]byte, width)))
		}
	}
	panic("neotx: integer exceeds 256 bits")
}

func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}

// PushData emits PUSHDATA with the narrowest length prefix.
func (b *ScriptBuilder) PushData(data []byte) {
	switch {
	case len(data) < 0x100:
		b.buf.WriteByte(opPushData1)
		b.buf.WriteByte(byte(len(data)))
	case len(data) < 0x10000:
		b.buf.WriteByte(opPushData2)
		b.buf.WriteByte(byte(len(data)))
		b.buf.WriteByte(byte(len(data) >> 8))
	default:
		b.buf.WriteByte(opPushData4)
		b.buf.WriteByte(byte(len(data)))
		b.buf.WriteByte(byte(len(data) >> 8))
		b.buf.WriteByte(byte(len(data) >> 16))
		b.buf.WriteByte(byte(len(data) >> 24))
	}
	b.buf.Write(data)
}

func (b *ScriptBuilder) Syscall(id [4]byte) {
	b.buf.WriteByte(opSyscall)
	b.buf.Write(id[:])
}

func (b *ScriptBuilder) Emit(op byte) {
	b.buf.WriteByte(op)
}

func (b *ScriptBuilder) Bytes() []byte {
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

// TransferScript builds the invocation script for
// token.transfer(from, to, amount, null) followed by ASSERT, so a transfer
// that returns false faults the whole transaction instead of half-applying.
func TransferScript(token, from, to Uint160, amount *big.Int) []byte {
	var b ScriptBuilder
	b.PushNull()
	b.PushInt(amount)
	b.PushData(to.Bytes())
	b.PushData(from.Bytes())
	b.PushInt(big.NewInt(4))
	b.Emit(opPack)
	b.PushInt(big.NewInt(callFlagsAll))
	b.PushData([]byte("transfer"))
	b.PushData(token.Bytes())
	b.Syscall(syscallContractCall)
	b.Emit(opAssert)
	return b.Bytes()
}

// BalanceOfScript builds the invocation script for token.balanceOf(account).
func BalanceOfScript(token, account Uint160) []byte {
	var b ScriptBuilder
	b.PushData(account.Bytes())
	b.PushInt(big.NewInt(1))
	b.Emit(opPack)
	b.PushInt(big.NewInt(callFlagsAll))
	b.PushData([]byte("balanceOf"))
	b.PushData(token.Bytes())
	b.Syscall(syscallContractCall)
	return b.Bytes()
}
